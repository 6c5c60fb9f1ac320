package files

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const dirPattern = "**/*.{txt,md,markdown,pdf}"

// Expand resolves plain paths, directories and doublestar globs into a
// sorted, de-duplicated list of files. Directories are walked recursively
// for supported extensions.
func Expand(patterns []string) ([]string, error) {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(patterns))
	add := func(p string) {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		if _, ok := seen[abs]; ok {
			return
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	}
	for _, raw := range patterns {
		pattern := strings.TrimSpace(raw)
		if pattern == "" {
			continue
		}
		info, err := os.Stat(pattern)
		switch {
		case err == nil && info.IsDir():
			matches, err := doublestar.Glob(os.DirFS(pattern), dirPattern, doublestar.WithFilesOnly())
			if err != nil {
				return nil, fmt.Errorf("files: walk %q: %w", pattern, err)
			}
			for _, m := range matches {
				add(filepath.Join(pattern, filepath.FromSlash(m)))
			}
		case err == nil:
			add(pattern)
		case !hasMeta(pattern):
			return nil, fmt.Errorf("files: %q: %w", pattern, fs.ErrNotExist)
		default:
			matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
			if err != nil {
				return nil, fmt.Errorf("files: glob %q: %w", pattern, err)
			}
			for _, m := range matches {
				add(m)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func hasMeta(p string) bool {
	return strings.ContainsAny(p, "*?[{")
}
