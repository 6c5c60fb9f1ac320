// Package files turns files on disk into ingestable sources.
package files

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"

	"github.com/compozy/knowledgebase/engine/knowledge/store"
	"github.com/compozy/knowledgebase/pkg/logger"
)

const DefaultMaxFileSize int64 = 64 << 20

var kindByExt = map[string]store.SourceKind{
	".txt":      store.SourceText,
	".md":       store.SourceMarkdown,
	".markdown": store.SourceMarkdown,
	".pdf":      store.SourcePDF,
}

// Source is the parsed content of one file.
type Source struct {
	Title      string
	SourcePath string
	SourceKind store.SourceKind
	Text       string
	Metadata   map[string]any
}

type Reader struct {
	MaxSize int64
}

func NewReader(maxSize int64) *Reader {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	return &Reader{MaxSize: maxSize}
}

// Supported reports whether path has an extension Read understands.
func Supported(path string) bool {
	_, ok := kindByExt[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Read parses path. Unsupported extensions yield nil, nil.
func (r *Reader) Read(ctx context.Context, path string) (*Source, error) {
	kind, ok := kindByExt[strings.ToLower(filepath.Ext(path))]
	if !ok {
		logger.FromContext(ctx).Debug("Skipping unsupported file", "path", path)
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("files: resolve %q: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("files: stat %q: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("files: %q is a directory", path)
	}
	if info.Size() > r.maxSize() {
		return nil, fmt.Errorf("files: %q exceeds maximum size of %d bytes", path, r.maxSize())
	}
	src := &Source{
		Title:      strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs)),
		SourcePath: abs,
		SourceKind: kind,
		Metadata: map[string]any{
			"filename":   filepath.Base(abs),
			"size_bytes": info.Size(),
		},
	}
	if mt, err := mimetype.DetectFile(abs); err == nil {
		src.Metadata["mime_type"] = mt.String()
	}
	if kind == store.SourcePDF {
		text, pages, err := extractPDF(abs)
		if err != nil {
			return nil, fmt.Errorf("files: extract pdf %q: %w", path, err)
		}
		src.Text = text
		src.Metadata["num_pages"] = pages
		return src, nil
	}
	text, err := r.readText(abs)
	if err != nil {
		return nil, fmt.Errorf("files: read %q: %w", path, err)
	}
	src.Text = text
	return src, nil
}

func (r *Reader) maxSize() int64 {
	if r == nil || r.MaxSize <= 0 {
		return DefaultMaxFileSize
	}
	return r.MaxSize
}

func (r *Reader) readText(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, r.maxSize()+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > r.maxSize() {
		return "", fmt.Errorf("file grew beyond %d bytes while reading", r.maxSize())
	}
	return decodeText(data)
}

// decodeText returns data as UTF-8, transcoding through the detected charset.
func decodeText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return normalizeNewlines(string(data)), nil
	}
	enc, name, _ := charset.DetermineEncoding(data, "text/plain")
	decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(data), enc.NewDecoder()))
	if err != nil {
		return "", fmt.Errorf("transcode from %s: %w", name, err)
	}
	if !utf8.Valid(decoded) {
		return "", fmt.Errorf("transcoded result invalid utf-8")
	}
	return normalizeNewlines(string(decoded)), nil
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
