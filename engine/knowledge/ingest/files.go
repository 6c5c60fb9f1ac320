package ingest

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/compozy/knowledgebase/engine/knowledge/files"
	"github.com/compozy/knowledgebase/pkg/logger"
)

// SourceReader parses a file; nil, nil marks an unsupported file.
type SourceReader interface {
	Read(ctx context.Context, path string) (*files.Source, error)
}

// FileResult is the outcome for one path. Result is nil when the file was
// unsupported or could not be read.
type FileResult struct {
	Path        string
	Result      *Result
	Unsupported bool
	Err         error
}

// IngestFiles reads and ingests paths with at most concurrency documents in
// flight. Results keep the order of paths. The returned error is only the
// context error when the run was cancelled.
func (o *Orchestrator) IngestFiles(
	ctx context.Context,
	reader SourceReader,
	paths []string,
	concurrency int,
) ([]FileResult, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	results := make([]FileResult, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, path := range paths {
		results[i].Path = path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			results[i] = o.ingestFile(gctx, reader, path)
			return nil
		})
	}
	_ = g.Wait()
	return results, ctx.Err()
}

func (o *Orchestrator) ingestFile(ctx context.Context, reader SourceReader, path string) FileResult {
	log := logger.FromContext(ctx)
	out := FileResult{Path: path}
	src, err := reader.Read(ctx, path)
	if err != nil {
		log.Error("Failed to read file", "path", path, "error", err)
		out.Err = err
		return out
	}
	if src == nil {
		out.Unsupported = true
		return out
	}
	res, err := o.Ingest(ctx, Input{
		Text:       src.Text,
		Title:      src.Title,
		SourceKind: src.SourceKind,
		SourcePath: src.SourcePath,
		Metadata:   src.Metadata,
	})
	out.Result = res
	out.Err = err
	return out
}
