package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/compozy/knowledgebase/engine/infra/monitoring"
	"github.com/compozy/knowledgebase/engine/knowledge/chunk"
	"github.com/compozy/knowledgebase/engine/knowledge/files"
	"github.com/compozy/knowledgebase/engine/knowledge/ingest"
	"github.com/compozy/knowledgebase/pkg/config"
	"github.com/compozy/knowledgebase/pkg/logger"
)

func IngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <path|glob>...",
		Short: "Ingest files into the knowledge base",
		Long: "Expands directories and glob patterns, reads .txt, .md and .pdf files " +
			"and ingests them. Already ingested content is skipped.",
		Args: cobra.MinimumNArgs(1),
		RunE: runIngest,
	}
	flags := cmd.Flags()
	flags.Int("concurrency", 0, "documents ingested in parallel")
	flags.Int("chunk-size", 0, "chunk size in characters")
	flags.Int("chunk-overlap", 0, "characters shared by adjacent chunks")
	bindFlag(flags, "concurrency", "ingest.concurrency")
	bindFlag(flags, "chunk-size", "chunking.size")
	bindFlag(flags, "chunk-overlap", "chunking.overlap")
	return cmd
}

type ingestReport struct {
	Path             string `json:"path"`
	Status           string `json:"status"`
	DocumentID       int64  `json:"document_id,omitempty"`
	ChunksStored     int    `json:"chunks_stored"`
	ChunksTotal      int    `json:"chunks_total"`
	FailedIndices    []int  `json:"failed_indices,omitempty"`
	DuplicateIndices []int  `json:"duplicate_indices,omitempty"`
	Reason           string `json:"reason,omitempty"`
}

const statusUnsupported = "unsupported"

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)
	out, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	paths, err := files.Expand(args)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return errors.New("no files matched")
	}
	chunker, err := chunk.NewChunker(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		return err
	}
	emb, err := newEmbeddingClient(cfg)
	if err != nil {
		return err
	}
	mon := monitoring.NewMonitoringServiceWithFallback(ctx, &monitoring.Config{
		Enabled: cfg.Monitoring.Enabled,
		Path:    cfg.Monitoring.Path,
	})
	defer func() {
		if err := mon.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.FromContext(ctx).Warn("Failed to stop monitoring", "error", err)
		}
	}()
	st, closeStore, err := openStore(ctx, cfg, mon.Meter())
	if err != nil {
		return err
	}
	defer closeStore()
	orch, err := ingest.New(st, emb, chunker, ingest.WithMeter(mon.Meter()))
	if err != nil {
		return err
	}

	logger.FromContext(ctx).Info("Ingesting files", "count", len(paths), "concurrency", cfg.Ingest.Concurrency)
	results, err := orch.IngestFiles(ctx, files.NewReader(cfg.Ingest.MaxFileSize), paths, cfg.Ingest.Concurrency)
	if err != nil {
		return err
	}
	reports := make([]ingestReport, 0, len(results))
	failed := 0
	for i := range results {
		r := toIngestReport(&results[i])
		if r.Status == string(ingest.StatusFailed) {
			failed++
		}
		reports = append(reports, r)
	}
	if out.json {
		if err := out.JSON(reports); err != nil {
			return err
		}
	} else {
		printIngestReports(out, reports)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(reports))
	}
	return nil
}

func toIngestReport(fr *ingest.FileResult) ingestReport {
	r := ingestReport{Path: fr.Path}
	switch {
	case fr.Unsupported:
		r.Status = statusUnsupported
	case fr.Result != nil:
		r.Status = string(fr.Result.Status)
		r.DocumentID = fr.Result.DocumentID
		r.ChunksStored = fr.Result.ChunksStored
		r.ChunksTotal = fr.Result.ChunksTotal
		r.FailedIndices = fr.Result.FailedIndices
		r.DuplicateIndices = fr.Result.DuplicateIndices
		r.Reason = fr.Result.Reason
	default:
		r.Status = string(ingest.StatusFailed)
	}
	if fr.Err != nil && r.Reason == "" {
		r.Reason = fr.Err.Error()
	}
	return r
}

func printIngestReports(out *printer, reports []ingestReport) {
	counts := map[string]int{}
	for _, r := range reports {
		counts[r.Status]++
		label := statusLabel(r.Status)
		switch r.Status {
		case statusUnsupported:
			out.Linef("%s %s", label, mutedStyle.Render(r.Path))
		case string(ingest.StatusFailed):
			out.Linef("%s %s (chunk %d/%d) %s", label, r.Path, r.ChunksStored, r.ChunksTotal, errStyle.Render(r.Reason))
		default:
			out.Linef("%s %s (chunk %d/%d) id=%d", label, r.Path, r.ChunksStored, r.ChunksTotal, r.DocumentID)
		}
	}
	out.Linef("%s ingested=%d skipped=%d failed=%d unsupported=%d",
		titleStyle.Render("summary"),
		counts[string(ingest.StatusIngested)],
		counts[string(ingest.StatusSkipped)],
		counts[string(ingest.StatusFailed)],
		counts[statusUnsupported],
	)
}

func statusLabel(status string) string {
	padded := fmt.Sprintf("%-11s", status)
	switch status {
	case string(ingest.StatusIngested):
		return okStyle.Render(padded)
	case string(ingest.StatusSkipped):
		return warnStyle.Render(padded)
	case string(ingest.StatusFailed):
		return errStyle.Render(padded)
	default:
		return mutedStyle.Render(padded)
	}
}
