package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/compozy/knowledgebase/engine/knowledge/retriever"
	"github.com/compozy/knowledgebase/engine/knowledge/store"
	"github.com/compozy/knowledgebase/pkg/config"
)

const previewRunes = 200

func SearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the knowledge base",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSearch,
	}
	flags := cmd.Flags()
	flags.Int("limit", 0, "maximum number of results")
	flags.Float64("threshold", 0, "minimum cosine similarity in [-1, 1]")
	bindFlag(flags, "limit", "search.limit")
	return cmd
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)
	out, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	opts := retriever.Options{Limit: cfg.Search.Limit}
	if cmd.Flags().Changed("threshold") {
		threshold, err := cmd.Flags().GetFloat64("threshold")
		if err != nil {
			return fmt.Errorf("failed to get threshold flag: %w", err)
		}
		opts.MinScore = &threshold
	}
	emb, err := newEmbeddingClient(cfg)
	if err != nil {
		return err
	}
	st, closeStore, err := openStore(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer closeStore()
	r, err := retriever.New(emb, st)
	if err != nil {
		return err
	}
	results, err := r.Search(ctx, strings.Join(args, " "), opts)
	if err != nil {
		return err
	}
	if out.json {
		return out.JSON(toSearchReports(results))
	}
	printSearchResults(out, results)
	return nil
}

type searchReport struct {
	Rank        int     `json:"rank"`
	Score       float64 `json:"score"`
	ChunkID     int64   `json:"chunk_id"`
	DocumentID  int64   `json:"document_id"`
	ChunkIndex  int     `json:"chunk_index"`
	TotalChunks int     `json:"total_chunks"`
	Title       string  `json:"title,omitempty"`
	SourcePath  string  `json:"source_path,omitempty"`
	SourceType  string  `json:"source_type,omitempty"`
	Content     string  `json:"content"`
}

func toSearchReports(results []store.SearchResult) []searchReport {
	out := make([]searchReport, len(results))
	for i := range results {
		r := &results[i]
		out[i] = searchReport{
			Rank:        i + 1,
			Score:       r.Score,
			ChunkID:     r.ChunkID,
			DocumentID:  r.DocumentID,
			ChunkIndex:  r.ChunkIndex,
			TotalChunks: r.TotalChunks,
			Title:       r.Title,
			SourcePath:  r.SourcePath,
			SourceType:  string(r.SourceKind),
			Content:     r.Content,
		}
	}
	return out
}

func printSearchResults(out *printer, results []store.SearchResult) {
	if len(results) == 0 {
		out.Linef("%s", mutedStyle.Render("no results"))
		return
	}
	for i := range results {
		r := &results[i]
		title := r.Title
		if title == "" {
			title = r.SourcePath
		}
		out.Linef("%d. %s %s", i+1, okStyle.Render(strconv.FormatFloat(r.Score, 'f', 4, 64)), titleStyle.Render(title))
		out.Linef("   %s", mutedStyle.Render(fmt.Sprintf("%s (chunk %d/%d)", r.SourcePath, r.ChunkIndex+1, r.TotalChunks)))
		out.Linef("   %s", preview(r.Content, previewRunes))
	}
}
