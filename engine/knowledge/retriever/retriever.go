// Package retriever answers natural language queries against the store.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/compozy/knowledgebase/engine/core"
	"github.com/compozy/knowledgebase/engine/knowledge/store"
	"github.com/compozy/knowledgebase/pkg/logger"
)

const DefaultLimit = 5

// QueryEmbedder embeds a single query string.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// Options bound a search. A nil MinScore disables the threshold.
type Options struct {
	Limit    int
	MinScore *float64
}

type Retriever struct {
	embedder QueryEmbedder
	store    store.Store
	tracer   trace.Tracer
}

func New(emb QueryEmbedder, s store.Store) (*Retriever, error) {
	if emb == nil {
		return nil, errors.New("retriever: query embedder is required")
	}
	if s == nil {
		return nil, errors.New("retriever: store is required")
	}
	return &Retriever{embedder: emb, store: s, tracer: otel.Tracer("knowledgebase.retriever")}, nil
}

// Search embeds query and returns the closest chunks, best first.
func (r *Retriever) Search(ctx context.Context, query string, opts Options) (results []store.SearchResult, err error) {
	if strings.TrimSpace(query) == "" {
		return nil, core.InvalidInputf("query must not be empty")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if opts.MinScore != nil && (*opts.MinScore < -1 || *opts.MinScore > 1) {
		return nil, core.InvalidInputf("min score must be within [-1, 1], got %v", *opts.MinScore)
	}
	ctx, span := r.tracer.Start(ctx, "knowledgebase.retriever.search", trace.WithAttributes(
		attribute.Int("limit", limit),
	))
	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Int("results", len(results)))
		}
		span.End()
	}()
	vec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retriever: embed query: %w", err)
	}
	results, err = r.store.SimilaritySearch(ctx, store.SearchQuery{Vector: vec, MinScore: opts.MinScore, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("retriever: search: %w", err)
	}
	logger.FromContext(ctx).Debug("Knowledge search completed",
		"results", len(results),
		"limit", limit,
		"duration", time.Since(start),
	)
	return results, nil
}
