// Package ingest turns raw text into a stored, embedded document.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/compozy/knowledgebase/engine/core"
	"github.com/compozy/knowledgebase/engine/knowledge/chunk"
	"github.com/compozy/knowledgebase/engine/knowledge/store"
	"github.com/compozy/knowledgebase/pkg/logger"
)

type Status string

const (
	StatusIngested Status = "ingested"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

// Embedder embeds the chunks of several documents in one request.
type Embedder interface {
	Embed(ctx context.Context, docs [][]string) ([][][]float32, error)
}

type Input struct {
	Text       string
	Title      string
	SourceKind store.SourceKind
	SourcePath string
	Metadata   map[string]any
}

// Result describes the outcome of one ingestion. DocumentID is set whenever a
// document row exists for the text, including on Skipped and partial Failed.
type Result struct {
	Status           Status
	DocumentID       int64
	Reason           string
	ChunksTotal      int
	ChunksStored     int
	FailedIndices    []int
	DuplicateIndices []int
}

// Partial reports whether some chunks were not stored.
func (r *Result) Partial() bool {
	return r.ChunksStored < r.ChunksTotal
}

type Orchestrator struct {
	store    store.Store
	embedder Embedder
	chunker  *chunk.Chunker
	metrics  *metrics
}

type Option func(*options)

type options struct {
	meter metric.Meter
}

// WithMeter records ingestion outcomes on meter.
func WithMeter(meter metric.Meter) Option {
	return func(o *options) { o.meter = meter }
}

func New(s store.Store, e Embedder, c *chunk.Chunker, opts ...Option) (*Orchestrator, error) {
	if s == nil {
		return nil, errors.New("ingest: store is required")
	}
	if e == nil {
		return nil, errors.New("ingest: embedder is required")
	}
	if c == nil {
		return nil, errors.New("ingest: chunker is required")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	m, err := newMetrics(o.meter)
	if err != nil {
		return nil, fmt.Errorf("ingest: init metrics: %w", err)
	}
	return &Orchestrator{store: s, embedder: e, chunker: c, metrics: m}, nil
}

// Ingest stores one document and its embedded chunks. Skipped and Ingested
// results carry a nil error; Failed results carry the cause. Chunk inserts are
// not transactional with the document insert: a document may end up with
// fewer chunks than computed, and re-ingesting the same text is Skipped.
func (o *Orchestrator) Ingest(ctx context.Context, in Input) (*Result, error) {
	start := time.Now()
	res, err := o.ingest(ctx, in)
	if err != nil {
		res.Status = StatusFailed
		res.Reason = err.Error()
	}
	o.metrics.record(ctx, res, start)
	return res, err
}

func (o *Orchestrator) ingest(ctx context.Context, in Input) (*Result, error) {
	log := logger.FromContext(ctx).With("title", in.Title, "source_path", in.SourcePath)
	res := &Result{}
	docFP := core.DocumentFingerprint(in.Text)
	exists, err := o.store.DocumentExists(ctx, docFP)
	if err != nil {
		return res, fmt.Errorf("ingest: check existing document: %w", err)
	}
	if exists {
		o.skip(ctx, res, docFP, "document already ingested")
		log.Info("Document already ingested", "document_id", res.DocumentID)
		return res, nil
	}
	docID, err := o.store.InsertDocument(ctx, store.NewDocument{
		Title:       in.Title,
		SourcePath:  in.SourcePath,
		SourceKind:  in.SourceKind,
		RawText:     in.Text,
		Fingerprint: docFP,
		Metadata:    in.Metadata,
	})
	if errors.Is(err, core.ErrDuplicate) {
		o.skip(ctx, res, docFP, "document inserted concurrently")
		log.Info("Document inserted concurrently", "document_id", res.DocumentID)
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("ingest: insert document: %w", err)
	}
	res.DocumentID = docID
	log = log.With("document_id", docID)
	chunks := o.chunker.Split(in.Text)
	res.ChunksTotal = len(chunks)
	if len(chunks) == 0 {
		res.Status = StatusIngested
		log.Warn("Document produced no chunks and is not searchable")
		return res, nil
	}
	vectors, err := o.embedder.Embed(ctx, [][]string{chunks})
	if err != nil {
		return res, fmt.Errorf("ingest: embed %d chunks: %w", len(chunks), err)
	}
	if len(vectors) != 1 || len(vectors[0]) != len(chunks) {
		return res, fmt.Errorf("ingest: embedder returned a mismatched batch for %d chunks", len(chunks))
	}
	if err := o.storeChunks(ctx, log, res, docFP, chunks, vectors[0]); err != nil {
		return res, err
	}
	res.Status = StatusIngested
	log.Info("Document ingested", "chunks", res.ChunksStored, "duplicates", len(res.DuplicateIndices))
	return res, nil
}

// storeChunks inserts chunks in index order. Duplicates are recorded and
// skipped; any other failure or cancellation stops the loop, leaving the
// chunks stored so far in place.
func (o *Orchestrator) storeChunks(
	ctx context.Context,
	log logger.Logger,
	res *Result,
	docFP string,
	chunks []string,
	vectors [][]float32,
) error {
	for i, text := range chunks {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("ingest: stopped at chunk %d/%d: %w", i, len(chunks), err)
		}
		_, err := o.store.InsertChunk(ctx, store.NewChunk{
			DocumentID:  res.DocumentID,
			Index:       i,
			TotalChunks: len(chunks),
			Text:        text,
			Fingerprint: core.ChunkFingerprint(docFP, i, text),
			Embedding:   vectors[i],
		})
		switch {
		case err == nil:
			res.ChunksStored++
		case errors.Is(err, core.ErrDuplicate):
			res.DuplicateIndices = append(res.DuplicateIndices, i)
			log.Debug("Skipping duplicate chunk", "chunk_index", i)
		case ctx.Err() != nil:
			return fmt.Errorf("ingest: stopped at chunk %d/%d: %w", i, len(chunks), ctx.Err())
		default:
			res.FailedIndices = append(res.FailedIndices, i)
			log.Warn("Failed to store chunk, aborting document",
				"document_id", res.DocumentID,
				"chunk_index", i,
				"stored", res.ChunksStored,
				"error", err,
			)
			return fmt.Errorf("ingest: insert chunk %d/%d: %w", i, len(chunks), err)
		}
	}
	return nil
}

func (o *Orchestrator) skip(ctx context.Context, res *Result, docFP, reason string) {
	res.Status = StatusSkipped
	res.Reason = reason
	if doc, err := o.store.GetDocumentByFingerprint(ctx, docFP); err == nil {
		res.DocumentID = doc.ID
	}
}
