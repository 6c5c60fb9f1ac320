package ingest

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type metrics struct {
	documents metric.Int64Counter
	chunks    metric.Int64Counter
	duration  metric.Float64Histogram
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("knowledgebase.ingest")
	}
	documents, err := meter.Int64Counter(
		"kb_ingest_documents_total",
		metric.WithDescription("Documents processed by ingestion, by outcome"),
	)
	if err != nil {
		return nil, err
	}
	chunks, err := meter.Int64Counter(
		"kb_ingest_chunks_total",
		metric.WithDescription("Chunks processed by ingestion, by outcome"),
	)
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram(
		"kb_ingest_duration_seconds",
		metric.WithDescription("Latency of single document ingestion"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, err
	}
	return &metrics{documents: documents, chunks: chunks, duration: duration}, nil
}

func (m *metrics) record(ctx context.Context, res *Result, start time.Time) {
	status := metric.WithAttributes(attribute.String("status", string(res.Status)))
	m.documents.Add(ctx, 1, status)
	m.duration.Record(ctx, time.Since(start).Seconds(), status)
	if res.ChunksStored > 0 {
		m.chunks.Add(ctx, int64(res.ChunksStored), metric.WithAttributes(attribute.String("outcome", "stored")))
	}
	if n := len(res.DuplicateIndices); n > 0 {
		m.chunks.Add(ctx, int64(n), metric.WithAttributes(attribute.String("outcome", "duplicate")))
	}
	if n := len(res.FailedIndices); n > 0 {
		m.chunks.Add(ctx, int64(n), metric.WithAttributes(attribute.String("outcome", "failed")))
	}
}
