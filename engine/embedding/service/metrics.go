package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/compozy/knowledgebase/pkg/logger"
)

type metrics struct {
	batches metric.Int64Counter
	chunks  metric.Int64Counter
	latency metric.Float64Histogram
}

func newMetrics(meter metric.Meter) *metrics {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("knowledgebase")
	}
	m := &metrics{}
	var err error
	if m.batches, err = meter.Int64Counter(
		"kb_embedding_batches_total",
		metric.WithDescription("Model calls issued by the embedding service"),
	); err != nil {
		logger.Error("Failed to create embedding batches counter", "error", err)
	}
	if m.chunks, err = meter.Int64Counter(
		"kb_embedding_chunks_total",
		metric.WithDescription("Chunks embedded by the embedding service"),
	); err != nil {
		logger.Error("Failed to create embedding chunks counter", "error", err)
	}
	if m.latency, err = meter.Float64Histogram(
		"kb_embedding_batch_duration_seconds",
		metric.WithDescription("Model call latency"),
		metric.WithExplicitBucketBoundaries(.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30),
	); err != nil {
		logger.Error("Failed to create embedding latency histogram", "error", err)
	}
	return m
}

func (m *metrics) record(ctx context.Context, chunks int, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	if m.batches != nil {
		m.batches.Add(ctx, 1, attrs)
	}
	if m.chunks != nil && err == nil {
		m.chunks.Add(ctx, int64(chunks))
	}
	if m.latency != nil {
		m.latency.Record(ctx, time.Since(start).Seconds(), attrs)
	}
}
