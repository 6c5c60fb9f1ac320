package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/compozy/knowledgebase/pkg/logger"
)

type httpInstruments struct {
	total    metric.Int64Counter
	duration metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
}

func newInstruments(meter metric.Meter) *httpInstruments {
	in := &httpInstruments{}
	var err error
	if in.total, err = meter.Int64Counter(
		"kb_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
	); err != nil {
		logger.Error("Failed to create http requests total counter", "error", err)
	}
	if in.duration, err = meter.Float64Histogram(
		"kb_http_request_duration_seconds",
		metric.WithDescription("HTTP request latency"),
		metric.WithExplicitBucketBoundaries(.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60),
	); err != nil {
		logger.Error("Failed to create http request duration histogram", "error", err)
	}
	if in.inFlight, err = meter.Int64UpDownCounter(
		"kb_http_requests_in_flight",
		metric.WithDescription("Currently active HTTP requests"),
	); err != nil {
		logger.Error("Failed to create http requests in flight counter", "error", err)
	}
	return in
}

// HTTPMetrics returns a Gin middleware that collects HTTP metrics
func HTTPMetrics(meter metric.Meter) gin.HandlerFunc {
	if meter == nil {
		return func(c *gin.Context) { c.Next() }
	}
	in := newInstruments(meter)
	return func(c *gin.Context) {
		if in.total == nil || in.duration == nil || in.inFlight == nil {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		start := time.Now()
		in.inFlight.Add(ctx, 1)
		defer in.inFlight.Add(ctx, -1)

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		attrs := metric.WithAttributes(
			attribute.String("method", c.Request.Method),
			attribute.String("path", path),
			attribute.String("status_code", strconv.Itoa(c.Writer.Status())),
		)
		in.total.Add(ctx, 1, attrs)
		in.duration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
}
