package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/metric"
)

// poolMetrics observes pool statistics through asynchronous gauges.
type poolMetrics struct {
	registration metric.Registration
}

func registerPoolMetrics(meter metric.Meter, pool *pgxpool.Pool) (*poolMetrics, error) {
	if meter == nil || pool == nil {
		return nil, nil
	}
	open, err := meter.Int64ObservableGauge(
		"kb_postgres_connections_open",
		metric.WithDescription("Number of open Postgres connections"),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: init metrics: %w", err)
	}
	inUse, err := meter.Int64ObservableGauge(
		"kb_postgres_connections_in_use",
		metric.WithDescription("Number of Postgres connections currently in use"),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: init metrics: %w", err)
	}
	idle, err := meter.Int64ObservableGauge(
		"kb_postgres_connections_idle",
		metric.WithDescription("Number of idle Postgres connections"),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: init metrics: %w", err)
	}
	waits, err := meter.Int64ObservableCounter(
		"kb_postgres_empty_acquire_total",
		metric.WithDescription("Acquires that waited for a connection"),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: init metrics: %w", err)
	}
	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stats := pool.Stat()
		o.ObserveInt64(open, int64(stats.TotalConns()))
		o.ObserveInt64(inUse, int64(stats.AcquiredConns()))
		o.ObserveInt64(idle, int64(stats.IdleConns()))
		o.ObserveInt64(waits, stats.EmptyAcquireCount())
		return nil
	}, open, inUse, idle, waits)
	if err != nil {
		return nil, fmt.Errorf("postgres: register metrics callback: %w", err)
	}
	return &poolMetrics{registration: reg}, nil
}

func (p *poolMetrics) unregister() {
	if p == nil || p.registration == nil {
		return
	}
	_ = p.registration.Unregister()
}
