package cli

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	"github.com/compozy/knowledgebase/engine/embedding/client"
	"github.com/compozy/knowledgebase/engine/infra/postgres"
	"github.com/compozy/knowledgebase/engine/knowledge/store"
	"github.com/compozy/knowledgebase/pkg/config"
	"github.com/compozy/knowledgebase/pkg/logger"
)

// openStore connects to Postgres, applying migrations first when enabled.
// The returned close function releases the pool. A nil meter disables pool metrics.
func openStore(ctx context.Context, cfg *config.Config, meter metric.Meter) (store.Store, func(), error) {
	if cfg.Database.AutoMigrate {
		if err := postgres.ApplyMigrations(ctx, cfg.Database.DSN()); err != nil {
			return nil, nil, fmt.Errorf("apply migrations: %w", err)
		}
	}
	pg, err := postgres.NewStore(ctx, &cfg.Database, meter)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := pg.Close(ctx); err != nil {
			logger.FromContext(ctx).Warn("Failed to close store", "error", err)
		}
	}
	return store.NewPostgres(pg.Pool(), cfg.Database.OpTimeout), closeFn, nil
}

func newEmbeddingClient(cfg *config.Config) (*client.Client, error) {
	ec := cfg.EmbeddingClient
	return client.New(client.Config{
		BaseURL:          ec.URL,
		EmbedTimeout:     ec.EmbedTimeout,
		HealthTimeout:    ec.HealthTimeout,
		MaxRetries:       ec.MaxRetries,
		RetryBackoff:     ec.RetryBackoff,
		RetryMaxDuration: ec.RetryMaxDuration,
		MaxDocsPerCall:   ec.MaxDocsPerCall,
		MaxChunksPerCall: ec.MaxChunksPerCall,
		QueryCacheSize:   ec.QueryCacheSize,
		Dimension:        cfg.EmbeddingServer.Dimension,
	})
}
