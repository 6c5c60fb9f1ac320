package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/compozy/knowledgebase/engine/embedding/model"
	"github.com/compozy/knowledgebase/engine/embedding/router"
	"github.com/compozy/knowledgebase/engine/embedding/service"
	"github.com/compozy/knowledgebase/engine/infra/monitoring"
	"github.com/compozy/knowledgebase/engine/infra/server"
	"github.com/compozy/knowledgebase/pkg/config"
	"github.com/compozy/knowledgebase/pkg/logger"
)

func ServeEmbedderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve-embedder",
		Short: "Run the embedding service",
		Long: "Loads the embedding model on the configured device and serves /embed, " +
			"/embed_query and /health. The listener starts before the model is loaded, " +
			"so /health reports not ready until loading finishes.",
		Args: cobra.NoArgs,
		RunE: runServeEmbedder,
	}
	flags := cmd.Flags()
	flags.String("host", "", "listen host")
	flags.Int("port", 0, "listen port")
	flags.String("provider", "", "model provider (hashing, local, openai, ollama)")
	flags.String("device", "", "compute device the model is bound to")
	flags.String("model-path", "", "local model artifacts")
	bindFlag(flags, "host", "embedding_server.host")
	bindFlag(flags, "port", "embedding_server.port")
	bindFlag(flags, "provider", "embedding_server.provider")
	bindFlag(flags, "device", "embedding_server.device")
	bindFlag(flags, "model-path", "embedding_server.model_path")
	return cmd
}

func runServeEmbedder(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cfg := config.FromContext(ctx)
	log := logger.FromContext(ctx)
	sc := cfg.EmbeddingServer

	mon := monitoring.NewMonitoringServiceWithFallback(ctx, &monitoring.Config{
		Enabled: cfg.Monitoring.Enabled,
		Path:    cfg.Monitoring.Path,
	})
	loader, err := model.NewLoader(&model.Config{
		Provider:  model.Provider(sc.Provider),
		Model:     sc.Model,
		ModelPath: sc.ModelPath,
		BaseURL:   sc.BaseURL,
		APIKey:    sc.APIKey.Value(),
		Dimension: sc.Dimension,
		BatchSize: sc.MaxBatchChunks,
	})
	if err != nil {
		return fmt.Errorf("configure model: %w", err)
	}
	svc, err := service.New(service.Config{
		Device:         sc.Device,
		ModelPath:      sc.ModelPath,
		Dimension:      sc.Dimension,
		LockDir:        sc.LockDir,
		BatchWindow:    sc.BatchWindow,
		MaxBatchChunks: sc.MaxBatchChunks,
		QueueSize:      sc.QueueSize,
		Meter:          mon.Meter(),
	}, loader)
	if err != nil {
		return fmt.Errorf("create embedding service: %w", err)
	}

	srv := server.New(ctx, server.Config{
		Address:      sc.Address(),
		WriteTimeout: sc.WriteTimeout,
	}, mon)
	router.Register(srv.Engine(), svc)
	srv.OnShutdown(svc.Shutdown)

	go func() {
		if err := svc.Start(ctx); err != nil {
			log.Error("Embedding model failed to load", "error", err)
		}
	}()
	return srv.Run(ctx)
}

