package model

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/embeddings/cybertron"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// langchainModel adapts a langchaingo embedder.
type langchainModel struct {
	provider  Provider
	name      string
	dimension int
	impl      embeddings.Embedder
}

func newLangchainModel(_ context.Context, cfg *Config) (Model, error) {
	client, err := buildClient(cfg)
	if err != nil {
		return nil, err
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 32
	}
	impl, err := embeddings.NewEmbedder(client,
		embeddings.WithBatchSize(batch),
		embeddings.WithStripNewLines(true),
	)
	if err != nil {
		return nil, fmt.Errorf("model %s: failed to construct embedder: %w", cfg.Provider, err)
	}
	return &langchainModel{
		provider:  cfg.Provider,
		name:      cfg.Model,
		dimension: cfg.Dimension,
		impl:      impl,
	}, nil
}

func buildClient(cfg *Config) (embeddings.EmbedderClient, error) {
	switch cfg.Provider {
	case ProviderLocal:
		opts := []cybertron.Option{cybertron.WithModel(cfg.Model)}
		if cfg.ModelPath != "" {
			opts = append(opts, cybertron.WithModelsDir(cfg.ModelPath))
		}
		client, err := cybertron.NewCybertron(opts...)
		if err != nil {
			return nil, fmt.Errorf("model local: failed to load %q: %w", cfg.Model, err)
		}
		return client, nil
	case ProviderOpenAI:
		opts := []openai.Option{openai.WithEmbeddingModel(cfg.Model)}
		if cfg.APIKey != "" {
			opts = append(opts, openai.WithToken(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		client, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("model openai: failed to initialize client: %w", err)
		}
		return client, nil
	case ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		client, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("model ollama: failed to initialize client: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("model: provider %q is not supported", cfg.Provider)
	}
}

func (m *langchainModel) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := m.impl.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", identity(m.provider, m.name), err)
	}
	return vectors, nil
}

func (m *langchainModel) Dimension() int { return m.dimension }

func (m *langchainModel) Identity() string { return identity(m.provider, m.name) }

func (m *langchainModel) Close() error { return nil }
