// Package model provides the embedding backends loaded by the embedding service.
package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Provider string

const (
	ProviderHashing Provider = "hashing"
	ProviderLocal   Provider = "local"
	ProviderOpenAI  Provider = "openai"
	ProviderOllama  Provider = "ollama"
)

// Model is an opaque text to vector function. Outputs need not be normalized.
type Model interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Identity() string
	Close() error
}

// Config selects and parameterizes a backend.
type Config struct {
	Provider  Provider
	Model     string
	ModelPath string
	BaseURL   string
	APIKey    string
	Dimension int
	BatchSize int
}

var (
	errMissingProvider  = errors.New("model: provider is required")
	errInvalidDimension = errors.New("model: dimension must be greater than zero")
)

func (c *Config) Validate() error {
	if strings.TrimSpace(string(c.Provider)) == "" {
		return errMissingProvider
	}
	if c.Dimension <= 0 {
		return errInvalidDimension
	}
	switch c.Provider {
	case ProviderHashing:
	case ProviderLocal, ProviderOpenAI, ProviderOllama:
		if strings.TrimSpace(c.Model) == "" {
			return fmt.Errorf("model: provider %q requires a model name", c.Provider)
		}
	default:
		return fmt.Errorf("model: provider %q is not supported", c.Provider)
	}
	return nil
}

// Loader acquires a model. It runs once, while the service is Loading.
type Loader func(ctx context.Context) (Model, error)

// NewLoader returns a Loader for cfg.
func NewLoader(cfg *Config) (Loader, error) {
	if cfg == nil {
		return nil, errors.New("model: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	snapshot := *cfg
	return func(ctx context.Context) (Model, error) {
		return Load(ctx, &snapshot)
	}, nil
}

// Load constructs the backend named by cfg.Provider.
func Load(ctx context.Context, cfg *Config) (Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Provider {
	case ProviderHashing:
		return NewHashing(cfg.Dimension), nil
	default:
		return newLangchainModel(ctx, cfg)
	}
}

// Identity formats the provider and model for health reporting.
func identity(provider Provider, name string) string {
	if name == "" {
		return string(provider)
	}
	return string(provider) + ":" + name
}
