package embedding

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"pdf-rag/internal/config"
)

// Embedder turns text into vectors. Documents and queries must come from the same model.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// NewEmbedder builds the embedder for the configured provider.
func NewEmbedder(cfg config.LLMConfig) (Embedder, error) {
	log.Debug().Interface("config", map[string]string{
		"provider":        cfg.Provider,
		"base_url":        cfg.BaseURL,
		"embedding_model": cfg.Model,
	}).Msg("Creating embedder")

	httpClient := &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second}

	switch cfg.Provider {
	case config.ProviderAzure, config.ProviderOpenAI:
		if cfg.Model == "" {
			return nil, fmt.Errorf("embedding model or deployment is required for provider %s", cfg.Provider)
		}
		return NewOpenAIEmbedder(cfg, httpClient), nil
	case config.ProviderOllama:
		return NewOllamaEmbedder(cfg, httpClient)
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", cfg.Provider)
	}
}
