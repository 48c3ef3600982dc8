package embedding

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"

	"pdf-rag/internal/config"
	"pdf-rag/internal/metrics"
	"pdf-rag/internal/models"
)

// LangchainEmbedder adapts a langchaingo embedder, adding metrics and error wrapping.
type LangchainEmbedder struct {
	inner    embeddings.Embedder
	provider string
	model    string
}

// NewOllamaEmbedder embeds through a local Ollama server.
func NewOllamaEmbedder(cfg config.LLMConfig, httpClient *http.Client) (*LangchainEmbedder, error) {
	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
	}
	if httpClient != nil {
		opts = append(opts, ollama.WithHTTPClient(httpClient))
	}

	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}
	inner, err := embeddings.NewEmbedder(llm,
		embeddings.WithBatchSize(max(cfg.BatchSize, 1)),
		embeddings.WithStripNewLines(false),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama embedder: %w", err)
	}
	return NewLangchainEmbedder(inner, cfg.Provider, cfg.Model), nil
}

func NewLangchainEmbedder(inner embeddings.Embedder, provider, model string) *LangchainEmbedder {
	return &LangchainEmbedder{inner: inner, provider: provider, model: model}
}

func (e *LangchainEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vecs, err := e.inner.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, e.fail(err)
	}
	if len(vecs) != len(texts) {
		return nil, e.fail(fmt.Errorf("got %d embeddings for %d inputs", len(vecs), len(texts)))
	}
	e.succeed(start)
	return vecs, nil
}

func (e *LangchainEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vec, err := e.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, e.fail(err)
	}
	e.succeed(start)
	return vec, nil
}

func (e *LangchainEmbedder) succeed(start time.Time) {
	metrics.EmbeddingRequestsTotal.WithLabelValues(e.provider, e.model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(e.provider, e.model).Observe(time.Since(start).Seconds())
}

func (e *LangchainEmbedder) fail(err error) error {
	metrics.EmbeddingRequestsTotal.WithLabelValues(e.provider, e.model, "error").Inc()
	metrics.EmbeddingErrorsTotal.WithLabelValues(e.provider, e.model, "api_error").Inc()
	return fmt.Errorf("%s embedding failed: %v: %w", e.provider, err, models.ErrEmbedding)
}
