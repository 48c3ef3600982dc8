package llmservice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"pdf-rag/internal/config"
	"pdf-rag/internal/metrics"
	"pdf-rag/internal/models"
)

// Model is the part of llms.Model the service needs.
type Model interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// Result is a generated answer plus the token usage the provider reported, if any.
type Result struct {
	Text             string
	Model            string
	PromptTokens     *int
	CompletionTokens *int
}

// Client sends chat requests with fixed sampling settings.
type Client struct {
	model       Model
	name        string
	temperature float64
	timeout     time.Duration
}

// New builds a chat model for the configured provider.
func New(cfg config.LLMConfig) (*Client, error) {
	log.Debug().Interface("config", map[string]string{
		"provider": cfg.Provider,
		"base_url": cfg.BaseURL,
		"model":    cfg.Model,
	}).Msg("Creating chat model")

	var (
		llm Model
		err error
	)
	switch cfg.Provider {
	case config.ProviderAzure:
		llm, err = openai.New(
			openai.WithAPIType(openai.APITypeAzure),
			openai.WithAPIVersion(cfg.APIVersion),
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(cfg.Key),
			openai.WithModel(cfg.Model),
		)
	case config.ProviderOpenAI:
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err = openai.New(opts...)
	case config.ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		llm, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported chat provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s chat model: %w", cfg.Provider, err)
	}

	return NewClient(llm, cfg.Model, cfg.Temperature, time.Duration(cfg.TimeoutSec)*time.Second), nil
}

// NewClient wraps an existing model. name is reported as the answering model.
func NewClient(model Model, name string, temperature float64, timeout time.Duration) *Client {
	return &Client{model: model, name: name, temperature: temperature, timeout: timeout}
}

// Name returns the configured model or deployment name.
func (c *Client) Name() string {
	return c.name
}

// Generate runs one chat completion. Failures wrap models.ErrGeneration.
func (c *Client) Generate(ctx context.Context, messages []llms.MessageContent) (*Result, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.model.GenerateContent(ctx, messages, llms.WithTemperature(c.temperature))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("generation timed out after %s: %w", c.timeout, models.ErrGeneration)
		}
		return nil, fmt.Errorf("generation failed: %v: %w", err, models.ErrGeneration)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, fmt.Errorf("generation returned no choices: %w", models.ErrGeneration)
	}

	choice := resp.Choices[0]
	res := &Result{
		Text:             choice.Content,
		Model:            c.name,
		PromptTokens:     tokenCount(choice.GenerationInfo, "PromptTokens"),
		CompletionTokens: tokenCount(choice.GenerationInfo, "CompletionTokens"),
	}
	if res.PromptTokens != nil {
		metrics.GenerationTokensTotal.WithLabelValues(c.name, "prompt").Add(float64(*res.PromptTokens))
	}
	if res.CompletionTokens != nil {
		metrics.GenerationTokensTotal.WithLabelValues(c.name, "completion").Add(float64(*res.CompletionTokens))
	}

	log.Debug().
		Str("model", c.name).
		Dur("duration", time.Since(start)).
		Interface("prompt_tokens", res.PromptTokens).
		Interface("completion_tokens", res.CompletionTokens).
		Msg("Generated answer")
	return res, nil
}

// tokenCount reads a counter from provider generation info. Providers report ints,
// decoded JSON reports float64.
func tokenCount(info map[string]any, key string) *int {
	var n int
	switch v := info[key].(type) {
	case int:
		n = v
	case int32:
		n = int(v)
	case int64:
		n = int(v)
	case float64:
		n = int(v)
	default:
		return nil
	}
	if n < 0 {
		return nil
	}
	return &n
}
