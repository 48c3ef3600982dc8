package rag

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"pdf-rag/internal/chromemdb"
	"pdf-rag/internal/config"
	"pdf-rag/internal/embedding"
	"pdf-rag/internal/llmservice"
	"pdf-rag/internal/models"
	"pdf-rag/internal/parser"
)

// Generator produces the answer text for a prompt.
type Generator interface {
	Generate(ctx context.Context, messages []llms.MessageContent) (*llmservice.Result, error)
	Name() string
}

// Registry keeps a record of indexed uploads. It is optional.
type Registry interface {
	Record(ctx context.Context, rec models.DocumentRecord) error
	CountBySource(ctx context.Context, source string) (int, error)
}

type Options struct {
	IndexPath      string
	Chunker        *parser.Chunker
	AnswerLanguage string
	Registry       Registry
}

// Pipeline ties the index, the chunker and the generator together. Writes (add and
// persist) are serialized; retrieval runs concurrently with them.
type Pipeline struct {
	mu    sync.Mutex
	dirty bool

	index *chromemdb.Index
	llm   Generator
	opts  Options
}

func NewPipeline(index *chromemdb.Index, llm Generator, opts Options) *Pipeline {
	if opts.Chunker == nil {
		opts.Chunker = parser.NewChunker(0, 0)
	}
	if opts.AnswerLanguage == "" {
		opts.AnswerLanguage = "English"
	}
	return &Pipeline{index: index, llm: llm, opts: opts}
}

// OpenIndex loads the index at cfg.IndexPath. A missing index starts empty; a bad one
// starts empty or aborts depending on cfg.OnLoadError.
func OpenIndex(cfg config.RAGConfig, embedder embedding.Embedder, embeddingModel string) (*chromemdb.Index, error) {
	opts := chromemdb.Options{
		Collection:     cfg.Collection,
		EmbeddingModel: embeddingModel,
		EncryptionKey:  cfg.EncryptionKey,
		Compress:       cfg.Compress,
	}

	idx, err := chromemdb.Load(cfg.IndexPath, embedder, opts)
	switch {
	case err == nil:
		return idx, nil
	case errors.Is(err, models.ErrIndexNotFound):
		log.Info().Str("path", cfg.IndexPath).Msg("No persisted index, starting empty")
	case errors.Is(err, models.ErrIndexLoad) && cfg.OnLoadError != config.OnLoadErrorAbort:
		log.Error().Err(err).Str("path", cfg.IndexPath).Msg("Ignoring unreadable index, starting empty")
	default:
		return nil, err
	}
	return chromemdb.CreateEmpty(embedder, opts)
}

// AddDocuments indexes chunks and persists the index. The returned id is
// "<first source>-<chunk count>"; an empty input returns "empty" and touches nothing.
func (p *Pipeline) AddDocuments(ctx context.Context, chunks []models.DocumentChunk) (string, int, error) {
	if len(chunks) == 0 {
		return models.EmptyDocumentID, 0, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	n, err := p.index.Add(ctx, chunks)
	if err != nil {
		return "", 0, err
	}
	if err := p.index.Persist(p.opts.IndexPath); err != nil {
		p.dirty = true
		return "", 0, err
	}
	p.dirty = false

	return fmt.Sprintf("%s-%d", chunks[0].Source, len(chunks)), n, nil
}

// Retrieve returns the topK chunks closest to question in index order.
func (p *Pipeline) Retrieve(ctx context.Context, question string, topK int) ([]models.RetrievedContext, error) {
	matches, err := p.index.Query(ctx, question, topK)
	if err != nil {
		return nil, err
	}

	contexts := make([]models.RetrievedContext, len(matches))
	for i, m := range matches {
		contexts[i] = models.RetrievedContext{
			Page:    m.Page,
			Score:   m.Score,
			Content: m.Content,
			Source:  m.Source,
		}
	}
	return contexts, nil
}

// Ingest extracts, chunks and indexes one PDF, and records it in the registry when
// one is configured. Registry failures are logged only.
func (p *Pipeline) Ingest(ctx context.Context, data []byte, filename string) (*models.UploadResponse, error) {
	pages, err := parser.ExtractPDF(data, filename)
	if err != nil {
		return nil, err
	}
	chunks := p.opts.Chunker.Split(pages)

	logger := log.Ctx(ctx).With().Str("file", filename).Logger()
	if p.opts.Registry != nil && len(chunks) > 0 {
		if n, err := p.opts.Registry.CountBySource(ctx, chunks[0].Source); err != nil {
			logger.Warn().Err(err).Msg("Failed to look up earlier uploads")
		} else if n > 0 {
			logger.Warn().Int("previous_uploads", n).Msg("Document was indexed before, vectors will be duplicated")
		}
	}

	id, count, err := p.AddDocuments(ctx, chunks)
	if err != nil {
		return nil, err
	}
	logger.Info().
		Str("document_id", id).
		Int("pages", len(pages)).
		Int("chunks", count).
		Msg("Indexed document")

	if p.opts.Registry != nil && count > 0 {
		rec := models.DocumentRecord{
			DocumentID: id,
			Source:     chunks[0].Source,
			Pages:      len(pages),
			Chunks:     count,
			CreatedAt:  time.Now().UTC(),
		}
		if err := p.opts.Registry.Record(ctx, rec); err != nil {
			logger.Warn().Err(err).Msg("Failed to record document")
		}
	}

	return &models.UploadResponse{DocumentID: id, ChunksIndexed: count}, nil
}

// Count returns the number of indexed chunks.
func (p *Pipeline) Count() int {
	return p.index.Count()
}

// Close writes the index if the last persist failed.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.dirty {
		return nil
	}
	if err := p.index.Persist(p.opts.IndexPath); err != nil {
		return err
	}
	p.dirty = false
	log.Info().Str("path", p.opts.IndexPath).Msg("Flushed index on shutdown")
	return nil
}
