package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"pdf-rag/internal/cache"
	"pdf-rag/internal/config"
	"pdf-rag/internal/db"
	"pdf-rag/internal/embedding"
	"pdf-rag/internal/helper"
	"pdf-rag/internal/llmservice"
	"pdf-rag/internal/logger"
	"pdf-rag/internal/metrics"
	"pdf-rag/internal/models"
	"pdf-rag/internal/parser"
	"pdf-rag/internal/rag"
	"pdf-rag/internal/server"
)

const configFilePath = "./configs/config.yaml"

// app holds everything that has to be closed on exit.
type app struct {
	cfg      *config.Config
	pipeline *rag.Pipeline
	registry *db.Registry
	redis    *cache.RedisStore
}

func main() {
	configPath := flag.String("config", configFilePath, "Path to the config file")
	index := flag.Bool("index", false, "Index every PDF in the documents directory")
	dir := flag.String("dir", "", "Documents directory for -index (default rag.docs_dir)")
	filePath := flag.String("file", "", "Path to a PDF to index")
	query := flag.String("query", "", "Question to be answered")
	topK := flag.Int("top-k", models.DefaultTopK, "Number of contexts to retrieve for -query")
	dryRun := flag.Bool("dry-run", false, "With -file: print the chunks, do not embed or store")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	if err := logger.Init(cfg.Logging); err != nil {
		log.Fatal().Err(err).Msg("Error initializing logger")
	}
	metrics.RegisterRAGMetrics()

	if *filePath != "" && *query != "" {
		log.Fatal().Msg("Please provide either a document file using the -file flag or a query using the -query flag, but not both")
	}

	if *dryRun {
		if *filePath == "" {
			log.Fatal().Msg("-dry-run needs a document file from the -file flag")
		}
		printChunks(cfg, *filePath)
		return
	}

	ctx := context.Background()
	a := newApp(ctx, cfg)

	// modes return errors instead of exiting so the index is flushed before the process ends
	switch {
	case *filePath != "":
		err = ingestFile(ctx, a.pipeline, *filePath)
	case *index:
		if *dir == "" {
			*dir = cfg.RAG.DocsDir
		}
		err = ingestDir(ctx, a.pipeline, *dir)
	case *query != "":
		err = ask(ctx, a.pipeline, *query, *topK)
	default:
		a.serve()
	}
	a.close()
	if err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func newApp(ctx context.Context, cfg *config.Config) *app {
	a := &app{cfg: cfg}

	embedder, err := embedding.NewEmbedder(cfg.EmbedLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}
	if len(cfg.Redis.Addrs) > 0 {
		embedder = a.withCache(ctx, embedder)
	}

	idx, err := rag.OpenIndex(cfg.RAG, embedder, cfg.EmbedLLM.Model)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.RAG.IndexPath).Msg("Error loading index")
	}

	llm, err := llmservice.New(cfg.ChatLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing chat model")
	}

	opts := rag.Options{
		IndexPath:      cfg.RAG.IndexPath,
		Chunker:        parser.NewChunker(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap),
		AnswerLanguage: cfg.RAG.AnswerLanguage,
	}
	if cfg.Database.DSN != "" {
		a.registry, err = db.Open(ctx, cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("Error connecting to database")
		}
		opts.Registry = a.registry
	}

	a.pipeline = rag.NewPipeline(idx, llm, opts)
	log.Info().
		Int("vectors", a.pipeline.Count()).
		Str("index", cfg.RAG.IndexPath).
		Str("chat_model", llm.Name()).
		Bool("registry", a.registry != nil).
		Bool("embedding_cache", a.redis != nil).
		Msg("Pipeline ready")
	return a
}

// withCache wraps embedder with the Redis cache. An unreachable Redis disables the
// cache instead of failing startup.
func (a *app) withCache(ctx context.Context, embedder embedding.Embedder) embedding.Embedder {
	store, err := cache.NewRedisStore(a.cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Embedding cache disabled")
		return embedder
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		store.Close()
		log.Warn().Err(err).Strs("addrs", a.cfg.Redis.Addrs).Msg("Embedding cache disabled")
		return embedder
	}
	a.redis = store
	ttl := time.Duration(a.cfg.Redis.TTLSec) * time.Second
	return embedding.NewCachedEmbedder(embedder, store, a.cfg.EmbedLLM.Model, ttl)
}

func (a *app) serve() {
	var documents server.Lister
	if a.registry != nil {
		documents = a.registry
	}

	addr := fmt.Sprintf(":%d", a.cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.New(a.pipeline, documents, a.cfg.HTTP.MaxUploadMB).Router(),
		ReadTimeout:  time.Duration(a.cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(a.cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-quit:
		log.Info().Msg("Received shutdown signal")
	case err := <-errCh:
		log.Error().Err(err).Msg("HTTP server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(a.cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}
	log.Info().Msg("Server stopped gracefully")
}

func (a *app) close() {
	if err := a.pipeline.Close(); err != nil {
		log.Error().Err(err).Msg("Error flushing index")
	}
	if a.registry != nil {
		if err := a.registry.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database")
		}
	}
	if a.redis != nil {
		a.redis.Close()
	}
}

func printChunks(cfg *config.Config, filePath string) {
	data, err := os.ReadFile(filepath.Clean(filePath))
	if err != nil {
		log.Fatal().Err(err).Msg("Error reading document")
	}
	chunks, err := parser.LoadPDF(data, filePath, parser.NewChunker(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap))
	if err != nil {
		log.Fatal().Err(err).Msg("Error parsing document")
	}
	log.Info().Int("chunks", len(chunks)).Str("file", filePath).Msg("Parsed document")
	helper.PrettyPrint(chunks)
}

func ingestFile(ctx context.Context, pipeline *rag.Pipeline, filePath string) error {
	data, err := os.ReadFile(filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("reading document: %w", err)
	}
	resp, err := pipeline.Ingest(ctx, data, filePath)
	if err != nil {
		return fmt.Errorf("indexing document: %w", err)
	}
	helper.PrettyPrint(resp)
	return nil
}

// ingestDir indexes every *.pdf directly under dir in name order. A failing file is
// logged and skipped.
func ingestDir(ctx context.Context, pipeline *rag.Pipeline, dir string) error {
	if err := helper.CreateFolder(dir); err != nil {
		return fmt.Errorf("creating folder: %w", err)
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.pdf"))
	if err != nil {
		return fmt.Errorf("listing documents: %w", err)
	}
	sort.Strings(files)
	if len(files) == 0 {
		log.Warn().Str("dir", dir).Msg("No PDF files found")
		return nil
	}

	var indexed, chunks int
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			log.Error().Err(err).Str("file", f).Msg("Error reading document")
			continue
		}
		resp, err := pipeline.Ingest(ctx, data, f)
		if err != nil {
			log.Error().Err(err).Str("file", f).Msg("Error indexing document")
			continue
		}
		indexed++
		chunks += resp.ChunksIndexed
	}
	log.Info().
		Int("files", len(files)).
		Int("indexed", indexed).
		Int("chunks", chunks).
		Int("vectors", pipeline.Count()).
		Msg("Finished indexing directory")
	return nil
}

func ask(ctx context.Context, pipeline *rag.Pipeline, query string, topK int) error {
	if topK < 1 {
		return fmt.Errorf("-top-k must be at least 1, got %d", topK)
	}
	resp, err := pipeline.Answer(ctx, models.QuestionRequest{Question: query, TopK: topK})
	if err != nil {
		return fmt.Errorf("querying: %w", err)
	}
	helper.PrettyPrint(resp)
	return nil
}
