package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"pdf-rag/internal/embedding"
	"pdf-rag/internal/helper"
	"pdf-rag/internal/metrics"
	"pdf-rag/internal/models"
)

const (
	defaultCollection = "documents"

	metaPage   = "page"
	metaSource = "source"
)

// Options configure how an Index is stored.
type Options struct {
	Collection     string
	EmbeddingModel string // recorded in the manifest and checked on load
	EncryptionKey  string // 32 bytes, or empty for plain files
	Compress       bool
}

func (o Options) collection() string {
	if o.Collection == "" {
		return defaultCollection
	}
	return o.Collection
}

// Match is one search hit. Score is the cosine similarity, higher is closer.
type Match struct {
	ID      string
	Page    int
	Source  string
	Content string
	Score   float64
}

// Index is an in-memory chromem collection that can be written to and read back from a
// directory. Reads run concurrently; appends take the write lock only after embedding.
type Index struct {
	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
	embedder   embedding.Embedder
	opts       Options
	dim        int
}

// CreateEmpty returns an index holding no vectors.
func CreateEmpty(embedder embedding.Embedder, opts Options) (*Index, error) {
	db := chromem.NewDB()
	idx := &Index{db: db, embedder: embedder, opts: opts}

	c, err := db.GetOrCreateCollection(opts.collection(), nil, idx.embedFunc())
	if err != nil {
		return nil, fmt.Errorf("failed to create collection %s: %w", opts.collection(), err)
	}
	idx.collection = c
	metrics.IndexVectors.Set(0)
	return idx, nil
}

// Load reads the index persisted at dir. It returns ErrIndexNotFound when dir holds no
// manifest and ErrIndexLoad when the stored files cannot be trusted.
func Load(dir string, embedder embedding.Embedder, opts Options) (*Index, error) {
	m, err := readManifest(dir)
	if err != nil {
		return nil, err
	}
	if err := m.check(opts); err != nil {
		return nil, fmt.Errorf("index at %s: %w: %v", dir, models.ErrIndexLoad, err)
	}

	dataPath := filepath.Join(dir, m.DataFile)
	sum, err := fileChecksum(dataPath)
	if err != nil {
		return nil, fmt.Errorf("index at %s: %w: %v", dir, models.ErrIndexLoad, err)
	}
	if sum != m.Checksum {
		return nil, fmt.Errorf("index at %s: %w: checksum mismatch for %s", dir, models.ErrIndexLoad, m.DataFile)
	}

	db := chromem.NewDB()
	if err := db.ImportFromFile(dataPath, opts.EncryptionKey, m.Collection); err != nil {
		return nil, fmt.Errorf("index at %s: %w: %v", dir, models.ErrIndexLoad, err)
	}

	idx := &Index{db: db, embedder: embedder, opts: opts, dim: m.Dimension}
	idx.opts.Collection = m.Collection
	c := db.GetCollection(m.Collection, idx.embedFunc())
	if c == nil {
		return nil, fmt.Errorf("index at %s: %w: collection %s missing", dir, models.ErrIndexLoad, m.Collection)
	}
	if c.Count() != m.Count {
		return nil, fmt.Errorf("index at %s: %w: manifest lists %d vectors, file holds %d",
			dir, models.ErrIndexLoad, m.Count, c.Count())
	}
	idx.collection = c

	metrics.IndexVectors.Set(float64(m.Count))
	log.Info().
		Str("path", dir).
		Str("collection", m.Collection).
		Int("vectors", m.Count).
		Int("dimension", m.Dimension).
		Msg("Loaded vector index")
	return idx, nil
}

// Add embeds the chunk contents with one batch call and appends them. Empty input is a
// no-op that does not reach the embedder.
func (idx *Index) Add(ctx context.Context, chunks []models.DocumentChunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		if strings.TrimSpace(c.Content) == "" {
			return 0, fmt.Errorf("chunk %d of %s: %w: empty content", i, c.Source, models.ErrInput)
		}
		texts[i] = c.Content
	}

	vectors, err := idx.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, err
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("%w: got %d embeddings for %d chunks", models.ErrEmbedding, len(vectors), len(chunks))
	}

	dim := len(vectors[0])
	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		if len(vectors[i]) != dim {
			return 0, fmt.Errorf("%w: embedding %d has %d dimensions, expected %d",
				models.ErrDimensionMismatch, i, len(vectors[i]), dim)
		}
		vec, err := normalize(vectors[i])
		if err != nil {
			return 0, err
		}
		id, err := helper.GenerateUUID()
		if err != nil {
			return 0, err
		}
		docs[i] = chromem.Document{
			ID:        id,
			Content:   c.Content,
			Embedding: vec,
			Metadata: map[string]string{
				metaPage:   strconv.Itoa(c.Page),
				metaSource: c.Source,
			},
		}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.dim != 0 && idx.dim != dim {
		return 0, fmt.Errorf("%w: index has %d dimensions, embeddings have %d",
			models.ErrDimensionMismatch, idx.dim, dim)
	}
	if err := idx.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return 0, fmt.Errorf("failed to add documents: %w", err)
	}
	idx.dim = dim

	metrics.IndexVectors.Set(float64(idx.collection.Count()))
	return len(docs), nil
}

// Query returns the min(k, Count()) chunks closest to text, best first.
func (idx *Index) Query(ctx context.Context, text string, k int) ([]Match, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", models.ErrInput, k)
	}
	if idx.Count() == 0 {
		return []Match{}, nil
	}

	vec, err := idx.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	vec, err = normalize(vec)
	if err != nil {
		return nil, err
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.dim != 0 && len(vec) != idx.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d",
			models.ErrDimensionMismatch, len(vec), idx.dim)
	}

	n := min(k, idx.collection.Count())
	results, err := idx.collection.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: vec,
		NResults:       n,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		page, err := strconv.Atoi(r.Metadata[metaPage])
		if err != nil {
			return nil, fmt.Errorf("document %s has invalid page %q: %w", r.ID, r.Metadata[metaPage], err)
		}
		matches = append(matches, Match{
			ID:      r.ID,
			Page:    page,
			Source:  r.Metadata[metaSource],
			Content: r.Content,
			Score:   float64(r.Similarity),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	return matches, nil
}

// Persist writes the index to dir. The data file is written first under a name derived
// from its checksum; replacing manifest.yaml commits it. Files the new manifest does not
// reference are removed afterwards.
func (idx *Index) Persist(dir string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if err := helper.CreateFolder(dir); err != nil {
		return fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}

	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	name := idx.opts.collection()
	if err := idx.db.ExportToFile(tmpPath, idx.opts.Compress, idx.opts.EncryptionKey, name); err != nil {
		return fmt.Errorf("%w: export collection %s: %v", models.ErrPersistence, name, err)
	}
	sum, err := fileChecksum(tmpPath)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}

	dataFile := dataFileName(sum, idx.opts.Compress, idx.opts.EncryptionKey != "")
	if err := os.Rename(tmpPath, filepath.Join(dir, dataFile)); err != nil {
		return fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	committed = true

	m := manifest{
		Format:         manifestFormat,
		Version:        manifestVersion,
		DataFile:       dataFile,
		Checksum:       sum,
		Collection:     name,
		EmbeddingModel: idx.opts.EmbeddingModel,
		Dimension:      idx.dim,
		Count:          idx.collection.Count(),
		Compressed:     idx.opts.Compress,
		Encrypted:      idx.opts.EncryptionKey != "",
	}
	if err := writeManifest(dir, m); err != nil {
		return fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}

	removeStale(dir, dataFile)
	log.Debug().
		Str("path", dir).
		Str("file", dataFile).
		Int("vectors", m.Count).
		Msg("Persisted vector index")
	return nil
}

// Count returns the number of stored vectors.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.collection.Count()
}

// Dimension returns the embedding size, or 0 while the index is empty.
func (idx *Index) Dimension() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.dim
}

// embedFunc lets chromem embed on its own if it ever gets text without a vector.
func (idx *Index) embedFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		vec, err := idx.embedder.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		return normalize(vec)
	}
}

func normalize(v []float32) ([]float32, error) {
	if len(v) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", models.ErrEmbedding)
	}
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, fmt.Errorf("%w: embedding has no direction", models.ErrEmbedding)
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, nil
}

// removeStale deletes data and temp files other than keep. Failures are only logged,
// the manifest no longer points at them.
func removeStale(dir, keep string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Warn().Err(err).Str("path", dir).Msg("Failed to list index directory")
		return
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == keep || !isIndexFile(name) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("file", name).Msg("Failed to remove stale index file")
		}
	}
}
