package embedding

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pdf-rag/internal/cache"
)

type memStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	getErr  error
	setErr  error
	lastTTL time.Duration
}

func newMemStore() *memStore { return &memStore{data: map[string][]byte{}} }

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return nil, cache.ErrMiss
	}
	return v, nil
}

func (m *memStore) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	m.lastTTL = ttl
	return nil
}

type countingEmbedder struct {
	docCalls   int
	queryCalls int
	lastBatch  []string
	err        error
}

func (c *countingEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	c.docCalls++
	c.lastBatch = texts
	if c.err != nil {
		return nil, c.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (c *countingEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	c.queryCalls++
	if c.err != nil {
		return nil, c.err
	}
	return []float32{float32(len(text)), 1}, nil
}

func TestCachedEmbedder_QueryMissThenHit(t *testing.T) {
	inner := &countingEmbedder{}
	st := newMemStore()
	ce := NewCachedEmbedder(inner, st, "m1", time.Hour)
	ctx := context.Background()

	first, err := ce.EmbedQuery(ctx, "hello")
	if err != nil {
		t.Fatalf("EmbedQuery failed: %v", err)
	}
	second, err := ce.EmbedQuery(ctx, "hello")
	if err != nil {
		t.Fatalf("EmbedQuery failed: %v", err)
	}
	if inner.queryCalls != 1 {
		t.Errorf("expected 1 inner call, got %d", inner.queryCalls)
	}
	if first[0] != second[0] || len(second) != 2 {
		t.Errorf("cached vector %v differs from %v", second, first)
	}
	if st.lastTTL != time.Hour {
		t.Errorf("ttl = %v", st.lastTTL)
	}
}

func TestCachedEmbedder_DocumentsOnlyMissesReachInner(t *testing.T) {
	inner := &countingEmbedder{}
	st := newMemStore()
	ce := NewCachedEmbedder(inner, st, "m1", time.Hour)
	ctx := context.Background()

	if _, err := ce.EmbedQuery(ctx, "bb"); err != nil {
		t.Fatal(err)
	}

	vecs, err := ce.EmbedDocuments(ctx, []string{"a", "bb", "ccc"})
	if err != nil {
		t.Fatalf("EmbedDocuments failed: %v", err)
	}
	if inner.docCalls != 1 {
		t.Fatalf("expected one batch call, got %d", inner.docCalls)
	}
	if len(inner.lastBatch) != 2 || inner.lastBatch[0] != "a" || inner.lastBatch[1] != "ccc" {
		t.Errorf("inner batch = %v, want [a ccc]", inner.lastBatch)
	}
	for i, want := range []float32{1, 2, 3} {
		if vecs[i][0] != want {
			t.Errorf("vector %d = %v", i, vecs[i])
		}
	}

	if _, err := ce.EmbedDocuments(ctx, []string{"a", "bb", "ccc"}); err != nil {
		t.Fatal(err)
	}
	if inner.docCalls != 1 {
		t.Errorf("fully cached batch should not reach inner, calls = %d", inner.docCalls)
	}
}

func TestCachedEmbedder_KeyIncludesModel(t *testing.T) {
	inner := &countingEmbedder{}
	st := newMemStore()
	ctx := context.Background()

	if _, err := NewCachedEmbedder(inner, st, "m1", time.Hour).EmbedQuery(ctx, "x"); err != nil {
		t.Fatal(err)
	}
	if _, err := NewCachedEmbedder(inner, st, "m2", time.Hour).EmbedQuery(ctx, "x"); err != nil {
		t.Fatal(err)
	}
	if inner.queryCalls != 2 {
		t.Errorf("different models must not share entries, inner calls = %d", inner.queryCalls)
	}
}

func TestCachedEmbedder_StoreFailuresFallThrough(t *testing.T) {
	inner := &countingEmbedder{}
	st := newMemStore()
	st.getErr = errors.New("connection refused")
	st.setErr = errors.New("connection refused")
	ce := NewCachedEmbedder(inner, st, "m1", time.Hour)

	vec, err := ce.EmbedQuery(context.Background(), "abc")
	if err != nil {
		t.Fatalf("store failure should not fail the call: %v", err)
	}
	if vec[0] != 3 {
		t.Errorf("unexpected vector %v", vec)
	}
}

func TestCachedEmbedder_InnerError(t *testing.T) {
	inner := &countingEmbedder{err: errors.New("provider down")}
	ce := NewCachedEmbedder(inner, newMemStore(), "m1", time.Hour)

	if _, err := ce.EmbedDocuments(context.Background(), []string{"a"}); err == nil {
		t.Fatal("expected inner error")
	}
}

func TestBytesToVector(t *testing.T) {
	in := []float32{0.25, -1.5, 3}
	out, err := bytesToVector(vectorToBytes(in))
	if err != nil {
		t.Fatal(err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("value %d = %v, want %v", i, out[i], in[i])
		}
	}
	if _, err := bytesToVector([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated data")
	}
}
