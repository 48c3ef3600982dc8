package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParse_DefaultDocument(t *testing.T) {
	t.Setenv("AZURE_OPENAI_ENDPOINT", "https://example.openai.azure.com")
	t.Setenv("AZURE_OPENAI_API_KEY", "secret")
	t.Setenv("AZURE_OPENAI_DEPLOYMENT", "gpt-4o-mini")
	t.Setenv("AZURE_OPENAI_EMBEDDING_DEPLOYMENT", "text-embedding-3-small")
	t.Setenv("CHUNK_SIZE", "")
	t.Setenv("CHUNK_OVERLAP", "")
	t.Setenv("FAISS_INDEX_PATH", "")
	t.Setenv("REDIS_ADDR", "")

	cfg, err := Parse([]byte(defaultConfigYAML))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.RAG.ChunkSize != 750 || cfg.RAG.ChunkOverlap != 150 {
		t.Errorf("chunking = %d/%d, want 750/150", cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	}
	if cfg.RAG.IndexPath != "data/faiss_index" {
		t.Errorf("index path = %q", cfg.RAG.IndexPath)
	}
	if cfg.ChatLLM.Model != "gpt-4o-mini" || cfg.EmbedLLM.Model != "text-embedding-3-small" {
		t.Errorf("deployments = %q/%q", cfg.ChatLLM.Model, cfg.EmbedLLM.Model)
	}
	if cfg.ChatLLM.APIVersion != "2024-05-01-preview" {
		t.Errorf("api version = %q", cfg.ChatLLM.APIVersion)
	}
	if cfg.ChatLLM.Temperature != 0.2 {
		t.Errorf("temperature = %v, want 0.2", cfg.ChatLLM.Temperature)
	}
	if len(cfg.Redis.Addrs) != 0 {
		t.Errorf("expected no redis addrs, got %v", cfg.Redis.Addrs)
	}
	if cfg.RAG.OnLoadError != OnLoadErrorEmpty {
		t.Errorf("on_load_error = %q", cfg.RAG.OnLoadError)
	}
	if cfg.HTTP.Port != 8000 {
		t.Errorf("port = %d", cfg.HTTP.Port)
	}
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "400")
	t.Setenv("CHUNK_OVERLAP", "40")
	t.Setenv("FAISS_INDEX_PATH", "/var/lib/rag/index")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Parse([]byte(defaultConfigYAML))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.RAG.ChunkSize != 400 || cfg.RAG.ChunkOverlap != 40 {
		t.Errorf("chunking = %d/%d, want 400/40", cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	}
	if cfg.RAG.IndexPath != "/var/lib/rag/index" {
		t.Errorf("index path = %q", cfg.RAG.IndexPath)
	}
	if len(cfg.Redis.Addrs) != 1 || cfg.Redis.Addrs[0] != "localhost:6379" {
		t.Errorf("redis addrs = %v", cfg.Redis.Addrs)
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"overlap not below size", "rag:\n  chunk_size: 100\n  chunk_overlap: 100\n", "chunk_overlap"},
		{"negative overlap", "rag:\n  chunk_size: 100\n  chunk_overlap: -1\n", "chunk_overlap"},
		{"short key", "rag:\n  encryption_key: abc\n", "encryption_key"},
		{"bad load policy", "rag:\n  on_load_error: retry\n", "on_load_error"},
		{"bad provider", "chat:\n  provider: bedrock\n", "provider"},
		{"bad port", "http:\n  port: 70000\n", "http.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadConfig_File(t *testing.T) {
	t.Setenv("TEST_CHAT_MODEL", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
chat:
  provider: openai
  model: ${TEST_CHAT_MODEL:-gpt-4o}
rag:
  chunk_size: 500
  chunk_overlap: 50
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.ChatLLM.Model != "gpt-4o" {
		t.Errorf("model = %q, want default from placeholder", cfg.ChatLLM.Model)
	}
	if cfg.ChatLLM.APIVersion != "" {
		t.Errorf("openai provider should not get an azure api version, got %q", cfg.ChatLLM.APIVersion)
	}
	if cfg.RAG.ChunkSize != 500 || cfg.RAG.ChunkOverlap != 50 {
		t.Errorf("chunking = %d/%d", cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	}
	if cfg.EmbedLLM.BatchSize != 16 {
		t.Errorf("batch size = %d", cfg.EmbedLLM.BatchSize)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("RAG_TEST_SET", "value")
	t.Setenv("RAG_TEST_EMPTY", "")

	got := string(expandEnvVars([]byte("a: ${RAG_TEST_SET}\nb: ${RAG_TEST_EMPTY:-fallback}\nc: ${RAG_TEST_EMPTY}")))
	want := "a: value\nb: fallback\nc: "
	if got != want {
		t.Errorf("expandEnvVars = %q, want %q", got, want)
	}
}
