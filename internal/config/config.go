package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Logging  LoggingConfig  `yaml:"logging"`
	EmbedLLM LLMConfig      `yaml:"embedding"`
	ChatLLM  LLMConfig      `yaml:"chat"`
	RAG      RAGConfig      `yaml:"rag"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
}

type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
	MaxUploadMB     int `yaml:"max_upload_mb"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console, json
}

// LLMConfig describes one provider endpoint. Model is the deployment name for Azure.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // azure, openai, ollama
	BaseURL     string  `yaml:"base_url"`
	Key         string  `yaml:"key"`
	APIVersion  string  `yaml:"api_version"`
	Model       string  `yaml:"model"`
	Dimensions  int     `yaml:"dimensions"`
	BatchSize   int     `yaml:"batch_size"`
	Temperature float64 `yaml:"temperature"`
	TimeoutSec  int     `yaml:"timeout_sec"`
}

type RAGConfig struct {
	ChunkSize      int    `yaml:"chunk_size"`
	ChunkOverlap   int    `yaml:"chunk_overlap"`
	IndexPath      string `yaml:"faiss_index_path"`
	Collection     string `yaml:"collection"`
	EncryptionKey  string `yaml:"encryption_key"`
	Compress       bool   `yaml:"compress"`
	OnLoadError    string `yaml:"on_load_error"` // empty, abort
	AnswerLanguage string `yaml:"answer_language"`
	DocsDir        string `yaml:"docs_dir"`
}

// DatabaseConfig enables the Postgres document registry when DSN is set.
type DatabaseConfig struct {
	DSN   string `yaml:"dsn"`
	Debug bool   `yaml:"debug"`
}

// RedisConfig enables the embedding cache when Addrs is set.
type RedisConfig struct {
	Addrs    []string `yaml:"addrs"`
	Password string   `yaml:"password"`
	TTLSec   int      `yaml:"ttl_sec"`
}

const (
	ProviderAzure  = "azure"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	OnLoadErrorEmpty = "empty"
	OnLoadErrorAbort = "abort"

	defaultChunkSize    = 750
	defaultChunkOverlap = 150
	defaultIndexPath    = "data/faiss_index"
	defaultAPIVersion   = "2024-05-01-preview"
)

// defaultConfigYAML is used when no config file exists, so the service can run from
// environment variables alone.
const defaultConfigYAML = `
http:
  port: ${PORT:-8000}
logging:
  level: ${LOG_LEVEL:-info}
  format: ${LOG_FORMAT:-console}
embedding:
  provider: ${EMBEDDING_PROVIDER:-azure}
  base_url: ${AZURE_OPENAI_ENDPOINT}
  key: ${AZURE_OPENAI_API_KEY}
  api_version: ${AZURE_OPENAI_API_VERSION:-2024-05-01-preview}
  model: ${AZURE_OPENAI_EMBEDDING_DEPLOYMENT}
chat:
  provider: ${CHAT_PROVIDER:-azure}
  base_url: ${AZURE_OPENAI_ENDPOINT}
  key: ${AZURE_OPENAI_API_KEY}
  api_version: ${AZURE_OPENAI_API_VERSION:-2024-05-01-preview}
  model: ${AZURE_OPENAI_DEPLOYMENT}
  temperature: 0.2
rag:
  chunk_size: ${CHUNK_SIZE:-750}
  chunk_overlap: ${CHUNK_OVERLAP:-150}
  faiss_index_path: ${FAISS_INDEX_PATH:-data/faiss_index}
  encryption_key: ${INDEX_ENCRYPTION_KEY}
  answer_language: ${ANSWER_LANGUAGE:-English}
database:
  dsn: ${DATABASE_DSN}
redis:
  addrs: ["${REDIS_ADDR}"]
`

// LoadConfig reads the YAML file at path, expanding ${VAR} and ${VAR:-default} from the
// environment (a .env file in the working directory is loaded first). A missing file
// falls back to defaultConfigYAML.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		data = []byte(defaultConfigYAML)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse expands, decodes, defaults and validates a YAML config document.
func Parse(data []byte) (*Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8000
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 30
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 120
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.HTTP.MaxUploadMB <= 0 {
		c.HTTP.MaxUploadMB = 50
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}

	applyLLMDefaults(&c.EmbedLLM)
	applyLLMDefaults(&c.ChatLLM)
	if c.EmbedLLM.BatchSize <= 0 {
		c.EmbedLLM.BatchSize = 16
	}

	if c.RAG.ChunkSize <= 0 {
		c.RAG.ChunkSize = defaultChunkSize
		if c.RAG.ChunkOverlap == 0 {
			c.RAG.ChunkOverlap = defaultChunkOverlap
		}
	}
	if c.RAG.IndexPath == "" {
		c.RAG.IndexPath = defaultIndexPath
	}
	if c.RAG.Collection == "" {
		c.RAG.Collection = "documents"
	}
	if c.RAG.OnLoadError == "" {
		c.RAG.OnLoadError = OnLoadErrorEmpty
	}
	if c.RAG.AnswerLanguage == "" {
		c.RAG.AnswerLanguage = "English"
	}
	if c.RAG.DocsDir == "" {
		c.RAG.DocsDir = "data/docs"
	}

	// ["${REDIS_ADDR}"] with an unset variable decodes as a single empty entry
	addrs := c.Redis.Addrs[:0]
	for _, a := range c.Redis.Addrs {
		if strings.TrimSpace(a) != "" {
			addrs = append(addrs, a)
		}
	}
	c.Redis.Addrs = addrs
	if c.Redis.TTLSec <= 0 {
		c.Redis.TTLSec = 7 * 24 * 3600
	}
}

func applyLLMDefaults(l *LLMConfig) {
	if l.Provider == "" {
		l.Provider = ProviderAzure
	}
	if l.Provider == ProviderAzure && l.APIVersion == "" {
		l.APIVersion = defaultAPIVersion
	}
	if l.TimeoutSec <= 0 {
		l.TimeoutSec = 60
	}
}

func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("rag.chunk_overlap must be in [0, chunk_size), got %d with chunk_size %d",
			c.RAG.ChunkOverlap, c.RAG.ChunkSize)
	}
	if k := len(c.RAG.EncryptionKey); k != 0 && k != 32 {
		return fmt.Errorf("rag.encryption_key must be 32 bytes long, got %d", k)
	}
	switch c.RAG.OnLoadError {
	case OnLoadErrorEmpty, OnLoadErrorAbort:
	default:
		return fmt.Errorf("rag.on_load_error must be %q or %q, got %q",
			OnLoadErrorEmpty, OnLoadErrorAbort, c.RAG.OnLoadError)
	}
	for name, l := range map[string]LLMConfig{"embedding": c.EmbedLLM, "chat": c.ChatLLM} {
		switch l.Provider {
		case ProviderAzure, ProviderOpenAI, ProviderOllama:
		default:
			return fmt.Errorf("%s.provider must be azure, openai or ollama, got %q", name, l.Provider)
		}
	}
	return nil
}

// envVarRegex matches ${VAR} and ${VAR:-default}.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
