package workdesk

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gptworkdesk/workdesk/llm"
)

// Config holds all configuration for the workdesk engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.workdesk/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	// Defaults to "workdesk".
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set. "home" (default) uses ~/.workdesk/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// LLM providers. An empty Embedding.Provider disables embeddings and
	// search falls back to full-text only. An empty Chat.Provider disables
	// Chat and LLM summaries.
	Chat      LLMConfig `json:"chat" yaml:"chat"`
	Embedding LLMConfig `json:"embedding" yaml:"embedding"`

	// Embedding dimensions (must match model)
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`

	// Chunking and embedding
	ChunkSize          int  `json:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap       int  `json:"chunk_overlap" yaml:"chunk_overlap"`
	GenerateEmbeddings bool `json:"generate_embeddings" yaml:"generate_embeddings"`
	EmbedBatchSize     int  `json:"embed_batch_size" yaml:"embed_batch_size"`
	EmbedConcurrency   int  `json:"embed_concurrency" yaml:"embed_concurrency"` // Max parallel embedding batches

	// Retrieval weights for RRF
	WeightVector float64 `json:"weight_vector" yaml:"weight_vector"`
	WeightFTS    float64 `json:"weight_fts" yaml:"weight_fts"`

	// Extraction
	KeepUnicode      bool `json:"keep_unicode" yaml:"keep_unicode"`             // Keep printable non-ASCII text during normalization
	MaxDocumentBytes int  `json:"max_document_bytes" yaml:"max_document_bytes"` // 0 disables the limit

	// Session document context
	Sessions         SessionConfig `json:"sessions" yaml:"sessions"`
	SummarizeWithLLM bool          `json:"summarize_with_llm" yaml:"summarize_with_llm"`
	SystemPrompt     string        `json:"system_prompt" yaml:"system_prompt"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider   string        `json:"provider" yaml:"provider"` // ollama, openai, openrouter, groq, lmstudio, custom
	Model      string        `json:"model" yaml:"model"`
	BaseURL    string        `json:"base_url" yaml:"base_url"`
	APIKey     string        `json:"api_key" yaml:"api_key"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
	MaxRetries int           `json:"max_retries" yaml:"max_retries"`
}

func (c LLMConfig) provider() llm.Config {
	return llm.Config{
		Provider:   c.Provider,
		Model:      c.Model,
		BaseURL:    c.BaseURL,
		APIKey:     c.APIKey,
		Timeout:    c.Timeout,
		MaxRetries: c.MaxRetries,
	}
}

// Session backends.
const (
	SessionBackendMemory = "memory"
	SessionBackendRedis  = "redis"
)

// SessionConfig selects and bounds the session context store.
type SessionConfig struct {
	Backend     string        `json:"backend" yaml:"backend"` // memory (default) or redis
	TTL         time.Duration `json:"ttl" yaml:"ttl"`         // Idle expiry, 0 keeps sessions
	MaxSessions int           `json:"max_sessions" yaml:"max_sessions"`
	Redis       RedisConfig   `json:"redis" yaml:"redis"`
}

// RedisConfig points the redis session backend at a server.
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Prefix   string `json:"prefix" yaml:"prefix"`
}

// DefaultConfig returns a Config with sensible defaults for local inference.
// Database is stored in ~/.workdesk/workdesk.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:     "workdesk",
		StorageDir: "home",
		Chat: LLMConfig{
			Provider:   "ollama",
			Model:      "llama3.1:8b",
			BaseURL:    "http://localhost:11434",
			MaxRetries: 2,
		},
		Embedding: LLMConfig{
			Provider:   "ollama",
			Model:      "nomic-embed-text",
			BaseURL:    "http://localhost:11434",
			MaxRetries: 2,
		},
		EmbeddingDim:       768,
		ChunkSize:          1000,
		ChunkOverlap:       200,
		GenerateEmbeddings: true,
		EmbedBatchSize:     32,
		EmbedConcurrency:   4,
		WeightVector:       1.0,
		WeightFTS:          1.0,
		MaxDocumentBytes:   50 << 20,
		Sessions: SessionConfig{
			Backend:     SessionBackendMemory,
			TTL:         24 * time.Hour,
			MaxSessions: 10000,
		},
	}
}

// LoadConfig reads a YAML or JSON config file over DefaultConfig.
// Unknown keys are rejected.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("%w: parsing %s: %v", ErrInvalidConfig, filepath.Base(path), err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from WORKDESK_* environment variables.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(os.Getenv)
}

func (c *Config) applyEnv(getenv func(string) string) error {
	strs := map[string]*string{
		"WORKDESK_DB_PATH":         &c.DBPath,
		"WORKDESK_CHAT_PROVIDER":   &c.Chat.Provider,
		"WORKDESK_CHAT_MODEL":      &c.Chat.Model,
		"WORKDESK_CHAT_BASE_URL":   &c.Chat.BaseURL,
		"WORKDESK_CHAT_API_KEY":    &c.Chat.APIKey,
		"WORKDESK_EMBED_PROVIDER":  &c.Embedding.Provider,
		"WORKDESK_EMBED_MODEL":     &c.Embedding.Model,
		"WORKDESK_EMBED_BASE_URL":  &c.Embedding.BaseURL,
		"WORKDESK_EMBED_API_KEY":   &c.Embedding.APIKey,
		"WORKDESK_SESSION_BACKEND": &c.Sessions.Backend,
		"WORKDESK_REDIS_ADDR":      &c.Sessions.Redis.Addr,
		"WORKDESK_REDIS_PASSWORD":  &c.Sessions.Redis.Password,
		"WORKDESK_REDIS_PREFIX":    &c.Sessions.Redis.Prefix,
	}
	for key, dst := range strs {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"WORKDESK_EMBEDDING_DIM": &c.EmbeddingDim,
		"WORKDESK_CHUNK_SIZE":    &c.ChunkSize,
		"WORKDESK_CHUNK_OVERLAP": &c.ChunkOverlap,
		"WORKDESK_REDIS_DB":      &c.Sessions.Redis.DB,
		"WORKDESK_MAX_SESSIONS":  &c.Sessions.MaxSessions,
	}
	for key, dst := range ints {
		v := getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, key, v)
		}
		*dst = n
	}

	if v := getenv("WORKDESK_SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: WORKDESK_SESSION_TTL=%q: %v", ErrInvalidConfig, v, err)
		}
		c.Sessions.TTL = d
	}
	if v := getenv("WORKDESK_GENERATE_EMBEDDINGS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: WORKDESK_GENERATE_EMBEDDINGS=%q", ErrInvalidConfig, v)
		}
		c.GenerateEmbeddings = b
	}

	// Fallback: well-known provider env vars for API keys.
	for _, lc := range []*LLMConfig{&c.Chat, &c.Embedding} {
		if lc.APIKey != "" {
			continue
		}
		switch strings.ToLower(lc.Provider) {
		case "openai":
			lc.APIKey = getenv("OPENAI_API_KEY")
		case "groq":
			lc.APIKey = getenv("GROQ_API_KEY")
		case "openrouter":
			lc.APIKey = getenv("OPENROUTER_API_KEY")
		}
	}
	return nil
}

// Validate reports the first invalid field, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	switch {
	case c.EmbeddingDim <= 0:
		return fmt.Errorf("%w: embedding_dim must be positive, got %d", ErrInvalidConfig, c.EmbeddingDim)
	case c.ChunkSize <= 0:
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidConfig, c.ChunkSize)
	case c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize:
		return fmt.Errorf("%w: chunk_overlap must be in [0, chunk_size), got %d", ErrInvalidConfig, c.ChunkOverlap)
	case c.EmbedBatchSize <= 0:
		return fmt.Errorf("%w: embed_batch_size must be positive", ErrInvalidConfig)
	case c.EmbedConcurrency <= 0:
		return fmt.Errorf("%w: embed_concurrency must be positive", ErrInvalidConfig)
	case c.WeightVector < 0 || c.WeightFTS < 0:
		return fmt.Errorf("%w: retrieval weights must not be negative", ErrInvalidConfig)
	case c.Sessions.TTL < 0 || c.Sessions.MaxSessions < 0:
		return fmt.Errorf("%w: session ttl and max_sessions must not be negative", ErrInvalidConfig)
	}

	switch c.Sessions.Backend {
	case "", SessionBackendMemory:
	case SessionBackendRedis:
		if c.Sessions.Redis.Addr == "" {
			return fmt.Errorf("%w: sessions.redis.addr is required for the redis backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown session backend %q", ErrInvalidConfig, c.Sessions.Backend)
	}

	for _, lc := range []LLMConfig{c.Chat, c.Embedding} {
		if lc.Provider == "" {
			continue
		}
		if !knownProvider(lc.Provider) {
			return fmt.Errorf("%w: unknown llm provider %q", ErrInvalidConfig, lc.Provider)
		}
	}
	return nil
}

func knownProvider(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, p := range llm.Providers() {
		if p == name {
			return true
		}
	}
	return false
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "workdesk"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		return filepath.Join(home, ".workdesk", name+".db")
	}
}
