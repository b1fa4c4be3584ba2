package workdesk

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() = %v", err)
	}
	if cfg.ChunkSize != 1000 || cfg.ChunkOverlap != 200 || !cfg.GenerateEmbeddings {
		t.Errorf("chunking defaults = %d/%d/%v", cfg.ChunkSize, cfg.ChunkOverlap, cfg.GenerateEmbeddings)
	}
	if cfg.Sessions.Backend != SessionBackendMemory {
		t.Errorf("session backend = %q", cfg.Sessions.Backend)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero embedding dim", func(c *Config) { c.EmbeddingDim = 0 }},
		{"zero chunk size", func(c *Config) { c.ChunkSize = 0 }},
		{"overlap not below size", func(c *Config) { c.ChunkOverlap = c.ChunkSize }},
		{"negative overlap", func(c *Config) { c.ChunkOverlap = -1 }},
		{"zero batch", func(c *Config) { c.EmbedBatchSize = 0 }},
		{"zero concurrency", func(c *Config) { c.EmbedConcurrency = 0 }},
		{"negative weight", func(c *Config) { c.WeightFTS = -1 }},
		{"negative ttl", func(c *Config) { c.Sessions.TTL = -time.Second }},
		{"unknown backend", func(c *Config) { c.Sessions.Backend = "memcached" }},
		{"redis without addr", func(c *Config) { c.Sessions.Backend = SessionBackendRedis }},
		{"unknown provider", func(c *Config) { c.Chat.Provider = "telepathy" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
			}
		})
	}

	cfg := DefaultConfig()
	cfg.Chat.Provider = ""
	cfg.Embedding.Provider = " OpenAI "
	if err := cfg.Validate(); err != nil {
		t.Errorf("empty chat provider and padded name: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workdesk.yaml")
	yml := `db_path: /tmp/wd.db
embedding_dim: 1536
chunk_size: 800
chunk_overlap: 100
embedding:
  provider: openai
  model: text-embedding-3-small
  timeout: 45s
sessions:
  backend: redis
  ttl: 2h
  redis:
    addr: localhost:6379
    db: 3
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.DBPath != "/tmp/wd.db" || cfg.EmbeddingDim != 1536 || cfg.ChunkSize != 800 || cfg.ChunkOverlap != 100 {
		t.Errorf("scalars = %+v", cfg)
	}
	if cfg.Embedding.Timeout != 45*time.Second || cfg.Embedding.Provider != "openai" {
		t.Errorf("embedding = %+v", cfg.Embedding)
	}
	if cfg.Sessions.TTL != 2*time.Hour || cfg.Sessions.Redis.DB != 3 {
		t.Errorf("sessions = %+v", cfg.Sessions)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Chat.Provider != "ollama" || cfg.EmbedBatchSize != 32 {
		t.Errorf("defaults lost: chat=%q batch=%d", cfg.Chat.Provider, cfg.EmbedBatchSize)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadConfigJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workdesk.json")
	if err := os.WriteFile(path, []byte(`{"chunk_size": 500, "keep_unicode": true}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ChunkSize != 500 || !cfg.KeepUnicode {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadConfig(filepath.Join(dir, "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: %v", err)
	}

	path := filepath.Join(dir, "typo.yaml")
	os.WriteFile(path, []byte("chunk_sise: 10\n"), 0o644)
	if _, err := LoadConfig(path); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("unknown key: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"WORKDESK_DB_PATH":             "/data/wd.db",
		"WORKDESK_CHAT_PROVIDER":       "groq",
		"WORKDESK_EMBED_PROVIDER":      "openai",
		"WORKDESK_EMBEDDING_DIM":       "1536",
		"WORKDESK_SESSION_TTL":         "30m",
		"WORKDESK_SESSION_BACKEND":     "redis",
		"WORKDESK_REDIS_ADDR":          "redis:6379",
		"WORKDESK_REDIS_DB":            "2",
		"WORKDESK_GENERATE_EMBEDDINGS": "false",
		"GROQ_API_KEY":                 "gsk-test",
		"OPENAI_API_KEY":               "sk-test",
	}
	cfg := DefaultConfig()
	if err := cfg.applyEnv(func(k string) string { return env[k] }); err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if cfg.DBPath != "/data/wd.db" || cfg.EmbeddingDim != 1536 || cfg.GenerateEmbeddings {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Chat.APIKey != "gsk-test" || cfg.Embedding.APIKey != "sk-test" {
		t.Errorf("api key fallback: chat=%q embed=%q", cfg.Chat.APIKey, cfg.Embedding.APIKey)
	}
	if cfg.Sessions.TTL != 30*time.Minute || cfg.Sessions.Redis.Addr != "redis:6379" || cfg.Sessions.Redis.DB != 2 {
		t.Errorf("sessions = %+v", cfg.Sessions)
	}
}

func TestApplyEnvErrors(t *testing.T) {
	tests := map[string]string{
		"WORKDESK_CHUNK_SIZE":          "big",
		"WORKDESK_SESSION_TTL":         "forever",
		"WORKDESK_GENERATE_EMBEDDINGS": "maybe",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			cfg := DefaultConfig()
			err := cfg.applyEnv(func(k string) string {
				if k == key {
					return val
				}
				return ""
			})
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("applyEnv(%s=%q) = %v", key, val, err)
			}
		})
	}
}

func TestResolveDBPath(t *testing.T) {
	cfg := Config{DBPath: "/x/y.db"}
	if got := cfg.resolveDBPath(); got != "/x/y.db" {
		t.Errorf("explicit path = %q", got)
	}
	cfg = Config{DBName: "acme", StorageDir: "local"}
	if got := cfg.resolveDBPath(); got != "acme.db" {
		t.Errorf("local = %q", got)
	}
	cfg = Config{StorageDir: "home"}
	if got := cfg.resolveDBPath(); filepath.Base(got) != "workdesk.db" {
		t.Errorf("home = %q", got)
	}
}
