package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Provider is the interface for LLM interactions.
type Provider interface {
	// Chat sends a chat completion request.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Embed generates embeddings for a batch of texts. The result holds one
	// vector per input, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ChatRequest is a chat completion request.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatResponse is the response from a chat completion.
type ChatResponse struct {
	Content          string `json:"content"`
	Model            string `json:"model"`
	FinishReason     string `json:"finish_reason"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// Config configures an LLM provider.
type Config struct {
	Provider string `json:"provider" yaml:"provider"` // ollama, openai, openrouter, groq, lmstudio, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
	// Timeout bounds a single HTTP request. Zero means 120s.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// MaxRetries is the number of retries on 429/5xx and network errors.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}

// preset holds the defaults of an OpenAI-compatible vendor.
type preset struct {
	baseURL    string
	model      string
	pathPrefix string
}

var presets = map[string]preset{
	"openai":     {baseURL: "https://api.openai.com", model: "text-embedding-3-small", pathPrefix: "/v1"},
	"openrouter": {baseURL: "https://openrouter.ai/api", pathPrefix: "/v1"},
	"groq":       {baseURL: "https://api.groq.com/openai", model: "llama-3.3-70b-versatile", pathPrefix: "/v1"},
	"lmstudio":   {baseURL: "http://localhost:1234", pathPrefix: "/v1"},
	"custom":     {pathPrefix: "/v1"},
}

// Providers lists the accepted values of Config.Provider.
func Providers() []string {
	names := []string{"ollama"}
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewProvider creates an LLM provider from configuration.
func NewProvider(cfg Config) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch name {
	case "":
		return nil, fmt.Errorf("llm provider not specified")
	case "ollama":
		return NewOllama(cfg), nil
	}
	p, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = p.baseURL
	}
	if cfg.Model == "" {
		cfg.Model = p.model
	}
	return &compatProvider{name: name, base: newClient(cfg, p.pathPrefix)}, nil
}

// NewOpenAICompat creates a generic OpenAI-compatible provider.
func NewOpenAICompat(cfg Config) Provider {
	return &compatProvider{name: "custom", base: newClient(cfg, "/v1")}
}

// compatProvider serves every vendor that speaks the OpenAI wire format.
type compatProvider struct {
	name string
	base client
}

func (p *compatProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return p.base.chat(ctx, req)
}

func (p *compatProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return p.base.embed(ctx, texts)
}
