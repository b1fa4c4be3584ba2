package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		provider string
		wantType string
	}{
		{"ollama", "*llm.ollamaProvider"},
		{"lmstudio", "*llm.compatProvider"},
		{"openrouter", "*llm.compatProvider"},
		{"openai", "*llm.compatProvider"},
		{"groq", "*llm.compatProvider"},
		{"custom", "*llm.compatProvider"},
		{"  OpenAI ", "*llm.compatProvider"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			p, err := NewProvider(Config{Provider: tt.provider, Model: "test-model"})
			if err != nil {
				t.Fatalf("NewProvider(%q) returned error: %v", tt.provider, err)
			}
			gotType := fmt.Sprintf("%T", p)
			if gotType != tt.wantType {
				t.Errorf("NewProvider(%q) type = %s, want %s", tt.provider, gotType, tt.wantType)
			}
		})
	}
}

func TestNewProviderErrors(t *testing.T) {
	tests := []struct {
		provider string
		want     string
	}{
		{"doesnotexist", "unknown llm provider: doesnotexist"},
		{"", "llm provider not specified"},
	}
	for _, tt := range tests {
		_, err := NewProvider(Config{Provider: tt.provider})
		if err == nil {
			t.Fatalf("expected error for %q", tt.provider)
		}
		if err.Error() != tt.want {
			t.Errorf("error = %q, want %q", err.Error(), tt.want)
		}
	}
}

func TestProviders(t *testing.T) {
	got := Providers()
	want := []string{"custom", "groq", "lmstudio", "ollama", "openai", "openrouter"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Providers() = %v, want %v", got, want)
	}
}

// baseConfig reaches base.cfg on the concrete provider type.
func baseConfig(t *testing.T, p Provider) Config {
	t.Helper()
	v := reflect.ValueOf(p).Elem().FieldByName("base").FieldByName("cfg")
	return Config{
		BaseURL: v.FieldByName("BaseURL").String(),
		Model:   v.FieldByName("Model").String(),
		APIKey:  v.FieldByName("APIKey").String(),
	}
}

func TestDefaultBaseURLs(t *testing.T) {
	tests := []struct {
		provider string
		wantURL  string
	}{
		{"ollama", "http://localhost:11434"},
		{"lmstudio", "http://localhost:1234"},
		{"openrouter", "https://openrouter.ai/api"},
		{"openai", "https://api.openai.com"},
		{"groq", "https://api.groq.com/openai"},
		{"custom", ""},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			p, err := NewProvider(Config{Provider: tt.provider, Model: "m"})
			if err != nil {
				t.Fatalf("NewProvider(%q): %v", tt.provider, err)
			}
			if got := baseConfig(t, p).BaseURL; got != tt.wantURL {
				t.Errorf("default BaseURL for %q = %q, want %q", tt.provider, got, tt.wantURL)
			}
		})
	}
}

func TestExplicitConfigPreserved(t *testing.T) {
	for _, provider := range []string{"ollama", "lmstudio", "openrouter", "openai", "custom"} {
		t.Run(provider, func(t *testing.T) {
			p, err := NewProvider(Config{
				Provider: provider,
				Model:    "llama3:latest",
				BaseURL:  "http://my-server:9999",
				APIKey:   "sk-test-key-123",
			})
			if err != nil {
				t.Fatalf("NewProvider(%q): %v", provider, err)
			}
			cfg := baseConfig(t, p)
			if cfg.BaseURL != "http://my-server:9999" || cfg.Model != "llama3:latest" || cfg.APIKey != "sk-test-key-123" {
				t.Errorf("config not preserved: %+v", cfg)
			}
		})
	}
}

func TestOpenAIDefaultModel(t *testing.T) {
	p, _ := NewProvider(Config{Provider: "openai"})
	if got := baseConfig(t, p).Model; got != "text-embedding-3-small" {
		t.Errorf("model = %q", got)
	}
}

// ---------------------------------------------------------------------------
// Wire behaviour
// ---------------------------------------------------------------------------

func TestChatRoundTrip(t *testing.T) {
	var gotAuth string
	var gotReq chatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotReq)
		fmt.Fprint(w, `{"model":"gpt-test","choices":[{"message":{"content":"hi there"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":7,"completion_tokens":2,"total_tokens":9}}`)
	}))
	defer srv.Close()

	p := NewOpenAICompat(Config{BaseURL: srv.URL, Model: "default-model", APIKey: "secret"})
	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "hi there" || resp.TotalTokens != 9 || resp.FinishReason != "stop" {
		t.Errorf("unexpected response %+v", resp)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotReq.Model != "default-model" || len(gotReq.Messages) != 1 || gotReq.Messages[0].Content != "hello" {
		t.Errorf("unexpected request %+v", gotReq)
	}
}

func TestChatNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	p := NewOpenAICompat(Config{BaseURL: srv.URL})
	if _, err := p.Chat(context.Background(), ChatRequest{}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestEmbedOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`)
	}))
	defer srv.Close()

	p := NewOpenAICompat(Config{BaseURL: srv.URL, Model: "embed"})
	got, err := p.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	want := [][]float32{{1, 0}, {0, 1}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("embeddings = %v, want %v", got, want)
	}
}

func TestEmbedMissingVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"index":0,"embedding":[1,0]}]}`)
	}))
	defer srv.Close()

	p := NewOpenAICompat(Config{BaseURL: srv.URL})
	if _, err := p.Embed(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected error for missing embedding")
	}
}

func TestEmbedEmptyInput(t *testing.T) {
	p := NewOpenAICompat(Config{BaseURL: "http://127.0.0.1:1"})
	got, err := p.Embed(context.Background(), nil)
	if err != nil || got != nil {
		t.Errorf("Embed(nil) = %v, %v", got, err)
	}
}

func TestNonRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewOpenAICompat(Config{BaseURL: srv.URL, MaxRetries: 3})
	_, err := p.Chat(context.Background(), ChatRequest{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected APIError 401, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestRetryOnServiceUnavailable(t *testing.T) {
	old := retryBaseDelay
	retryBaseDelay = time.Millisecond
	defer func() { retryBaseDelay = old }()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	p := NewOpenAICompat(Config{BaseURL: srv.URL, MaxRetries: 3})
	resp, err := p.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "ok" || calls.Load() != 3 {
		t.Errorf("content=%q calls=%d", resp.Content, calls.Load())
	}
}

func TestRetriesExhausted(t *testing.T) {
	old := retryBaseDelay
	retryBaseDelay = time.Millisecond
	defer func() { retryBaseDelay = old }()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewOpenAICompat(Config{BaseURL: srv.URL, MaxRetries: 2})
	_, err := p.Chat(context.Background(), ChatRequest{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected wrapped APIError 502, got %v", err)
	}
}

func TestContextCanceledDuringBackoff(t *testing.T) {
	old := retryBaseDelay
	retryBaseDelay = time.Hour
	defer func() { retryBaseDelay = old }()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	p := NewOpenAICompat(Config{BaseURL: srv.URL, MaxRetries: 1})
	if _, err := p.Chat(ctx, ChatRequest{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestOllamaEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req ollamaEmbedRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "nomic-embed-text" || len(req.Input) != 2 {
			t.Errorf("unexpected request %+v", req)
		}
		fmt.Fprint(w, `{"embeddings":[[0.5,0.25],[1,0]]}`)
	}))
	defer srv.Close()

	p := NewOllama(Config{BaseURL: srv.URL, Model: "nomic-embed-text"})
	got, err := p.Embed(context.Background(), []string{"x", "y"})
	if err != nil {
		t.Fatal(err)
	}
	want := [][]float32{{0.5, 0.25}, {1, 0}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("embeddings = %v, want %v", got, want)
	}
}

func TestOllamaEmbedCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"embeddings":[[1]]}`)
	}))
	defer srv.Close()

	p := NewOllama(Config{BaseURL: srv.URL})
	if _, err := p.Embed(context.Background(), []string{"x", "y"}); err == nil {
		t.Fatal("expected count mismatch error")
	}
}
