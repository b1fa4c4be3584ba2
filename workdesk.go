package workdesk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/gptworkdesk/workdesk/chunker"
	"github.com/gptworkdesk/workdesk/llm"
	"github.com/gptworkdesk/workdesk/metrics"
	"github.com/gptworkdesk/workdesk/parser"
	"github.com/gptworkdesk/workdesk/retrieval"
	"github.com/gptworkdesk/workdesk/session"
	"github.com/gptworkdesk/workdesk/store"
)

// Engine is the main entry point for the document pipeline.
type Engine interface {
	// Process detects, extracts and normalizes a document without storing it.
	Process(ctx context.Context, data []byte, fileName, mimeType string) (*parser.ProcessedDocument, error)

	// Ingest processes, chunks and embeds a document into the store.
	// Content already ingested with the same hash is skipped unless forced.
	Ingest(ctx context.Context, data []byte, fileName, mimeType string, opts ...IngestOption) (*IngestResult, error)

	// IngestFile reads a file from disk and ingests it.
	IngestFile(ctx context.Context, path string, opts ...IngestOption) (*IngestResult, error)

	// Search runs hybrid retrieval over ingested chunks.
	Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error)

	// ListDocuments returns all ingested documents, newest first.
	ListDocuments(ctx context.Context) ([]Document, error)

	// GetDocument returns one ingested document.
	GetDocument(ctx context.Context, documentID int64) (*Document, error)

	// DeleteDocument removes a document and all associated data.
	DeleteDocument(ctx context.Context, documentID int64) error

	// AttachDocument processes an upload and adds its context to a session.
	AttachDocument(ctx context.Context, sessionID string, data []byte, fileName, mimeType string) (*session.DocumentContext, error)

	// Sessions returns the session context store.
	Sessions() session.Store

	// Injector returns the context injector over Sessions.
	Injector() *session.Injector

	// Chat answers a message with the session's document context injected.
	Chat(ctx context.Context, sessionID, message string) (*ChatReply, error)

	// ChatHistory returns the logged exchanges of a session, oldest first.
	ChatHistory(ctx context.Context, sessionID string, limit int) ([]store.ChatLog, error)

	// Stats returns counts of stored objects.
	Stats(ctx context.Context) (*store.DBStats, error)

	// Close cleanly shuts down the engine.
	Close() error
}

// Document represents an ingested document.
type Document struct {
	ID          int64          `json:"id"`
	Filename    string         `json:"filename"`
	Format      string         `json:"format"`
	ContentHash string         `json:"content_hash"`
	Status      string         `json:"status"`
	Language    string         `json:"language,omitempty"`
	Title       string         `json:"title,omitempty"`
	Author      string         `json:"author,omitempty"`
	WordCount   int            `json:"word_count"`
	CharCount   int            `json:"char_count"`
	PageCount   int            `json:"page_count,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// IngestResult reports the outcome of one ingestion.
type IngestResult struct {
	DocumentID int64  `json:"document_id"`
	Filename   string `json:"filename"`
	Format     string `json:"format"`
	Status     string `json:"status"`
	Chunks     int    `json:"chunks"`
	Embedded   int    `json:"embedded"`
	Skipped    bool   `json:"skipped"` // Content hash already ingested
	ElapsedMs  int64  `json:"elapsed_ms"`
}

// SearchResult is one retrieved chunk with a query-focused snippet.
type SearchResult struct {
	ChunkID    int64   `json:"chunk_id"`
	DocumentID int64   `json:"document_id"`
	Filename   string  `json:"filename"`
	Heading    string  `json:"heading,omitempty"`
	ChunkIndex int     `json:"chunk_index"`
	Content    string  `json:"content"`
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score"`
}

// SearchResponse holds fused search results and the retrieval breakdown.
type SearchResponse struct {
	Query   string                 `json:"query"`
	Results []SearchResult         `json:"results"`
	Trace   *retrieval.SearchTrace `json:"trace,omitempty"`
}

// ChatReply is the model answer to a chat message.
type ChatReply struct {
	SessionID        string `json:"session_id"`
	Answer           string `json:"answer"`
	Model            string `json:"model"`
	ContextDocuments int    `json:"context_documents"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// IngestOption configures ingestion behavior.
type IngestOption func(*ingestOptions)

type ingestOptions struct {
	force     bool
	chunkSize int
	overlap   int
	embed     bool
	metadata  map[string]string
}

// WithForce re-ingests even if the content hash is unchanged.
func WithForce() IngestOption {
	return func(o *ingestOptions) { o.force = true }
}

// WithChunking overrides the configured chunk size and overlap. A zero
// overlap disables overlap.
func WithChunking(size, overlap int) IngestOption {
	return func(o *ingestOptions) {
		if size > 0 {
			o.chunkSize = size
		}
		o.overlap = overlap
	}
}

// WithEmbeddings turns embedding generation on or off for this document.
func WithEmbeddings(enabled bool) IngestOption {
	return func(o *ingestOptions) { o.embed = enabled }
}

// WithMetadata attaches custom metadata to the ingested document.
func WithMetadata(metadata map[string]string) IngestOption {
	return func(o *ingestOptions) { o.metadata = metadata }
}

// SearchOption configures search behavior.
type SearchOption func(*retrieval.SearchOptions)

// WithMaxResults sets the maximum number of chunks to retrieve.
func WithMaxResults(n int) SearchOption {
	return func(o *retrieval.SearchOptions) { o.MaxResults = n }
}

// WithWeights overrides the retrieval weights for this search.
func WithWeights(vec, fts float64) SearchOption {
	return func(o *retrieval.SearchOptions) {
		o.WeightVec = vec
		o.WeightFTS = fts
	}
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg         Config
	store       *store.Store
	chatLLM     llm.Provider // nil when no chat provider is configured
	embedLLM    llm.Provider // nil when no embedding provider is configured
	processor   *parser.Processor
	retriever   *retrieval.Engine
	sessions    session.Store
	injector    *session.Injector
	redis       redis.UniversalClient
	stopJanitor context.CancelFunc
	now         func() time.Time
}

// New creates a new workdesk engine with the given configuration.
func New(cfg Config) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s, err := store.New(cfg.resolveDBPath(), cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	var chatLLM, embedLLM llm.Provider
	if cfg.Chat.Provider != "" {
		if chatLLM, err = llm.NewProvider(cfg.Chat.provider()); err != nil {
			s.Close()
			return nil, fmt.Errorf("creating chat provider: %w", err)
		}
	}
	if cfg.Embedding.Provider != "" {
		if embedLLM, err = llm.NewProvider(cfg.Embedding.provider()); err != nil {
			s.Close()
			return nil, fmt.Errorf("creating embedding provider: %w", err)
		}
	}

	procOpts := []parser.Option{parser.WithMaxBytes(cfg.MaxDocumentBytes)}
	if cfg.KeepUnicode {
		procOpts = append(procOpts, parser.WithUnicode())
	}

	e := &engine{
		cfg:       cfg,
		store:     s,
		chatLLM:   chatLLM,
		embedLLM:  embedLLM,
		processor: parser.NewProcessor(procOpts...),
		retriever: retrieval.New(s, embedLLM, retrieval.Config{
			WeightVector: cfg.WeightVector,
			WeightFTS:    cfg.WeightFTS,
		}),
		stopJanitor: func() {},
		now:         time.Now,
	}

	if err := e.openSessions(); err != nil {
		s.Close()
		return nil, err
	}
	e.injector = session.NewInjector(e.sessions)

	slog.Info("engine ready",
		"db", cfg.resolveDBPath(),
		"chat_provider", cfg.Chat.Provider,
		"embedding_provider", cfg.Embedding.Provider,
		"sessions", e.cfg.Sessions.Backend)
	return e, nil
}

// openSessions creates the configured session store. The memory store gets
// a background janitor that purges idle sessions.
func (e *engine) openSessions() error {
	sc := e.cfg.Sessions
	if sc.Backend == SessionBackendRedis {
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{sc.Redis.Addr},
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return fmt.Errorf("connecting to redis %s: %w", sc.Redis.Addr, err)
		}
		e.redis = client
		e.sessions = session.NewRedisStore(client, session.RedisConfig{
			Prefix: sc.Redis.Prefix,
			TTL:    sc.TTL,
		})
		return nil
	}

	mem := session.NewMemoryStore(session.MemoryConfig{
		TTL:         sc.TTL,
		MaxSessions: sc.MaxSessions,
	})
	e.sessions = mem
	if sc.TTL > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		e.stopJanitor = cancel
		go mem.Run(ctx, janitorInterval(sc.TTL))
	}
	return nil
}

// janitorInterval sweeps a few times per TTL, bounded to [1s, 5m].
func janitorInterval(ttl time.Duration) time.Duration {
	return min(max(ttl/4, time.Second), 5*time.Minute)
}

func (e *engine) Process(ctx context.Context, data []byte, fileName, mimeType string) (*parser.ProcessedDocument, error) {
	doc, err := e.processor.Process(ctx, data, fileName, mimeType)
	if err != nil {
		return nil, classifyProcessing(err)
	}
	return doc, nil
}

// Ingest processes a document through the full pipeline.
func (e *engine) Ingest(ctx context.Context, data []byte, fileName, mimeType string, opts ...IngestOption) (*IngestResult, error) {
	options := &ingestOptions{
		chunkSize: e.cfg.ChunkSize,
		overlap:   e.cfg.ChunkOverlap,
		embed:     e.cfg.GenerateEmbeddings,
	}
	for _, o := range opts {
		o(options)
	}

	start := time.Now()
	hash := contentHash(data)

	// Check if the same content was already ingested
	if !options.force {
		existing, err := e.store.GetDocumentByHash(ctx, hash)
		switch {
		case err == nil && existing.Status == store.StatusReady:
			slog.Info("ingest: unchanged document skipped", "file", fileName, "doc_id", existing.ID)
			return &IngestResult{
				DocumentID: existing.ID,
				Filename:   existing.Filename,
				Format:     existing.Format,
				Status:     existing.Status,
				Skipped:    true,
				ElapsedMs:  time.Since(start).Milliseconds(),
			}, nil
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("looking up document: %w", err)
		}
	}

	slog.Info("ingest: processing document", "file", fileName, "bytes", len(data))
	doc, err := e.Process(ctx, data, fileName, mimeType)
	if err != nil {
		return nil, err
	}

	metadataJSON, err := documentMetadata(doc, options.metadata)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}

	row := store.Document{
		Filename:    fileName,
		Format:      doc.Metadata.FileType,
		ContentHash: hash,
		Status:      store.StatusPending,
		Language:    doc.Metadata.Language,
		Title:       doc.Metadata.Title,
		Author:      doc.Metadata.Author,
		WordCount:   doc.Metadata.WordCount,
		CharCount:   doc.Metadata.CharCount,
		Metadata:    metadataJSON,
	}
	if doc.Metadata.PageCount != nil {
		row.PageCount = *doc.Metadata.PageCount
	}
	docID, err := e.store.UpsertDocument(ctx, row)
	if err != nil {
		return nil, fmt.Errorf("upserting document: %w", err)
	}

	// Delete old chunks/embeddings for this document (re-ingest)
	if err := e.store.DeleteDocumentData(ctx, docID); err != nil {
		return nil, fmt.Errorf("cleaning old data: %w", err)
	}

	overlap := options.overlap
	if overlap == 0 {
		overlap = -1 // chunker treats 0 as "use the default"
	}
	chunkr := chunker.New(chunker.Config{ChunkSize: options.chunkSize, Overlap: overlap})
	chunks := chunkr.ToStoreChunks(docID, chunkr.Chunk(doc.Content), doc.Sections)
	slog.Info("ingest: chunking complete",
		"file", fileName, "chunks", len(chunks),
		"chunk_size", chunkr.Config().ChunkSize, "overlap", chunkr.Config().Overlap)

	chunkIDs, err := e.store.InsertChunks(ctx, chunks)
	if err != nil {
		e.markFailed(ctx, docID)
		return nil, fmt.Errorf("inserting chunks: %w", err)
	}
	metrics.ChunksStored.Add(float64(len(chunkIDs)))

	embedded := 0
	switch {
	case !options.embed || len(chunks) == 0:
	case e.embedLLM == nil:
		slog.Info("ingest: no embedding provider, skipping embeddings", "file", fileName)
	default:
		embedStart := time.Now()
		embedded, err = e.embedChunks(ctx, chunks, chunkIDs)
		if err != nil {
			e.markFailed(ctx, docID)
			return nil, classify(ErrEmbeddingFailed, fmt.Errorf("embedding %s: %w", fileName, err))
		}
		slog.Info("ingest: embeddings complete",
			"file", fileName, "embedded", embedded, "chunks", len(chunks),
			"elapsed", time.Since(embedStart).Round(time.Millisecond))
	}

	if err := e.store.UpdateDocumentStatus(ctx, docID, store.StatusReady); err != nil {
		return nil, fmt.Errorf("updating status: %w", err)
	}
	slog.Info("ingest: document ready",
		"file", fileName, "doc_id", docID,
		"total_elapsed", time.Since(start).Round(time.Millisecond))

	return &IngestResult{
		DocumentID: docID,
		Filename:   fileName,
		Format:     row.Format,
		Status:     store.StatusReady,
		Chunks:     len(chunkIDs),
		Embedded:   embedded,
		ElapsedMs:  time.Since(start).Milliseconds(),
	}, nil
}

func (e *engine) IngestFile(ctx context.Context, path string, opts ...IngestOption) (*IngestResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return e.Ingest(ctx, data, filepath.Base(path), "", opts...)
}

func (e *engine) markFailed(ctx context.Context, docID int64) {
	if err := e.store.UpdateDocumentStatus(ctx, docID, store.StatusFailed); err != nil {
		slog.Warn("marking document failed", "doc_id", docID, "error", err)
	}
}

// Search runs hybrid retrieval and attaches a snippet to every hit.
func (e *engine) Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error) {
	options := retrieval.SearchOptions{}
	for _, o := range opts {
		o(&options)
	}

	results, trace, err := e.retriever.Search(ctx, query, options)
	if err != nil {
		return nil, fmt.Errorf("retrieval: %w", err)
	}

	resp := &SearchResponse{
		Query:   query,
		Results: make([]SearchResult, len(results)),
		Trace:   trace,
	}
	for i, r := range results {
		resp.Results[i] = SearchResult{
			ChunkID:    r.ChunkID,
			DocumentID: r.DocumentID,
			Filename:   r.Filename,
			Heading:    r.Heading,
			ChunkIndex: r.ChunkIndex,
			Content:    r.Content,
			Snippet:    resultSnippet(r.Content, query),
			Score:      r.Score,
		}
	}
	return resp, nil
}

// ListDocuments returns all ingested documents.
func (e *engine) ListDocuments(ctx context.Context) ([]Document, error) {
	docs, err := e.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]Document, len(docs))
	for i := range docs {
		result[i] = toDocument(&docs[i])
	}
	return result, nil
}

func (e *engine) GetDocument(ctx context.Context, documentID int64) (*Document, error) {
	d, err := e.store.GetDocument(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrDocumentNotFound, documentID)
	}
	if err != nil {
		return nil, err
	}
	doc := toDocument(d)
	return &doc, nil
}

// DeleteDocument removes a document and all its associated data.
func (e *engine) DeleteDocument(ctx context.Context, documentID int64) error {
	err := e.store.DeleteDocument(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %d", ErrDocumentNotFound, documentID)
	}
	return err
}

func toDocument(d *store.Document) Document {
	doc := Document{
		ID:          d.ID,
		Filename:    d.Filename,
		Format:      d.Format,
		ContentHash: d.ContentHash,
		Status:      d.Status,
		Language:    d.Language,
		Title:       d.Title,
		Author:      d.Author,
		WordCount:   d.WordCount,
		CharCount:   d.CharCount,
		PageCount:   d.PageCount,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	if d.Metadata != "" {
		if err := json.Unmarshal([]byte(d.Metadata), &doc.Metadata); err != nil {
			slog.Warn("document metadata is not valid JSON", "doc_id", d.ID, "error", err)
		}
	}
	return doc
}

// documentMetadata merges the format-specific extraction fields with the
// caller's metadata, which is kept under "custom".
func documentMetadata(doc *parser.ProcessedDocument, custom map[string]string) (string, error) {
	meta := make(map[string]any, len(doc.Metadata.Extra)+2)
	for k, v := range doc.Metadata.Extra {
		meta[k] = v
	}
	meta["extractedAt"] = doc.Metadata.ExtractedAt
	if len(custom) > 0 {
		meta["custom"] = custom
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// AttachDocument adds an uploaded document to a session's context.
func (e *engine) AttachDocument(ctx context.Context, sessionID string, data []byte, fileName, mimeType string) (*session.DocumentContext, error) {
	if sessionID == "" {
		return nil, session.ErrEmptySessionID
	}
	doc, err := e.Process(ctx, data, fileName, mimeType)
	if err != nil {
		return nil, err
	}

	dc := session.NewDocumentContext("", fileName, doc, e.now())
	if e.cfg.SummarizeWithLLM && e.chatLLM != nil {
		summary, err := e.summarize(ctx, fileName, doc.Content)
		switch {
		case err != nil:
			slog.Warn("llm summary failed, keeping heuristic summary", "file", fileName, "error", err)
		case summary != "":
			dc.Summary = summary
		}
	}

	if err := e.sessions.Append(ctx, sessionID, dc); err != nil {
		return nil, fmt.Errorf("saving session context: %w", err)
	}
	slog.Info("session: document attached",
		"session_id", sessionID, "document_id", dc.ID, "file", fileName,
		"words", doc.Metadata.WordCount)
	return &dc, nil
}

const summaryPrompt = "Summarize the following document in at most three sentences. " +
	"Reply with the summary only."

// maxSummaryInput bounds the document text sent for summarization.
const maxSummaryInput = 12000

func (e *engine) summarize(ctx context.Context, fileName, content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", nil
	}
	resp, err := e.chatLLM.Chat(ctx, llm.ChatRequest{
		Model: e.cfg.Chat.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: summaryPrompt},
			{Role: llm.RoleUser, Content: "Document: " + fileName + "\n\n" + truncateText(content, maxSummaryInput)},
		},
		Temperature: 0.2,
		MaxTokens:   256,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

func (e *engine) Sessions() session.Store { return e.sessions }

func (e *engine) Injector() *session.Injector { return e.injector }

// Chat injects the session's document context into message and sends it to
// the chat provider. An empty sessionID sends the message as-is.
func (e *engine) Chat(ctx context.Context, sessionID, message string) (*ChatReply, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}
	if e.chatLLM == nil {
		return nil, fmt.Errorf("%w: no chat provider configured", ErrLLMUnavailable)
	}

	prompt := message
	contextDocs := 0
	if sessionID != "" {
		docs, err := e.sessions.Get(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("loading session: %w", err)
		}
		contextDocs = len(docs)
		if prompt, err = e.injector.InjectContext(ctx, message, sessionID); err != nil {
			return nil, fmt.Errorf("injecting context: %w", err)
		}
	}

	var messages []llm.Message
	if e.cfg.SystemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: e.cfg.SystemPrompt})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: prompt})

	resp, err := e.chatLLM.Chat(ctx, llm.ChatRequest{
		Model:    e.cfg.Chat.Model,
		Messages: messages,
	})
	if err != nil {
		return nil, classify(ErrLLMUnavailable, fmt.Errorf("chat: %w", err))
	}

	reply := &ChatReply{
		SessionID:        sessionID,
		Answer:           resp.Content,
		Model:            resp.Model,
		ContextDocuments: contextDocs,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		TotalTokens:      resp.TotalTokens,
	}
	if err := e.store.LogChat(ctx, store.ChatLog{
		SessionID:        sessionID,
		Message:          message,
		Answer:           reply.Answer,
		ContextDocuments: contextDocs,
		ModelUsed:        reply.Model,
		Language:         parser.GuessLanguage(message),
		PromptTokens:     reply.PromptTokens,
		CompletionTokens: reply.CompletionTokens,
		TotalTokens:      reply.TotalTokens,
	}); err != nil {
		slog.Warn("logging chat failed", "session_id", sessionID, "error", err)
	}
	return reply, nil
}

func (e *engine) ChatHistory(ctx context.Context, sessionID string, limit int) ([]store.ChatLog, error) {
	return e.store.ChatHistory(ctx, sessionID, limit)
}

func (e *engine) Stats(ctx context.Context) (*store.DBStats, error) {
	return e.store.DBStats(ctx)
}

// Close shuts down the engine.
func (e *engine) Close() error {
	e.stopJanitor()
	var errs []error
	if e.redis != nil {
		errs = append(errs, e.redis.Close())
	}
	errs = append(errs, e.store.Close())
	return errors.Join(errs...)
}

// maxEmbedChars is the maximum character length for a single text sent to the
// embedding model. Most embedding models have a context window of 8192 tokens;
// ~24000 chars (~6000 tokens) leaves headroom for other tokenisers.
const maxEmbedChars = 24000

// truncateText cuts text to at most limit bytes on a word boundary.
func truncateText(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := strings.LastIndex(text[:limit], " ")
	if cut <= 0 {
		cut = limit
	}
	return strings.ToValidUTF8(text[:cut], "")
}

// embedChunks generates embeddings for chunks in batches, running up to
// EmbedConcurrency batches at once. A failed batch falls back to embedding
// each text on its own so one oversized text does not lose the batch.
// Returns the number of stored vectors; fails only when none were stored.
func (e *engine) embedChunks(ctx context.Context, chunks []store.Chunk, chunkIDs []int64) (int, error) {
	batchSize := e.cfg.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = 32
	}
	var failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(e.cfg.EmbedConcurrency, 1))
	for i := 0; i < len(chunks); i += batchSize {
		start, end := i, min(i+batchSize, len(chunks))
		g.Go(func() error {
			n := e.embedBatch(gctx, chunks[start:end], chunkIDs[start:end])
			failed.Add(int64(n))
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	n := int(failed.Load())
	if n == len(chunks) {
		return 0, fmt.Errorf("all %d chunks failed embedding", len(chunks))
	}
	if n > 0 {
		slog.Warn("some embeddings failed", "failed", n, "total", len(chunks))
	}
	return len(chunks) - n, nil
}

// embedBatch embeds and stores one batch, returning how many chunks failed.
func (e *engine) embedBatch(ctx context.Context, chunks []store.Chunk, chunkIDs []int64) int {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		prefix := ""
		if c.Heading != "" {
			prefix = c.Heading + ": "
		}
		texts[i] = truncateText(prefix+c.Content, maxEmbedChars)
	}

	embeddings, err := e.embedLLM.Embed(ctx, texts)
	if err == nil {
		metrics.EmbeddingRequests.WithLabelValues("batch", "ok").Inc()
		failed := 0
		for i, emb := range embeddings {
			if err := e.store.InsertEmbedding(ctx, chunkIDs[i], emb); err != nil {
				slog.Warn("storing embedding failed", "chunk_id", chunkIDs[i], "error", err)
				failed++
			}
		}
		return failed
	}
	if ctx.Err() != nil {
		return len(chunks)
	}

	metrics.EmbeddingRequests.WithLabelValues("batch", "error").Inc()
	slog.Warn("embedding batch failed, falling back to individual",
		"batch_size", len(texts), "first_chunk_id", chunkIDs[0], "error", err)

	failed := 0
	for i, text := range texts {
		single, err := e.embedLLM.Embed(ctx, []string{text})
		if err != nil || len(single) == 0 || len(single[0]) == 0 {
			metrics.EmbeddingRequests.WithLabelValues("single", "error").Inc()
			slog.Warn("embedding single text failed", "chunk_id", chunkIDs[i], "error", err)
			failed++
			continue
		}
		metrics.EmbeddingRequests.WithLabelValues("single", "ok").Inc()
		if err := e.store.InsertEmbedding(ctx, chunkIDs[i], single[0]); err != nil {
			slog.Warn("storing embedding failed", "chunk_id", chunkIDs[i], "error", err)
			failed++
		}
	}
	return failed
}

// contentHash computes the SHA-256 hash of a document's bytes.
func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
