package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/gptworkdesk/workdesk/llm"
	"github.com/gptworkdesk/workdesk/store"
)

// ErrEmptyQuery is returned when a query has no searchable terms.
var ErrEmptyQuery = errors.New("retrieval: empty query")

// ---------------------------------------------------------------------------
// Identifier detection for query routing.
// Queries naming a reference number, an e-mail address, a date or an
// amount want exact matches, so FTS weight is boosted and vector weight
// reduced.
// ---------------------------------------------------------------------------
var identifierPatterns = []*regexp.Regexp{
	// Invoice, order and ticket references: INV-2024-001, PO 4711, #12345
	regexp.MustCompile(`(?i)\b(?:INV|PO|SO|REF|TICKET|CASE)[-#:\s]*\d[\w-]*`),
	regexp.MustCompile(`#\d{3,}`),
	// E-mail addresses
	regexp.MustCompile(`[\w.+-]+@[\w-]+\.[\w.]+`),
	// ISO dates and day/month/year dates
	regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b|\b\d{1,2}/\d{1,2}/\d{2,4}\b`),
	// Currency amounts: $1,200.50, 300 EUR
	regexp.MustCompile(`(?i)[$€£]\s?\d[\d,.]*|\b\d[\d,.]*\s?(?:USD|EUR|GBP)\b`),
	// Mixed letter/digit codes: SKU A1234, AB-12
	regexp.MustCompile(`\b[A-Z]{1,4}-?\d{2,6}\b`),
}

// detectIdentifiers returns true if the query contains at least one
// structured identifier.
func detectIdentifiers(query string) bool {
	for _, p := range identifierPatterns {
		if p.MatchString(query) {
			return true
		}
	}
	return false
}

// Config holds retrieval engine configuration.
type Config struct {
	WeightVector float64
	WeightFTS    float64
}

// SearchOptions configures a single search operation. Zero values fall
// back to the engine configuration.
type SearchOptions struct {
	MaxResults int
	WeightVec  float64
	WeightFTS  float64
}

// SearchTrace records the breakdown of a hybrid search operation.
type SearchTrace struct {
	VecResults          int                       `json:"vec_results"`
	FTSResults          int                       `json:"fts_results"`
	FusedResults        int                       `json:"fused_results"`
	VecWeight           float64                   `json:"vec_weight"`
	FTSWeight           float64                   `json:"fts_weight"`
	VectorSkipped       bool                      `json:"vector_skipped,omitempty"`
	IdentifiersDetected bool                      `json:"identifiers_detected"`
	ListMode            bool                      `json:"list_mode"`
	MaxRequested        int                       `json:"max_requested"`
	FTSQuery            string                    `json:"fts_query"`
	ElapsedMs           int64                     `json:"elapsed_ms"`
	PerResult           map[int64]FusedResultInfo `json:"per_result,omitempty"`
}

// Engine performs hybrid retrieval combining vector and FTS search.
type Engine struct {
	store    *store.Store
	embedder llm.Provider
	cfg      Config
}

// New creates a retrieval engine. A nil embedder disables the vector leg.
func New(s *store.Store, embedder llm.Provider, cfg Config) *Engine {
	if cfg.WeightVector == 0 {
		cfg.WeightVector = 1.0
	}
	if cfg.WeightFTS == 0 {
		cfg.WeightFTS = 1.0
	}
	return &Engine{store: s, embedder: embedder, cfg: cfg}
}

// Search runs vector search and FTS5 concurrently and fuses the rankings
// with RRF. Returns fused results and a SearchTrace with the breakdown.
func (e *Engine) Search(ctx context.Context, query string, opts SearchOptions) ([]store.RetrievalResult, *SearchTrace, error) {
	query = strings.TrimSpace(query)
	ftsQuery := sanitizeFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil, ErrEmptyQuery
	}

	if opts.MaxResults <= 0 {
		opts.MaxResults = 10
	}
	if opts.WeightVec == 0 {
		opts.WeightVec = e.cfg.WeightVector
	}
	if opts.WeightFTS == 0 {
		opts.WeightFTS = e.cfg.WeightFTS
	}

	trace := &SearchTrace{FTSQuery: ftsQuery}

	if detectIdentifiers(query) {
		slog.Debug("retrieval: identifiers detected in query, boosting FTS weight",
			"query", query,
			"original_fts", opts.WeightFTS,
			"original_vec", opts.WeightVec)
		opts.WeightFTS *= 2.0
		opts.WeightVec *= 0.5
		trace.IdentifiersDetected = true
	}

	if isListQuery(query) && opts.MaxResults < 30 {
		opts.MaxResults = 30
		trace.ListMode = true
	}
	trace.VecWeight = opts.WeightVec
	trace.FTSWeight = opts.WeightFTS
	trace.MaxRequested = opts.MaxResults

	slog.Debug("retrieval: starting hybrid search",
		"query_len", len(query), "max_results", opts.MaxResults,
		"weights", fmt.Sprintf("vec=%.1f fts=%.1f", opts.WeightVec, opts.WeightFTS))
	searchStart := time.Now()

	type result struct {
		results []store.RetrievalResult
		err     error
	}
	vecCh := make(chan result, 1)
	ftsCh := make(chan result, 1)

	if e.embedder == nil {
		trace.VectorSkipped = true
		vecCh <- result{}
	} else {
		go func() {
			r, err := e.vectorSearch(ctx, query, opts.MaxResults)
			vecCh <- result{r, err}
		}()
	}
	go func() {
		r, err := e.store.FTSSearch(ctx, ftsQuery, opts.MaxResults)
		ftsCh <- result{r, err}
	}()

	vecRes := <-vecCh
	ftsRes := <-ftsCh

	if vecRes.err != nil {
		slog.Warn("retrieval: vector search failed", "error", vecRes.err)
	}
	if ftsRes.err != nil {
		slog.Warn("retrieval: fts search failed", "error", ftsRes.err)
	}
	trace.VecResults = len(vecRes.results)
	trace.FTSResults = len(ftsRes.results)

	fused, infoMap := fuseRRF(
		vecRes.results, ftsRes.results,
		opts.WeightVec, opts.WeightFTS,
		opts.MaxResults,
	)
	trace.FusedResults = len(fused)
	trace.PerResult = infoMap
	trace.ElapsedMs = time.Since(searchStart).Milliseconds()

	if len(fused) == 0 {
		// If every leg failed, surface the first error.
		if vecRes.err != nil {
			return nil, trace, fmt.Errorf("vector search: %w", vecRes.err)
		}
		if ftsRes.err != nil {
			return nil, trace, fmt.Errorf("fts search: %w", ftsRes.err)
		}
	}
	return fused, trace, nil
}

// vectorSearch generates an embedding for the query and searches vec_chunks.
func (e *Engine) vectorSearch(ctx context.Context, query string, k int) ([]store.RetrievalResult, error) {
	embeddings, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return nil, fmt.Errorf("empty embedding returned")
	}
	return e.store.VectorSearch(ctx, embeddings[0], k)
}
