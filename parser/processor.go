package parser

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/gptworkdesk/workdesk/metrics"
)

// DefaultMaxBytes bounds the size of a single document.
const DefaultMaxBytes = 50 << 20

// Processor runs detection, extraction, normalization and section
// splitting for one document at a time. It holds no per-call state and is
// safe for concurrent use.
type Processor struct {
	registry    *Registry
	keepUnicode bool
	maxBytes    int
	sections    bool
	now         func() time.Time
	logger      *slog.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithRegistry replaces the built-in extractor table.
func WithRegistry(r *Registry) Option {
	return func(p *Processor) { p.registry = r }
}

// WithUnicode keeps printable non-ASCII characters during normalization.
func WithUnicode() Option {
	return func(p *Processor) { p.keepUnicode = true }
}

// WithMaxBytes sets the largest accepted input. Zero or negative disables
// the limit.
func WithMaxBytes(n int) Option {
	return func(p *Processor) { p.maxBytes = n }
}

// WithoutSections skips section splitting.
func WithoutSections() Option {
	return func(p *Processor) { p.sections = false }
}

// WithClock overrides the time source used for ExtractedAt.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// WithLogger sets the logger for per-stage debug output.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// NewProcessor returns a processor with the built-in registry, ASCII-only
// normalization and a 50 MiB input limit.
func NewProcessor(opts ...Option) *Processor {
	p := &Processor{
		registry: NewRegistry(),
		maxBytes: DefaultMaxBytes,
		sections: true,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

var defaultProcessor = NewProcessor()

// ProcessDocument processes data with a default Processor.
func ProcessDocument(ctx context.Context, data []byte, fileName, mimeType string) (*ProcessedDocument, error) {
	return defaultProcessor.Process(ctx, data, fileName, mimeType)
}

// Process turns the bytes of one uploaded file into a ProcessedDocument.
// Every failure is returned as a *ProcessingError wrapping the extractor's
// *UnsupportedFormatError or *ExtractionError.
func (p *Processor) Process(ctx context.Context, data []byte, fileName, mimeType string) (*ProcessedDocument, error) {
	start := time.Now()
	format := DetectContent(fileName, mimeType, data)
	log := p.logger.With("file", fileName, "format", string(format))

	doc, err := p.process(ctx, data, fileName, format, log)
	if err != nil {
		metrics.DocumentsProcessed.WithLabelValues(string(format), outcomeOf(err)).Inc()
		log.Warn("processing failed", "error", err)
		return nil, &ProcessingError{FileName: fileName, Err: err}
	}

	metrics.DocumentsProcessed.WithLabelValues(string(format), "ok").Inc()
	metrics.ExtractionDuration.WithLabelValues(string(format)).Observe(time.Since(start).Seconds())
	log.Debug("processed document",
		"words", doc.Metadata.WordCount,
		"chars", doc.Metadata.CharCount,
		"sections", len(doc.Sections),
		"elapsed", time.Since(start))
	return doc, nil
}

func (p *Processor) process(ctx context.Context, data []byte, fileName string, format Format, log *slog.Logger) (*ProcessedDocument, error) {
	if format == FormatUnknown {
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
		if ext == "" {
			ext = string(FormatUnknown)
		}
		return nil, &UnsupportedFormatError{Format: Format(ext)}
	}
	extractor, err := p.registry.Get(format)
	if err != nil {
		return nil, err
	}
	// Rejected formats fail the same way at any size.
	if _, rejects := extractor.(*UnsupportedExtractor); !rejects && p.maxBytes > 0 && len(data) > p.maxBytes {
		return nil, extractionErr(format, "document is %d bytes, limit is %d", len(data), p.maxBytes)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ext, err := extractor.Extract(ctx, data)
	if err != nil {
		return nil, err
	}
	log.Debug("extracted", "raw_chars", len(ext.Content))

	content := normalize(ext.Content, p.keepUnicode)
	doc := &ProcessedDocument{
		Content: content,
		Metadata: Metadata{
			PageCount:   ext.PageCount,
			WordCount:   len(strings.Fields(content)),
			CharCount:   len([]rune(content)),
			FileType:    string(format),
			ExtractedAt: p.now().UTC(),
			Language:    GuessLanguage(content),
			Title:       ext.Title,
			Author:      ext.Author,
		},
	}
	if len(ext.Metadata) > 0 {
		doc.Metadata.Extra = ext.Metadata
	}
	if p.sections {
		doc.Sections = SplitSections(content)
	}
	return doc, nil
}

// outcomeOf labels a failure for the processed-documents counter.
func outcomeOf(err error) string {
	switch err.(type) {
	case *UnsupportedFormatError:
		return "unsupported"
	case *ExtractionError:
		return "extraction_error"
	}
	return "error"
}

// englishStopWords is the fixed list counted by GuessLanguage.
var englishStopWords = map[string]bool{
	"the": true, "and": true, "is": true, "in": true, "to": true,
	"of": true, "a": true, "that": true, "it": true, "with": true,
	"for": true, "as": true, "was": true, "on": true, "are": true,
	"be": true, "this": true, "by": true, "or": true, "from": true,
}

// GuessLanguage returns "en" when the first 1000 characters contain more
// than five common English stop words, and "unknown" otherwise.
func GuessLanguage(content string) string {
	sample := content
	if r := []rune(sample); len(r) > 1000 {
		sample = string(r[:1000])
	}
	hits := 0
	for _, w := range strings.FieldsFunc(strings.ToLower(sample), isWordSeparator) {
		if englishStopWords[w] {
			hits++
			if hits > 5 {
				return "en"
			}
		}
	}
	return "unknown"
}

func isWordSeparator(r rune) bool {
	return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '\'' || r > 0x7f)
}
