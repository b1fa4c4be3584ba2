package workdesk

import (
	"context"
	"errors"

	"github.com/gptworkdesk/workdesk/parser"
)

var (
	// ErrDocumentNotFound is returned when a document ID does not exist.
	ErrDocumentNotFound = errors.New("workdesk: document not found")

	// ErrUnsupportedFormat is returned for file types outside the supported set.
	ErrUnsupportedFormat = errors.New("workdesk: unsupported document format")

	// ErrProcessingFailed is returned when a supported file cannot be extracted.
	ErrProcessingFailed = errors.New("workdesk: document processing failed")

	// ErrEmbeddingFailed is returned when embedding generation fails.
	ErrEmbeddingFailed = errors.New("workdesk: embedding generation failed")

	// ErrLLMUnavailable is returned when no chat or embedding provider is configured
	// or the configured one cannot be reached.
	ErrLLMUnavailable = errors.New("workdesk: LLM provider unavailable")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("workdesk: invalid configuration")

	// ErrEmptyMessage is returned for chat calls without a message.
	ErrEmptyMessage = errors.New("workdesk: empty message")
)

// classifiedError pairs a sentinel with the underlying error. Its message
// is the underlying error's so the parser's user-facing text survives.
type classifiedError struct {
	sentinel error
	err      error
}

func (e *classifiedError) Error() string { return e.err.Error() }

func (e *classifiedError) Unwrap() []error { return []error{e.sentinel, e.err} }

func classify(sentinel, err error) error {
	return &classifiedError{sentinel: sentinel, err: err}
}

// classifyProcessing maps a parser failure onto ErrUnsupportedFormat or
// ErrProcessingFailed. The parser error stays reachable with errors.As.
func classifyProcessing(err error) error {
	if err == nil {
		return nil
	}
	var unsupported *parser.UnsupportedFormatError
	if errors.As(err, &unsupported) {
		return classify(ErrUnsupportedFormat, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrProcessingFailed) || errors.Is(err, ErrUnsupportedFormat) {
		return err
	}
	return classify(ErrProcessingFailed, err)
}
