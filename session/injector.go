package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/gptworkdesk/workdesk/metrics"
)

const (
	contextHeader = "[DOCUMENT CONTEXT - Use this information to enhance your response:]"
	contextFooter = "[END DOCUMENT CONTEXT]"

	// Instruction follows the context block in an injected message.
	Instruction = "Please use the document context above to inform your response when relevant."

	// PreviewLength is the number of characters of content shown per document.
	PreviewLength = 500
)

// Injector renders a session's documents into prompt text.
type Injector struct {
	store Store
}

// NewInjector creates an Injector reading from s.
func NewInjector(s Store) *Injector {
	return &Injector{store: s}
}

// BuildSummary returns the context block for a session, or "" when the
// session has no documents.
func (i *Injector) BuildSummary(ctx context.Context, sessionID string) (string, error) {
	docs, err := i.store.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return FormatSummary(docs), nil
}

// InjectContext appends the session's context block and Instruction to
// message. The message is returned unchanged when there is nothing to
// inject.
func (i *Injector) InjectContext(ctx context.Context, message, sessionID string) (string, error) {
	summary, err := i.BuildSummary(ctx, sessionID)
	if err != nil {
		return message, err
	}
	if summary == "" {
		metrics.ContextInjections.WithLabelValues("false").Inc()
		return message, nil
	}
	metrics.ContextInjections.WithLabelValues("true").Inc()
	return message + "\n\n" + summary + "\n\n" + Instruction, nil
}

// FormatSummary renders docs as a delimited context block.
func FormatSummary(docs []DocumentContext) string {
	if len(docs) == 0 {
		return ""
	}
	blocks := make([]string, len(docs))
	for i, dc := range docs {
		blocks[i] = fmt.Sprintf("Document %d: %s\nContent Summary: %s\nKey Information: %s\nContent Preview: %s",
			i+1, dc.FileName, dc.Summary, strings.Join(dc.KeyPoints, ", "), preview(dc.Content, PreviewLength))
	}
	return contextHeader + "\n\n" + strings.Join(blocks, "\n\n") + "\n\n" + contextFooter
}

// preview cuts s to n characters, adding an ellipsis only when something
// was cut.
func preview(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i] + "..."
		}
		count++
	}
	return s
}
