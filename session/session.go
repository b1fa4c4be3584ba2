// Package session keeps the extracted essence of documents uploaded into a
// chat session and renders it into prompt text.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrEmptySessionID is returned by Save when no session ID is given.
var ErrEmptySessionID = errors.New("session: empty session id")

// DocumentContext is one uploaded document's extracted essence, kept for
// the lifetime of a chat session's context.
type DocumentContext struct {
	ID         string    `json:"id"`
	FileName   string    `json:"fileName"`
	Content    string    `json:"content"`
	Summary    string    `json:"summary"`
	KeyPoints  []string  `json:"keyPoints"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// SessionContext is the list of documents attached to one chat session.
type SessionContext struct {
	SessionID        string            `json:"sessionId"`
	DocumentContexts []DocumentContext `json:"documentContexts"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// Store holds session contexts keyed by session ID. Implementations are
// safe for concurrent use.
type Store interface {
	// Save replaces the full list for a session. An existing session keeps
	// its CreatedAt; UpdatedAt is always refreshed. Entries sharing a
	// document ID are collapsed, the last one winning.
	Save(ctx context.Context, sessionID string, contexts []DocumentContext) error

	// Append adds one document to a session, creating the session when
	// needed and replacing any entry with the same ID. The read and write
	// are atomic with respect to other writers of the session.
	Append(ctx context.Context, sessionID string, dc DocumentContext) error

	// Get returns the session's documents, or an empty slice when the
	// session is unknown.
	Get(ctx context.Context, sessionID string) ([]DocumentContext, error)

	// Clear empties the list of an existing session. Unknown sessions are
	// left alone.
	Clear(ctx context.Context, sessionID string) error

	// Remove drops the entries with the given document ID. It is a no-op
	// when either ID is unknown.
	Remove(ctx context.Context, sessionID, documentID string) error

	// ListAll returns every tracked session sorted by session ID.
	ListAll(ctx context.Context) ([]SessionContext, error)
}

// dedupe keeps one entry per document ID. The surviving entry is the last
// occurrence, placed where the ID first appeared.
func dedupe(contexts []DocumentContext) []DocumentContext {
	out := make([]DocumentContext, 0, len(contexts))
	pos := make(map[string]int, len(contexts))
	for _, dc := range contexts {
		if i, ok := pos[dc.ID]; ok {
			out[i] = dc
			continue
		}
		pos[dc.ID] = len(out)
		out = append(out, dc)
	}
	return out
}

// without returns contexts minus the entries with documentID and whether
// anything was dropped.
func without(contexts []DocumentContext, documentID string) ([]DocumentContext, bool) {
	out := make([]DocumentContext, 0, len(contexts))
	for _, dc := range contexts {
		if dc.ID != documentID {
			out = append(out, dc)
		}
	}
	return out, len(out) != len(contexts)
}

// cloneContexts copies the list and each KeyPoints slice so callers never
// share backing arrays with the store.
func cloneContexts(contexts []DocumentContext) []DocumentContext {
	out := make([]DocumentContext, len(contexts))
	for i, dc := range contexts {
		if dc.KeyPoints != nil {
			dc.KeyPoints = append([]string(nil), dc.KeyPoints...)
		}
		out[i] = dc
	}
	return out
}
