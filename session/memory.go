package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gptworkdesk/workdesk/metrics"
)

// MemoryConfig bounds a MemoryStore.
type MemoryConfig struct {
	// TTL expires a session once it has not been updated for this long.
	// Zero keeps sessions until they are evicted for capacity.
	TTL time.Duration
	// MaxSessions caps the number of tracked sessions. When full, the least
	// recently updated session is evicted. Zero means no cap.
	MaxSessions int
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// MemoryStore is a process-local Store guarded by a mutex.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*SessionContext
	ttl      time.Duration
	max      int
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(cfg MemoryConfig) *MemoryStore {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &MemoryStore{
		sessions: make(map[string]*SessionContext),
		ttl:      cfg.TTL,
		max:      cfg.MaxSessions,
		now:      cfg.Now,
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Save(_ context.Context, sessionID string, contexts []DocumentContext) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	sc := m.lookupOrCreateLocked(sessionID, now)
	sc.DocumentContexts = cloneContexts(dedupe(contexts))
	sc.UpdatedAt = now
	return nil
}

func (m *MemoryStore) Append(_ context.Context, sessionID string, dc DocumentContext) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	sc := m.lookupOrCreateLocked(sessionID, now)
	sc.DocumentContexts = dedupe(append(sc.DocumentContexts, cloneContexts([]DocumentContext{dc})...))
	sc.UpdatedAt = now
	return nil
}

// lookupOrCreateLocked returns the live session, creating it and making
// room under the capacity cap when needed.
func (m *MemoryStore) lookupOrCreateLocked(sessionID string, now time.Time) *SessionContext {
	if sc := m.lookup(sessionID, now); sc != nil {
		return sc
	}
	if m.max > 0 && len(m.sessions) >= m.max {
		m.purgeLocked(now)
		for len(m.sessions) >= m.max {
			m.evictOldestLocked()
		}
	}
	sc := &SessionContext{SessionID: sessionID, CreatedAt: now}
	m.sessions[sessionID] = sc
	return sc
}

func (m *MemoryStore) Get(_ context.Context, sessionID string) ([]DocumentContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sc := m.lookup(sessionID, m.now())
	if sc == nil {
		return []DocumentContext{}, nil
	}
	return cloneContexts(sc.DocumentContexts), nil
}

func (m *MemoryStore) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if sc := m.lookup(sessionID, now); sc != nil {
		sc.DocumentContexts = []DocumentContext{}
		sc.UpdatedAt = now
	}
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, sessionID, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	sc := m.lookup(sessionID, now)
	if sc == nil {
		return nil
	}
	if rest, changed := without(sc.DocumentContexts, documentID); changed {
		sc.DocumentContexts = rest
		sc.UpdatedAt = now
	}
	return nil
}

func (m *MemoryStore) ListAll(_ context.Context) ([]SessionContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.purgeLocked(m.now())
	out := make([]SessionContext, 0, len(m.sessions))
	for _, sc := range m.sessions {
		c := *sc
		c.DocumentContexts = cloneContexts(sc.DocumentContexts)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

// Len reports the number of tracked sessions, expired ones included until
// they are purged.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// PurgeExpired drops every expired session and returns how many were
// dropped.
func (m *MemoryStore) PurgeExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.purgeLocked(m.now())
}

// Run purges expired sessions every interval until ctx is done.
func (m *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	if m.ttl <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.PurgeExpired(); n > 0 {
				slog.Debug("session: purged expired sessions", "count", n)
			}
		}
	}
}

// lookup returns the live session, dropping it first if it has expired.
func (m *MemoryStore) lookup(sessionID string, now time.Time) *SessionContext {
	sc, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	if m.expired(sc, now) {
		delete(m.sessions, sessionID)
		metrics.SessionEvictions.WithLabelValues("expired").Inc()
		return nil
	}
	return sc
}

func (m *MemoryStore) expired(sc *SessionContext, now time.Time) bool {
	return m.ttl > 0 && now.Sub(sc.UpdatedAt) >= m.ttl
}

func (m *MemoryStore) purgeLocked(now time.Time) int {
	n := 0
	for id, sc := range m.sessions {
		if m.expired(sc, now) {
			delete(m.sessions, id)
			n++
		}
	}
	if n > 0 {
		metrics.SessionEvictions.WithLabelValues("expired").Add(float64(n))
	}
	return n
}

func (m *MemoryStore) evictOldestLocked() {
	var oldest *SessionContext
	for _, sc := range m.sessions {
		if oldest == nil || sc.UpdatedAt.Before(oldest.UpdatedAt) ||
			(sc.UpdatedAt.Equal(oldest.UpdatedAt) && sc.SessionID < oldest.SessionID) {
			oldest = sc
		}
	}
	if oldest != nil {
		delete(m.sessions, oldest.SessionID)
		metrics.SessionEvictions.WithLabelValues("capacity").Inc()
		slog.Debug("session: evicted for capacity", "session", oldest.SessionID)
	}
}
