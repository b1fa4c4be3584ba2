package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces session keys.
const DefaultRedisPrefix = "workdesk:session:"

// maxTxRetries bounds optimistic-lock retries on concurrent writers.
const maxTxRetries = 5

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	Prefix string
	// TTL is applied to a session key on every write. Zero stores keys
	// without expiry.
	TTL time.Duration
	Now func() time.Time
}

// RedisStore keeps one JSON value per session. Read-modify-write updates
// run under WATCH so concurrent writers to the same session do not lose
// each other's changes.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore wraps an existing client. The caller owns the client.
func NewRedisStore(client redis.UniversalClient, cfg RedisConfig) *RedisStore {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultRedisPrefix
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &RedisStore{client: client, prefix: cfg.Prefix, ttl: cfg.TTL, now: cfg.Now}
}

var _ Store = (*RedisStore)(nil)

func (r *RedisStore) key(sessionID string) string {
	return r.prefix + sessionID
}

func (r *RedisStore) Save(ctx context.Context, sessionID string, contexts []DocumentContext) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	contexts = dedupe(contexts)
	return r.update(ctx, sessionID, true, func(sc *SessionContext) bool {
		sc.DocumentContexts = contexts
		return true
	})
}

func (r *RedisStore) Append(ctx context.Context, sessionID string, dc DocumentContext) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	return r.update(ctx, sessionID, true, func(sc *SessionContext) bool {
		sc.DocumentContexts = dedupe(append(sc.DocumentContexts, dc))
		return true
	})
}

func (r *RedisStore) Get(ctx context.Context, sessionID string) ([]DocumentContext, error) {
	sc, err := r.load(ctx, r.client, sessionID)
	if err != nil {
		return nil, err
	}
	if sc == nil || sc.DocumentContexts == nil {
		return []DocumentContext{}, nil
	}
	return sc.DocumentContexts, nil
}

func (r *RedisStore) Clear(ctx context.Context, sessionID string) error {
	return r.update(ctx, sessionID, false, func(sc *SessionContext) bool {
		sc.DocumentContexts = []DocumentContext{}
		return true
	})
}

func (r *RedisStore) Remove(ctx context.Context, sessionID, documentID string) error {
	return r.update(ctx, sessionID, false, func(sc *SessionContext) bool {
		rest, changed := without(sc.DocumentContexts, documentID)
		sc.DocumentContexts = rest
		return changed
	})
}

func (r *RedisStore) ListAll(ctx context.Context) ([]SessionContext, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning sessions: %w", err)
	}

	out := make([]SessionContext, 0, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("loading sessions: %w", err)
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue // expired between SCAN and MGET
		}
		var sc SessionContext
		if err := json.Unmarshal([]byte(s), &sc); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", keys[i], err)
		}
		if sc.SessionID == "" {
			sc.SessionID = strings.TrimPrefix(keys[i], r.prefix)
		}
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

// update applies fn to the stored session inside a WATCH transaction. When
// the session does not exist it is created only if create is set. fn
// reports whether it changed anything worth writing.
func (r *RedisStore) update(ctx context.Context, sessionID string, create bool, fn func(*SessionContext) bool) error {
	key := r.key(sessionID)
	txf := func(tx *redis.Tx) error {
		sc, err := r.load(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		now := r.now().UTC()
		if sc == nil {
			if !create {
				return nil
			}
			sc = &SessionContext{SessionID: sessionID, CreatedAt: now}
		}
		if !fn(sc) {
			return nil
		}
		sc.UpdatedAt = now
		data, err := json.Marshal(sc)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("session %s: too much contention", sessionID)
}

// getter is the slice of the client API load needs; both the client and a
// WATCH transaction provide it.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *RedisStore) load(ctx context.Context, c getter, sessionID string) (*SessionContext, error) {
	data, err := c.Get(ctx, r.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", sessionID, err)
	}
	var sc SessionContext
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", sessionID, err)
	}
	return &sc, nil
}
