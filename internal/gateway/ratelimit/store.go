package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/mrmushfiq/truecompanion-gateway/internal/shared/redis"
)

// WindowStore records per-client request timestamps in a trailing window.
// Admit must prune entries at or before now-window, and append now only
// when fewer than limit entries remain.
type WindowStore interface {
	Admit(ctx context.Context, clientID string, now time.Time, window time.Duration, limit int) (bool, error)
}

// MemoryStore keeps windows in process memory. Windows of idle clients are
// swept at most once per window length.
type MemoryStore struct {
	mu        sync.Mutex
	windows   map[string][]time.Time
	lastSweep time.Time
}

// NewMemoryStore creates an empty in-memory window store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string][]time.Time)}
}

func (s *MemoryStore) Admit(_ context.Context, clientID string, now time.Time, window time.Duration, limit int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	windowStart := now.Add(-window)
	if now.Sub(s.lastSweep) >= window {
		s.sweep(windowStart)
		s.lastSweep = now
	}

	kept := prune(s.windows[clientID], windowStart)
	if len(kept) >= limit {
		s.windows[clientID] = kept
		return false, nil
	}

	s.windows[clientID] = append(kept, now)
	return true, nil
}

// sweep drops every client with no entry after windowStart
func (s *MemoryStore) sweep(windowStart time.Time) {
	for id, ts := range s.windows {
		if len(ts) == 0 || !ts[len(ts)-1].After(windowStart) {
			delete(s.windows, id)
		}
	}
}

func prune(ts []time.Time, windowStart time.Time) []time.Time {
	kept := ts[:0]
	for _, t := range ts {
		if t.After(windowStart) {
			kept = append(kept, t)
		}
	}
	return kept
}

// Clients returns the number of clients with a tracked window
func (s *MemoryStore) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// Len returns the number of recorded timestamps for a client
func (s *MemoryStore) Len(clientID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows[clientID])
}

// RedisStore shares windows across gateway replicas
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a redis backed window store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Admit(ctx context.Context, clientID string, now time.Time, window time.Duration, limit int) (bool, error) {
	return s.client.AdmitSlidingWindow(ctx, windowKey(clientID), now, window, limit)
}

func windowKey(clientID string) string {
	return "rate_limit:" + clientID
}
