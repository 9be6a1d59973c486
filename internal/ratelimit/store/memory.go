package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store. It backs single-replica
// deployments and the fallback path when Redis is unreachable.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*fixedWindow
	hits    map[string][]time.Time
	now     func() time.Time
}

type fixedWindow struct {
	count   int64
	resetAt time.Time
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows: make(map[string]*fixedWindow),
		hits:    make(map[string][]time.Time),
		now:     time.Now,
	}
}

// FixedWindowIncr implements Store.
func (s *MemoryStore) FixedWindowIncr(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows[key]
	if !ok || now.After(w.resetAt) {
		w = &fixedWindow{resetAt: now.Add(window)}
		s.windows[key] = w
	}
	w.count++
	return w.count, w.resetAt.Sub(now), nil
}

// SlidingWindowAllow implements Store.
func (s *MemoryStore) SlidingWindowAllow(_ context.Context, key string, window time.Duration, limit int64) (bool, int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-window)

	kept := s.hits[key][:0]
	for _, hit := range s.hits[key] {
		if hit.After(cutoff) {
			kept = append(kept, hit)
		}
	}

	if int64(len(kept)) >= limit {
		s.hits[key] = kept
		retry := kept[0].Add(window).Sub(now)
		return false, int64(len(kept)), retry, nil
	}

	kept = append(kept, now)
	s.hits[key] = kept
	return true, int64(len(kept)), 0, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows = make(map[string]*fixedWindow)
	s.hits = make(map[string][]time.Time)
	return nil
}
