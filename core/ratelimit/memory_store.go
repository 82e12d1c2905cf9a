package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store with process-local sliding windows. Counter
// state is not shared across instances; multi-instance deployments should
// use the Redis store instead.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string][]time.Time)}
}

// Take prunes timestamps older than the window, rejects when the remaining
// count is at the limit, and records now otherwise. The whole sequence
// runs under one lock so check-then-record is atomic.
func (ms *MemoryStore) Take(ctx context.Context, key string, window time.Duration, limit int, now time.Time) (bool, int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	cutoff := now.Add(-window)
	kept := ms.windows[key][:0]
	for _, ts := range ms.windows[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= limit {
		ms.windows[key] = kept
		return false, len(kept), nil
	}

	kept = append(kept, now)
	ms.windows[key] = kept
	return true, len(kept), nil
}
