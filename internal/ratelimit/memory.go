package ratelimit

import (
	"context"
	"sync"
	"time"
)

type windowEntry struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter is a per-identifier fixed-window counter held in process
// memory. State is not shared across processes and resets on restart, so it
// is advisory throttling rather than a correctness mechanism.
type MemoryLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	entries map[string]*windowEntry
}

// NewMemoryLimiter constructs a limiter allowing limit requests per window.
func NewMemoryLimiter(limit int, window time.Duration, clock func() time.Time) *MemoryLimiter {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		entries: make(map[string]*windowEntry),
	}
}

// Allow reports whether the identifier may proceed, counting the request when
// it does. Expired entries are purged opportunistically on each call.
func (l *MemoryLimiter) Allow(_ context.Context, id string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	for key, entry := range l.entries {
		if entry.resetAt.Before(now) {
			delete(l.entries, key)
		}
	}

	entry, ok := l.entries[id]
	if !ok || entry.resetAt.Before(now) {
		l.entries[id] = &windowEntry{count: 1, resetAt: now.Add(l.window)}
		return true, 0, nil
	}

	if entry.count >= l.limit {
		return false, entry.resetAt.Sub(now), nil
	}

	entry.count++
	return true, 0, nil
}
