package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

// RateLimiter implements domain.RateLimiter with per-key slices of request
// timestamps guarded by one mutex. Slices are pruned on every call, so idle
// keys cost a few stale entries at most.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time
}

// NewRateLimiter creates an empty in-process rate limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		windows: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// WaitTime reports how long the caller must wait before one more request
// for key fits under limit within the window. Zero means go now.
func (rl *RateLimiter) WaitTime(_ context.Context, key string, limit int, window time.Duration) (time.Duration, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	hits := rl.prune(key, now, window)
	if len(hits) < limit {
		return 0, nil
	}

	wait := hits[0].Add(window).Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait, nil
}

// Record counts one admitted request for key.
func (rl *RateLimiter) Record(_ context.Context, key string, window time.Duration) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	hits := rl.prune(key, now, window)
	rl.windows[key] = append(hits, now)
	return nil
}

// prune drops timestamps older than the window. Caller holds the mutex.
func (rl *RateLimiter) prune(key string, now time.Time, window time.Duration) []time.Time {
	hits := rl.windows[key]
	cutoff := now.Add(-window)

	kept := hits[:0]
	for _, t := range hits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	rl.windows[key] = kept
	return kept
}

// Compile-time interface check.
var _ domain.RateLimiter = (*RateLimiter)(nil)
