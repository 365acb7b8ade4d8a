package domain

import (
	"context"
	"time"
)

// RateLimiter is a sliding-window counter keyed by an arbitrary string.
// WaitTime reports how long a caller must wait before one more request
// fits under limit within the window; zero means go now. Record counts
// one admitted request. Implementations are safe for concurrent use.
type RateLimiter interface {
	WaitTime(ctx context.Context, key string, limit int, window time.Duration) (time.Duration, error)
	Record(ctx context.Context, key string, window time.Duration) error
}

// TokenBudget meters daily LLM token spend. Consume returns
// ErrTokenBudget once the day's allowance is gone; the counter resets
// at UTC midnight.
type TokenBudget interface {
	Remaining(ctx context.Context) (int, error)
	Consume(ctx context.Context, tokens int) error
}

// PageCache briefly retains fetched HTML for reuse within a run.
// Get returns ErrNotFound on a miss.
type PageCache interface {
	Get(ctx context.Context, url string) (string, error)
	Set(ctx context.Context, url, html string, ttl time.Duration) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams. The monitoring core
// publishes index-sync events on it fire-and-forget; the search side
// consumes them out of process.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
