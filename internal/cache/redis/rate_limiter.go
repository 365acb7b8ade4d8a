package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

//go:embed scripts/record_hit.lua
var recordHitLua string

// RateLimiter implements domain.RateLimiter with sliding windows backed by
// Redis sorted sets. Checking the wait and recording a hit are separate
// operations so the scraper can take the maximum wait across the global and
// per-store windows before counting the request in both.
type RateLimiter struct {
	rdb      *redis.Client
	waitSc   *redis.Script
	recordSc *redis.Script
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		rdb:      c.Underlying(),
		waitSc:   redis.NewScript(slidingWindowLua),
		recordSc: redis.NewScript(recordHitLua),
	}
}

func rateLimitKey(key string) string {
	return "ratelimit:" + key
}

// WaitTime reports how long the caller must wait before one more request
// for key fits under limit within the window. Zero means go now. Expired
// entries are pruned as a side effect, so the answer reflects the live
// window even for keys that have been idle.
func (rl *RateLimiter) WaitTime(ctx context.Context, key string, limit int, window time.Duration) (time.Duration, error) {
	now := time.Now().UnixMicro()

	waitMicro, err := rl.waitSc.Run(
		ctx,
		rl.rdb,
		[]string{rateLimitKey(key)},
		now,
		window.Microseconds(),
		limit,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis: rate limit wait time %s: %w", key, err)
	}

	return time.Duration(waitMicro) * time.Microsecond, nil
}

// Record counts one admitted request for key in its sliding window.
func (rl *RateLimiter) Record(ctx context.Context, key string, window time.Duration) error {
	now := time.Now().UnixMicro()

	err := rl.recordSc.Run(
		ctx,
		rl.rdb,
		[]string{rateLimitKey(key)},
		now,
		window.Microseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("redis: rate limit record %s: %w", key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.RateLimiter = (*RateLimiter)(nil)
