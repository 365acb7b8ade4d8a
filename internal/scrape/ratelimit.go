package scrape

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

const (
	// rateLimitWindow is the sliding window length for both scopes.
	rateLimitWindow = time.Minute
	// maxRateLimitWait is the longest a scrape will block waiting for a
	// slot. Past this the request fails with a retry hint instead of
	// tying up a worker.
	maxRateLimitWait = 30 * time.Second
	// defaultStoreRPM applies to stores with no configured limit.
	defaultStoreRPM = 10

	globalRateKey = "global"
)

// Limiter coordinates the global and per-store scrape budgets on top of a
// domain.RateLimiter backend. One Acquire admits one fetch: it waits out
// the longer of the two windows, then records the hit in both, so a store
// burst still spends global budget.
type Limiter struct {
	backend     domain.RateLimiter
	globalLimit int

	mu          sync.Mutex
	storeLimits map[string]int
}

// NewLimiter creates a Limiter with the given global requests-per-minute
// budget.
func NewLimiter(backend domain.RateLimiter, globalPerMinute int) *Limiter {
	if globalPerMinute <= 0 {
		globalPerMinute = defaultStoreRPM
	}
	return &Limiter{
		backend:     backend,
		globalLimit: globalPerMinute,
		storeLimits: make(map[string]int),
	}
}

// SetStoreLimit sets the per-minute budget for one store domain. The
// engine calls this with the store's configured rate before each scrape,
// so catalog edits take effect without a restart.
func (l *Limiter) SetStoreLimit(domainName string, perMinute int) {
	if perMinute <= 0 {
		return
	}
	l.mu.Lock()
	l.storeLimits[domainName] = perMinute
	l.mu.Unlock()
}

func (l *Limiter) storeLimit(domainName string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n, ok := l.storeLimits[domainName]; ok {
		return n
	}
	return defaultStoreRPM
}

func storeRateKey(domainName string) string {
	return "store:" + domainName
}

// Acquire blocks until the store may be fetched, then records the request
// against both windows. When the computed wait exceeds maxRateLimitWait it
// returns a rate-limited ScrapeError carrying the wait as RetryAfter
// rather than stalling the worker.
func (l *Limiter) Acquire(ctx context.Context, domainName string) error {
	globalWait, err := l.backend.WaitTime(ctx, globalRateKey, l.globalLimit, rateLimitWindow)
	if err != nil {
		return fmt.Errorf("scrape: global rate check: %w", err)
	}
	storeWait, err := l.backend.WaitTime(ctx, storeRateKey(domainName), l.storeLimit(domainName), rateLimitWindow)
	if err != nil {
		return fmt.Errorf("scrape: store rate check %s: %w", domainName, err)
	}

	wait := globalWait
	if storeWait > wait {
		wait = storeWait
	}

	if wait > maxRateLimitWait {
		return &domain.ScrapeError{
			Type:       domain.ScrapeErrBlocked,
			Block:      domain.BlockRateLimited,
			Message:    fmt.Sprintf("rate limit wait %.0fs exceeds maximum", wait.Seconds()),
			RetryAfter: wait,
			Err:        domain.ErrRateLimited,
		}
	}

	if wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("scrape: rate limit wait: %w", domain.ErrContextDone)
		case <-timer.C:
		}
	}

	if err := l.backend.Record(ctx, globalRateKey, rateLimitWindow); err != nil {
		return fmt.Errorf("scrape: record global rate: %w", err)
	}
	if err := l.backend.Record(ctx, storeRateKey(domainName), rateLimitWindow); err != nil {
		return fmt.Errorf("scrape: record store rate %s: %w", domainName, err)
	}
	return nil
}
