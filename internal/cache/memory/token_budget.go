package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

// TokenBudget implements domain.TokenBudget with a counter that resets when
// the UTC day changes.
type TokenBudget struct {
	mu    sync.Mutex
	limit int
	used  int
	day   string
	now   func() time.Time
}

// NewTokenBudget creates a TokenBudget allowing limit tokens per UTC day.
func NewTokenBudget(limit int) *TokenBudget {
	return &TokenBudget{
		limit: limit,
		now:   time.Now,
	}
}

// rollover resets the counter when the UTC day has changed. Caller holds
// the mutex.
func (tb *TokenBudget) rollover() {
	day := tb.now().UTC().Format("2006-01-02")
	if day != tb.day {
		tb.day = day
		tb.used = 0
	}
}

// Remaining returns how many tokens are left today, floored at zero.
func (tb *TokenBudget) Remaining(_ context.Context) (int, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.rollover()
	remaining := tb.limit - tb.used
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Consume records tokens spent today. It returns domain.ErrTokenBudget when
// the budget was already exhausted before this call; the spend that crosses
// the line is accepted.
func (tb *TokenBudget) Consume(_ context.Context, tokens int) error {
	if tokens <= 0 {
		return nil
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.rollover()
	if tb.used >= tb.limit {
		return domain.ErrTokenBudget
	}
	tb.used += tokens
	return nil
}

// Compile-time interface check.
var _ domain.TokenBudget = (*TokenBudget)(nil)
