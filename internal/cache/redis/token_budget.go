package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

// consumeLua increments the day's token counter only when the budget has
// headroom left. The request that crosses the limit is still recorded in
// full; the next one sees an exhausted budget. Returns -1 when already
// exhausted, otherwise the new total.
const consumeLua = `
local used = tonumber(redis.call('GET', KEYS[1]) or '0')
local limit = tonumber(ARGV[1])
if used >= limit then
    return -1
end
local total = redis.call('INCRBY', KEYS[1], ARGV[2])
redis.call('EXPIRE', KEYS[1], ARGV[3])
return total
`

// tokenBudgetTTL keeps spent counters around long enough to survive clock
// skew between workers without accumulating stale keys.
const tokenBudgetTTL = 48 * time.Hour

// TokenBudget implements domain.TokenBudget with one Redis counter per UTC
// day. The key rolls over at UTC midnight, which is what resets the budget.
type TokenBudget struct {
	rdb       *redis.Client
	limit     int
	consumeSc *redis.Script
}

// NewTokenBudget creates a TokenBudget that allows limit tokens per UTC day.
func NewTokenBudget(c *Client, limit int) *TokenBudget {
	return &TokenBudget{
		rdb:       c.Underlying(),
		limit:     limit,
		consumeSc: redis.NewScript(consumeLua),
	}
}

func tokenBudgetKey(day time.Time) string {
	return "llm:tokens:" + day.UTC().Format("2006-01-02")
}

// Remaining returns how many tokens are left in today's budget, floored at
// zero.
func (tb *TokenBudget) Remaining(ctx context.Context) (int, error) {
	used, err := tb.rdb.Get(ctx, tokenBudgetKey(time.Now())).Int()
	if err != nil {
		if err == redis.Nil {
			return tb.limit, nil
		}
		return 0, fmt.Errorf("redis: token budget remaining: %w", err)
	}

	remaining := tb.limit - used
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Consume records tokens spent against today's budget. It returns
// domain.ErrTokenBudget when the budget was already exhausted before this
// call; the spend that crosses the line is accepted.
func (tb *TokenBudget) Consume(ctx context.Context, tokens int) error {
	if tokens <= 0 {
		return nil
	}

	total, err := tb.consumeSc.Run(
		ctx,
		tb.rdb,
		[]string{tokenBudgetKey(time.Now())},
		tb.limit,
		tokens,
		int(tokenBudgetTTL.Seconds()),
	).Int64()
	if err != nil {
		return fmt.Errorf("redis: token budget consume: %w", err)
	}
	if total < 0 {
		return domain.ErrTokenBudget
	}
	return nil
}

// Compile-time interface check.
var _ domain.TokenBudget = (*TokenBudget)(nil)
