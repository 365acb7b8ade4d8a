package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

func TestTokenBudgetConsume(t *testing.T) {
	tb := NewTokenBudget(1000)
	ctx := context.Background()

	if remaining, _ := tb.Remaining(ctx); remaining != 1000 {
		t.Fatalf("Remaining = %d, want 1000", remaining)
	}

	if err := tb.Consume(ctx, 400); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if remaining, _ := tb.Remaining(ctx); remaining != 600 {
		t.Errorf("Remaining = %d, want 600", remaining)
	}

	// The spend that crosses the line is accepted; remaining floors at zero.
	if err := tb.Consume(ctx, 900); err != nil {
		t.Fatalf("crossing Consume: %v", err)
	}
	if remaining, _ := tb.Remaining(ctx); remaining != 0 {
		t.Errorf("Remaining = %d, want 0", remaining)
	}

	// Once exhausted, further spends are refused.
	if err := tb.Consume(ctx, 1); !errors.Is(err, domain.ErrTokenBudget) {
		t.Errorf("Consume after exhaustion err = %v, want ErrTokenBudget", err)
	}
}

func TestTokenBudgetIgnoresNonPositive(t *testing.T) {
	tb := NewTokenBudget(100)
	ctx := context.Background()

	if err := tb.Consume(ctx, 0); err != nil {
		t.Errorf("Consume(0): %v", err)
	}
	if err := tb.Consume(ctx, -5); err != nil {
		t.Errorf("Consume(-5): %v", err)
	}
	if remaining, _ := tb.Remaining(ctx); remaining != 100 {
		t.Errorf("Remaining = %d, want untouched 100", remaining)
	}
}

func TestTokenBudgetDailyRollover(t *testing.T) {
	tb := NewTokenBudget(1000)
	current := time.Date(2026, 3, 4, 23, 50, 0, 0, time.UTC)
	tb.now = func() time.Time { return current }
	ctx := context.Background()

	tb.Consume(ctx, 1000)
	if err := tb.Consume(ctx, 1); !errors.Is(err, domain.ErrTokenBudget) {
		t.Fatalf("err = %v, want exhausted before midnight", err)
	}

	current = time.Date(2026, 3, 5, 0, 1, 0, 0, time.UTC)
	if remaining, _ := tb.Remaining(ctx); remaining != 1000 {
		t.Errorf("Remaining = %d, want full budget after UTC midnight", remaining)
	}
	if err := tb.Consume(ctx, 10); err != nil {
		t.Errorf("Consume after rollover: %v", err)
	}
}
