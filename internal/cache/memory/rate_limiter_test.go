package memory

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterUnderLimit(t *testing.T) {
	rl := NewRateLimiter()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		wait, err := rl.WaitTime(ctx, "k", 3, time.Minute)
		if err != nil {
			t.Fatalf("WaitTime: %v", err)
		}
		if wait != 0 {
			t.Fatalf("request %d: wait = %v, want 0", i, wait)
		}
		if err := rl.Record(ctx, "k", time.Minute); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
}

func TestRateLimiterAtLimit(t *testing.T) {
	rl := NewRateLimiter()
	current := time.Now()
	rl.now = func() time.Time { return current }
	ctx := context.Background()

	rl.Record(ctx, "k", time.Minute)
	current = current.Add(10 * time.Second)
	rl.Record(ctx, "k", time.Minute)

	wait, err := rl.WaitTime(ctx, "k", 2, time.Minute)
	if err != nil {
		t.Fatalf("WaitTime: %v", err)
	}
	// The oldest hit falls out of the window 50 seconds from now.
	if wait != 50*time.Second {
		t.Errorf("wait = %v, want 50s", wait)
	}
}

func TestRateLimiterWindowSlides(t *testing.T) {
	rl := NewRateLimiter()
	current := time.Now()
	rl.now = func() time.Time { return current }
	ctx := context.Background()

	rl.Record(ctx, "k", time.Minute)
	rl.Record(ctx, "k", time.Minute)

	current = current.Add(61 * time.Second)
	wait, err := rl.WaitTime(ctx, "k", 2, time.Minute)
	if err != nil {
		t.Fatalf("WaitTime: %v", err)
	}
	if wait != 0 {
		t.Errorf("wait = %v, want 0 after the window slid past both hits", wait)
	}
}

func TestRateLimiterKeysIndependent(t *testing.T) {
	rl := NewRateLimiter()
	ctx := context.Background()

	rl.Record(ctx, "store:a.ca", time.Minute)
	wait, err := rl.WaitTime(ctx, "store:b.ca", 1, time.Minute)
	if err != nil {
		t.Fatalf("WaitTime: %v", err)
	}
	if wait != 0 {
		t.Errorf("wait = %v for an untouched key, want 0", wait)
	}
}
