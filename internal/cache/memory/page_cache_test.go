package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

func TestPageCacheRoundTrip(t *testing.T) {
	pc := NewPageCache()
	ctx := context.Background()

	const url = "https://example.ca/p/1"
	if err := pc.Set(ctx, url, "<html>cached</html>", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	html, err := pc.Get(ctx, url)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if html != "<html>cached</html>" {
		t.Errorf("Get = %q", html)
	}
}

func TestPageCacheMiss(t *testing.T) {
	pc := NewPageCache()
	if _, err := pc.Get(context.Background(), "https://example.ca/missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get err = %v, want ErrNotFound", err)
	}
}

func TestPageCacheExpiry(t *testing.T) {
	pc := NewPageCache()
	current := time.Now()
	pc.now = func() time.Time { return current }
	ctx := context.Background()

	pc.Set(ctx, "u", "html", time.Minute)

	current = current.Add(2 * time.Minute)
	if _, err := pc.Get(ctx, "u"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get after expiry err = %v, want ErrNotFound", err)
	}
}

func TestPageCacheOverwrite(t *testing.T) {
	pc := NewPageCache()
	ctx := context.Background()

	pc.Set(ctx, "u", "old", time.Minute)
	pc.Set(ctx, "u", "new", time.Minute)

	html, err := pc.Get(ctx, "u")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if html != "new" {
		t.Errorf("Get = %q, want the overwritten value", html)
	}
}
