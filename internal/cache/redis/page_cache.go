package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

// PageCache implements domain.PageCache with plain Redis strings. Keys are
// hashed so arbitrary URLs stay within Redis key conventions. Pages are
// only useful briefly, for selector regeneration reusing a page the scraper
// just fetched, so callers pass short TTLs.
type PageCache struct {
	rdb *redis.Client
}

// NewPageCache creates a PageCache backed by the given Client.
func NewPageCache(c *Client) *PageCache {
	return &PageCache{rdb: c.Underlying()}
}

func pageKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return "page:" + hex.EncodeToString(sum[:])
}

// Get returns the cached HTML for a URL, or domain.ErrNotFound on a miss.
func (pc *PageCache) Get(ctx context.Context, url string) (string, error) {
	html, err := pc.rdb.Get(ctx, pageKey(url)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("redis: get page %s: %w", url, err)
	}
	return html, nil
}

// Set stores the HTML for a URL with the given TTL.
func (pc *PageCache) Set(ctx context.Context, url, html string, ttl time.Duration) error {
	if err := pc.rdb.Set(ctx, pageKey(url), html, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set page %s: %w", url, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.PageCache = (*PageCache)(nil)
