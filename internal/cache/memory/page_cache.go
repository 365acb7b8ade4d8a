package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

type cachedPage struct {
	html      string
	expiresAt time.Time
}

// PageCache implements domain.PageCache with a plain map. Expired entries
// are dropped lazily on read and swept whenever the map grows past a soft
// cap, which is plenty for a cache that holds pages for minutes.
type PageCache struct {
	mu    sync.Mutex
	pages map[string]cachedPage
	now   func() time.Time
}

const pageCacheSweepThreshold = 256

// NewPageCache creates an empty in-process page cache.
func NewPageCache() *PageCache {
	return &PageCache{
		pages: make(map[string]cachedPage),
		now:   time.Now,
	}
}

// Get returns the cached HTML for a URL, or domain.ErrNotFound on a miss.
func (pc *PageCache) Get(_ context.Context, url string) (string, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	entry, ok := pc.pages[url]
	if !ok {
		return "", domain.ErrNotFound
	}
	if pc.now().After(entry.expiresAt) {
		delete(pc.pages, url)
		return "", domain.ErrNotFound
	}
	return entry.html, nil
}

// Set stores the HTML for a URL with the given TTL.
func (pc *PageCache) Set(_ context.Context, url, html string, ttl time.Duration) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	now := pc.now()
	if len(pc.pages) >= pageCacheSweepThreshold {
		for k, v := range pc.pages {
			if now.After(v.expiresAt) {
				delete(pc.pages, k)
			}
		}
	}

	pc.pages[url] = cachedPage{html: html, expiresAt: now.Add(ttl)}
	return nil
}

// Compile-time interface check.
var _ domain.PageCache = (*PageCache)(nil)
