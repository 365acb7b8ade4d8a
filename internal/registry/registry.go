// Package registry manages the retailer catalog behind every scrape:
// which domains are supported, their extraction selectors, and their
// crawl budgets. The catalog lives in Postgres; lookups are served from
// a small in-process cache because the set of stores is tiny and only
// changes on seeding or selector healing.
package registry

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

const cacheTTL = 5 * time.Minute

// Registry is the lookup and maintenance surface for store
// configurations. Selector and health writes go through the Registry so
// the lookup cache stays coherent.
type Registry struct {
	catalog domain.StoreCatalog
	logger  *slog.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	store    domain.Store
	cachedAt time.Time
}

func NewRegistry(catalog domain.StoreCatalog, logger *slog.Logger) *Registry {
	return &Registry{
		catalog: catalog,
		logger:  logger.With("component", "registry"),
		cache:   make(map[string]cacheEntry),
	}
}

// GetByDomain returns the store configuration for a normalized domain.
// Returns domain.ErrNotFound for domains outside the catalog.
func (r *Registry) GetByDomain(ctx context.Context, domainName string) (domain.Store, error) {
	key := NormalizeDomain(domainName)

	r.mu.RLock()
	entry, ok := r.cache[key]
	r.mu.RUnlock()
	if ok && time.Since(entry.cachedAt) < cacheTTL {
		return entry.store, nil
	}

	store, err := r.catalog.GetByDomain(ctx, key)
	if err != nil {
		return domain.Store{}, err
	}

	r.mu.Lock()
	r.cache[key] = cacheEntry{store: store, cachedAt: time.Now()}
	r.mu.Unlock()
	return store, nil
}

// ListActive returns every active store straight from the catalog.
func (r *Registry) ListActive(ctx context.Context) ([]domain.Store, error) {
	return r.catalog.ListActive(ctx)
}

// UpdateSelectors persists a new selector set, usually produced by the
// healing service, and drops the cached entry.
func (r *Registry) UpdateSelectors(ctx context.Context, domainName string, sel domain.Selectors) error {
	key := NormalizeDomain(domainName)
	if err := r.catalog.UpdateSelectors(ctx, key, sel); err != nil {
		return err
	}
	r.invalidate(key)
	r.logger.Info("store selectors updated", "domain", key)
	return nil
}

// UpdateHealth persists a recomputed success rate for a store.
func (r *Registry) UpdateHealth(ctx context.Context, domainName string, successRate float64, lastSuccessAt *time.Time) error {
	key := NormalizeDomain(domainName)
	if err := r.catalog.UpdateHealth(ctx, key, successRate, lastSuccessAt); err != nil {
		return err
	}
	r.invalidate(key)
	return nil
}

// Count reports how many stores the catalog holds.
func (r *Registry) Count(ctx context.Context) (int64, error) {
	return r.catalog.Count(ctx)
}

func (r *Registry) invalidate(key string) {
	r.mu.Lock()
	delete(r.cache, key)
	r.mu.Unlock()
}

// NormalizeDomain lowercases a host, strips any port and a leading
// "www." so lookups match the catalog's canonical form.
func NormalizeDomain(domainName string) string {
	d := strings.ToLower(strings.TrimSpace(domainName))
	if i := strings.IndexByte(d, ':'); i >= 0 {
		d = d[:i]
	}
	return strings.TrimPrefix(d, "www.")
}
