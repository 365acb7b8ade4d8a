package registry

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

type fakeCatalog struct {
	stores   map[string]domain.Store
	getCalls int
	upserts  int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{stores: make(map[string]domain.Store)}
}

func (f *fakeCatalog) Upsert(_ context.Context, store domain.Store) error {
	f.upserts++
	f.stores[store.Domain] = store
	return nil
}

func (f *fakeCatalog) GetByDomain(_ context.Context, d string) (domain.Store, error) {
	f.getCalls++
	st, ok := f.stores[d]
	if !ok {
		return domain.Store{}, domain.ErrNotFound
	}
	return st, nil
}

func (f *fakeCatalog) ListActive(_ context.Context) ([]domain.Store, error) {
	var out []domain.Store
	for _, st := range f.stores {
		if st.IsActive {
			out = append(out, st)
		}
	}
	return out, nil
}

func (f *fakeCatalog) UpdateSelectors(_ context.Context, d string, sel domain.Selectors) error {
	st, ok := f.stores[d]
	if !ok {
		return domain.ErrNotFound
	}
	st.Selectors = sel
	f.stores[d] = st
	return nil
}

func (f *fakeCatalog) UpdateHealth(_ context.Context, d string, rate float64, at *time.Time) error {
	st, ok := f.stores[d]
	if !ok {
		return domain.ErrNotFound
	}
	st.SuccessRate = rate
	st.LastSuccessAt = at
	f.stores[d] = st
	return nil
}

func (f *fakeCatalog) Count(_ context.Context) (int64, error) {
	return int64(len(f.stores)), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestSeedStoresParsesEmbeddedCatalog(t *testing.T) {
	stores, err := SeedStores()
	if err != nil {
		t.Fatalf("SeedStores: %v", err)
	}
	if len(stores) != 16 {
		t.Fatalf("seed count = %d, want 16", len(stores))
	}

	byDomain := make(map[string]domain.Store, len(stores))
	for _, st := range stores {
		if st.Domain == "" || st.Name == "" {
			t.Fatalf("seed with empty identity: %+v", st)
		}
		if st.RateLimitRPM <= 0 {
			t.Errorf("%s: rate_limit_rpm = %d, want > 0", st.Domain, st.RateLimitRPM)
		}
		if !st.IsWhitelisted || !st.IsActive {
			t.Errorf("%s: seeds should be whitelisted and active", st.Domain)
		}
		if st.SuccessRate != 1.0 {
			t.Errorf("%s: initial success rate = %v, want 1.0", st.Domain, st.SuccessRate)
		}
		if len(st.Selectors.Price.CSS) == 0 {
			t.Errorf("%s: no price selectors", st.Domain)
		}
		if len(st.Selectors.Name.CSS) == 0 {
			t.Errorf("%s: no name selectors", st.Domain)
		}
		if !st.Selectors.JSONLD {
			t.Errorf("%s: json_ld not set", st.Domain)
		}
		byDomain[st.Domain] = st
	}

	amazon, ok := byDomain["amazon.ca"]
	if !ok {
		t.Fatal("amazon.ca missing from seeds")
	}
	if amazon.RateLimitRPM != 5 {
		t.Errorf("amazon.ca rpm = %d, want 5", amazon.RateLimitRPM)
	}
	if amazon.Selectors.WaitFor != "#productTitle" {
		t.Errorf("amazon.ca wait_for = %q", amazon.Selectors.WaitFor)
	}
	if got := amazon.Selectors.Price.CSS[0]; got != "span.a-price span.a-offscreen" {
		t.Errorf("amazon.ca first price selector = %q", got)
	}
	if len(amazon.Selectors.Availability.InStockPatterns) != 3 {
		t.Errorf("amazon.ca in_stock_patterns = %v", amazon.Selectors.Availability.InStockPatterns)
	}
}

func TestSeedUpsertsEveryStore(t *testing.T) {
	catalog := newFakeCatalog()
	reg := NewRegistry(catalog, testLogger())

	n, err := reg.Seed(context.Background())
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if n != 16 || catalog.upserts != 16 {
		t.Fatalf("seeded %d stores (%d upserts), want 16", n, catalog.upserts)
	}
	if _, ok := catalog.stores["homedepot.ca"]; !ok {
		t.Error("homedepot.ca not upserted")
	}
}

func TestGetByDomainCachesLookups(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.stores["bestbuy.ca"] = domain.Store{Domain: "bestbuy.ca", Name: "Best Buy Canada", IsActive: true}
	reg := NewRegistry(catalog, testLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		st, err := reg.GetByDomain(ctx, "bestbuy.ca")
		if err != nil {
			t.Fatalf("GetByDomain: %v", err)
		}
		if st.Name != "Best Buy Canada" {
			t.Fatalf("unexpected store %+v", st)
		}
	}
	if catalog.getCalls != 1 {
		t.Errorf("catalog hit %d times, want 1 (cached)", catalog.getCalls)
	}

	// Selector updates must not serve stale cached entries.
	sel := domain.Selectors{Price: domain.FieldSelector{CSS: []string{".price"}}}
	if err := reg.UpdateSelectors(ctx, "bestbuy.ca", sel); err != nil {
		t.Fatalf("UpdateSelectors: %v", err)
	}
	st, err := reg.GetByDomain(ctx, "bestbuy.ca")
	if err != nil {
		t.Fatalf("GetByDomain after update: %v", err)
	}
	if len(st.Selectors.Price.CSS) != 1 || st.Selectors.Price.CSS[0] != ".price" {
		t.Errorf("stale selectors after update: %+v", st.Selectors.Price)
	}
	if catalog.getCalls != 2 {
		t.Errorf("catalog hit %d times, want 2 after invalidation", catalog.getCalls)
	}
}

func TestGetByDomainUnknownStore(t *testing.T) {
	reg := NewRegistry(newFakeCatalog(), testLogger())
	_, err := reg.GetByDomain(context.Background(), "example.org")
	if err != domain.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestNormalizeDomain(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Amazon.CA", "amazon.ca"},
		{"www.walmart.ca", "walmart.ca"},
		{"bestbuy.ca:443", "bestbuy.ca"},
		{"  costco.ca  ", "costco.ca"},
		{"www.WWW.example.com", "www.example.com"},
	}
	for _, tt := range tests {
		if got := NormalizeDomain(tt.in); got != tt.want {
			t.Errorf("NormalizeDomain(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
