package registry

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

//go:embed seeds.toml
var seedsTOML []byte

const defaultRateLimitRPM = 10

type seedFile struct {
	Stores []seedStore `toml:"stores"`
}

type seedStore struct {
	Domain        string           `toml:"domain"`
	Name          string           `toml:"name"`
	RateLimitRPM  int              `toml:"rate_limit_rpm"`
	IsWhitelisted bool             `toml:"is_whitelisted"`
	IsActive      bool             `toml:"is_active"`
	Selectors     domain.Selectors `toml:"selectors"`
}

// SeedStores parses the embedded seed catalog. New installs start with
// every seed at a clean 1.0 success rate.
func SeedStores() ([]domain.Store, error) {
	var f seedFile
	if err := toml.Unmarshal(seedsTOML, &f); err != nil {
		return nil, fmt.Errorf("registry: parse seeds: %w", err)
	}
	if len(f.Stores) == 0 {
		return nil, fmt.Errorf("registry: seed file has no stores")
	}

	stores := make([]domain.Store, 0, len(f.Stores))
	for i, s := range f.Stores {
		if s.Domain == "" {
			return nil, fmt.Errorf("registry: seed entry %d missing domain", i)
		}
		if s.Name == "" {
			return nil, fmt.Errorf("registry: seed %s missing name", s.Domain)
		}
		rpm := s.RateLimitRPM
		if rpm <= 0 {
			rpm = defaultRateLimitRPM
		}
		stores = append(stores, domain.Store{
			Domain:        NormalizeDomain(s.Domain),
			Name:          s.Name,
			IsWhitelisted: s.IsWhitelisted,
			IsActive:      s.IsActive,
			Selectors:     s.Selectors,
			RateLimitRPM:  rpm,
			SuccessRate:   1.0,
		})
	}
	return stores, nil
}

// Seed upserts the embedded catalog. Operator-owned fields (name,
// flags, selectors, rate limit) refresh from the seed file; learned
// fields on existing rows are left alone by the catalog upsert.
func (r *Registry) Seed(ctx context.Context) (int, error) {
	stores, err := SeedStores()
	if err != nil {
		return 0, err
	}

	for _, st := range stores {
		if err := r.catalog.Upsert(ctx, st); err != nil {
			return 0, fmt.Errorf("registry: seed %s: %w", st.Domain, err)
		}
	}

	r.mu.Lock()
	r.cache = make(map[string]cacheEntry)
	r.mu.Unlock()

	r.logger.Info("store catalog seeded", "stores", len(stores))
	return len(stores), nil
}
