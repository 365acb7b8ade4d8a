package heal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

const (
	healthWindow = 7 * 24 * time.Hour

	// minHealthScrapes is the sample size below which a store is scored
	// healthy rather than judged on noise.
	minHealthScrapes = 5

	healthyFloor = 0.5
)

// StoreDirectory is the slice of the store registry the healing package
// writes through. Updates must invalidate any read caches.
type StoreDirectory interface {
	GetByDomain(ctx context.Context, domainName string) (domain.Store, error)
	ListActive(ctx context.Context) ([]domain.Store, error)
	UpdateSelectors(ctx context.Context, domainName string, sel domain.Selectors) error
	UpdateHealth(ctx context.Context, domainName string, successRate float64, lastSuccessAt *time.Time) error
}

// StoreHealth is one store's score over the rolling window.
type StoreHealth struct {
	Domain            string
	Name              string
	TotalScrapes      int64
	SuccessfulScrapes int64
	SuccessRate       float64
	IsHealthy         bool
	LastSuccessAt     *time.Time
}

// HealthReport aggregates one scoring pass over the active stores.
type HealthReport struct {
	CalculatedAt    time.Time
	HealthyStores   int
	UnhealthyStores int
	OverallRate     float64
	Stores          []StoreHealth
}

// HealthCalculator scores each active store by its products' scrape
// outcomes over the last week and persists the result on the store row.
type HealthCalculator struct {
	stores StoreDirectory
	logs   domain.ScrapeLogStore
	logger *slog.Logger
}

func NewHealthCalculator(stores StoreDirectory, logs domain.ScrapeLogStore, logger *slog.Logger) *HealthCalculator {
	return &HealthCalculator{
		stores: stores,
		logs:   logs,
		logger: logger.With("component", "store_health"),
	}
}

// Run recomputes and persists every active store's success rate, returning
// the full report.
func (h *HealthCalculator) Run(ctx context.Context) (HealthReport, error) {
	stores, err := h.stores.ListActive(ctx)
	if err != nil {
		return HealthReport{}, fmt.Errorf("heal: list stores for health run: %w", err)
	}

	now := time.Now().UTC()
	report := HealthReport{CalculatedAt: now}
	since := now.Add(-healthWindow)

	var totalAll, successAll int64
	for _, st := range stores {
		sh, err := h.scoreStore(ctx, st, since)
		if err != nil {
			return HealthReport{}, err
		}

		if err := h.stores.UpdateHealth(ctx, st.Domain, sh.SuccessRate, sh.LastSuccessAt); err != nil {
			h.logger.Error("persisting store health failed", "store", st.Domain, "error", err)
		}

		report.Stores = append(report.Stores, sh)
		if sh.IsHealthy {
			report.HealthyStores++
		} else {
			report.UnhealthyStores++
			h.logger.Warn("store unhealthy",
				"store", st.Domain,
				"success_rate", sh.SuccessRate,
				"total_scrapes", sh.TotalScrapes,
			)
		}
		totalAll += sh.TotalScrapes
		successAll += sh.SuccessfulScrapes
	}

	report.OverallRate = 1.0
	if totalAll > 0 {
		report.OverallRate = float64(successAll) / float64(totalAll)
	}

	h.logger.Info("store health recomputed",
		"stores", len(report.Stores),
		"unhealthy", report.UnhealthyStores,
		"overall_rate", report.OverallRate,
	)
	return report, nil
}

// Unhealthy returns the stores from a report that fell below the floor.
func (r HealthReport) Unhealthy() []StoreHealth {
	var out []StoreHealth
	for _, sh := range r.Stores {
		if !sh.IsHealthy {
			out = append(out, sh)
		}
	}
	return out
}

func (h *HealthCalculator) scoreStore(ctx context.Context, st domain.Store, since time.Time) (StoreHealth, error) {
	total, succeeded, err := h.logs.CountSince(ctx, st.Domain, since)
	if err != nil {
		return StoreHealth{}, fmt.Errorf("heal: score store %s: %w", st.Domain, err)
	}

	rate := 1.0
	if total >= minHealthScrapes {
		rate = float64(succeeded) / float64(total)
	}

	lastSuccess := st.LastSuccessAt
	if at, err := h.logs.LatestSuccess(ctx, st.Domain); err == nil {
		lastSuccess = &at
	} else if !errors.Is(err, domain.ErrNotFound) {
		return StoreHealth{}, fmt.Errorf("heal: latest success for store %s: %w", st.Domain, err)
	}

	return StoreHealth{
		Domain:            st.Domain,
		Name:              st.Name,
		TotalScrapes:      total,
		SuccessfulScrapes: succeeded,
		SuccessRate:       rate,
		IsHealthy:         rate >= healthyFloor,
		LastSuccessAt:     lastSuccess,
	}, nil
}
