// Package heal implements the self-healing loop: failure classification,
// LLM selector regeneration, and store health scoring.
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
	defaultFailureThreshold = 3

	// notFoundAttentionAge is how long an unbroken run of 404s must
	// persist before the product is parked for manual review.
	notFoundAttentionAge = 3 * 24 * time.Hour

	// attentionScanDepth caps how many recent logs the 404 run scan reads.
	attentionScanDepth = 50
)

// Analysis summarizes a product's failure state for the healing controller.
type Analysis struct {
	ProductID           int64
	Category            domain.ScrapeErrorType
	ConsecutiveFailures int
	NeedsHealing        bool
	NeedsAttention      bool
	LastError           string
	LastFailureAt       *time.Time
}

// Detector classifies scrape failures and maintains each product's failure
// counter and lifecycle status. The dispatcher routes every scrape outcome
// through RecordSuccess or RecordFailure.
type Detector struct {
	products  domain.ProductStore
	logs      domain.ScrapeLogStore
	threshold int
	logger    *slog.Logger
}

func NewDetector(products domain.ProductStore, logs domain.ScrapeLogStore, failureThreshold int, logger *slog.Logger) *Detector {
	if failureThreshold < 1 {
		failureThreshold = defaultFailureThreshold
	}
	return &Detector{
		products:  products,
		logs:      logs,
		threshold: failureThreshold,
		logger:    logger.With("component", "heal"),
	}
}

// Analyze inspects a product's latest failure and reports whether it is a
// healing candidate or needs manual attention.
func (d *Detector) Analyze(ctx context.Context, productID int64) (Analysis, error) {
	p, err := d.products.GetByID(ctx, productID)
	if err != nil {
		return Analysis{}, fmt.Errorf("heal: analyze product %d: %w", productID, err)
	}

	a := Analysis{
		ProductID:           p.ID,
		ConsecutiveFailures: p.ConsecutiveFailures,
	}

	last, err := d.logs.LatestFailure(ctx, p.ID)
	switch {
	case err == nil:
		a.Category = last.ErrorType
		a.LastError = last.ErrorMessage
		at := last.ScrapedAt
		a.LastFailureAt = &at
	case !errors.Is(err, domain.ErrNotFound):
		return Analysis{}, fmt.Errorf("heal: latest failure for product %d: %w", productID, err)
	}

	a.NeedsHealing = p.ConsecutiveFailures >= d.threshold &&
		a.Category.Healable() &&
		p.Status != domain.ProductStatusNeedsAttention

	attention, err := d.needsAttention(ctx, p, a.Category)
	if err != nil {
		return Analysis{}, err
	}
	a.NeedsAttention = attention

	return a, nil
}

// Candidates returns products eligible for selector regeneration, worst
// first, capped at limit. An empty storeDomain means all stores.
func (d *Detector) Candidates(ctx context.Context, storeDomain string, limit int) ([]domain.Product, error) {
	products, err := d.products.ListHealingCandidates(ctx, d.threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("heal: list candidates: %w", err)
	}

	var out []domain.Product
	for _, p := range products {
		if storeDomain != "" && p.StoreDomain != storeDomain {
			continue
		}
		a, err := d.Analyze(ctx, p.ID)
		if err != nil {
			d.logger.Error("candidate analysis failed", "product_id", p.ID, "error", err)
			continue
		}
		if a.NeedsHealing {
			out = append(out, p)
		}
	}
	return out, nil
}

// RecordFailure increments the product's failure counter, then applies the
// status rule: attention conditions park the product for manual review,
// otherwise reaching the threshold moves it to error. Returns the status
// the product ends up with.
func (d *Detector) RecordFailure(ctx context.Context, p domain.Product, errType domain.ScrapeErrorType) (domain.ProductStatus, error) {
	failures, err := d.products.IncrementFailures(ctx, p.ID)
	if err != nil {
		return p.Status, fmt.Errorf("heal: increment failures for product %d: %w", p.ID, err)
	}
	p.ConsecutiveFailures = failures

	status := p.Status
	attention, err := d.needsAttention(ctx, p, errType)
	if err != nil {
		return p.Status, err
	}
	switch {
	case attention:
		status = domain.ProductStatusNeedsAttention
	case failures >= d.threshold:
		status = domain.ProductStatusError
	}

	if status == p.Status {
		return status, nil
	}
	if err := d.products.SetStatus(ctx, p.ID, status); err != nil {
		return p.Status, fmt.Errorf("heal: set status for product %d: %w", p.ID, err)
	}
	d.logger.Info("product status changed on failure",
		"product_id", p.ID,
		"status", string(status),
		"consecutive_failures", failures,
		"error_type", string(errType),
	)
	return status, nil
}

// RecordSuccess resets the failure counter and reactivates products that
// had been parked in error or attention state.
func (d *Detector) RecordSuccess(ctx context.Context, p domain.Product) error {
	if p.ConsecutiveFailures > 0 {
		if err := d.products.ResetFailures(ctx, p.ID); err != nil {
			return fmt.Errorf("heal: reset failures for product %d: %w", p.ID, err)
		}
	}
	if p.Status == domain.ProductStatusError || p.Status == domain.ProductStatusNeedsAttention {
		if err := d.products.SetStatus(ctx, p.ID, domain.ProductStatusActive); err != nil {
			return fmt.Errorf("heal: reactivate product %d: %w", p.ID, err)
		}
		d.logger.Info("product reactivated", "product_id", p.ID)
	}
	return nil
}

// FlagAttention parks a product for manual review.
func (d *Detector) FlagAttention(ctx context.Context, productID int64) error {
	if err := d.products.SetStatus(ctx, productID, domain.ProductStatusNeedsAttention); err != nil {
		return fmt.Errorf("heal: flag product %d: %w", productID, err)
	}
	d.logger.Warn("product flagged for attention", "product_id", productID)
	return nil
}

func (d *Detector) needsAttention(ctx context.Context, p domain.Product, category domain.ScrapeErrorType) (bool, error) {
	if p.Status == domain.ProductStatusNeedsAttention {
		return true, nil
	}
	if category == domain.ScrapeErrNotFound {
		persisted, err := d.notFoundPersisted(ctx, p.ID)
		if err != nil {
			return false, err
		}
		if persisted {
			return true, nil
		}
	}
	if category != "" && !category.Healable() && p.ConsecutiveFailures >= d.threshold {
		return true, nil
	}
	return false, nil
}

// notFoundPersisted reports whether the product's current unbroken run of
// 404 outcomes started at least notFoundAttentionAge ago. Any success or
// different failure in between resets the run.
func (d *Detector) notFoundPersisted(ctx context.Context, productID int64) (bool, error) {
	logs, err := d.logs.ListByProduct(ctx, productID, attentionScanDepth)
	if err != nil {
		return false, fmt.Errorf("heal: scan logs for product %d: %w", productID, err)
	}

	var runStart time.Time
	for _, l := range logs { // newest first
		if l.ErrorType != domain.ScrapeErrNotFound {
			break
		}
		runStart = l.ScrapedAt
	}
	if runStart.IsZero() {
		return false, nil
	}
	return time.Since(runStart) >= notFoundAttentionAge, nil
}
