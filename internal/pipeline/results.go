package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/pricewatch/internal/domain"
	"github.com/alanyoungcy/pricewatch/internal/scrape"
)

// priceEpsilon is the smallest price movement worth recording.
const priceEpsilon = 0.01

// processResult folds one scrape outcome into persistent state. On
// cancellation nothing is written: a half-processed batch is worse than
// a repeated one.
func (d *Dispatcher) processResult(ctx context.Context, p domain.Product, res scrape.Result, batchID string) {
	if ctx.Err() != nil {
		return
	}

	if err := d.deps.Logs.Insert(ctx, res.Log(p.ID, batchID)); err != nil {
		d.logger.Error("scrape log write failed",
			slog.Int64("product_id", p.ID),
			slog.Any("error", err),
		)
	}

	if res.Success {
		d.applySuccess(ctx, p, res)
	} else {
		d.applyFailure(ctx, p, res)
	}
}

// applySuccess updates the product row from the snapshot, appends price
// history on movement, and runs alerts and index-sync hooks.
func (d *Dispatcher) applySuccess(ctx context.Context, p domain.Product, res scrape.Result) {
	snap := res.Snapshot
	prevPrice := p.CurrentPrice
	wasInStock := p.InStock
	prevName, prevBrand := p.Name, p.Brand
	firstObservation := p.LastCheckedAt == nil

	now := time.Now().UTC()
	p.CurrentPrice = snap.Price
	if snap.OriginalPrice != nil {
		p.OriginalPrice = snap.OriginalPrice
	}
	p.InStock = snap.InStock
	if snap.Currency != "" {
		p.Currency = snap.Currency
	}
	// Descriptive fields only fill gaps; a scrape never overwrites
	// operator-visible metadata that is already set.
	if p.Name == "" {
		p.Name = snap.Name
	}
	if p.Brand == "" && snap.Brand != "" {
		p.Brand = snap.Brand
	}
	if p.ImageURL == "" && snap.ImageURL != "" {
		p.ImageURL = snap.ImageURL
	}
	if p.UPC == "" && snap.UPC != "" {
		p.UPC = snap.UPC
	}
	p.LastCheckedAt = &now

	d.linkCanonical(ctx, &p)

	if err := d.deps.Products.Update(ctx, p); err != nil {
		d.logger.Error("product update failed",
			slog.Int64("product_id", p.ID),
			slog.Any("error", err),
		)
		return
	}
	if err := d.deps.Failures.RecordSuccess(ctx, p); err != nil {
		d.logger.Error("success bookkeeping failed",
			slog.Int64("product_id", p.ID),
			slog.Any("error", err),
		)
	}

	if priceMoved(prevPrice, p.CurrentPrice) || wasInStock != p.InStock {
		point := domain.PricePoint{
			ProductID:     p.ID,
			Price:         *p.CurrentPrice,
			OriginalPrice: p.OriginalPrice,
			InStock:       p.InStock,
			ScrapedAt:     now,
		}
		if err := d.deps.History.Append(ctx, point); err != nil {
			d.logger.Error("price history append failed",
				slog.Int64("product_id", p.ID),
				slog.Any("error", err),
			)
		}
	}

	evals, err := d.deps.Alerts.Evaluate(ctx, p, prevPrice, wasInStock)
	if err != nil {
		d.logger.Error("alert evaluation failed",
			slog.Int64("product_id", p.ID),
			slog.Any("error", err),
		)
	}
	for _, ev := range evals {
		if err := d.deps.Notifier.SendAlert(ctx, p, ev.Alert, ev.Reason, prevPrice); err != nil {
			d.logger.Error("alert notification failed",
				slog.Int64("alert_id", ev.Alert.ID),
				slog.Int64("product_id", p.ID),
				slog.Any("error", err),
			)
		}
	}

	switch {
	case firstObservation:
		d.deps.Events.Indexed(ctx, p)
	case p.Name != prevName || p.Brand != prevBrand:
		d.deps.Events.Reembed(ctx, p)
	case priceMoved(prevPrice, p.CurrentPrice) || wasInStock != p.InStock:
		d.deps.Events.Metadata(ctx, p)
	}
}

// applyFailure runs the failure bookkeeping and notifies once when a
// product is parked for attention.
func (d *Dispatcher) applyFailure(ctx context.Context, p domain.Product, res scrape.Result) {
	newStatus, err := d.deps.Failures.RecordFailure(ctx, p, res.ErrorType)
	if err != nil {
		d.logger.Error("failure bookkeeping failed",
			slog.Int64("product_id", p.ID),
			slog.Any("error", err),
		)
		return
	}

	if newStatus == domain.ProductStatusNeedsAttention && p.Status != domain.ProductStatusNeedsAttention {
		if err := d.deps.Notifier.SendProductError(ctx, p, res.ErrorMessage); err != nil {
			d.logger.Error("product error notification failed",
				slog.Int64("product_id", p.ID),
				slog.Any("error", err),
			)
		}
	}
}

// linkCanonical attaches the product to its cross-store identity when a
// UPC is known. Lookup failures are logged, never fatal to the scrape.
func (d *Dispatcher) linkCanonical(ctx context.Context, p *domain.Product) {
	if d.deps.Canonical == nil || p.UPC == "" || p.CanonicalID != nil {
		return
	}

	c, err := d.deps.Canonical.GetByUPC(ctx, p.UPC)
	if errors.Is(err, domain.ErrNotFound) {
		c, err = d.deps.Canonical.Create(ctx, domain.CanonicalProduct{
			Name:  p.Name,
			Brand: p.Brand,
			UPC:   p.UPC,
		})
	}
	if err != nil {
		d.logger.Warn("canonical link failed",
			slog.Int64("product_id", p.ID),
			slog.String("upc", p.UPC),
			slog.Any("error", err),
		)
		return
	}
	p.CanonicalID = &c.ID
}

// priceMoved reports whether the price changed by at least a cent,
// counting appearance and disappearance as movement.
func priceMoved(prev, current *float64) bool {
	switch {
	case prev == nil && current == nil:
		return false
	case prev == nil || current == nil:
		return true
	default:
		return math.Abs(*current-*prev) >= priceEpsilon
	}
}
