// Package alert evaluates user price alerts after each successful
// scrape. Triggered alerts stay active; suppressing repeat
// notifications is the notifier's job.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

// defaultMinChange guards alert rows persisted without a noise
// threshold; movements under a cent never count as changes.
const defaultMinChange = 0.01

// Evaluation is one triggered alert with its human-readable reason.
type Evaluation struct {
	Alert  domain.Alert
	Reason string
}

// Evaluator checks a product's active alerts against its latest state.
type Evaluator struct {
	alerts domain.AlertStore
	logger *slog.Logger
}

func NewEvaluator(alerts domain.AlertStore, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		alerts: alerts,
		logger: logger.With("component", "alerts"),
	}
}

// Evaluate runs every active alert on the product against its new
// state and marks the ones that fired. prevPrice and wasInStock
// describe the product before the scrape being processed.
func (e *Evaluator) Evaluate(ctx context.Context, p domain.Product, prevPrice *float64, wasInStock bool) ([]Evaluation, error) {
	active, err := e.alerts.ListActiveByProduct(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("alert: list for product %d: %w", p.ID, err)
	}
	if len(active) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	var triggered []Evaluation
	for _, a := range active {
		fired, reason := Check(a, p, prevPrice, wasInStock)
		if !fired {
			continue
		}
		if err := e.alerts.MarkTriggered(ctx, a.ID, now); err != nil {
			e.logger.Error("mark alert triggered failed",
				slog.Int64("alert_id", a.ID),
				slog.Any("error", err),
			)
			continue
		}
		a.IsTriggered = true
		a.TriggeredAt = &now
		triggered = append(triggered, Evaluation{Alert: a, Reason: reason})
		e.logger.Info("alert triggered",
			slog.Int64("alert_id", a.ID),
			slog.Int64("product_id", p.ID),
			slog.String("type", string(a.Type)),
			slog.String("reason", reason),
		)
	}
	return triggered, nil
}

// Check decides whether a single alert fires for the product's new
// state. Back-in-stock needs an out-of-stock history; every price
// condition requires the product in stock with a known price.
func Check(a domain.Alert, p domain.Product, prevPrice *float64, wasInStock bool) (bool, string) {
	if !a.IsActive {
		return false, ""
	}

	if a.Type == domain.AlertBackInStock {
		if p.InStock && !wasInStock {
			return true, "product is back in stock"
		}
		return false, ""
	}

	if p.CurrentPrice == nil || !p.InStock {
		return false, ""
	}
	current := *p.CurrentPrice

	minChange := a.MinChangeThreshold
	if minChange <= 0 {
		minChange = defaultMinChange
	}

	switch a.Type {
	case domain.AlertTargetPrice:
		if a.TargetValue != nil && current <= *a.TargetValue {
			return true, fmt.Sprintf("price $%.2f reached target $%.2f", current, *a.TargetValue)
		}

	case domain.AlertPercentDrop:
		if prevPrice == nil || *prevPrice <= 0 || a.TargetValue == nil {
			return false, ""
		}
		drop := *prevPrice - current
		if drop < minChange {
			return false, ""
		}
		pct := drop / *prevPrice * 100
		if pct >= *a.TargetValue {
			return true, fmt.Sprintf("price dropped %.1f%% from $%.2f to $%.2f", pct, *prevPrice, current)
		}

	case domain.AlertAnyChange:
		if prevPrice == nil {
			return false, ""
		}
		if math.Abs(current-*prevPrice) >= minChange {
			direction := "dropped"
			if current > *prevPrice {
				direction = "rose"
			}
			return true, fmt.Sprintf("price %s from $%.2f to $%.2f", direction, *prevPrice, current)
		}
	}
	return false, ""
}
