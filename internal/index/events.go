// Package index publishes vector-index sync events on the signal bus.
// The index itself lives out of process; the monitoring core only tells
// it what changed. Every publish is fire-and-forget: failures are
// logged and never surface to the caller.
package index

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

// Events go out twice: on the pub/sub channel for live consumers and
// appended to the durable stream so a consumer that was down can catch
// up.
const (
	EventChannel = "index.events"
	EventStream  = "index.events"
)

// Emitter publishes index events. A nil Emitter or one without a bus is
// valid and emits nothing, so callers never need to guard.
type Emitter struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

func NewEmitter(bus domain.SignalBus, logger *slog.Logger) *Emitter {
	return &Emitter{
		bus:    bus,
		logger: logger.With("component", "index"),
	}
}

// Indexed announces a product's first complete document.
func (e *Emitter) Indexed(ctx context.Context, p domain.Product) {
	e.emit(ctx, eventFor(domain.IndexEventIndexed, p))
}

// Metadata announces changed price or availability on an already
// indexed product.
func (e *Emitter) Metadata(ctx context.Context, p domain.Product) {
	e.emit(ctx, eventFor(domain.IndexEventMetadata, p))
}

// Reembed announces a name or brand change that invalidates the
// product's embedding.
func (e *Emitter) Reembed(ctx context.Context, p domain.Product) {
	e.emit(ctx, eventFor(domain.IndexEventReembed, p))
}

// Removed announces a soft-deleted product.
func (e *Emitter) Removed(ctx context.Context, productID int64) {
	e.emit(ctx, domain.IndexEvent{
		Kind:      domain.IndexEventRemoved,
		ProductID: productID,
	})
}

func eventFor(kind domain.IndexEventKind, p domain.Product) domain.IndexEvent {
	return domain.IndexEvent{
		Kind:        kind,
		ProductID:   p.ID,
		StoreDomain: p.StoreDomain,
		Name:        p.Name,
		Brand:       p.Brand,
		Price:       p.CurrentPrice,
		InStock:     p.InStock,
	}
}

func (e *Emitter) emit(ctx context.Context, ev domain.IndexEvent) {
	if e == nil || e.bus == nil {
		return
	}
	ev.EmittedAt = time.Now().UTC()

	payload, err := json.Marshal(ev)
	if err != nil {
		e.logger.Error("index event marshal failed",
			slog.String("kind", string(ev.Kind)),
			slog.Any("error", err),
		)
		return
	}
	if err := e.bus.Publish(ctx, EventChannel, payload); err != nil {
		e.logger.Warn("index event publish failed",
			slog.String("kind", string(ev.Kind)),
			slog.Int64("product_id", ev.ProductID),
			slog.Any("error", err),
		)
	}
	if err := e.bus.StreamAppend(ctx, EventStream, payload); err != nil {
		e.logger.Warn("index event stream append failed",
			slog.String("kind", string(ev.Kind)),
			slog.Int64("product_id", ev.ProductID),
			slog.Any("error", err),
		)
	}
}
