// Package notify renders and delivers alert email. Every dispatch writes a
// pending notification row before the send and flips it to sent or failed
// after, so the notifications table is a complete delivery ledger. A price
// alert already delivered at the same price within the last 24 hours is
// suppressed rather than re-sent.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

const (
	// dedupWindow is how long a sent alert suppresses identical re-sends.
	dedupWindow = 24 * time.Hour
	// dedupTolerance is the price delta below which two alerts count as
	// identical: one cent.
	dedupTolerance = 0.01
)

// ErrDuplicate reports that an equivalent alert was already delivered
// inside the suppression window. The message text is part of the delivery
// contract and shows up verbatim in logs and results.
var ErrDuplicate = errors.New("Duplicate notification prevented")

// EmailChannel is the delivery transport. Implemented by EmailSender.
type EmailChannel interface {
	Send(ctx context.Context, email Email) (SendResult, error)
	Configured() bool
}

// StoreNamer resolves a store domain to its catalog entry so emails can
// show "Best Buy Canada" instead of "bestbuy.ca". Implemented by the
// store registry.
type StoreNamer interface {
	GetByDomain(ctx context.Context, storeDomain string) (domain.Store, error)
}

// Notifier turns triggered alerts and pipeline events into email. It owns
// duplicate suppression and the pending/sent/failed bookkeeping; the
// channel owns transport retries.
type Notifier struct {
	store   domain.NotificationStore
	channel EmailChannel
	stores  StoreNamer // nil falls back to the raw store domain
	to      string

	logger *slog.Logger
	now    func() time.Time
}

// NewNotifier creates a Notifier delivering to the single configured
// recipient address.
func NewNotifier(store domain.NotificationStore, channel EmailChannel, stores StoreNamer, to string, logger *slog.Logger) *Notifier {
	return &Notifier{
		store:   store,
		channel: channel,
		stores:  stores,
		to:      to,
		logger:  logger.With(slog.String("component", "notifier")),
		now:     time.Now,
	}
}

// SendAlert delivers a triggered alert. Back-in-stock alerts render the
// restock template; everything else renders the price-alert template.
// Returns ErrDuplicate when an equivalent alert went out within the last
// 24 hours at a price within one cent.
func (n *Notifier) SendAlert(ctx context.Context, p domain.Product, a domain.Alert, reason string, prevPrice *float64) error {
	if err := n.deliverable(); err != nil {
		return err
	}

	var current float64
	if p.CurrentPrice != nil {
		current = *p.CurrentPrice
	}

	alertID := a.ID
	dup, err := n.isDuplicate(ctx, p.ID, &alertID, current)
	if err != nil {
		// A failed dedup lookup must not swallow the alert; worst case
		// the user sees it twice.
		n.logger.WarnContext(ctx, "duplicate check failed, sending anyway",
			slog.Int64("product_id", p.ID),
			slog.Int64("alert_id", a.ID),
			slog.String("error", err.Error()),
		)
	}
	if dup {
		n.logger.InfoContext(ctx, "duplicate notification prevented",
			slog.Int64("product_id", p.ID),
			slog.Int64("alert_id", a.ID),
			slog.Float64("price", current),
		)
		return ErrDuplicate
	}

	storeName := n.storeName(ctx, p.StoreDomain)

	kind := domain.NotificationPriceAlert
	payload := map[string]any{
		"product_name":  p.Name,
		"current_price": current,
		"alert_type":    string(a.Type),
	}

	var rendered RenderedEmail
	if a.Type == domain.AlertBackInStock {
		kind = domain.NotificationBackInStock
		rendered, err = renderBackInStock(p, storeName)
	} else {
		if prevPrice != nil {
			payload["previous_price"] = *prevPrice
		}
		rendered, err = renderPriceAlert(p, a, storeName, prevPrice)
	}
	if err != nil {
		return err
	}

	n.logger.InfoContext(ctx, "sending alert",
		slog.Int64("product_id", p.ID),
		slog.Int64("alert_id", a.ID),
		slog.String("kind", string(kind)),
		slog.String("reason", reason),
	)

	note := domain.Notification{
		AlertID:   &alertID,
		ProductID: p.ID,
		Payload:   payload,
	}
	tags := []Tag{
		{Name: "type", Value: string(kind)},
		{Name: "product_id", Value: strconv.FormatInt(p.ID, 10)},
	}
	return n.deliver(ctx, note, rendered, tags)
}

// SendProductError tells the user a product can no longer be tracked. The
// dispatcher calls this once, on the transition into needs-attention, so
// there is no suppression window here.
func (n *Notifier) SendProductError(ctx context.Context, p domain.Product, message string) error {
	if err := n.deliverable(); err != nil {
		return err
	}

	storeName := n.storeName(ctx, p.StoreDomain)
	rendered, err := renderProductError(p, storeName, message)
	if err != nil {
		return err
	}

	note := domain.Notification{
		ProductID: p.ID,
		Payload: map[string]any{
			"product_name":  p.Name,
			"error_message": message,
		},
	}
	tags := []Tag{
		{Name: "type", Value: string(domain.NotificationProductError)},
		{Name: "product_id", Value: strconv.FormatInt(p.ID, 10)},
	}
	return n.deliver(ctx, note, rendered, tags)
}

// SendStoreFlagged warns that a store's scrapes are mostly failing. The
// healing cycle invokes this at most once per store per cycle.
func (n *Notifier) SendStoreFlagged(ctx context.Context, storeDomain string, successRate float64) error {
	if err := n.deliverable(); err != nil {
		return err
	}

	storeName := n.storeName(ctx, storeDomain)
	rendered, err := renderStoreFlagged(storeName, storeDomain, successRate)
	if err != nil {
		return err
	}

	// No product association; the row is stored with a NULL product_id.
	note := domain.Notification{
		Payload: map[string]any{
			"store_domain": storeDomain,
			"store_name":   storeName,
			"success_rate": successRate,
		},
	}
	tags := []Tag{
		{Name: "type", Value: string(domain.NotificationStoreFlagged)},
		{Name: "store", Value: storeDomain},
	}
	return n.deliver(ctx, note, rendered, tags)
}

// deliverable checks that the notifier can actually send anything.
func (n *Notifier) deliverable() error {
	if n.to == "" {
		return fmt.Errorf("notify: no recipient configured")
	}
	if !n.channel.Configured() {
		return fmt.Errorf("notify: email channel not configured")
	}
	return nil
}

// deliver writes the pending row, attempts the send, and records the
// outcome. Bookkeeping failures after a successful send are logged, not
// returned: the mail is already out.
func (n *Notifier) deliver(ctx context.Context, note domain.Notification, rendered RenderedEmail, tags []Tag) error {
	note.Channel = domain.NotificationChannelEmail
	note.Status = domain.NotificationStatusPending

	note, err := n.store.Create(ctx, note)
	if err != nil {
		return fmt.Errorf("notify: record notification: %w", err)
	}

	result, sendErr := n.channel.Send(ctx, Email{
		To:      []string{n.to},
		Subject: rendered.Subject,
		HTML:    rendered.HTML,
		Text:    rendered.Text,
		Tags:    tags,
	})
	if sendErr != nil {
		if err := n.store.MarkFailed(ctx, note.ID, sendErr.Error()); err != nil {
			n.logger.ErrorContext(ctx, "mark notification failed",
				slog.Int64("notification_id", note.ID),
				slog.String("error", err.Error()),
			)
		}
		return sendErr
	}

	if err := n.store.MarkSent(ctx, note.ID, n.now().UTC()); err != nil {
		n.logger.ErrorContext(ctx, "mark notification sent",
			slog.Int64("notification_id", note.ID),
			slog.String("error", err.Error()),
		)
	}

	n.logger.InfoContext(ctx, "notification sent",
		slog.Int64("notification_id", note.ID),
		slog.String("message_id", result.MessageID),
		slog.String("subject", rendered.Subject),
	)
	return nil
}

// isDuplicate reports whether a sent notification for the same product and
// alert exists inside the window at effectively the same price.
func (n *Notifier) isDuplicate(ctx context.Context, productID int64, alertID *int64, current float64) (bool, error) {
	last, err := n.store.LastSent(ctx, productID, alertID, n.now().Add(-dedupWindow))
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	lastPrice, ok := payloadPrice(last.Payload)
	if !ok {
		return false, nil
	}
	return math.Abs(lastPrice-current) < dedupTolerance, nil
}

func (n *Notifier) storeName(ctx context.Context, storeDomain string) string {
	if n.stores == nil {
		return storeDomain
	}
	st, err := n.stores.GetByDomain(ctx, storeDomain)
	if err != nil || st.Name == "" {
		return storeDomain
	}
	return st.Name
}

// payloadPrice pulls current_price out of a stored payload. JSONB numbers
// decode as float64, but payloads written by other tooling may carry
// strings or integers.
func payloadPrice(payload map[string]any) (float64, bool) {
	raw, ok := payload["current_price"]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
