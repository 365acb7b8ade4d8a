package domain

import "time"

// NotificationChannel is the delivery mechanism for a notification.
type NotificationChannel string

const (
	NotificationChannelEmail NotificationChannel = "email"
)

// NotificationStatus tracks a notification through delivery.
type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "pending"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusFailed  NotificationStatus = "failed"
)

// NotificationKind names the template a notification renders with.
type NotificationKind string

const (
	NotificationPriceAlert   NotificationKind = "price_alert"
	NotificationBackInStock  NotificationKind = "back_in_stock"
	NotificationProductError NotificationKind = "product_error"
	NotificationStoreFlagged NotificationKind = "store_flagged"
)

// Notification is one outbound message. The row is written pending before
// the send attempt and flipped to sent or failed after, so a crash between
// the two leaves an auditable pending row rather than a silent loss.
type Notification struct {
	ID           int64
	AlertID      *int64
	ProductID    int64
	Channel      NotificationChannel
	Status       NotificationStatus
	Payload      map[string]any // template inputs; includes current_price for dedup
	SentAt       *time.Time
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
