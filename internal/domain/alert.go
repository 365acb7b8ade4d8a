package domain

import "time"

// AlertType selects the condition an alert watches for.
type AlertType string

const (
	AlertTargetPrice AlertType = "target_price" // price <= target and in stock
	AlertPercentDrop AlertType = "percent_drop" // dropped by >= target percent and in stock
	AlertAnyChange   AlertType = "any_change"   // moved by >= min threshold and in stock
	AlertBackInStock AlertType = "back_in_stock"
)

// Alert is a user-defined trigger on a product's price or availability.
type Alert struct {
	ID                 int64
	ProductID          int64
	Type               AlertType
	TargetValue        *float64 // target price, or percent for AlertPercentDrop
	MinChangeThreshold float64  // dollars; changes below this are noise
	IsActive           bool
	IsTriggered        bool
	TriggeredAt        *time.Time
	DeletedAt          *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
