package domain

import "time"

// Schedule is a custom check cadence for one product or one store.
// Exactly one of ProductID or StoreDomain is set; a product schedule
// takes precedence over its store's schedule.
type Schedule struct {
	ID          int64
	ProductID   *int64
	StoreDomain *string
	CronExpr    string // 5-field cron, UTC
	IsActive    bool
	LastRunAt   *time.Time
	NextRunAt   *time.Time
	DeletedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Target returns a human-readable description of what the schedule drives.
func (s Schedule) Target() string {
	if s.ProductID != nil {
		return "product"
	}
	if s.StoreDomain != nil {
		return "store"
	}
	return "none"
}
