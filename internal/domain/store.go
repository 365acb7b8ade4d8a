package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// StoreCatalog persists retailer configurations. Learned health fields
// survive seed refreshes; operator fields are overwritten by Upsert.
type StoreCatalog interface {
	Upsert(ctx context.Context, store Store) error
	GetByDomain(ctx context.Context, domain string) (Store, error)
	ListActive(ctx context.Context) ([]Store, error)
	UpdateSelectors(ctx context.Context, domain string, sel Selectors) error
	UpdateHealth(ctx context.Context, domain string, successRate float64, lastSuccessAt *time.Time) error
	Count(ctx context.Context) (int64, error)
}

// ProductStore persists tracked products.
type ProductStore interface {
	Create(ctx context.Context, p Product) (Product, error)
	GetByID(ctx context.Context, id int64) (Product, error)
	GetByURL(ctx context.Context, url string) (Product, error)
	ListActive(ctx context.Context, opts ListOpts) ([]Product, error)
	ListByStore(ctx context.Context, domain string, opts ListOpts) ([]Product, error)
	ListHealingCandidates(ctx context.Context, minFailures int, limit int) ([]Product, error)
	Update(ctx context.Context, p Product) error
	IncrementFailures(ctx context.Context, id int64) (int, error)
	ResetFailures(ctx context.Context, id int64) error
	SetStatus(ctx context.Context, id int64, status ProductStatus) error
	SoftDelete(ctx context.Context, id int64) error
	Count(ctx context.Context) (int64, error)
}

// PriceHistoryStore persists the append-only price timeline.
type PriceHistoryStore interface {
	Append(ctx context.Context, point PricePoint) error
	Latest(ctx context.Context, productID int64) (PricePoint, error)
	ListByProduct(ctx context.Context, productID int64, opts ListOpts) ([]PricePoint, error)
}

// AlertStore persists user alerts.
type AlertStore interface {
	Create(ctx context.Context, a Alert) (Alert, error)
	GetByID(ctx context.Context, id int64) (Alert, error)
	ListActiveByProduct(ctx context.Context, productID int64) ([]Alert, error)
	MarkTriggered(ctx context.Context, id int64, at time.Time) error
	SetActive(ctx context.Context, id int64, active bool) error
}

// ScheduleStore persists custom check schedules.
type ScheduleStore interface {
	Create(ctx context.Context, s Schedule) (Schedule, error)
	GetByID(ctx context.Context, id int64) (Schedule, error)
	GetByProduct(ctx context.Context, productID int64) (Schedule, error)
	GetByStore(ctx context.Context, domain string) (Schedule, error)
	ListActive(ctx context.Context) ([]Schedule, error)
	ListDue(ctx context.Context, now time.Time) ([]Schedule, error)
	UpdateRun(ctx context.Context, id int64, lastRun, nextRun time.Time) error
	SetActive(ctx context.Context, id int64, active bool) error
	Delete(ctx context.Context, id int64) error
}

// ScrapeLogStore persists per-attempt scrape outcomes.
type ScrapeLogStore interface {
	Insert(ctx context.Context, l ScrapeLog) error
	LatestByProduct(ctx context.Context, productID int64) (ScrapeLog, error)
	LatestFailure(ctx context.Context, productID int64) (ScrapeLog, error)
	ListByProduct(ctx context.Context, productID int64, limit int) ([]ScrapeLog, error)
	CountSince(ctx context.Context, storeDomain string, since time.Time) (total, succeeded int64, err error)
	LatestSuccess(ctx context.Context, storeDomain string) (time.Time, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]ScrapeLog, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// NotificationStore persists outbound notifications.
type NotificationStore interface {
	Create(ctx context.Context, n Notification) (Notification, error)
	MarkSent(ctx context.Context, id int64, at time.Time) error
	MarkFailed(ctx context.Context, id int64, reason string) error
	LastSent(ctx context.Context, productID int64, alertID *int64, since time.Time) (Notification, error)
	ListPending(ctx context.Context, limit int) ([]Notification, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]Notification, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// CanonicalStore persists cross-store product identities.
type CanonicalStore interface {
	Create(ctx context.Context, c CanonicalProduct) (CanonicalProduct, error)
	GetByUPC(ctx context.Context, upc string) (CanonicalProduct, error)
}
