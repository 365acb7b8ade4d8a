package domain

import "time"

// ProductStatus represents the monitoring lifecycle state of a product.
type ProductStatus string

const (
	ProductStatusActive           ProductStatus = "active"
	ProductStatusPaused           ProductStatus = "paused"
	ProductStatusError            ProductStatus = "error"
	ProductStatusNeedsAttention   ProductStatus = "needs_attention"
	ProductStatusPriceUnavailable ProductStatus = "price_unavailable"
	ProductStatusArchived         ProductStatus = "archived"
)

// Product represents a tracked product page on a retailer site.
type Product struct {
	ID                  int64
	URL                 string
	StoreDomain         string
	Name                string
	Brand               string
	UPC                 string
	ImageURL            string
	CurrentPrice        *float64
	OriginalPrice       *float64
	Currency            string // ISO 4217, default CAD
	InStock             bool
	Status              ProductStatus
	ConsecutiveFailures int
	LastCheckedAt       *time.Time
	CanonicalID         *int64
	DeletedAt           *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Monitorable reports whether routine scraping should include this product.
func (p Product) Monitorable() bool {
	if p.DeletedAt != nil {
		return false
	}
	switch p.Status {
	case ProductStatusActive, ProductStatusError, ProductStatusPriceUnavailable:
		return true
	}
	return false
}

// CanonicalProduct groups listings of the same physical item across stores.
// Matching is by UPC only.
type CanonicalProduct struct {
	ID        int64
	Name      string
	Brand     string
	UPC       string
	Category  string
	DeletedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
