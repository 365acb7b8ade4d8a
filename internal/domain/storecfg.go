package domain

import "time"

// FieldSelector holds the extraction hints for a single product field.
type FieldSelector struct {
	CSS             []string `json:"css,omitempty" toml:"css"`
	XPath           []string `json:"xpath,omitempty" toml:"xpath"`
	InStockPatterns []string `json:"in_stock_patterns,omitempty" toml:"in_stock_patterns"`
}

// Empty reports whether the selector carries no hints at all.
func (f FieldSelector) Empty() bool {
	return len(f.CSS) == 0 && len(f.XPath) == 0 && len(f.InStockPatterns) == 0
}

// Selectors is the per-store extraction configuration, persisted as JSONB
// on the store row. JSONLD marks stores known to publish schema.org Product
// blocks, which the waterfall tries before any selector.
type Selectors struct {
	JSONLD        bool          `json:"json_ld" toml:"json_ld"`
	WaitFor       string        `json:"wait_for,omitempty" toml:"wait_for"`
	Price         FieldSelector `json:"price,omitempty" toml:"price"`
	Name          FieldSelector `json:"name,omitempty" toml:"name"`
	Availability  FieldSelector `json:"availability,omitempty" toml:"availability"`
	Image         FieldSelector `json:"image,omitempty" toml:"image"`
	OriginalPrice FieldSelector `json:"original_price,omitempty" toml:"original_price"`
}

// Merge overlays next onto s. Field groups next provides replace the old
// ones wholesale; groups next leaves empty survive from s. Regenerated
// selector sets never silently erase hints they did not produce.
func (s Selectors) Merge(next Selectors) Selectors {
	out := s
	out.JSONLD = next.JSONLD
	if next.WaitFor != "" {
		out.WaitFor = next.WaitFor
	}
	if !next.Price.Empty() {
		out.Price = next.Price
	}
	if !next.Name.Empty() {
		out.Name = next.Name
	}
	if !next.Availability.Empty() {
		out.Availability = next.Availability
	}
	if !next.Image.Empty() {
		out.Image = next.Image
	}
	if !next.OriginalPrice.Empty() {
		out.OriginalPrice = next.OriginalPrice
	}
	return out
}

// Store represents a supported retailer and its scraping configuration.
// Domain is the primary key: lowercase, port stripped, no "www.".
type Store struct {
	Domain        string
	Name          string
	IsWhitelisted bool
	IsActive      bool
	Selectors     Selectors
	RateLimitRPM  int     // requests per minute against this host
	SuccessRate   float64 // rolling 7-day success ratio, 0..1
	LastSuccessAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Healthy reports whether the store's recent scrape success rate is
// above the operational floor.
func (s Store) Healthy(threshold float64) bool {
	return s.SuccessRate >= threshold
}
