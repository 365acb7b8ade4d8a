package domain

import "time"

// ExtractionStrategy identifies which waterfall stage produced a snapshot.
type ExtractionStrategy string

const (
	StrategyJSONLD ExtractionStrategy = "json_ld"
	StrategyCSS    ExtractionStrategy = "css_selector"
	StrategyXPath  ExtractionStrategy = "xpath"
	StrategyLLM    ExtractionStrategy = "llm"
)

// PriceSnapshot is a single observation of a product page. Price is nil
// when no valid price could be extracted.
type PriceSnapshot struct {
	Name          string
	Price         *float64
	OriginalPrice *float64
	Currency      string
	InStock       bool
	ImageURL      string
	Brand         string
	UPC           string
}

// Complete reports whether the snapshot carries the two fields a strategy
// must produce before the waterfall stops: a name and a valid price.
func (s PriceSnapshot) Complete() bool {
	return s.Name != "" && s.Price != nil
}

// PricePoint is one row of a product's price history.
type PricePoint struct {
	ID            int64
	ProductID     int64
	Price         float64
	OriginalPrice *float64
	InStock       bool
	ScrapedAt     time.Time
}
