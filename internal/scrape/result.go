package scrape

import "github.com/alanyoungcy/pricewatch/internal/domain"

// Options tunes a single scrape call. The zero value is the safe default:
// SSRF resolution on, no page cache.
type Options struct {
	// SkipSSRFCheck disables DNS resolution of the target host against
	// private ranges. Only for URLs already vetted at ingest.
	SkipSSRFCheck bool
	// UseCache reuses a recently fetched body for the same URL and caches
	// the one fetched now.
	UseCache bool
}

// Result is the outcome of one scrape operation, success or not. Callers
// persist it as a scrape log and, on success, fold the snapshot into the
// product row.
type Result struct {
	Success        bool
	Snapshot       domain.PriceSnapshot
	URL            string // normalized form actually fetched
	Domain         string
	Strategy       domain.ExtractionStrategy
	StatusCode     int
	ResponseTimeMS int
	Attempts       int
	ErrorType      domain.ScrapeErrorType
	ErrorMessage   string
}

// Log renders the result as a scrape log row for the given product.
func (r Result) Log(productID int64, batchID string) domain.ScrapeLog {
	l := domain.ScrapeLog{
		ProductID:      productID,
		Success:        r.Success,
		ResponseTimeMS: r.ResponseTimeMS,
		BatchID:        batchID,
	}
	if r.Success {
		l.StrategyUsed = r.Strategy
	} else {
		l.ErrorType = r.ErrorType
		l.ErrorMessage = r.ErrorMessage
	}
	return l
}
