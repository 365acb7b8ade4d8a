package domain

import "time"

// ScrapeErrorType classifies a failed scrape for logging, retry decisions
// and the healing pipeline.
type ScrapeErrorType string

const (
	ScrapeErrNetwork         ScrapeErrorType = "network_error"
	ScrapeErrTimeout         ScrapeErrorType = "timeout"
	ScrapeErrBlocked         ScrapeErrorType = "blocked"
	ScrapeErrParseFailure    ScrapeErrorType = "parse_failure"
	ScrapeErrPriceValidation ScrapeErrorType = "price_validation"
	ScrapeErrStructureChange ScrapeErrorType = "structure_change"
	ScrapeErrNotFound        ScrapeErrorType = "not_found"
	ScrapeErrRobotsBlocked   ScrapeErrorType = "robots_blocked"
)

// Healable reports whether a selector regeneration could plausibly fix
// failures of this type. Network conditions and blocks cannot be healed
// by changing selectors.
func (t ScrapeErrorType) Healable() bool {
	switch t {
	case ScrapeErrParseFailure, ScrapeErrStructureChange, ScrapeErrPriceValidation:
		return true
	}
	return false
}

// ScrapeLog records one scrape attempt against a product.
type ScrapeLog struct {
	ID             int64
	ProductID      int64
	Success        bool
	StrategyUsed   ExtractionStrategy // empty on failure
	ErrorType      ScrapeErrorType    // empty on success
	ErrorMessage   string
	ResponseTimeMS int
	BatchID        string // UUID shared by all logs of one dispatcher run
	ScrapedAt      time.Time
}
