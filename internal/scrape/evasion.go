package scrape

import (
	"time"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

// Evasion is the response to one class of block: whether retrying is worth
// anything, how long to cool off first, and what identity changes to make
// before the next attempt. Non-retryable blocks carry the message recorded
// against the product.
type Evasion struct {
	Retryable    bool
	Wait         time.Duration
	RotateUA     bool
	ClearCookies bool
	MaxRetries   int
	Message      string
}

// evasions maps each block type to its strategy. CAPTCHAs, login walls,
// geo blocks and age gates cannot be scraped through, so they fail
// immediately with an operator-facing message.
var evasions = map[domain.BlockType]Evasion{
	domain.BlockCaptcha: {
		Message: "CAPTCHA detected. Manual intervention required.",
	},
	domain.BlockLoginRequired: {
		Message: "Login required. Cannot scrape protected content.",
	},
	domain.BlockRateLimited: {
		Retryable:  true,
		Wait:       60 * time.Second,
		MaxRetries: 2,
	},
	domain.BlockGeoBlocked: {
		Message: "Content not available in this region.",
	},
	domain.BlockBotDetection: {
		Retryable:    true,
		Wait:         5 * time.Second,
		RotateUA:     true,
		ClearCookies: true,
		MaxRetries:   2,
	},
	domain.BlockEmptyResponse: {
		Retryable:  true,
		Wait:       2 * time.Second,
		MaxRetries: 2,
	},
	domain.BlockAccessDenied: {
		Retryable:  true,
		Wait:       5 * time.Second,
		RotateUA:   true,
		MaxRetries: 2,
	},
	domain.BlockAgeGate: {
		Message: "Age verification gate. Cannot scrape this product.",
	},
	domain.BlockMaintenance: {
		Retryable:  true,
		Wait:       300 * time.Second,
		MaxRetries: 1,
	},
	domain.BlockNotFound: {
		Message: "Page does not exist.",
	},
}

// EvasionFor returns the strategy for a block type. Unknown types are not
// retried.
func EvasionFor(block domain.BlockType) Evasion {
	if e, ok := evasions[block]; ok {
		return e
	}
	return Evasion{Message: "Blocked by the website."}
}
