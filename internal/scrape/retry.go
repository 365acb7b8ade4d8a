package scrape

import (
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

// FailureCategory groups scrape failures for retry policy. It is coarser
// than ScrapeErrorType: the retry engine only cares about how a failure
// class tends to resolve, not what exactly went wrong.
type FailureCategory string

const (
	FailureNetwork     FailureCategory = "network"
	FailureTimeout     FailureCategory = "timeout"
	FailureServer      FailureCategory = "server"
	FailureNotFound    FailureCategory = "not_found"
	FailureForbidden   FailureCategory = "forbidden"
	FailureRateLimited FailureCategory = "rate_limited"
	FailureBlocked     FailureCategory = "blocked"
	FailureParse       FailureCategory = "parse_error"
)

// retryDelays per category, indexed by attempt. The last entry repeats for
// attempts past the end.
var retryDelays = map[FailureCategory][]time.Duration{
	FailureNetwork:     {2 * time.Second, 4 * time.Second, 8 * time.Second},
	FailureTimeout:     {2 * time.Second, 4 * time.Second, 8 * time.Second},
	FailureServer:      {2 * time.Second, 4 * time.Second, 8 * time.Second},
	FailureRateLimited: {5 * time.Second, 10 * time.Second, 20 * time.Second},
	FailureForbidden:   {5 * time.Second},
}

// retryBudgets is the number of retries allowed per category, not counting
// the first attempt.
var retryBudgets = map[FailureCategory]int{
	FailureNotFound:  0,
	FailureForbidden: 1,
	FailureBlocked:   2,
	FailureParse:     2,
}

const defaultRetryBudget = 3

// friendlyMessages replace raw error text once a category has exhausted
// its retries. These read as product-level guidance, not transport noise.
var friendlyMessages = map[FailureCategory]string{
	FailureNotFound:    "Product page not found (404). The URL may be incorrect.",
	FailureParse:       "Failed to extract product data. The page format may have changed.",
	FailureForbidden:   "Access denied by the website. This product may require login.",
	FailureBlocked:     "Blocked by the website. CAPTCHA or login may be required.",
	FailureRateLimited: "Rate limited by the website. Please wait before trying again.",
}

// ClassifyError buckets an error into a failure category, trusting typed
// ScrapeErrors first and falling back to token matching on the message for
// errors that bubbled up untyped.
func ClassifyError(err error) FailureCategory {
	var se *domain.ScrapeError
	if errors.As(err, &se) {
		switch se.Type {
		case domain.ScrapeErrTimeout:
			return FailureTimeout
		case domain.ScrapeErrNotFound:
			return FailureNotFound
		case domain.ScrapeErrParseFailure, domain.ScrapeErrPriceValidation, domain.ScrapeErrStructureChange:
			return FailureParse
		case domain.ScrapeErrBlocked:
			switch se.Block {
			case domain.BlockRateLimited:
				return FailureRateLimited
			case domain.BlockAccessDenied:
				return FailureForbidden
			}
			return FailureBlocked
		case domain.ScrapeErrRobotsBlocked:
			return FailureBlocked
		case domain.ScrapeErrNetwork:
			return FailureNetwork
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return FailureTimeout
	case strings.Contains(msg, "connection"), strings.Contains(msg, "network"):
		return FailureNetwork
	case strings.Contains(msg, "404"):
		return FailureNotFound
	case strings.Contains(msg, "403"):
		return FailureForbidden
	case strings.Contains(msg, "429"):
		return FailureRateLimited
	case strings.Contains(msg, "500"), strings.Contains(msg, "502"),
		strings.Contains(msg, "503"), strings.Contains(msg, "504"):
		return FailureServer
	}
	return FailureNetwork
}

// MaxRetries returns how many retries a category earns after the first
// attempt.
func MaxRetries(cat FailureCategory) int {
	if n, ok := retryBudgets[cat]; ok {
		return n
	}
	return defaultRetryBudget
}

// RetryDelay returns the backoff before retry number attempt (zero-based),
// with 20% jitter either way so parallel failures do not retry in step.
func RetryDelay(cat FailureCategory, attempt int) time.Duration {
	delays, ok := retryDelays[cat]
	if !ok {
		delays = retryDelays[FailureNetwork]
	}
	if attempt >= len(delays) {
		attempt = len(delays) - 1
	}

	base := delays[attempt]
	jitter := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(base) * jitter)
}

// FriendlyMessage returns the product-level message for a category, or
// false when the raw error should stand.
func FriendlyMessage(cat FailureCategory) (string, bool) {
	msg, ok := friendlyMessages[cat]
	return msg, ok
}
