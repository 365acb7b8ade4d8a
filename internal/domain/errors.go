package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrInvalidURL       = errors.New("invalid url")
	ErrUnsupportedStore = errors.New("store not supported")
	ErrPrivateAddress   = errors.New("url resolves to a private address")
	ErrRobotsBlocked    = errors.New("blocked by robots.txt")
	ErrRateLimited      = errors.New("rate limited")
	ErrTokenBudget      = errors.New("daily token budget exhausted")
	ErrLockHeld         = errors.New("lock already held")
	ErrContextDone      = errors.New("context cancelled")
)

// BlockType identifies the anti-bot mechanism detected on a fetched page.
type BlockType string

const (
	BlockCaptcha       BlockType = "captcha"
	BlockLoginRequired BlockType = "login_required"
	BlockRateLimited   BlockType = "rate_limited"
	BlockGeoBlocked    BlockType = "geo_blocked"
	BlockBotDetection  BlockType = "bot_detection"
	BlockAccessDenied  BlockType = "access_denied"
	BlockNotFound      BlockType = "not_found"
	BlockEmptyResponse BlockType = "empty_response"
	BlockMaintenance   BlockType = "maintenance"
	BlockAgeGate       BlockType = "age_gate"
)

// ScrapeError is the typed failure produced by the scrape pipeline. Type
// drives retry policy and the scrape log; Block is set only for blocked
// responses and selects the evasion strategy.
type ScrapeError struct {
	Type       ScrapeErrorType
	Block      BlockType
	Message    string
	RetryAfter time.Duration // wait hint, zero when unknown
	Err        error
}

func (e *ScrapeError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Type)
}

func (e *ScrapeError) Unwrap() error { return e.Err }

// NewScrapeError builds a ScrapeError with a formatted message.
func NewScrapeError(t ScrapeErrorType, format string, args ...any) *ScrapeError {
	return &ScrapeError{Type: t, Message: fmt.Sprintf(format, args...)}
}

// WrapScrapeError attaches a cause while keeping its text.
func WrapScrapeError(t ScrapeErrorType, err error) *ScrapeError {
	if err == nil {
		return &ScrapeError{Type: t}
	}
	return &ScrapeError{Type: t, Message: err.Error(), Err: err}
}

// BlockedError builds the blocked variant for a detected block type.
func BlockedError(b BlockType, message string) *ScrapeError {
	t := ScrapeErrBlocked
	if b == BlockNotFound {
		t = ScrapeErrNotFound
	}
	return &ScrapeError{Type: t, Block: b, Message: message}
}

// ScrapeErrorFrom classifies an arbitrary error, preserving an existing
// ScrapeError and folding context cancellation into a timeout.
func ScrapeErrorFrom(err error) *ScrapeError {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se
	}
	switch {
	case errors.Is(err, ErrRobotsBlocked):
		return WrapScrapeError(ScrapeErrRobotsBlocked, err)
	case errors.Is(err, ErrRateLimited):
		return &ScrapeError{Type: ScrapeErrBlocked, Block: BlockRateLimited, Message: err.Error(), Err: err}
	case errors.Is(err, ErrContextDone):
		return WrapScrapeError(ScrapeErrTimeout, err)
	}
	return WrapScrapeError(ScrapeErrNetwork, err)
}
