package scrape

import (
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Price bounds. Anything outside is treated as an extraction artifact, not
// a real price.
const (
	minPrice = 0.01
	maxPrice = 1_000_000
)

// Field length caps applied after cleaning.
const (
	maxNameLen  = 500
	maxBrandLen = 255
	maxUPCLen   = 50
)

var (
	controlChars   = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
	excessivePunct = regexp.MustCompile(`[!@#$%^&*()_+=\[\]{}|\\:";<>?,./]{3,}`)
	priceJunk      = regexp.MustCompile(`[A-Za-z$€£¥,\s]`)
	imageURLShape  = regexp.MustCompile(`^https?://[a-zA-Z0-9]`)
	nonAlnum       = regexp.MustCompile(`[^a-zA-Z0-9]`)
)

// CleanText strips control characters and runs of junk punctuation,
// collapses whitespace and truncates to max with a trailing ellipsis.
// Scraped text is hostile input; everything persisted or templated goes
// through here first.
func CleanText(s string, max int) string {
	if s == "" {
		return ""
	}
	s = controlChars.ReplaceAllString(s, "")
	s = excessivePunct.ReplaceAllString(s, " ")
	s = strings.Join(strings.Fields(s), " ")
	if max > 0 && len(s) > max {
		s = s[:max] + "..."
	}
	return s
}

// CleanName sanitizes a product name.
func CleanName(s string) string {
	return CleanText(s, maxNameLen)
}

// CleanBrand sanitizes a brand string.
func CleanBrand(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxBrandLen {
		s = s[:maxBrandLen]
	}
	return s
}

// CleanUPC keeps only alphanumeric characters, capped at 50.
func CleanUPC(s string) string {
	s = nonAlnum.ReplaceAllString(s, "")
	if len(s) > maxUPCLen {
		s = s[:maxUPCLen]
	}
	return s
}

// CleanImageURL normalizes an extracted image reference. Protocol-relative
// URLs get https, relative paths resolve against the page URL, and anything
// that does not end up looking like an absolute http(s) URL is dropped.
func CleanImageURL(raw, pageURL string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	} else if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		base, err := url.Parse(pageURL)
		if err != nil {
			return ""
		}
		ref, err := url.Parse(raw)
		if err != nil {
			return ""
		}
		raw = base.ResolveReference(ref).String()
	}

	if !imageURLShape.MatchString(raw) {
		return ""
	}
	return raw
}

// ParsePrice extracts a price from raw scraped text: currency symbols,
// letters, commas and whitespace are stripped, a range like
// "$12.99 - $15.99" collapses to its first value, and the result must land
// within [0.01, 1000000]. The bool reports whether a valid price came out.
func ParsePrice(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}

	if i := strings.Index(raw, "-"); i >= 0 {
		raw = strings.TrimSpace(raw[:i])
	}

	cleaned := priceJunk.ReplaceAllString(raw, "")
	if cleaned == "" {
		return 0, false
	}

	p, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return ValidPrice(p)
}

// ValidPrice bounds-checks and rounds a price to two decimal places.
func ValidPrice(p float64) (float64, bool) {
	if p < minPrice || p > maxPrice {
		return 0, false
	}
	return math.Round(p*100) / 100, true
}
