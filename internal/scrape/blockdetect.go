package scrape

import (
	"regexp"
	"strings"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

// Detection reports what kind of block a fetched page looks like.
// Confidence is heuristic weight, not probability; status-code signals
// score higher than body text matches.
type Detection struct {
	Type       domain.BlockType
	Confidence float64
	Reason     string
}

// emptyBodyThreshold is the length under which a trimmed response body is
// considered empty. Real product pages never come close.
const emptyBodyThreshold = 100

// wafHeaders identify CDN and WAF vendors on 403 responses.
var wafHeaders = []string{"cf-ray", "x-sucuri-id", "x-akamai-request-id", "x-cdn"}

func compileAll(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile("(?i)" + p)
	}
	return out
}

var (
	captchaPatterns = compileAll([]string{
		`captcha`, `recaptcha`, `hcaptcha`, `challenge-form`, `g-recaptcha`,
		`cf-turnstile`, `verify.+human`, `robot.+check`, `prove.+human`,
		`security.+check`, `are you a robot`, `i am not a robot`,
		`complete.+captcha`, `datadome`, `px-captcha`, `distil`,
	})
	loginPatterns = compileAll([]string{
		`sign.?in`, `log.?in`, `please.+sign.?in`, `please.+log.?in`,
		`authentication.+required`, `access.+denied.*login`, `members.+only`,
		`password`, `create.+account`, `register.+to.+continue`,
	})
	ratePatterns = compileAll([]string{
		`rate.?limit`, `too.+many.+requests`, `slow.+down`, `try.+again.+later`,
		`request.+limit`, `temporarily.+unavailable`, `service.+unavailable`,
		`retry.+later`,
	})
	botPatterns = compileAll([]string{
		`automated.+access`, `bot.+detected`, `suspicious.+activity`,
		`unusual.+traffic`, `blocked.+suspicious`, `access.+denied`,
		`pardon.+interruption`, `attention.+required`, `checking.+browser`,
		`ddos.+protection`, `cloudflare`, `akamai`, `incapsula`, `imperva`,
		`sucuri`,
	})
	geoPatterns = compileAll([]string{
		`not.+available.+in.+your.+region`, `not.+available.+in.+your.+country`,
		`geo.?restricted`, `region.+blocked`, `available.+only.+in`,
		`sorry.+this.+content.+is.+not.+available`,
	})
	maintenancePatterns = compileAll([]string{
		`under.+maintenance`, `scheduled.+maintenance`, `temporarily.+down`,
		`we.+will.+be.+back`, `site.+under.+construction`, `coming.+soon`,
	})
	agePatterns = compileAll([]string{
		`age.+verification`, `confirm.+your.+age`, `must.+be.+18`,
		`must.+be.+21`, `adult.+content`, `age.+restricted`,
	})
)

// loginWallPhrases are the only login matches strong enough to call the
// page blocked on their own. Plain "sign in" text appears in the chrome of
// every retail site.
var loginWallPhrases = []string{"sign in to continue", "log in to continue"}

func matchAny(patterns []*regexp.Regexp, body string) bool {
	for _, p := range patterns {
		if p.MatchString(body) {
			return true
		}
	}
	return false
}

// DetectBlock inspects a fetched response for anti-bot interference.
// Status code signals are checked first because they are unambiguous; body
// text patterns run in order of how specific their vocabulary is. A nil
// result means the page looks like real content.
func DetectBlock(statusCode int, headers map[string]string, body string) *Detection {
	switch statusCode {
	case 429:
		return &Detection{domain.BlockRateLimited, 1.0, "Rate limited by server (429)"}
	case 404:
		return &Detection{domain.BlockNotFound, 1.0, "Page not found (404)"}
	}

	trimmed := strings.TrimSpace(body)
	if len(trimmed) < emptyBodyThreshold {
		return &Detection{domain.BlockEmptyResponse, 0.9, "Empty or minimal response received"}
	}

	lower := strings.ToLower(trimmed)

	if statusCode == 403 {
		for _, h := range wafHeaders {
			if _, ok := headers[h]; ok {
				return &Detection{domain.BlockBotDetection, 0.9, "WAF/CDN blocking detected"}
			}
		}
		if matchAny(captchaPatterns, lower) {
			return &Detection{domain.BlockCaptcha, 0.95, "CAPTCHA challenge on 403 response"}
		}
		return &Detection{domain.BlockAccessDenied, 0.8, "Access denied (403)"}
	}

	if statusCode == 503 && matchAny(maintenancePatterns, lower) {
		return &Detection{domain.BlockMaintenance, 0.9, "Maintenance page (503)"}
	}

	if matchAny(captchaPatterns, lower) {
		return &Detection{domain.BlockCaptcha, 0.9, "CAPTCHA markers in page body"}
	}
	if matchAny(botPatterns, lower) {
		return &Detection{domain.BlockBotDetection, 0.85, "Bot detection markers in page body"}
	}
	if matchAny(loginPatterns, lower) {
		for _, phrase := range loginWallPhrases {
			if strings.Contains(lower, phrase) {
				return &Detection{domain.BlockLoginRequired, 0.9, "Login wall in page body"}
			}
		}
	}
	if matchAny(ratePatterns, lower) {
		return &Detection{domain.BlockRateLimited, 0.9, "Rate limit markers in page body"}
	}
	if matchAny(geoPatterns, lower) {
		return &Detection{domain.BlockGeoBlocked, 0.85, "Geo restriction markers in page body"}
	}
	if matchAny(agePatterns, lower) {
		return &Detection{domain.BlockAgeGate, 0.85, "Age verification gate in page body"}
	}

	return nil
}

// BlockError converts a detection into the ScrapeError surfaced to callers
// and recorded in the scrape log.
func BlockError(d *Detection) *domain.ScrapeError {
	switch d.Type {
	case domain.BlockCaptcha:
		return domain.BlockedError(d.Type, "CAPTCHA challenge required")
	case domain.BlockLoginRequired:
		return domain.BlockedError(d.Type, "Login required")
	case domain.BlockRateLimited:
		return domain.BlockedError(d.Type, "Rate limited by website")
	case domain.BlockGeoBlocked:
		return domain.BlockedError(d.Type, "Content geo-blocked")
	case domain.BlockBotDetection:
		return domain.BlockedError(d.Type, "Bot detection triggered")
	case domain.BlockAccessDenied:
		return domain.BlockedError(d.Type, "Access denied")
	case domain.BlockNotFound:
		return domain.NewScrapeError(domain.ScrapeErrNotFound, "Page not found")
	case domain.BlockEmptyResponse:
		return domain.NewScrapeError(domain.ScrapeErrNetwork, "Empty response")
	case domain.BlockMaintenance:
		return domain.NewScrapeError(domain.ScrapeErrNetwork, "Site under maintenance")
	case domain.BlockAgeGate:
		return domain.BlockedError(d.Type, "Age verification required")
	}
	return domain.BlockedError(d.Type, d.Reason)
}
