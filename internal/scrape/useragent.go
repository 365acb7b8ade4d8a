package scrape

import "sync"

// userAgents is the identity pool. Recent mainstream browsers on desktop
// platforms; anything exotic draws more attention than it deflects.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
}

// defaultHeaders accompany every fetch, matching what the browsers in the
// pool actually send.
var defaultHeaders = map[string]string{
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
	"Accept-Language":           "en-CA,en-US;q=0.9,en;q=0.8",
	"Accept-Encoding":           "gzip, deflate, br",
	"DNT":                       "1",
	"Connection":                "keep-alive",
	"Upgrade-Insecure-Requests": "1",
	"Sec-Fetch-Dest":            "document",
	"Sec-Fetch-Mode":            "navigate",
	"Sec-Fetch-Site":            "none",
	"Sec-Fetch-User":            "?1",
}

// rotateAfterFailures is how many consecutive failures one identity takes
// against a domain before the pool switches away from it.
const rotateAfterFailures = 3

type uaState struct {
	current     int
	failures    map[int]int
	lastSuccess int
}

// UserAgentPool hands out a browser identity per store domain and rotates
// away from identities that keep failing there. Each domain tracks its own
// state; an identity blocked on one store may work fine on another.
type UserAgentPool struct {
	mu     sync.Mutex
	states map[string]*uaState
}

// NewUserAgentPool creates an empty pool. Every domain starts on the first
// identity.
func NewUserAgentPool() *UserAgentPool {
	return &UserAgentPool{states: make(map[string]*uaState)}
}

// state returns the tracked state for a domain. Caller holds the mutex.
func (p *UserAgentPool) state(domainName string) *uaState {
	st, ok := p.states[domainName]
	if !ok {
		st = &uaState{failures: make(map[int]int)}
		p.states[domainName] = st
	}
	return st
}

// Headers returns the full request header set for a domain: the default
// browser headers plus the domain's current User-Agent.
func (p *UserAgentPool) Headers(domainName string) map[string]string {
	headers := make(map[string]string, len(defaultHeaders)+1)
	for k, v := range defaultHeaders {
		headers[k] = v
	}
	headers["User-Agent"] = p.UserAgent(domainName)
	return headers
}

// UserAgent returns the domain's current identity string.
func (p *UserAgentPool) UserAgent(domainName string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return userAgents[p.state(domainName).current]
}

// ReportSuccess records that the current identity worked. Its failure
// count resets and it becomes the domain's known-good identity.
func (p *UserAgentPool) ReportSuccess(domainName string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.state(domainName)
	st.lastSuccess = st.current
	st.failures[st.current] = 0
}

// ReportFailure records a failure against the current identity. Once an
// identity accumulates enough failures the domain switches to the identity
// with the fewest, lowest index winning ties.
func (p *UserAgentPool) ReportFailure(domainName string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.state(domainName)
	st.failures[st.current]++
	if st.failures[st.current] < rotateAfterFailures {
		return
	}

	best := 0
	for i := range userAgents {
		if st.failures[i] < st.failures[best] {
			best = i
		}
	}
	st.current = best
}

// Rotate forces the domain onto the next identity in the pool regardless
// of failure counts. Block evasion uses this when a site has clearly
// fingerprinted the current one.
func (p *UserAgentPool) Rotate(domainName string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.state(domainName)
	st.current = (st.current + 1) % len(userAgents)
}
