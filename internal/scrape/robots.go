package scrape

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// robotsCacheTTL is how long a parsed robots.txt stays valid. Failed
// fetches are not cached; they fall open and retry on the next check.
const robotsCacheTTL = time.Hour

// robotsFetchTimeout bounds the robots.txt request itself.
const robotsFetchTimeout = 10 * time.Second

// robotsMaxBody caps how much robots.txt we are willing to read.
const robotsMaxBody = 512 * 1024

// RobotsVerdict is the outcome of a robots.txt check.
type RobotsVerdict struct {
	Allowed    bool
	CrawlDelay time.Duration
	Reason     string
}

type robotsRule struct {
	allow bool
	path  string
}

type robotsGroup struct {
	agents     []string
	rules      []robotsRule
	crawlDelay time.Duration
}

// RobotsPolicy is a parsed robots.txt file.
type RobotsPolicy struct {
	groups []robotsGroup
}

// ParseRobots parses robots.txt content. The grammar is forgiving: unknown
// directives are ignored and a blank Disallow means allow everything, the
// way the classic parsers treat it.
func ParseRobots(body string) *RobotsPolicy {
	policy := &RobotsPolicy{}
	var current *robotsGroup
	// seenRules distinguishes "User-agent lines extending the current
	// group" from "User-agent starting the next group".
	seenRules := false

	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		field, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		field = strings.ToLower(strings.TrimSpace(field))
		value = strings.TrimSpace(value)

		switch field {
		case "user-agent":
			if current == nil || seenRules {
				policy.groups = append(policy.groups, robotsGroup{})
				current = &policy.groups[len(policy.groups)-1]
				seenRules = false
			}
			current.agents = append(current.agents, strings.ToLower(value))
		case "allow", "disallow":
			if current == nil {
				continue
			}
			seenRules = true
			allow := field == "allow"
			if value == "" {
				// "Disallow:" with no path allows everything.
				allow = true
			}
			current.rules = append(current.rules, robotsRule{allow: allow, path: value})
		case "crawl-delay":
			if current == nil {
				continue
			}
			seenRules = true
			if secs, err := strconv.ParseFloat(value, 64); err == nil && secs > 0 {
				current.crawlDelay = time.Duration(secs * float64(time.Second))
			}
		}
	}

	return policy
}

// groupFor returns the first group whose agent token appears in the user
// agent, falling back to the wildcard group.
func (p *RobotsPolicy) groupFor(userAgent string) *robotsGroup {
	ua := strings.ToLower(userAgent)
	if i := strings.Index(ua, "/"); i >= 0 {
		ua = ua[:i]
	}

	var wildcard *robotsGroup
	for i := range p.groups {
		g := &p.groups[i]
		for _, agent := range g.agents {
			if agent == "*" {
				if wildcard == nil {
					wildcard = g
				}
				continue
			}
			if strings.Contains(ua, agent) {
				return g
			}
		}
	}
	return wildcard
}

// Allowed reports whether the user agent may fetch the given path. The
// first rule whose path prefixes the request decides; no matching rule
// means allowed.
func (p *RobotsPolicy) Allowed(userAgent, path string) bool {
	g := p.groupFor(userAgent)
	if g == nil {
		return true
	}
	if path == "" {
		path = "/"
	}
	for _, rule := range g.rules {
		if rule.path == "" {
			return rule.allow
		}
		if strings.HasPrefix(path, rule.path) {
			return rule.allow
		}
	}
	return true
}

// CrawlDelay returns the crawl delay for the user agent's group, zero when
// unset.
func (p *RobotsPolicy) CrawlDelay(userAgent string) time.Duration {
	if g := p.groupFor(userAgent); g != nil {
		return g.crawlDelay
	}
	return 0
}

type cachedRobots struct {
	policy    *RobotsPolicy
	fetchedAt time.Time
}

// RobotsChecker fetches, caches and evaluates robots.txt per site origin.
// Sites without a reachable robots.txt fall open.
type RobotsChecker struct {
	client    *http.Client
	userAgent string

	mu    sync.Mutex
	cache map[string]cachedRobots
	now   func() time.Time
}

// NewRobotsChecker creates a checker using the pool's first identity for
// both the fetch and the group match.
func NewRobotsChecker(client *http.Client) *RobotsChecker {
	if client == nil {
		client = &http.Client{}
	}
	return &RobotsChecker{
		client:    client,
		userAgent: userAgents[0],
		cache:     make(map[string]cachedRobots),
		now:       time.Now,
	}
}

// Clear evicts cached policies so a changed robots.txt is picked up before
// the TTL runs out. An empty domain clears every origin; otherwise every
// origin belonging to that store domain (any scheme, port or "www.") is
// dropped.
func (rc *RobotsChecker) Clear(domainName string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if domainName == "" {
		rc.cache = make(map[string]cachedRobots)
		return
	}
	domainName = strings.ToLower(domainName)
	for origin := range rc.cache {
		if d, err := ExtractDomain(origin); err == nil && d == domainName {
			delete(rc.cache, origin)
		}
	}
}

// Check evaluates whether rawURL may be fetched. Fetch failures and
// missing robots.txt allow the scrape; only an actual disallow rule blocks
// it. The verdict's reason feeds the scrape log message.
func (rc *RobotsChecker) Check(ctx context.Context, rawURL string) RobotsVerdict {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return RobotsVerdict{Allowed: true, Reason: "unparseable URL - proceeding"}
	}
	origin := u.Scheme + "://" + u.Host

	rc.mu.Lock()
	cached, ok := rc.cache[origin]
	if ok && rc.now().Sub(cached.fetchedAt) < robotsCacheTTL {
		rc.mu.Unlock()
		return rc.verdict(cached.policy, u)
	}
	rc.mu.Unlock()

	policy, ok := rc.fetch(ctx, origin)
	if !ok {
		return RobotsVerdict{Allowed: true, Reason: "No robots.txt or fetch failed - proceeding"}
	}

	rc.mu.Lock()
	rc.cache[origin] = cachedRobots{policy: policy, fetchedAt: rc.now()}
	rc.mu.Unlock()

	return rc.verdict(policy, u)
}

func (rc *RobotsChecker) verdict(policy *RobotsPolicy, u *url.URL) RobotsVerdict {
	path := u.EscapedPath()
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	if policy.Allowed(rc.userAgent, path) {
		return RobotsVerdict{
			Allowed:    true,
			CrawlDelay: policy.CrawlDelay(rc.userAgent),
			Reason:     "robots.txt allows",
		}
	}
	return RobotsVerdict{Allowed: false, Reason: "robots.txt disallows"}
}

// fetch retrieves and parses an origin's robots.txt. The bool is false for
// any outcome other than a parsed 200, which callers treat as fail-open.
func (rc *RobotsChecker) fetch(ctx context.Context, origin string) (*RobotsPolicy, bool) {
	ctx, cancel := context.WithTimeout(ctx, robotsFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil, false
	}
	for k, v := range defaultHeaders {
		req.Header.Set(k, v)
	}
	req.Header.Set("User-Agent", rc.userAgent)

	resp, err := rc.client.Do(req)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, robotsMaxBody))
	if err != nil {
		return nil, false
	}

	return ParseRobots(string(body)), true
}
