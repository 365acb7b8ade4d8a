package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const sampleRobots = `# storefront crawl policy
User-agent: *
Disallow: /cart
Disallow: /checkout
Allow: /
Crawl-delay: 2

User-agent: badbot
Disallow: /
`

func TestParseRobotsAllowed(t *testing.T) {
	policy := ParseRobots(sampleRobots)
	ua := userAgents[0]

	tests := []struct {
		path string
		want bool
	}{
		{"/", true},
		{"/products/mixer", true},
		{"/cart", false},
		{"/cart/items", false},
		{"/checkout", false},
		{"", true}, // empty path reads as "/"
	}
	for _, tt := range tests {
		if got := policy.Allowed(ua, tt.path); got != tt.want {
			t.Errorf("Allowed(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}

	if got := policy.Allowed("badbot/1.0", "/products/mixer"); got {
		t.Error("badbot group should disallow everything")
	}
}

func TestParseRobotsCrawlDelay(t *testing.T) {
	policy := ParseRobots(sampleRobots)
	if got := policy.CrawlDelay(userAgents[0]); got != 2*time.Second {
		t.Errorf("CrawlDelay = %v, want 2s", got)
	}
	if got := policy.CrawlDelay("badbot/1.0"); got != 0 {
		t.Errorf("badbot CrawlDelay = %v, want 0", got)
	}
}

func TestParseRobotsForgivingGrammar(t *testing.T) {
	policy := ParseRobots(`
User-agent: *
Disallow:
Unknown-directive: whatever
Crawl-delay: not-a-number
`)
	// A blank Disallow allows everything; junk directives are ignored.
	if !policy.Allowed(userAgents[0], "/anything") {
		t.Error("blank Disallow should allow everything")
	}
	if got := policy.CrawlDelay(userAgents[0]); got != 0 {
		t.Errorf("unparseable crawl-delay = %v, want 0", got)
	}
}

func TestParseRobotsMultiAgentGroup(t *testing.T) {
	policy := ParseRobots(`
User-agent: firefox
User-agent: chrome
Disallow: /private
`)
	if policy.Allowed("Chrome/120.0", "/private/x") {
		t.Error("second agent of a shared group should be disallowed")
	}
	if !policy.Allowed("Chrome/120.0", "/public") {
		t.Error("paths outside the rules should be allowed")
	}
}

func TestRobotsCheckerCachesPerOrigin(t *testing.T) {
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		fetches.Add(1)
		w.Write([]byte("User-agent: *\nDisallow: /cart\n"))
	}))
	defer srv.Close()

	rc := NewRobotsChecker(srv.Client())
	ctx := context.Background()

	v := rc.Check(ctx, srv.URL+"/products/mixer")
	if !v.Allowed {
		t.Fatalf("verdict = %+v, want allowed", v)
	}
	if v := rc.Check(ctx, srv.URL+"/cart"); v.Allowed {
		t.Fatalf("verdict = %+v, want disallowed", v)
	}
	if got := fetches.Load(); got != 1 {
		t.Errorf("robots.txt fetched %d times, want 1 (cached)", got)
	}
}

func TestRobotsCheckerCacheExpiry(t *testing.T) {
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fetches.Add(1)
		w.Write([]byte("User-agent: *\nAllow: /\n"))
	}))
	defer srv.Close()

	rc := NewRobotsChecker(srv.Client())
	current := time.Now()
	rc.now = func() time.Time { return current }

	ctx := context.Background()
	rc.Check(ctx, srv.URL+"/p")
	current = current.Add(robotsCacheTTL + time.Minute)
	rc.Check(ctx, srv.URL+"/p")

	if got := fetches.Load(); got != 2 {
		t.Errorf("robots.txt fetched %d times, want 2 after TTL expiry", got)
	}
}

func TestRobotsCheckerClear(t *testing.T) {
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fetches.Add(1)
		w.Write([]byte("User-agent: *\nAllow: /\n"))
	}))
	defer srv.Close()

	rc := NewRobotsChecker(srv.Client())
	ctx := context.Background()

	rc.Check(ctx, srv.URL+"/p")
	rc.Check(ctx, srv.URL+"/p")
	if got := fetches.Load(); got != 1 {
		t.Fatalf("fetches = %d, want 1 before any clear", got)
	}

	// Clearing an unrelated domain leaves the cache alone.
	rc.Clear("other.example")
	rc.Check(ctx, srv.URL+"/p")
	if got := fetches.Load(); got != 1 {
		t.Errorf("fetches = %d, want 1 after clearing an unrelated domain", got)
	}

	// httptest origins are IP literals, so the store domain is the IP.
	rc.Clear("127.0.0.1")
	rc.Check(ctx, srv.URL+"/p")
	if got := fetches.Load(); got != 2 {
		t.Errorf("fetches = %d, want 2 after clearing the origin's domain", got)
	}

	rc.Clear("")
	rc.Check(ctx, srv.URL+"/p")
	if got := fetches.Load(); got != 3 {
		t.Errorf("fetches = %d, want 3 after clearing everything", got)
	}
}

func TestRobotsCheckerFailsOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no robots here", http.StatusNotFound)
	}))
	defer srv.Close()

	rc := NewRobotsChecker(srv.Client())
	if v := rc.Check(context.Background(), srv.URL+"/p"); !v.Allowed {
		t.Errorf("verdict = %+v, want fail-open allow on 404", v)
	}

	// Unreachable host: the fetch errors and the check still allows.
	rc2 := NewRobotsChecker(&http.Client{Timeout: 200 * time.Millisecond})
	if v := rc2.Check(context.Background(), "http://127.0.0.1:1/p"); !v.Allowed {
		t.Errorf("verdict = %+v, want fail-open allow on fetch error", v)
	}
}
