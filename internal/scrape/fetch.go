package scrape

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"golang.org/x/sync/semaphore"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

const (
	// waitForTimeout bounds the wait for a store's readiness selector. On
	// expiry the fetch proceeds with whatever the DOM holds so block
	// detection still gets a look at interstitial pages.
	waitForTimeout = 10 * time.Second

	domStableWindow = 300 * time.Millisecond
	domStableDiff   = 0.1
)

// statusCodeJS reads the navigation status without a CDP network listener,
// which conflicts with request interception on newer Chromium builds.
const statusCodeJS = `() => {
	try {
		const entries = performance.getEntriesByType("navigation");
		if (entries.length > 0) return entries[0].responseStatus || 0;
	} catch (e) {}
	return 0;
}`

// FetchRequest describes one browser navigation.
type FetchRequest struct {
	URL          string
	Headers      map[string]string // includes User-Agent
	WaitFor      string            // readiness selector, optional
	Timeout      time.Duration     // page deadline, zero for parent context only
	ClearCookies bool              // evasion directive after bot detection
}

// FetchResult is the raw page as the browser saw it.
type FetchResult struct {
	HTML       string
	StatusCode int // zero when the browser could not report one
	FinalURL   string
}

// Fetcher drives a shared headless browser. A weighted semaphore caps
// concurrent pages; the browser itself launches lazily on first use so the
// process can start on hosts without Chrome until a scrape is asked for.
type Fetcher struct {
	sem       *semaphore.Weighted
	pageDelay time.Duration
	bin       string

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
}

// NewFetcher creates a fetcher allowing maxConcurrent simultaneous pages.
// pageDelay is the settle time after load; bin overrides browser discovery
// when set.
func NewFetcher(maxConcurrent int, pageDelay time.Duration, bin string) *Fetcher {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Fetcher{
		sem:       semaphore.NewWeighted(int64(maxConcurrent)),
		pageDelay: pageDelay,
		bin:       bin,
	}
}

// ensureStarted launches and connects the browser once.
func (f *Fetcher) ensureStarted() (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browser != nil {
		return f.browser, nil
	}

	l := launcher.New().
		Headless(true).
		Set("disable-gpu").
		Set("no-sandbox").
		Set("disable-dev-shm-usage")
	if f.bin != "" {
		l = l.Bin(f.bin)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("scrape: launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("scrape: connect browser: %w", err)
	}

	f.launcher = l
	f.browser = browser
	return browser, nil
}

// Close shuts the browser down and removes its temp profile.
func (f *Fetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browser == nil {
		return nil
	}
	err := f.browser.Close()
	f.launcher.Kill()
	f.launcher.Cleanup()
	f.browser = nil
	f.launcher = nil
	if err != nil {
		return fmt.Errorf("scrape: close browser: %w", err)
	}
	return nil
}

// Fetch navigates a fresh page to req.URL and returns the rendered HTML.
// It blocks while all browser slots are busy.
func (f *Fetcher) Fetch(ctx context.Context, req FetchRequest) (FetchResult, error) {
	if err := f.sem.Acquire(ctx, 1); err != nil {
		return FetchResult{}, fmt.Errorf("scrape: browser slot: %w", domain.ErrContextDone)
	}
	defer f.sem.Release(1)

	browser, err := f.ensureStarted()
	if err != nil {
		return FetchResult{}, err
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return FetchResult{}, &domain.ScrapeError{
			Type:    domain.ScrapeErrNetwork,
			Message: fmt.Sprintf("Crawl failed: create page: %v", err),
			Err:     err,
		}
	}
	defer func() { _ = page.Close() }()

	// Stealth and headers must land before navigation to take effect.
	if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
		return FetchResult{}, fmt.Errorf("scrape: stealth injection: %w", err)
	}

	if req.ClearCookies {
		_ = proto.NetworkClearBrowserCookies{}.Call(page)
	}

	f.applyHeaders(page, req.Headers)

	p := page.Context(ctx)
	if req.Timeout > 0 {
		p = p.Timeout(req.Timeout)
	}

	if err := p.Navigate(req.URL); err != nil {
		return FetchResult{}, &domain.ScrapeError{
			Type:    domain.ScrapeErrNetwork,
			Message: fmt.Sprintf("Crawl failed: %v", err),
			Err:     err,
		}
	}

	// Readiness: the store selector when configured, DOM quiescence
	// otherwise. Both are best-effort.
	if req.WaitFor != "" {
		_, _ = p.Timeout(waitForTimeout).Element(req.WaitFor)
	} else {
		_ = p.WaitDOMStable(domStableWindow, domStableDiff)
	}

	if f.pageDelay > 0 {
		timer := time.NewTimer(f.pageDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return FetchResult{}, fmt.Errorf("scrape: settle wait: %w", domain.ErrContextDone)
		case <-timer.C:
		}
	}

	status := 0
	if res, err := p.Eval(statusCodeJS); err == nil {
		status = res.Value.Int()
	}

	html, err := p.HTML()
	if err != nil {
		return FetchResult{}, &domain.ScrapeError{
			Type:    domain.ScrapeErrNetwork,
			Message: fmt.Sprintf("Crawl failed: extract html: %v", err),
			Err:     err,
		}
	}

	finalURL := req.URL
	if res, err := p.Eval(`() => window.location.href`); err == nil {
		if u := res.Value.Str(); u != "" {
			finalURL = u
		}
	}

	return FetchResult{HTML: html, StatusCode: status, FinalURL: finalURL}, nil
}

// applyHeaders sets the user agent via its override channel and everything
// else as extra headers. Failures are non-fatal; the fetch proceeds with
// browser defaults.
func (f *Fetcher) applyHeaders(page *rod.Page, headers map[string]string) {
	if ua := headers["User-Agent"]; ua != "" {
		_ = page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      ua,
			AcceptLanguage: headers["Accept-Language"],
		})
	}

	pairs := make([]string, 0, len(headers)*2)
	for k, v := range headers {
		if k == "User-Agent" {
			continue
		}
		pairs = append(pairs, k, v)
	}
	if len(pairs) > 0 {
		_, _ = page.SetExtraHeaders(pairs)
	}
}
