// Package scrape implements the product page scraping pipeline: URL
// vetting, robots and rate-limit preflight, browser fetch, block
// detection, and waterfall extraction (JSON-LD, then store CSS selectors,
// then XPath, then LLM).
package scrape

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/pricewatch/internal/domain"
	"github.com/alanyoungcy/pricewatch/internal/llm"
)

// defaultStoreLimit applies to hosts with no configured rate.
const defaultStoreLimit = 10

// smallBatchMax is the batch size at or below which URLs are scraped
// sequentially instead of fanning out.
const smallBatchMax = 2

// StoreLookup resolves a host to its retailer configuration. The registry
// satisfies this; the engine only ever reads.
type StoreLookup interface {
	GetByDomain(ctx context.Context, domain string) (domain.Store, error)
}

// EngineConfig carries the fetch and policy knobs for the engine.
type EngineConfig struct {
	RequestTimeout   time.Duration // per-page deadline inside the browser
	OperationTimeout time.Duration // whole-attempt deadline, fetch + extract
	RespectRobots    bool
	EnforceWhitelist bool
	EnableRetries    bool
	MaxConcurrent    int // batch fan-out bound; the browser slots cap real work
}

// Engine orchestrates one scrape: preflight, fetch, block detection,
// extraction, retry. It holds no per-product state and is safe for
// concurrent use.
type Engine struct {
	cfg     EngineConfig
	fetcher *Fetcher
	limiter *Limiter
	robots  *RobotsChecker
	ua      *UserAgentPool
	stores  StoreLookup
	logger  *slog.Logger

	llm      *llm.Client
	pages    domain.PageCache
	pagesTTL time.Duration
}

// NewEngine creates the scrape engine. LLM extraction and the page cache
// are off until attached with SetLLM / SetPageCache.
func NewEngine(
	cfg EngineConfig,
	fetcher *Fetcher,
	limiter *Limiter,
	robots *RobotsChecker,
	ua *UserAgentPool,
	stores StoreLookup,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		cfg:     cfg,
		fetcher: fetcher,
		limiter: limiter,
		robots:  robots,
		ua:      ua,
		stores:  stores,
		logger:  logger.With("component", "scrape"),
	}
}

// SetLLM enables the last-resort extraction stage.
func (e *Engine) SetLLM(client *llm.Client) {
	e.llm = client
}

// SetPageCache enables HTML reuse for calls with Options.UseCache.
func (e *Engine) SetPageCache(cache domain.PageCache, ttl time.Duration) {
	e.pages = cache
	e.pagesTTL = ttl
}

// Scrape runs the full pipeline against one product URL. It never returns
// an error; failures are encoded in the result so callers can log them
// uniformly.
func (e *Engine) Scrape(ctx context.Context, rawURL string, opts Options) Result {
	start := time.Now()
	result := e.run(ctx, rawURL, opts)
	result.ResponseTimeMS = int(time.Since(start).Milliseconds())
	return result
}

// run is Scrape without the clock.
func (e *Engine) run(ctx context.Context, rawURL string, opts Options) Result {
	pageURL, err := NormalizeURL(rawURL)
	if err != nil {
		return failure(rawURL, "", 0, err)
	}

	domainName, err := ExtractDomain(pageURL)
	if err != nil {
		return failure(pageURL, "", 0, err)
	}

	store, err := e.lookupStore(ctx, domainName)
	if err != nil {
		return failure(pageURL, domainName, 0, err)
	}

	if !opts.SkipSSRFCheck {
		if err := CheckSSRF(ctx, pageURL); err != nil {
			return failure(pageURL, domainName, 0, err)
		}
	}

	crawlDelay := time.Duration(0)
	if e.cfg.RespectRobots {
		verdict := e.robots.Check(ctx, pageURL)
		if !verdict.Allowed {
			e.logger.Info("robots disallow", "url", pageURL, "reason", verdict.Reason)
			return Result{
				URL:          pageURL,
				Domain:       domainName,
				ErrorType:    domain.ScrapeErrRobotsBlocked,
				ErrorMessage: "Blocked by robots.txt: " + verdict.Reason,
			}
		}
		crawlDelay = verdict.CrawlDelay
	}

	e.limiter.SetStoreLimit(domainName, effectiveRPM(store, crawlDelay))
	if err := e.limiter.Acquire(ctx, domainName); err != nil {
		return failure(pageURL, domainName, 0, err)
	}

	if e.cfg.EnableRetries {
		return e.scrapeWithRetry(ctx, pageURL, domainName, store, opts)
	}

	result, err := e.attempt(ctx, pageURL, domainName, store, opts, false)
	if err != nil {
		e.ua.ReportFailure(domainName)
		return failure(pageURL, domainName, 1, err)
	}
	result.Attempts = 1
	e.ua.ReportSuccess(domainName)
	return result
}

// lookupStore fetches the retailer config, enforcing the whitelist when
// configured. Unknown hosts pass with a zero Store unless enforcement is
// on.
func (e *Engine) lookupStore(ctx context.Context, domainName string) (domain.Store, error) {
	store, err := e.stores.GetByDomain(ctx, domainName)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		store = domain.Store{}
	default:
		return domain.Store{}, fmt.Errorf("scrape: store lookup: %w", err)
	}

	if e.cfg.EnforceWhitelist {
		if !store.IsWhitelisted || !store.IsActive {
			return domain.Store{}, fmt.Errorf("scrape: %w: %s", domain.ErrUnsupportedStore, domainName)
		}
	}
	return store, nil
}

// effectiveRPM picks the store's configured rate, tightened further when
// robots.txt asks for a crawl-delay wider than the rate spacing.
func effectiveRPM(store domain.Store, crawlDelay time.Duration) int {
	rpm := store.RateLimitRPM
	if rpm <= 0 {
		rpm = defaultStoreLimit
	}
	if crawlDelay > 0 {
		if fromDelay := int(time.Minute / crawlDelay); fromDelay < rpm {
			rpm = fromDelay
			if rpm < 1 {
				rpm = 1
			}
		}
	}
	return rpm
}

// scrapeWithRetry drives the attempt loop. Blocked responses follow the
// per-block evasion policy (cooldown, UA rotation, cookie clearing, its
// own retry cap); everything else follows the category backoff matrix.
func (e *Engine) scrapeWithRetry(ctx context.Context, pageURL, domainName string, store domain.Store, opts Options) Result {
	var (
		attempt      int
		clearCookies bool
		lastErr      error
		override     string
	)

	for {
		result, err := e.attempt(ctx, pageURL, domainName, store, opts, clearCookies)
		if err == nil {
			result.Attempts = attempt + 1
			e.ua.ReportSuccess(domainName)
			return result
		}
		lastErr = err
		clearCookies = false

		retryable := false
		wait := time.Duration(0)

		var se *domain.ScrapeError
		if errors.As(err, &se) && se.Block != "" {
			ev := EvasionFor(se.Block)
			retryable = ev.Retryable && attempt < ev.MaxRetries
			wait = ev.Wait
			if se.RetryAfter > wait {
				wait = se.RetryAfter
			}
			if retryable {
				if ev.RotateUA {
					e.ua.Rotate(domainName)
				}
				clearCookies = ev.ClearCookies
			} else if ev.Message != "" {
				override = ev.Message
			}
		} else {
			cat := ClassifyError(err)
			retryable = attempt < MaxRetries(cat)
			wait = RetryDelay(cat, attempt)
		}

		if !retryable {
			break
		}

		e.logger.Debug("retrying scrape",
			"url", pageURL, "attempt", attempt+1, "wait", wait, "error", err)
		if err := sleepCtx(ctx, wait); err != nil {
			lastErr = err
			break
		}
		attempt++
	}

	e.ua.ReportFailure(domainName)
	result := failure(pageURL, domainName, attempt+1, lastErr)
	if override != "" {
		result.ErrorMessage = override
	}
	e.logger.Warn("scrape failed",
		"url", pageURL, "attempts", result.Attempts,
		"error_type", result.ErrorType, "error", result.ErrorMessage)
	return result
}

// attempt performs one fetch + extract pass under the operation deadline.
func (e *Engine) attempt(ctx context.Context, pageURL, domainName string, store domain.Store, opts Options, clearCookies bool) (Result, error) {
	opCtx := ctx
	if e.cfg.OperationTimeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, e.cfg.OperationTimeout)
		defer cancel()
	}

	page, status, fromCache, err := e.fetchPage(opCtx, pageURL, domainName, store, opts, clearCookies)
	if err != nil {
		if opCtx.Err() != nil && ctx.Err() == nil {
			return Result{}, domain.NewScrapeError(domain.ScrapeErrTimeout,
				"Operation timed out after %.0fs", e.cfg.OperationTimeout.Seconds())
		}
		return Result{}, err
	}

	if status == 0 {
		status = http.StatusOK
	}
	if det := DetectBlock(status, nil, page); det != nil {
		e.logger.Info("block detected",
			"url", pageURL, "type", det.Type, "confidence", det.Confidence)
		return Result{}, BlockError(det)
	}

	if opts.UseCache && e.pages != nil && !fromCache {
		_ = e.pages.Set(opCtx, pageURL, page, e.pagesTTL)
	}

	snap, strategy, ok := e.extract(opCtx, page, pageURL, store.Selectors)
	if !ok {
		return Result{}, domain.NewScrapeError(domain.ScrapeErrParseFailure,
			"Failed to extract product data from page")
	}

	return Result{
		Success:    true,
		Snapshot:   snap,
		URL:        pageURL,
		Domain:     domainName,
		Strategy:   strategy,
		StatusCode: status,
	}, nil
}

// fetchPage returns the page body, preferring the cache when asked.
func (e *Engine) fetchPage(ctx context.Context, pageURL, domainName string, store domain.Store, opts Options, clearCookies bool) (body string, status int, fromCache bool, err error) {
	if opts.UseCache && e.pages != nil {
		if cached, cacheErr := e.pages.Get(ctx, pageURL); cacheErr == nil {
			return cached, http.StatusOK, true, nil
		}
	}

	res, err := e.fetcher.Fetch(ctx, FetchRequest{
		URL:          pageURL,
		Headers:      e.ua.Headers(domainName),
		WaitFor:      store.Selectors.WaitFor,
		Timeout:      e.cfg.RequestTimeout,
		ClearCookies: clearCookies,
	})
	if err != nil {
		return "", 0, false, err
	}
	return res.HTML, res.StatusCode, false, nil
}

// extract runs the waterfall. JSON-LD always gets first shot since it
// needs no configuration; CSS and XPath consume the store selectors; the
// LLM stage runs only when a client is attached and everything else came
// up short.
func (e *Engine) extract(ctx context.Context, page, pageURL string, sel domain.Selectors) (domain.PriceSnapshot, domain.ExtractionStrategy, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err == nil {
		if snap, found := ExtractJSONLD(doc, pageURL); found && snap.Complete() {
			return snap, domain.StrategyJSONLD, true
		}
		if snap := ExtractCSS(doc, sel, pageURL); snap.Complete() {
			return snap, domain.StrategyCSS, true
		}
	}

	if snap, ok := ExtractXPath(page, sel); ok && snap.Complete() {
		return snap, domain.StrategyXPath, true
	}

	if e.llm.Enabled() {
		snap, err := ExtractLLM(ctx, e.llm, page, pageURL)
		if err != nil {
			e.logger.Warn("llm extraction failed", "url", pageURL, "error", err)
		} else if snap.Complete() {
			return snap, domain.StrategyLLM, true
		}
	}

	return domain.PriceSnapshot{}, "", false
}

// FetchHTML shares the scrape preflight (whitelist, SSRF, robots, rate
// limit, UA headers, block detection) but stops before extraction. The
// healing pipeline uses it to pull representative pages.
func (e *Engine) FetchHTML(ctx context.Context, rawURL string) (string, error) {
	pageURL, err := NormalizeURL(rawURL)
	if err != nil {
		return "", err
	}
	domainName, err := ExtractDomain(pageURL)
	if err != nil {
		return "", err
	}
	store, err := e.lookupStore(ctx, domainName)
	if err != nil {
		return "", err
	}
	if err := CheckSSRF(ctx, pageURL); err != nil {
		return "", err
	}

	crawlDelay := time.Duration(0)
	if e.cfg.RespectRobots {
		verdict := e.robots.Check(ctx, pageURL)
		if !verdict.Allowed {
			return "", fmt.Errorf("scrape: %w: %s", domain.ErrRobotsBlocked, verdict.Reason)
		}
		crawlDelay = verdict.CrawlDelay
	}

	e.limiter.SetStoreLimit(domainName, effectiveRPM(store, crawlDelay))
	if err := e.limiter.Acquire(ctx, domainName); err != nil {
		return "", err
	}

	res, err := e.fetcher.Fetch(ctx, FetchRequest{
		URL:     pageURL,
		Headers: e.ua.Headers(domainName),
		WaitFor: store.Selectors.WaitFor,
		Timeout: e.cfg.RequestTimeout,
	})
	if err != nil {
		e.ua.ReportFailure(domainName)
		return "", err
	}

	status := res.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	if det := DetectBlock(status, nil, res.HTML); det != nil {
		e.ua.ReportFailure(domainName)
		return "", BlockError(det)
	}

	e.ua.ReportSuccess(domainName)
	return res.HTML, nil
}

// ScrapeBatch scrapes URLs preserving input order. Small batches go
// sequentially; larger ones fan out bounded by MaxConcurrent, with the
// browser slots as the real ceiling.
func (e *Engine) ScrapeBatch(ctx context.Context, urls []string, opts Options) []Result {
	if len(urls) == 0 {
		return nil
	}

	results := make([]Result, len(urls))

	if len(urls) <= smallBatchMax {
		for i, u := range urls {
			results[i] = e.Scrape(ctx, u, opts)
		}
		return results
	}

	g, gctx := errgroup.WithContext(ctx)
	limit := e.cfg.MaxConcurrent
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, u := range urls {
		g.Go(func() error {
			results[i] = e.Scrape(gctx, u, opts)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// failure folds an error into a failed result, swapping in the canned
// per-category message where one exists and stamping the attempt-count
// messages for transport categories.
func failure(pageURL, domainName string, attempts int, err error) Result {
	se := domain.ScrapeErrorFrom(err)

	msg := se.Error()
	cat := ClassifyError(err)
	if friendly, ok := FriendlyMessage(cat); ok {
		msg = friendly
	} else if attempts > 0 {
		switch cat {
		case FailureNetwork:
			msg = fmt.Sprintf("Network error after %d attempts. Please check your connection.", attempts)
		case FailureTimeout:
			msg = fmt.Sprintf("Request timed out after %d attempts. The website may be slow.", attempts)
		case FailureServer:
			msg = fmt.Sprintf("Server error after %d attempts. The website may be having issues.", attempts)
		}
	}

	return Result{
		URL:          pageURL,
		Domain:       domainName,
		Attempts:     attempts,
		ErrorType:    se.Type,
		ErrorMessage: msg,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return domain.ErrContextDone
	case <-timer.C:
		return nil
	}
}
