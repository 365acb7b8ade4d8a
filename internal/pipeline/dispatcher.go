// Package pipeline orchestrates batch scraping: grouping tracked
// products by host, pacing requests, and folding each result into the
// product row, price history, alerts and index events. It also owns the
// retention cleanup job.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/pricewatch/internal/alert"
	"github.com/alanyoungcy/pricewatch/internal/domain"
	"github.com/alanyoungcy/pricewatch/internal/index"
	"github.com/alanyoungcy/pricewatch/internal/scrape"
)

const (
	// hostChunkSize bounds how many products of one host are scraped
	// before a pacing pause.
	hostChunkSize = 10
	// chunkDelay separates chunks within one host.
	chunkDelay = time.Second
	// hostDelay separates hosts within a run.
	hostDelay = 2 * time.Second
	// listPageSize pages product listing queries.
	listPageSize = 500
)

// Scraper runs one product page scrape.
type Scraper interface {
	Scrape(ctx context.Context, rawURL string, opts scrape.Options) scrape.Result
}

// AlertEvaluator checks a product's alerts after a successful scrape.
type AlertEvaluator interface {
	Evaluate(ctx context.Context, p domain.Product, prevPrice *float64, wasInStock bool) ([]alert.Evaluation, error)
}

// Notifier delivers user-facing notifications.
type Notifier interface {
	SendAlert(ctx context.Context, p domain.Product, a domain.Alert, reason string, prevPrice *float64) error
	SendProductError(ctx context.Context, p domain.Product, message string) error
}

// FailureRecorder applies the consecutive-failure bookkeeping after
// each scrape. RecordFailure returns the product's resulting status.
type FailureRecorder interface {
	RecordSuccess(ctx context.Context, p domain.Product) error
	RecordFailure(ctx context.Context, p domain.Product, errType domain.ScrapeErrorType) (domain.ProductStatus, error)
}

// DispatcherDeps wires the dispatcher's collaborators.
type DispatcherDeps struct {
	Scraper   Scraper
	Products  domain.ProductStore
	History   domain.PriceHistoryStore
	Logs      domain.ScrapeLogStore
	Schedules domain.ScheduleStore
	Canonical domain.CanonicalStore
	Alerts    AlertEvaluator
	Notifier  Notifier
	Failures  FailureRecorder
	Events    *index.Emitter
	Gate      *MemoryGate
}

// Dispatcher fans batch scrapes out across hosts and processes every
// result. Each run is stamped with a fresh batch id on its scrape logs.
type Dispatcher struct {
	deps   DispatcherDeps
	logger *slog.Logger
}

func NewDispatcher(deps DispatcherDeps, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		deps:   deps,
		logger: logger.With("component", "dispatcher"),
	}
}

// runStats aggregates outcomes across one dispatcher run.
type runStats struct {
	scraped   int
	succeeded int
	failed    int
}

// DispatchAll scrapes every monitorable product that is not covered by
// a custom product or store schedule. This is the daily default run.
func (d *Dispatcher) DispatchAll(ctx context.Context) error {
	batchID := uuid.NewString()
	started := time.Now()

	products, err := d.defaultProducts(ctx)
	if err != nil {
		return err
	}
	if len(products) == 0 {
		d.logger.Info("no products due for default run", slog.String("batch_id", batchID))
		return nil
	}

	groups := groupByHost(products)
	hosts := make([]string, 0, len(groups))
	for host := range groups {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)

	d.logger.Info("batch run starting",
		slog.String("batch_id", batchID),
		slog.Int("products", len(products)),
		slog.Int("hosts", len(hosts)),
	)

	var stats runStats
	for i, host := range hosts {
		if i > 0 {
			if err := sleepCtx(ctx, hostDelay); err != nil {
				return err
			}
		}
		if err := d.dispatchHost(ctx, groups[host], batchID, &stats); err != nil {
			return err
		}
	}

	d.logger.Info("batch run finished",
		slog.String("batch_id", batchID),
		slog.Int("scraped", stats.scraped),
		slog.Int("succeeded", stats.succeeded),
		slog.Int("failed", stats.failed),
		slog.Duration("took", time.Since(started)),
	)
	return nil
}

// DispatchStore scrapes every monitorable product of one store.
func (d *Dispatcher) DispatchStore(ctx context.Context, storeDomain string) error {
	batchID := uuid.NewString()

	var products []domain.Product
	for offset := 0; ; offset += listPageSize {
		page, err := d.deps.Products.ListByStore(ctx, storeDomain, domain.ListOpts{Limit: listPageSize, Offset: offset})
		if err != nil {
			return fmt.Errorf("pipeline: list products for %s: %w", storeDomain, err)
		}
		for _, p := range page {
			if p.Monitorable() {
				products = append(products, p)
			}
		}
		if len(page) < listPageSize {
			break
		}
	}
	if len(products) == 0 {
		d.logger.Info("no monitorable products for store", slog.String("store", storeDomain))
		return nil
	}

	d.logger.Info("store batch starting",
		slog.String("batch_id", batchID),
		slog.String("store", storeDomain),
		slog.Int("products", len(products)),
	)
	var stats runStats
	if err := d.dispatchHost(ctx, products, batchID, &stats); err != nil {
		return err
	}
	d.logger.Info("store batch finished",
		slog.String("batch_id", batchID),
		slog.String("store", storeDomain),
		slog.Int("succeeded", stats.succeeded),
		slog.Int("failed", stats.failed),
	)
	return nil
}

// DispatchProduct scrapes one tracked product and processes the result.
func (d *Dispatcher) DispatchProduct(ctx context.Context, productID int64) error {
	p, err := d.deps.Products.GetByID(ctx, productID)
	if err != nil {
		return fmt.Errorf("pipeline: product %d: %w", productID, err)
	}
	if !p.Monitorable() {
		return fmt.Errorf("pipeline: product %d is %s, not monitorable", productID, p.Status)
	}

	batchID := uuid.NewString()
	res := d.deps.Scraper.Scrape(ctx, p.URL, scrape.Options{})
	d.processResult(ctx, p, res, batchID)

	if !res.Success {
		return fmt.Errorf("pipeline: scrape product %d: %s: %s", productID, res.ErrorType, res.ErrorMessage)
	}
	return nil
}

// defaultProducts pages through monitorable products and drops the ones
// governed by a custom schedule. A product schedule beats a store
// schedule beats the default run.
func (d *Dispatcher) defaultProducts(ctx context.Context) ([]domain.Product, error) {
	scheduled, err := d.deps.Schedules.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: list schedules: %w", err)
	}
	productSched := make(map[int64]bool)
	storeSched := make(map[string]bool)
	for _, sc := range scheduled {
		switch {
		case sc.ProductID != nil:
			productSched[*sc.ProductID] = true
		case sc.StoreDomain != nil:
			storeSched[*sc.StoreDomain] = true
		}
	}

	var products []domain.Product
	for offset := 0; ; offset += listPageSize {
		page, err := d.deps.Products.ListActive(ctx, domain.ListOpts{Limit: listPageSize, Offset: offset})
		if err != nil {
			return nil, fmt.Errorf("pipeline: list products: %w", err)
		}
		for _, p := range page {
			if productSched[p.ID] || storeSched[p.StoreDomain] {
				continue
			}
			products = append(products, p)
		}
		if len(page) < listPageSize {
			break
		}
	}
	return products, nil
}

// dispatchHost walks one host's products in paced chunks. Within a
// chunk scrapes run concurrently; the browser semaphore inside the
// engine is what actually bounds parallelism.
func (d *Dispatcher) dispatchHost(ctx context.Context, products []domain.Product, batchID string, stats *runStats) error {
	for start := 0; start < len(products); start += hostChunkSize {
		if start > 0 {
			if err := sleepCtx(ctx, chunkDelay); err != nil {
				return err
			}
		}
		if err := d.deps.Gate.Wait(ctx); err != nil {
			return err
		}

		end := start + hostChunkSize
		if end > len(products) {
			end = len(products)
		}
		chunk := products[start:end]

		results := make([]scrape.Result, len(chunk))
		var wg sync.WaitGroup
		for i, p := range chunk {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = d.deps.Scraper.Scrape(ctx, p.URL, scrape.Options{})
			}()
		}
		wg.Wait()

		for i, p := range chunk {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.processResult(ctx, p, results[i], batchID)
			stats.scraped++
			if results[i].Success {
				stats.succeeded++
			} else {
				stats.failed++
			}
		}
	}
	return nil
}

// groupByHost buckets products by their store domain.
func groupByHost(products []domain.Product) map[string][]domain.Product {
	groups := make(map[string][]domain.Product)
	for _, p := range products {
		groups[p.StoreDomain] = append(groups[p.StoreDomain], p)
	}
	return groups
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
