package heal

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

const (
	defaultMaxProductsPerRun  = 10
	defaultMaxHealingAttempts = 3
)

// HTMLFetcher pulls a raw page for regeneration. The scrape engine's
// bare-fetch path implements it.
type HTMLFetcher interface {
	FetchHTML(ctx context.Context, rawURL string) (string, error)
}

// StoreNotifier is the notification slice the healing and health cycles use.
type StoreNotifier interface {
	SendStoreFlagged(ctx context.Context, storeDomain string, successRate float64) error
}

// SelectorRegenerator produces candidate selector sets. Implemented by
// Regenerator; an interface so the controller can be exercised without a
// model behind it.
type SelectorRegenerator interface {
	Regenerate(ctx context.Context, html, storeDomain string, current *domain.Selectors) Regeneration
}

// HealingAttempt records one regeneration attempt against a store.
type HealingAttempt struct {
	ProductID     int64
	Domain        string
	Success       bool
	AttemptNumber int
	Err           string
	At            time.Time
}

// HealingReport summarizes one healing cycle.
type HealingReport struct {
	CandidatesChecked int
	ProductsHealed    int
	ProductsFailed    int
	FlaggedAttention  int
	StoresUpdated     int
	Attempts          []HealingAttempt
}

// Service orchestrates the healing cycle: detect failing products, group
// them by store, regenerate the store's selectors from one representative
// page, and either reset the whole group or flag it for manual review.
type Service struct {
	detector    *Detector
	regenerator SelectorRegenerator
	fetcher     HTMLFetcher
	stores      StoreDirectory
	health      *HealthCalculator
	notifier    StoreNotifier // nil disables store_flagged notifications

	maxPerRun   int
	maxAttempts int
	logger      *slog.Logger

	mu       sync.Mutex
	attempts map[int64]int // per-product attempt counts, reset on restart
}

func NewService(
	detector *Detector,
	regenerator SelectorRegenerator,
	fetcher HTMLFetcher,
	stores StoreDirectory,
	health *HealthCalculator,
	notifier StoreNotifier,
	maxPerRun, maxAttempts int,
	logger *slog.Logger,
) *Service {
	if maxPerRun < 1 {
		maxPerRun = defaultMaxProductsPerRun
	}
	if maxAttempts < 1 {
		maxAttempts = defaultMaxHealingAttempts
	}
	return &Service{
		detector:    detector,
		regenerator: regenerator,
		fetcher:     fetcher,
		stores:      stores,
		health:      health,
		notifier:    notifier,
		maxPerRun:   maxPerRun,
		maxAttempts: maxAttempts,
		logger:      logger.With("component", "heal"),
		attempts:    make(map[int64]int),
	}
}

// RunCycle executes one healing pass. An empty storeDomain covers all
// stores. After any healing work, store health is recomputed and stores
// below the floor are flagged.
func (s *Service) RunCycle(ctx context.Context, storeDomain string) (HealingReport, error) {
	var report HealingReport

	candidates, err := s.detector.Candidates(ctx, storeDomain, s.maxPerRun)
	if err != nil {
		return report, err
	}
	report.CandidatesChecked = len(candidates)

	if len(candidates) == 0 {
		s.logger.Info("no products need healing")
		return report, nil
	}
	s.logger.Info("healing cycle starting", "candidates", len(candidates))

	byStore := make(map[string][]domain.Product)
	for _, p := range candidates {
		byStore[p.StoreDomain] = append(byStore[p.StoreDomain], p)
	}
	hosts := make([]string, 0, len(byStore))
	for host := range byStore {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)

	for _, host := range hosts {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if s.healStoreGroup(ctx, host, byStore[host], &report) {
			report.StoresUpdated++
		}
	}

	if _, err := s.RunHealthCheck(ctx); err != nil {
		s.logger.Error("post-cycle health check failed", "error", err)
	}

	s.logger.Info("healing cycle finished",
		"healed", report.ProductsHealed,
		"failed", report.ProductsFailed,
		"flagged", report.FlaggedAttention,
		"stores_updated", report.StoresUpdated,
	)
	return report, nil
}

// RunHealthCheck recomputes store health and notifies once per store that
// fell below the floor.
func (s *Service) RunHealthCheck(ctx context.Context) (HealthReport, error) {
	report, err := s.health.Run(ctx)
	if err != nil {
		return HealthReport{}, err
	}
	if s.notifier == nil {
		return report, nil
	}
	for _, sh := range report.Unhealthy() {
		if err := s.notifier.SendStoreFlagged(ctx, sh.Domain, sh.SuccessRate); err != nil {
			s.logger.Error("store flagged notification failed", "store", sh.Domain, "error", err)
		}
	}
	return report, nil
}

// healStoreGroup runs one regeneration attempt for a store using the
// group's first (worst) product as the representative page. Success resets
// every grouped product; hitting the attempt cap parks them all.
func (s *Service) healStoreGroup(ctx context.Context, host string, group []domain.Product, report *HealingReport) bool {
	store, err := s.stores.GetByDomain(ctx, host)
	if err != nil {
		s.logger.Error("unknown store for healing candidates", "store", host, "error", err)
		report.ProductsFailed += len(group)
		return false
	}

	rep := group[0]
	attemptNum := s.attemptNumber(rep.ID)
	if attemptNum > s.maxAttempts {
		s.logger.Warn("product exceeded max healing attempts", "product_id", rep.ID, "store", host)
		if err := s.detector.FlagAttention(ctx, rep.ID); err != nil {
			s.logger.Error("flagging product failed", "product_id", rep.ID, "error", err)
		} else {
			report.FlaggedAttention++
		}
		return false
	}

	html, err := s.fetcher.FetchHTML(ctx, rep.URL)
	if err != nil {
		s.logger.Warn("healing fetch failed", "store", host, "url", rep.URL, "error", err)
		s.recordAttempt(report, rep, attemptNum, Regeneration{Domain: host, Err: err.Error()})
		s.storeAttempt(rep.ID, attemptNum)
		report.ProductsFailed += len(group)
		if attemptNum >= s.maxAttempts {
			s.flagGroup(ctx, group, report)
		}
		return false
	}

	var current *domain.Selectors
	if !store.Selectors.Price.Empty() || !store.Selectors.Name.Empty() || !store.Selectors.Availability.Empty() {
		cur := store.Selectors
		current = &cur
	}

	regen := s.regenerator.Regenerate(ctx, html, host, current)
	s.recordAttempt(report, rep, attemptNum, regen)
	s.storeAttempt(rep.ID, attemptNum)

	if !regen.Success {
		s.logger.Warn("selector regeneration rejected",
			"store", host,
			"attempt", attemptNum,
			"confidence", regen.Confidence,
			"reason", regen.Err,
		)
		report.ProductsFailed += len(group)
		if attemptNum >= s.maxAttempts {
			s.flagGroup(ctx, group, report)
		}
		return false
	}

	merged := store.Selectors.Merge(regen.Selectors)
	if err := s.stores.UpdateSelectors(ctx, host, merged); err != nil {
		s.logger.Error("persisting regenerated selectors failed", "store", host, "error", err)
		report.ProductsFailed += len(group)
		return false
	}

	for _, p := range group {
		if err := s.detector.RecordSuccess(ctx, p); err != nil {
			s.logger.Error("resetting healed product failed", "product_id", p.ID, "error", err)
			continue
		}
		s.clearAttempts(p.ID)
		report.ProductsHealed++
	}

	s.logger.Info("store selectors regenerated",
		"store", host,
		"products", len(group),
		"confidence", regen.Confidence,
		"attempt", attemptNum,
	)
	return true
}

func (s *Service) flagGroup(ctx context.Context, group []domain.Product, report *HealingReport) {
	for _, p := range group {
		if err := s.detector.FlagAttention(ctx, p.ID); err != nil {
			s.logger.Error("flagging product failed", "product_id", p.ID, "error", err)
			continue
		}
		report.FlaggedAttention++
	}
}

func (s *Service) recordAttempt(report *HealingReport, rep domain.Product, attemptNum int, regen Regeneration) {
	report.Attempts = append(report.Attempts, HealingAttempt{
		ProductID:     rep.ID,
		Domain:        regen.Domain,
		Success:       regen.Success,
		AttemptNumber: attemptNum,
		Err:           regen.Err,
		At:            time.Now().UTC(),
	})
}

// attemptNumber returns the number the next attempt would carry without
// committing it. The counter is only stored once an attempt actually runs,
// so a parked product does not keep accumulating.
func (s *Service) attemptNumber(productID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[productID] + 1
}

func (s *Service) storeAttempt(productID int64, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[productID] = n
}

func (s *Service) clearAttempts(productID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, productID)
}
