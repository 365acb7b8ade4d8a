package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/pricewatch/internal/alert"
	"github.com/alanyoungcy/pricewatch/internal/domain"
	"github.com/alanyoungcy/pricewatch/internal/scrape"
)

func ptr(v float64) *float64 { return &v }

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

type fakeScraper struct {
	mu      sync.Mutex
	scraped []string
	results map[string]scrape.Result
}

func (f *fakeScraper) Scrape(_ context.Context, rawURL string, _ scrape.Options) scrape.Result {
	f.mu.Lock()
	f.scraped = append(f.scraped, rawURL)
	f.mu.Unlock()
	if res, ok := f.results[rawURL]; ok {
		return res
	}
	return scrape.Result{Success: false, URL: rawURL, ErrorType: domain.ScrapeErrNetwork, ErrorMessage: "no fixture"}
}

type fakeProductStore struct {
	products map[int64]domain.Product
	updates  []domain.Product
}

func newFakeProductStore(products ...domain.Product) *fakeProductStore {
	f := &fakeProductStore{products: make(map[int64]domain.Product)}
	for _, p := range products {
		f.products[p.ID] = p
	}
	return f
}

func (f *fakeProductStore) Create(_ context.Context, p domain.Product) (domain.Product, error) {
	f.products[p.ID] = p
	return p, nil
}

func (f *fakeProductStore) GetByID(_ context.Context, id int64) (domain.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return domain.Product{}, domain.ErrNotFound
	}
	return p, nil
}

func (f *fakeProductStore) GetByURL(_ context.Context, url string) (domain.Product, error) {
	for _, p := range f.products {
		if p.URL == url {
			return p, nil
		}
	}
	return domain.Product{}, domain.ErrNotFound
}

func (f *fakeProductStore) ListActive(_ context.Context, _ domain.ListOpts) ([]domain.Product, error) {
	var out []domain.Product
	for _, p := range f.products {
		if p.Monitorable() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeProductStore) ListByStore(_ context.Context, d string, _ domain.ListOpts) ([]domain.Product, error) {
	var out []domain.Product
	for _, p := range f.products {
		if p.StoreDomain == d && p.DeletedAt == nil {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeProductStore) ListHealingCandidates(_ context.Context, minFailures, limit int) ([]domain.Product, error) {
	var out []domain.Product
	for _, p := range f.products {
		if p.ConsecutiveFailures >= minFailures && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeProductStore) Update(_ context.Context, p domain.Product) error {
	f.updates = append(f.updates, p)
	f.products[p.ID] = p
	return nil
}

func (f *fakeProductStore) IncrementFailures(_ context.Context, id int64) (int, error) {
	p := f.products[id]
	p.ConsecutiveFailures++
	f.products[id] = p
	return p.ConsecutiveFailures, nil
}

func (f *fakeProductStore) ResetFailures(_ context.Context, id int64) error {
	p := f.products[id]
	p.ConsecutiveFailures = 0
	f.products[id] = p
	return nil
}

func (f *fakeProductStore) SetStatus(_ context.Context, id int64, status domain.ProductStatus) error {
	p := f.products[id]
	p.Status = status
	f.products[id] = p
	return nil
}

func (f *fakeProductStore) SoftDelete(_ context.Context, id int64) error {
	p := f.products[id]
	now := time.Now().UTC()
	p.DeletedAt = &now
	f.products[id] = p
	return nil
}

func (f *fakeProductStore) Count(_ context.Context) (int64, error) {
	return int64(len(f.products)), nil
}

type fakeHistory struct {
	points []domain.PricePoint
}

func (f *fakeHistory) Append(_ context.Context, p domain.PricePoint) error {
	f.points = append(f.points, p)
	return nil
}

func (f *fakeHistory) Latest(_ context.Context, productID int64) (domain.PricePoint, error) {
	for i := len(f.points) - 1; i >= 0; i-- {
		if f.points[i].ProductID == productID {
			return f.points[i], nil
		}
	}
	return domain.PricePoint{}, domain.ErrNotFound
}

func (f *fakeHistory) ListByProduct(_ context.Context, productID int64, _ domain.ListOpts) ([]domain.PricePoint, error) {
	var out []domain.PricePoint
	for _, p := range f.points {
		if p.ProductID == productID {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeLogStore struct {
	logs          []domain.ScrapeLog
	deletedBefore []time.Time
	deleteReturn  int64
}

func (f *fakeLogStore) Insert(_ context.Context, l domain.ScrapeLog) error {
	f.logs = append(f.logs, l)
	return nil
}

func (f *fakeLogStore) LatestByProduct(_ context.Context, productID int64) (domain.ScrapeLog, error) {
	for i := len(f.logs) - 1; i >= 0; i-- {
		if f.logs[i].ProductID == productID {
			return f.logs[i], nil
		}
	}
	return domain.ScrapeLog{}, domain.ErrNotFound
}

func (f *fakeLogStore) LatestFailure(_ context.Context, productID int64) (domain.ScrapeLog, error) {
	for i := len(f.logs) - 1; i >= 0; i-- {
		if f.logs[i].ProductID == productID && !f.logs[i].Success {
			return f.logs[i], nil
		}
	}
	return domain.ScrapeLog{}, domain.ErrNotFound
}

func (f *fakeLogStore) ListByProduct(_ context.Context, productID int64, limit int) ([]domain.ScrapeLog, error) {
	var out []domain.ScrapeLog
	for i := len(f.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if f.logs[i].ProductID == productID {
			out = append(out, f.logs[i])
		}
	}
	return out, nil
}

func (f *fakeLogStore) CountSince(_ context.Context, _ string, _ time.Time) (int64, int64, error) {
	return 0, 0, nil
}

func (f *fakeLogStore) LatestSuccess(_ context.Context, _ string) (time.Time, error) {
	return time.Time{}, domain.ErrNotFound
}

func (f *fakeLogStore) ListBefore(_ context.Context, _ time.Time, _ int) ([]domain.ScrapeLog, error) {
	return nil, nil
}

func (f *fakeLogStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	f.deletedBefore = append(f.deletedBefore, before)
	return f.deleteReturn, nil
}

type fakeCanonical struct {
	byUPC  map[string]domain.CanonicalProduct
	nextID int64
}

func (f *fakeCanonical) Create(_ context.Context, c domain.CanonicalProduct) (domain.CanonicalProduct, error) {
	if f.byUPC == nil {
		f.byUPC = make(map[string]domain.CanonicalProduct)
	}
	f.nextID++
	c.ID = f.nextID
	f.byUPC[c.UPC] = c
	return c, nil
}

func (f *fakeCanonical) GetByUPC(_ context.Context, upc string) (domain.CanonicalProduct, error) {
	c, ok := f.byUPC[upc]
	if !ok {
		return domain.CanonicalProduct{}, domain.ErrNotFound
	}
	return c, nil
}

type fakeScheduleStore struct {
	schedules map[int64]domain.Schedule
	nextID    int64
}

func newFakeScheduleStore() *fakeScheduleStore {
	return &fakeScheduleStore{schedules: make(map[int64]domain.Schedule)}
}

func (f *fakeScheduleStore) add(s domain.Schedule) domain.Schedule {
	f.nextID++
	s.ID = f.nextID
	f.schedules[s.ID] = s
	return s
}

func (f *fakeScheduleStore) Create(_ context.Context, s domain.Schedule) (domain.Schedule, error) {
	return f.add(s), nil
}

func (f *fakeScheduleStore) GetByID(_ context.Context, id int64) (domain.Schedule, error) {
	s, ok := f.schedules[id]
	if !ok {
		return domain.Schedule{}, domain.ErrNotFound
	}
	return s, nil
}

func (f *fakeScheduleStore) GetByProduct(_ context.Context, productID int64) (domain.Schedule, error) {
	for _, s := range f.schedules {
		if s.ProductID != nil && *s.ProductID == productID {
			return s, nil
		}
	}
	return domain.Schedule{}, domain.ErrNotFound
}

func (f *fakeScheduleStore) GetByStore(_ context.Context, d string) (domain.Schedule, error) {
	for _, s := range f.schedules {
		if s.StoreDomain != nil && *s.StoreDomain == d {
			return s, nil
		}
	}
	return domain.Schedule{}, domain.ErrNotFound
}

func (f *fakeScheduleStore) ListActive(_ context.Context) ([]domain.Schedule, error) {
	var out []domain.Schedule
	for _, s := range f.schedules {
		if s.IsActive && s.DeletedAt == nil {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeScheduleStore) ListDue(_ context.Context, now time.Time) ([]domain.Schedule, error) {
	var out []domain.Schedule
	for _, s := range f.schedules {
		if s.IsActive && s.DeletedAt == nil && s.NextRunAt != nil && !s.NextRunAt.After(now) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeScheduleStore) UpdateRun(_ context.Context, id int64, lastRun, nextRun time.Time) error {
	s := f.schedules[id]
	s.LastRunAt = &lastRun
	s.NextRunAt = &nextRun
	f.schedules[id] = s
	return nil
}

func (f *fakeScheduleStore) SetActive(_ context.Context, id int64, active bool) error {
	s := f.schedules[id]
	s.IsActive = active
	f.schedules[id] = s
	return nil
}

func (f *fakeScheduleStore) Delete(_ context.Context, id int64) error {
	delete(f.schedules, id)
	return nil
}

type fakeAlerts struct {
	evals []alert.Evaluation
	calls int
}

func (f *fakeAlerts) Evaluate(_ context.Context, _ domain.Product, _ *float64, _ bool) ([]alert.Evaluation, error) {
	f.calls++
	return f.evals, nil
}

type fakeNotifier struct {
	alerts []int64
	errors []int64
}

func (f *fakeNotifier) SendAlert(_ context.Context, _ domain.Product, a domain.Alert, _ string, _ *float64) error {
	f.alerts = append(f.alerts, a.ID)
	return nil
}

func (f *fakeNotifier) SendProductError(_ context.Context, p domain.Product, _ string) error {
	f.errors = append(f.errors, p.ID)
	return nil
}

type fakeFailures struct {
	successes []int64
	failures  []int64
	status    domain.ProductStatus
}

func (f *fakeFailures) RecordSuccess(_ context.Context, p domain.Product) error {
	f.successes = append(f.successes, p.ID)
	return nil
}

func (f *fakeFailures) RecordFailure(_ context.Context, p domain.Product, _ domain.ScrapeErrorType) (domain.ProductStatus, error) {
	f.failures = append(f.failures, p.ID)
	if f.status != "" {
		return f.status, nil
	}
	return domain.ProductStatusError, nil
}

type dispatcherFixture struct {
	scraper  *fakeScraper
	products *fakeProductStore
	history  *fakeHistory
	logs     *fakeLogStore
	sched    *fakeScheduleStore
	canon    *fakeCanonical
	alerts   *fakeAlerts
	notifier *fakeNotifier
	failures *fakeFailures
	d        *Dispatcher
}

func newFixture(products ...domain.Product) *dispatcherFixture {
	fx := &dispatcherFixture{
		scraper:  &fakeScraper{results: make(map[string]scrape.Result)},
		products: newFakeProductStore(products...),
		history:  &fakeHistory{},
		logs:     &fakeLogStore{},
		sched:    newFakeScheduleStore(),
		canon:    &fakeCanonical{},
		alerts:   &fakeAlerts{},
		notifier: &fakeNotifier{},
		failures: &fakeFailures{},
	}
	fx.d = NewDispatcher(DispatcherDeps{
		Scraper:   fx.scraper,
		Products:  fx.products,
		History:   fx.history,
		Logs:      fx.logs,
		Schedules: fx.sched,
		Canonical: fx.canon,
		Alerts:    fx.alerts,
		Notifier:  fx.notifier,
		Failures:  fx.failures,
		Gate:      NewMemoryGate(0, testLogger()), // disabled
	}, testLogger())
	return fx
}

func successResult(url string, price float64) scrape.Result {
	return scrape.Result{
		Success:  true,
		URL:      url,
		Strategy: domain.StrategyJSONLD,
		Snapshot: domain.PriceSnapshot{
			Name:     "Widget",
			Price:    ptr(price),
			Currency: "CAD",
			InStock:  true,
		},
		StatusCode: 200,
	}
}

func TestDispatchAllSkipsCustomScheduledProducts(t *testing.T) {
	now := time.Now().UTC()
	fx := newFixture(
		domain.Product{ID: 1, URL: "https://bestbuy.ca/p/1", StoreDomain: "bestbuy.ca", Status: domain.ProductStatusActive, LastCheckedAt: &now},
		domain.Product{ID: 2, URL: "https://bestbuy.ca/p/2", StoreDomain: "bestbuy.ca", Status: domain.ProductStatusActive, LastCheckedAt: &now},
		domain.Product{ID: 3, URL: "https://walmart.ca/p/3", StoreDomain: "walmart.ca", Status: domain.ProductStatusActive, LastCheckedAt: &now},
	)
	// Product 2 has its own schedule; walmart.ca is store-scheduled.
	pid := int64(2)
	sd := "walmart.ca"
	fx.sched.add(domain.Schedule{ProductID: &pid, CronExpr: "0 9 * * *", IsActive: true})
	fx.sched.add(domain.Schedule{StoreDomain: &sd, CronExpr: "0 10 * * *", IsActive: true})

	fx.scraper.results["https://bestbuy.ca/p/1"] = successResult("https://bestbuy.ca/p/1", 19.99)

	if err := fx.d.DispatchAll(context.Background()); err != nil {
		t.Fatalf("DispatchAll: %v", err)
	}

	if len(fx.scraper.scraped) != 1 || fx.scraper.scraped[0] != "https://bestbuy.ca/p/1" {
		t.Errorf("scraped %v, want only product 1", fx.scraper.scraped)
	}
	if len(fx.logs.logs) != 1 {
		t.Fatalf("wrote %d scrape logs, want 1", len(fx.logs.logs))
	}
	if fx.logs.logs[0].BatchID == "" {
		t.Error("scrape log missing batch id")
	}
}

func TestSuccessUpdatesProductAndHistory(t *testing.T) {
	fx := newFixture(domain.Product{
		ID: 1, URL: "https://bestbuy.ca/p/1", StoreDomain: "bestbuy.ca",
		Status: domain.ProductStatusActive, Currency: "CAD",
	})
	res := successResult("https://bestbuy.ca/p/1", 19.99)
	res.Snapshot.Brand = "Acme"
	res.Snapshot.UPC = "036000291452"

	fx.d.processResult(context.Background(), fx.products.products[1], res, "batch-1")

	p := fx.products.products[1]
	if p.CurrentPrice == nil || *p.CurrentPrice != 19.99 {
		t.Errorf("price = %v, want 19.99", p.CurrentPrice)
	}
	if p.Name != "Widget" || p.Brand != "Acme" {
		t.Errorf("descriptive fields not filled: %q %q", p.Name, p.Brand)
	}
	if p.LastCheckedAt == nil {
		t.Error("last_checked_at not stamped")
	}
	if p.CanonicalID == nil {
		t.Error("canonical identity not linked despite UPC")
	}

	// First observation appends history and counts as a success.
	if len(fx.history.points) != 1 {
		t.Fatalf("history points = %d, want 1", len(fx.history.points))
	}
	if fx.history.points[0].Price != 19.99 || !fx.history.points[0].InStock {
		t.Errorf("history point = %+v", fx.history.points[0])
	}
	if len(fx.failures.successes) != 1 {
		t.Errorf("RecordSuccess calls = %d, want 1", len(fx.failures.successes))
	}

	// Same price again: no new history row.
	fx.d.processResult(context.Background(), fx.products.products[1], res, "batch-2")
	if len(fx.history.points) != 1 {
		t.Errorf("unchanged price appended history: %d points", len(fx.history.points))
	}

	// A two-dollar drop appends.
	res2 := successResult("https://bestbuy.ca/p/1", 17.99)
	fx.d.processResult(context.Background(), fx.products.products[1], res2, "batch-3")
	if len(fx.history.points) != 2 {
		t.Errorf("price drop did not append history: %d points", len(fx.history.points))
	}
}

func TestSuccessDoesNotOverwriteExistingMetadata(t *testing.T) {
	fx := newFixture(domain.Product{
		ID: 1, URL: "https://bestbuy.ca/p/1", StoreDomain: "bestbuy.ca",
		Status: domain.ProductStatusActive, Name: "Curated Name", Brand: "Curated Brand",
	})
	res := successResult("https://bestbuy.ca/p/1", 10)
	res.Snapshot.Name = "Scraped Name"
	res.Snapshot.Brand = "Scraped Brand"

	fx.d.processResult(context.Background(), fx.products.products[1], res, "b")

	p := fx.products.products[1]
	if p.Name != "Curated Name" || p.Brand != "Curated Brand" {
		t.Errorf("metadata overwritten: %q %q", p.Name, p.Brand)
	}
}

func TestSuccessSendsTriggeredAlerts(t *testing.T) {
	fx := newFixture(domain.Product{
		ID: 1, URL: "https://bestbuy.ca/p/1", StoreDomain: "bestbuy.ca",
		Status: domain.ProductStatusActive, CurrentPrice: ptr(60), InStock: true,
	})
	fx.alerts.evals = []alert.Evaluation{
		{Alert: domain.Alert{ID: 11, ProductID: 1, Type: domain.AlertTargetPrice}, Reason: "price reached target"},
	}

	fx.d.processResult(context.Background(), fx.products.products[1], successResult("https://bestbuy.ca/p/1", 45), "b")

	if fx.alerts.calls != 1 {
		t.Fatalf("Evaluate calls = %d, want 1", fx.alerts.calls)
	}
	if len(fx.notifier.alerts) != 1 || fx.notifier.alerts[0] != 11 {
		t.Errorf("notified alerts = %v, want [11]", fx.notifier.alerts)
	}
}

func TestFailureNotifiesOnNeedsAttentionTransition(t *testing.T) {
	fx := newFixture(domain.Product{
		ID: 1, URL: "https://bestbuy.ca/p/1", StoreDomain: "bestbuy.ca",
		Status: domain.ProductStatusActive,
	})
	fx.failures.status = domain.ProductStatusNeedsAttention

	fail := scrape.Result{
		Success: false, URL: "https://bestbuy.ca/p/1",
		ErrorType: domain.ScrapeErrNotFound, ErrorMessage: "Product page not found (404). The URL may be invalid.",
	}
	fx.d.processResult(context.Background(), fx.products.products[1], fail, "b")

	if len(fx.failures.failures) != 1 {
		t.Fatalf("RecordFailure calls = %d, want 1", len(fx.failures.failures))
	}
	if len(fx.notifier.errors) != 1 || fx.notifier.errors[0] != 1 {
		t.Errorf("product error notifications = %v, want [1]", fx.notifier.errors)
	}

	// Already parked: no repeat notification.
	p := fx.products.products[1]
	p.Status = domain.ProductStatusNeedsAttention
	fx.products.products[1] = p
	fx.d.processResult(context.Background(), p, fail, "b")
	if len(fx.notifier.errors) != 1 {
		t.Errorf("repeat notification sent: %v", fx.notifier.errors)
	}
}

func TestCancelledContextWritesNothing(t *testing.T) {
	fx := newFixture(domain.Product{
		ID: 1, URL: "https://bestbuy.ca/p/1", StoreDomain: "bestbuy.ca",
		Status: domain.ProductStatusActive,
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fx.d.processResult(ctx, fx.products.products[1], successResult("https://bestbuy.ca/p/1", 10), "b")

	if len(fx.logs.logs) != 0 || len(fx.history.points) != 0 || len(fx.products.updates) != 0 {
		t.Error("cancelled processing wrote rows")
	}
}

func TestDispatchProductRejectsUnmonitorable(t *testing.T) {
	fx := newFixture(domain.Product{
		ID: 1, URL: "https://bestbuy.ca/p/1", StoreDomain: "bestbuy.ca",
		Status: domain.ProductStatusPaused,
	})
	if err := fx.d.DispatchProduct(context.Background(), 1); err == nil {
		t.Fatal("paused product dispatched")
	}
	if len(fx.scraper.scraped) != 0 {
		t.Errorf("scraped %v, want none", fx.scraper.scraped)
	}
}

func TestPriceMoved(t *testing.T) {
	tests := []struct {
		name string
		prev *float64
		cur  *float64
		want bool
	}{
		{"both nil", nil, nil, false},
		{"appeared", nil, ptr(10), true},
		{"disappeared", ptr(10), nil, true},
		{"unchanged", ptr(10), ptr(10), false},
		{"sub-cent wiggle", ptr(10.001), ptr(10.005), false},
		{"one cent", ptr(10.00), ptr(10.01), true},
		{"rose", ptr(10), ptr(12), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := priceMoved(tt.prev, tt.cur); got != tt.want {
				t.Errorf("priceMoved = %v, want %v", got, tt.want)
			}
		})
	}
}
