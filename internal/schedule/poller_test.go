package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

type fakeScheduleStore struct {
	schedules map[int64]domain.Schedule
	nextID    int64
}

func newFakeScheduleStore() *fakeScheduleStore {
	return &fakeScheduleStore{schedules: make(map[int64]domain.Schedule)}
}

func (f *fakeScheduleStore) add(sc domain.Schedule) domain.Schedule {
	f.nextID++
	sc.ID = f.nextID
	f.schedules[sc.ID] = sc
	return sc
}

func (f *fakeScheduleStore) Create(_ context.Context, sc domain.Schedule) (domain.Schedule, error) {
	now := time.Now().UTC()
	sc.CreatedAt, sc.UpdatedAt = now, now
	return f.add(sc), nil
}

func (f *fakeScheduleStore) GetByID(_ context.Context, id int64) (domain.Schedule, error) {
	sc, ok := f.schedules[id]
	if !ok || sc.DeletedAt != nil {
		return domain.Schedule{}, domain.ErrNotFound
	}
	return sc, nil
}

func (f *fakeScheduleStore) GetByProduct(_ context.Context, productID int64) (domain.Schedule, error) {
	for _, sc := range f.schedules {
		if sc.DeletedAt == nil && sc.ProductID != nil && *sc.ProductID == productID {
			return sc, nil
		}
	}
	return domain.Schedule{}, domain.ErrNotFound
}

func (f *fakeScheduleStore) GetByStore(_ context.Context, domainName string) (domain.Schedule, error) {
	for _, sc := range f.schedules {
		if sc.DeletedAt == nil && sc.ProductID == nil && sc.StoreDomain != nil && *sc.StoreDomain == domainName {
			return sc, nil
		}
	}
	return domain.Schedule{}, domain.ErrNotFound
}

func (f *fakeScheduleStore) ListActive(_ context.Context) ([]domain.Schedule, error) {
	var out []domain.Schedule
	for _, sc := range f.schedules {
		if sc.IsActive && sc.DeletedAt == nil {
			out = append(out, sc)
		}
	}
	return out, nil
}

func (f *fakeScheduleStore) ListDue(_ context.Context, now time.Time) ([]domain.Schedule, error) {
	var out []domain.Schedule
	for _, sc := range f.schedules {
		if sc.IsActive && sc.DeletedAt == nil && sc.NextRunAt != nil && !sc.NextRunAt.After(now) {
			out = append(out, sc)
		}
	}
	return out, nil
}

func (f *fakeScheduleStore) UpdateRun(_ context.Context, id int64, lastRun, nextRun time.Time) error {
	sc, ok := f.schedules[id]
	if !ok || sc.DeletedAt != nil {
		return domain.ErrNotFound
	}
	sc.LastRunAt, sc.NextRunAt = &lastRun, &nextRun
	f.schedules[id] = sc
	return nil
}

func (f *fakeScheduleStore) SetActive(_ context.Context, id int64, active bool) error {
	sc, ok := f.schedules[id]
	if !ok || sc.DeletedAt != nil {
		return domain.ErrNotFound
	}
	sc.IsActive = active
	f.schedules[id] = sc
	return nil
}

func (f *fakeScheduleStore) Delete(_ context.Context, id int64) error {
	sc, ok := f.schedules[id]
	if !ok || sc.DeletedAt != nil {
		return domain.ErrNotFound
	}
	now := time.Now().UTC()
	sc.DeletedAt, sc.IsActive = &now, false
	f.schedules[id] = sc
	return nil
}

type fakeDispatcher struct {
	products []int64
	stores   []string
	err      error
}

func (f *fakeDispatcher) DispatchProduct(_ context.Context, productID int64) error {
	f.products = append(f.products, productID)
	return f.err
}

func (f *fakeDispatcher) DispatchStore(_ context.Context, storeDomain string) error {
	f.stores = append(f.stores, storeDomain)
	return f.err
}

func TestPollerFiresDueSchedules(t *testing.T) {
	store := newFakeScheduleStore()
	past := time.Now().UTC().Add(-time.Minute)
	productID := int64(42)
	storeDomain := "bestbuy.ca"

	productSched := store.add(domain.Schedule{
		ProductID: &productID, CronExpr: "0 6 * * *", IsActive: true, NextRunAt: &past,
	})
	storeSched := store.add(domain.Schedule{
		StoreDomain: &storeDomain, CronExpr: "0 7 * * *", IsActive: true, NextRunAt: &past,
	})
	future := time.Now().UTC().Add(time.Hour)
	store.add(domain.Schedule{
		ProductID: &productID, CronExpr: "0 8 * * *", IsActive: true, NextRunAt: &future,
	})

	disp := &fakeDispatcher{}
	p := NewPoller(store, disp, testLogger())
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(disp.products) != 1 || disp.products[0] != productID {
		t.Errorf("dispatched products = %v, want [42]", disp.products)
	}
	if len(disp.stores) != 1 || disp.stores[0] != storeDomain {
		t.Errorf("dispatched stores = %v, want [bestbuy.ca]", disp.stores)
	}

	// Both fired schedules get fresh run stamps in the future.
	for _, id := range []int64{productSched.ID, storeSched.ID} {
		sc := store.schedules[id]
		if sc.LastRunAt == nil {
			t.Errorf("schedule %d: last_run_at not stamped", id)
			continue
		}
		if sc.NextRunAt == nil || !sc.NextRunAt.After(time.Now().UTC()) {
			t.Errorf("schedule %d: next_run_at = %v, want future", id, sc.NextRunAt)
		}
	}
}

func TestPollerAdvancesDespiteDispatchFailure(t *testing.T) {
	store := newFakeScheduleStore()
	past := time.Now().UTC().Add(-time.Minute)
	productID := int64(7)
	sc := store.add(domain.Schedule{
		ProductID: &productID, CronExpr: "0 6 * * *", IsActive: true, NextRunAt: &past,
	})

	p := NewPoller(store, &fakeDispatcher{err: context.DeadlineExceeded}, testLogger())
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := store.schedules[sc.ID]
	if got.NextRunAt == nil || !got.NextRunAt.After(time.Now().UTC()) {
		t.Errorf("failing schedule not advanced: next_run_at = %v", got.NextRunAt)
	}
}

func TestPollerDisablesInvalidCron(t *testing.T) {
	store := newFakeScheduleStore()
	past := time.Now().UTC().Add(-time.Minute)
	productID := int64(9)
	sc := store.add(domain.Schedule{
		ProductID: &productID, CronExpr: "not a cron", IsActive: true, NextRunAt: &past,
	})

	disp := &fakeDispatcher{}
	p := NewPoller(store, disp, testLogger())
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(disp.products) != 0 {
		t.Errorf("invalid schedule dispatched: %v", disp.products)
	}
	if store.schedules[sc.ID].IsActive {
		t.Error("invalid schedule left active")
	}
}
