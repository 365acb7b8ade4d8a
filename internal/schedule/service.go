package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

// Service is the management surface for custom schedules, backing the
// CLI schedule verbs. All writes validate the cron expression and
// enforce the daily minimum interval before touching the table.
type Service struct {
	schedules domain.ScheduleStore
	products  domain.ProductStore
	stores    domain.StoreCatalog
	logger    *slog.Logger
}

func NewService(schedules domain.ScheduleStore, products domain.ProductStore, stores domain.StoreCatalog, logger *slog.Logger) *Service {
	return &Service{
		schedules: schedules,
		products:  products,
		stores:    stores,
		logger:    logger.With("component", "schedule"),
	}
}

// AddProductSchedule attaches a custom cadence to one product.
func (s *Service) AddProductSchedule(ctx context.Context, productID int64, expr string) (domain.Schedule, error) {
	now := time.Now().UTC()
	cron, err := ValidateCustom(expr, now)
	if err != nil {
		return domain.Schedule{}, err
	}
	if _, err := s.products.GetByID(ctx, productID); err != nil {
		return domain.Schedule{}, fmt.Errorf("schedule: product %d: %w", productID, err)
	}

	next, err := cron.Next(now)
	if err != nil {
		return domain.Schedule{}, err
	}
	sc, err := s.schedules.Create(ctx, domain.Schedule{
		ProductID: &productID,
		CronExpr:  cron.String(),
		IsActive:  true,
		NextRunAt: &next,
	})
	if err != nil {
		return domain.Schedule{}, err
	}
	s.logger.Info("product schedule created",
		slog.Int64("schedule_id", sc.ID),
		slog.Int64("product_id", productID),
		slog.String("cron", cron.String()),
		slog.Time("next_run", next),
	)
	return sc, nil
}

// AddStoreSchedule attaches a custom cadence to every product of a store.
func (s *Service) AddStoreSchedule(ctx context.Context, storeDomain, expr string) (domain.Schedule, error) {
	now := time.Now().UTC()
	cron, err := ValidateCustom(expr, now)
	if err != nil {
		return domain.Schedule{}, err
	}
	store, err := s.stores.GetByDomain(ctx, storeDomain)
	if err != nil {
		return domain.Schedule{}, fmt.Errorf("schedule: store %s: %w", storeDomain, err)
	}

	next, err := cron.Next(now)
	if err != nil {
		return domain.Schedule{}, err
	}
	sc, err := s.schedules.Create(ctx, domain.Schedule{
		StoreDomain: &store.Domain,
		CronExpr:    cron.String(),
		IsActive:    true,
		NextRunAt:   &next,
	})
	if err != nil {
		return domain.Schedule{}, err
	}
	s.logger.Info("store schedule created",
		slog.Int64("schedule_id", sc.ID),
		slog.String("store", store.Domain),
		slog.String("cron", cron.String()),
		slog.Time("next_run", next),
	)
	return sc, nil
}

// Remove soft-deletes a schedule.
func (s *Service) Remove(ctx context.Context, id int64) error {
	return s.schedules.Delete(ctx, id)
}

// Pause disables a schedule without deleting it.
func (s *Service) Pause(ctx context.Context, id int64) error {
	return s.schedules.SetActive(ctx, id, false)
}

// Resume re-enables a paused schedule. A next_run_at that went stale
// during the pause fires one coalesced run on the poller's next pass,
// which also restamps the run times.
func (s *Service) Resume(ctx context.Context, id int64) error {
	if _, err := s.schedules.GetByID(ctx, id); err != nil {
		return err
	}
	return s.schedules.SetActive(ctx, id, true)
}

// List returns every live, enabled schedule.
func (s *Service) List(ctx context.Context) ([]domain.Schedule, error) {
	return s.schedules.ListActive(ctx)
}

// Due returns schedules whose next fire time has already passed.
func (s *Service) Due(ctx context.Context) ([]domain.Schedule, error) {
	return s.schedules.ListDue(ctx, time.Now().UTC())
}
