package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

// Dispatcher runs scrapes for schedule targets. Implemented by the
// batch dispatcher.
type Dispatcher interface {
	DispatchProduct(ctx context.Context, productID int64) error
	DispatchStore(ctx context.Context, storeDomain string) error
}

// Poller fires custom product and store schedules from the schedules
// table. It runs as an ordinary scheduler job on a minute cadence: each
// pass claims everything due, dispatches it, and stamps the run times.
type Poller struct {
	schedules domain.ScheduleStore
	dispatch  Dispatcher
	logger    *slog.Logger
}

func NewPoller(schedules domain.ScheduleStore, dispatch Dispatcher, logger *slog.Logger) *Poller {
	return &Poller{
		schedules: schedules,
		dispatch:  dispatch,
		logger:    logger.With("component", "schedule_poller"),
	}
}

// Run dispatches every due schedule once. However overdue a schedule
// is, it fires a single coalesced run; next_run_at always advances so a
// failing target cannot wedge the poller.
func (p *Poller) Run(ctx context.Context) error {
	now := time.Now().UTC()
	due, err := p.schedules.ListDue(ctx, now)
	if err != nil {
		return fmt.Errorf("schedule: list due: %w", err)
	}

	for _, sc := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.fire(ctx, sc, now)
	}
	return nil
}

func (p *Poller) fire(ctx context.Context, sc domain.Schedule, now time.Time) {
	cron, err := ParseCron(sc.CronExpr)
	if err != nil {
		// A row that no longer parses is disabled rather than retried
		// every minute forever.
		p.logger.Error("disabling schedule with invalid cron expression",
			slog.Int64("schedule_id", sc.ID),
			slog.String("cron", sc.CronExpr),
			slog.String("error", err.Error()),
		)
		if err := p.schedules.SetActive(ctx, sc.ID, false); err != nil {
			p.logger.Error("disable schedule failed",
				slog.Int64("schedule_id", sc.ID),
				slog.String("error", err.Error()))
		}
		return
	}

	switch {
	case sc.ProductID != nil:
		err = p.dispatch.DispatchProduct(ctx, *sc.ProductID)
	case sc.StoreDomain != nil:
		err = p.dispatch.DispatchStore(ctx, *sc.StoreDomain)
	default:
		p.logger.Warn("schedule has no target", slog.Int64("schedule_id", sc.ID))
	}
	if err != nil {
		p.logger.Error("scheduled dispatch failed",
			slog.Int64("schedule_id", sc.ID),
			slog.String("error", err.Error()),
		)
	}

	next, err := cron.Next(now)
	if err != nil {
		p.logger.Error("schedule has no future fire time",
			slog.Int64("schedule_id", sc.ID),
			slog.String("cron", sc.CronExpr),
		)
		if err := p.schedules.SetActive(ctx, sc.ID, false); err != nil {
			p.logger.Error("disable schedule failed",
				slog.Int64("schedule_id", sc.ID),
				slog.String("error", err.Error()))
		}
		return
	}
	if err := p.schedules.UpdateRun(ctx, sc.ID, now, next); err != nil {
		p.logger.Error("schedule run stamp failed",
			slog.Int64("schedule_id", sc.ID),
			slog.String("error", err.Error()),
		)
	}
}
