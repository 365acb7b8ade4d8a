package app

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/pricewatch/internal/schedule"
)

// Cadences for the fixed recurring jobs. The daily scrape hour comes from
// config; maintenance runs after it so healing sees that morning's failures.
const (
	healthCron  = "0 7 * * *"
	healingCron = "0 8 * * *"
	cleanupCron = "0 0 * * 0"
	pollerCron  = "* * * * *"

	// scrapeJitter spreads the daily batch start so a fleet of instances
	// does not hit every retailer at the same instant.
	scrapeJitter = 30 * time.Minute
)

// MonitorMode runs scheduled scraping only: the daily default batch plus the
// minute poller that fires custom product and store schedules. Maintenance
// cycles are left to a maintain-mode process.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	sched := schedule.NewScheduler(deps.Locks, a.logger)
	if err := a.addScrapeJobs(sched, deps); err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}
	return sched.Run(ctx)
}

// MaintainMode runs the upkeep cycles only: store health scoring, selector
// healing, and retention cleanup. Pair it with a monitor-mode process when
// splitting responsibilities across instances.
func (a *App) MaintainMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting maintain mode")

	sched := schedule.NewScheduler(deps.Locks, a.logger)
	if err := a.addMaintenanceJobs(sched, deps); err != nil {
		return fmt.Errorf("maintain mode: %w", err)
	}
	return sched.Run(ctx)
}

// FullMode runs scraping and maintenance in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	sched := schedule.NewScheduler(deps.Locks, a.logger)
	if err := a.addScrapeJobs(sched, deps); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	if err := a.addMaintenanceJobs(sched, deps); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	return sched.Run(ctx)
}

// addScrapeJobs registers the daily batch run and the custom-schedule
// poller.
func (a *App) addScrapeJobs(sched *schedule.Scheduler, deps *Dependencies) error {
	daily, err := schedule.ParseCron(fmt.Sprintf("0 %d * * *", a.cfg.Scheduler.DefaultCheckHour))
	if err != nil {
		return fmt.Errorf("daily scrape cron: %w", err)
	}
	if err := sched.Add(schedule.Job{
		ID:     "daily_scrape",
		Cron:   daily,
		Jitter: scrapeJitter,
		Run:    deps.Dispatcher.DispatchAll,
	}); err != nil {
		return err
	}

	minute, err := schedule.ParseCron(pollerCron)
	if err != nil {
		return fmt.Errorf("poller cron: %w", err)
	}
	poller := schedule.NewPoller(deps.Schedules, deps.Dispatcher, a.logger)
	return sched.Add(schedule.Job{
		ID:   "schedule_poller",
		Cron: minute,
		Run:  poller.Run,
	})
}

// addMaintenanceJobs registers the health, healing, and cleanup cycles.
func (a *App) addMaintenanceJobs(sched *schedule.Scheduler, deps *Dependencies) error {
	health, err := schedule.ParseCron(healthCron)
	if err != nil {
		return fmt.Errorf("health cron: %w", err)
	}
	if err := sched.Add(schedule.Job{
		ID:   "store_health",
		Cron: health,
		Run: func(ctx context.Context) error {
			_, err := deps.Healer.RunHealthCheck(ctx)
			return err
		},
	}); err != nil {
		return err
	}

	healing, err := schedule.ParseCron(healingCron)
	if err != nil {
		return fmt.Errorf("healing cron: %w", err)
	}
	if err := sched.Add(schedule.Job{
		ID:   "healing",
		Cron: healing,
		Run: func(ctx context.Context) error {
			_, err := deps.Healer.RunCycle(ctx, "")
			return err
		},
	}); err != nil {
		return err
	}

	weekly, err := schedule.ParseCron(cleanupCron)
	if err != nil {
		return fmt.Errorf("cleanup cron: %w", err)
	}
	return sched.Add(schedule.Job{
		ID:   "cleanup",
		Cron: weekly,
		Run:  deps.Cleanup.Run,
	})
}
