// Package schedule runs the recurring jobs of the monitoring core: the
// daily scrape, health and healing sweeps, retention cleanup, and the
// custom per-product and per-store cadences stored in the schedules
// table. All cron evaluation happens in UTC.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

const (
	// misfireGrace bounds how late a firing may start. Fires missed by
	// more than this (process suspended, clock jumps) are skipped, and a
	// backlog of missed fires always coalesces into at most one run.
	misfireGrace = time.Hour

	// maxJobInstances caps concurrent runs of the same job id.
	maxJobInstances = 3

	// jobLockTTL bounds how long a crashed process can hold a job lock.
	jobLockTTL = 2 * time.Hour

	// shutdownGrace is how long Run waits for in-flight jobs before
	// cancelling them.
	shutdownGrace = 30 * time.Second

	// idleWake bounds the sleep when no job has a computable next time.
	idleWake = time.Minute
)

// Job is one recurring task. Jitter, when set, delays each firing by a
// random duration up to the given bound so a fleet of instances does not
// hit retailers at the same instant.
type Job struct {
	ID     string
	Cron   Cron
	Jitter time.Duration
	Run    func(ctx context.Context) error
}

type managedJob struct {
	job     Job
	next    time.Time
	running atomic.Int32
}

// Scheduler fires registered jobs on their cron cadence. Each firing
// takes a distributed lock named after the job id, so only one process
// in a fleet runs a given job.
type Scheduler struct {
	jobs   []*managedJob
	locks  domain.LockManager
	logger *slog.Logger
	wg     sync.WaitGroup
}

func NewScheduler(locks domain.LockManager, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		locks:  locks,
		logger: logger.With("component", "scheduler"),
	}
}

// Add registers a job. Job ids must be unique.
func (s *Scheduler) Add(job Job) error {
	if job.ID == "" {
		return fmt.Errorf("schedule: job id is empty")
	}
	if job.Run == nil {
		return fmt.Errorf("schedule: job %s has no run function", job.ID)
	}
	for _, mj := range s.jobs {
		if mj.job.ID == job.ID {
			return fmt.Errorf("schedule: duplicate job id %s", job.ID)
		}
	}
	s.jobs = append(s.jobs, &managedJob{job: job})
	return nil
}

// Run fires jobs until ctx is cancelled. On shutdown it stops firing,
// waits up to a grace period for in-flight jobs, then cancels them.
func (s *Scheduler) Run(ctx context.Context) error {
	now := time.Now().UTC()
	for _, mj := range s.jobs {
		s.advance(mj, now)
		s.logger.Info("job registered",
			slog.String("job", mj.job.ID),
			slog.String("cron", mj.job.Cron.String()),
			slog.Time("next_run", mj.next),
		)
	}

	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	for {
		timer := time.NewTimer(s.untilNextWake(time.Now().UTC()))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler stopping")
			s.drain(cancelJobs)
			return ctx.Err()
		case <-timer.C:
			s.fireDue(jobCtx, time.Now().UTC())
		}
	}
}

// untilNextWake returns how long to sleep before the soonest job fires.
func (s *Scheduler) untilNextWake(now time.Time) time.Duration {
	var soonest time.Time
	for _, mj := range s.jobs {
		if mj.next.IsZero() {
			continue
		}
		if soonest.IsZero() || mj.next.Before(soonest) {
			soonest = mj.next
		}
	}
	if soonest.IsZero() {
		return idleWake
	}
	wait := soonest.Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// fireDue launches every job whose next time has passed and advances
// their schedules. Advancing from now rather than from the scheduled
// time is what coalesces a backlog of missed fires into one run.
func (s *Scheduler) fireDue(ctx context.Context, now time.Time) {
	for _, mj := range s.jobs {
		if mj.next.IsZero() || now.Before(mj.next) {
			continue
		}
		scheduled := mj.next
		lateness := now.Sub(scheduled)
		s.advance(mj, now)

		if lateness > misfireGrace {
			s.logger.Warn("misfired job skipped",
				slog.String("job", mj.job.ID),
				slog.Time("scheduled", scheduled),
				slog.Duration("late", lateness),
			)
			continue
		}
		s.launch(ctx, mj, scheduled)
	}
}

// advance computes the job's next fire time after now. A job whose
// expression can never match again is disabled.
func (s *Scheduler) advance(mj *managedJob, now time.Time) {
	next, err := mj.job.Cron.Next(now)
	if err != nil {
		s.logger.Error("job schedule exhausted",
			slog.String("job", mj.job.ID),
			slog.String("error", err.Error()),
		)
		mj.next = time.Time{}
		return
	}
	mj.next = next
}

func (s *Scheduler) launch(ctx context.Context, mj *managedJob, scheduled time.Time) {
	if running := mj.running.Load(); running >= maxJobInstances {
		s.logger.Warn("job firing skipped, too many instances running",
			slog.String("job", mj.job.ID),
			slog.Int("running", int(running)),
		)
		return
	}
	mj.running.Add(1)
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer mj.running.Add(-1)

		if mj.job.Jitter > 0 {
			if !sleepCtx(ctx, rand.N(mj.job.Jitter)) {
				return
			}
		}

		unlock, err := s.locks.Acquire(ctx, "job:"+mj.job.ID, jobLockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				s.logger.Info("job lock held elsewhere, skipping",
					slog.String("job", mj.job.ID))
			} else {
				s.logger.Error("job lock failed",
					slog.String("job", mj.job.ID),
					slog.String("error", err.Error()))
			}
			return
		}
		defer unlock()

		started := time.Now()
		s.logger.Info("job started",
			slog.String("job", mj.job.ID),
			slog.Time("scheduled", scheduled),
		)
		if err := mj.job.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("job failed",
				slog.String("job", mj.job.ID),
				slog.String("error", err.Error()),
				slog.Duration("took", time.Since(started)),
			)
			return
		}
		s.logger.Info("job finished",
			slog.String("job", mj.job.ID),
			slog.Duration("took", time.Since(started)),
		)
	}()
}

// drain waits for in-flight jobs, cancelling them once the grace period
// elapses.
func (s *Scheduler) drain(cancelJobs context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownGrace):
		s.logger.Warn("shutdown grace elapsed, cancelling in-flight jobs")
		cancelJobs()
		<-done
	}
}

// sleepCtx sleeps for d, returning false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
