package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

// Cleanup enforces the retention windows on the append-only tables. When an
// archiver is configured, expired rows are copied to object storage before
// the prune; a failed archive leaves that table's rows in place for the next
// run. Both tables are always attempted.
type Cleanup struct {
	logs          domain.ScrapeLogStore
	notifications domain.NotificationStore
	archiver      domain.Archiver // nil prunes without archiving

	scrapeRetentionDays       int
	notificationRetentionDays int

	logger *slog.Logger
}

func NewCleanup(
	logs domain.ScrapeLogStore,
	notifications domain.NotificationStore,
	archiver domain.Archiver,
	scrapeRetentionDays, notificationRetentionDays int,
	logger *slog.Logger,
) *Cleanup {
	return &Cleanup{
		logs:                      logs,
		notifications:             notifications,
		archiver:                  archiver,
		scrapeRetentionDays:       scrapeRetentionDays,
		notificationRetentionDays: notificationRetentionDays,
		logger:                    logger.With("component", "cleanup"),
	}
}

// Run executes one retention pass over both tables.
func (c *Cleanup) Run(ctx context.Context) error {
	now := time.Now().UTC()

	var errs []error
	if err := c.pruneScrapeLogs(ctx, now); err != nil {
		errs = append(errs, err)
	}
	if err := c.pruneNotifications(ctx, now); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Cleanup) pruneScrapeLogs(ctx context.Context, now time.Time) error {
	cutoff := retentionCutoff(now, c.scrapeRetentionDays)

	if c.archiver != nil {
		archived, err := c.archiver.ArchiveScrapeLogs(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("pipeline: archiving scrape logs before %s: %w", cutoff.Format(time.DateOnly), err)
		}
		if archived > 0 {
			c.logger.Info("archived scrape logs", "count", archived, "cutoff", cutoff)
		}
	}

	deleted, err := c.logs.DeleteBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: pruning scrape logs before %s: %w", cutoff.Format(time.DateOnly), err)
	}
	if deleted > 0 {
		c.logger.Info("pruned scrape logs", "count", deleted, "cutoff", cutoff)
	}
	return nil
}

func (c *Cleanup) pruneNotifications(ctx context.Context, now time.Time) error {
	cutoff := retentionCutoff(now, c.notificationRetentionDays)

	if c.archiver != nil {
		archived, err := c.archiver.ArchiveNotifications(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("pipeline: archiving notifications before %s: %w", cutoff.Format(time.DateOnly), err)
		}
		if archived > 0 {
			c.logger.Info("archived notifications", "count", archived, "cutoff", cutoff)
		}
	}

	deleted, err := c.notifications.DeleteBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: pruning notifications before %s: %w", cutoff.Format(time.DateOnly), err)
	}
	if deleted > 0 {
		c.logger.Info("pruned notifications", "count", deleted, "cutoff", cutoff)
	}
	return nil
}

// retentionCutoff lands on a UTC day boundary so archive objects always
// cover complete days and a rerun after a partial failure rewrites
// identical content.
func retentionCutoff(now time.Time, days int) time.Time {
	return now.AddDate(0, 0, -days).Truncate(24 * time.Hour)
}
