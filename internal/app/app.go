// Package app provides the top-level application lifecycle for the price
// monitor. It wires together all dependencies (stores, caches, blob storage,
// the scrape engine, healing services, and notifications) and runs the
// scheduler with the job set of the configured operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/pricewatch/internal/config"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, selects the
// operating mode, starts the scheduler with that mode's jobs, and blocks
// until the context is cancelled. On return it runs all registered cleanup
// functions.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	if err := a.ensureSeeded(ctx, deps); err != nil {
		return fmt.Errorf("app: seed store catalog: %w", err)
	}

	mode := strings.ToLower(a.cfg.Mode)
	switch mode {
	case "monitor":
		return a.MonitorMode(ctx, deps)
	case "maintain":
		return a.MaintainMode(ctx, deps)
	case "full":
		return a.FullMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// ensureSeeded populates the store catalog from the embedded seed file when
// the database is fresh. A non-empty catalog is left alone so operator edits
// survive restarts; refreshing it is the seed CLI verb's job.
func (a *App) ensureSeeded(ctx context.Context, deps *Dependencies) error {
	n, err := deps.Registry.Count(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	seeded, err := deps.Registry.Seed(ctx)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "seeded empty store catalog", slog.Int("stores", seeded))
	return nil
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
