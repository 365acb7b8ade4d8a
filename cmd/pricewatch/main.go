// Command pricewatch is the entry point for the price monitor. It loads
// configuration, validates it, wires dependencies, and either runs the
// scheduler loop (run) or executes a one-shot operational verb such as
// scrape, seed, heal, or migrate.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/alanyoungcy/pricewatch/internal/app"
	"github.com/alanyoungcy/pricewatch/internal/config"
	"github.com/alanyoungcy/pricewatch/internal/crypto"
	"github.com/alanyoungcy/pricewatch/internal/domain"
	"github.com/alanyoungcy/pricewatch/internal/scrape"
	"github.com/alanyoungcy/pricewatch/internal/store/postgres"
)

var configPath string

func main() {
	// Setup signal handling for graceful shutdown. Every verb inherits this
	// context through cobra.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "pricewatch",
		Short:        "Self-healing price monitor for retail product pages",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.toml", "path to configuration file")
	root.AddCommand(
		newRunCmd(),
		newScrapeCmd(),
		newScheduleCmd(),
		newScrapeLogCmd(),
		newSeedCmd(),
		newMigrateCmd(),
		newHealCmd(),
		newHealthCmd(),
		newConfigCmd(),
		newEncryptSecretCmd(),
	)
	return root
}

// loadConfig loads the configuration file, decrypts stored credentials,
// installs the JSON logger at the configured level, and validates the result.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	if err := config.ResolveSecrets(cfg); err != nil {
		return nil, nil, err
	}

	// Set log level from config.
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// wireDeps is the shared setup for one-shot verbs that operate on the full
// dependency graph. The returned cleanup closes every connection Wire opened.
func wireDeps(ctx context.Context) (*app.Dependencies, func(), error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	return app.Wire(ctx, cfg)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler and workers in the configured mode",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			logger.Info("price monitor starting",
				slog.String("mode", cfg.Mode),
				slog.String("config", configPath),
			)

			application := app.New(cfg, logger)
			defer application.Close()

			if err := application.Run(cmd.Context()); err != nil {
				// context.Canceled is expected on clean shutdown.
				if errors.Is(err, context.Canceled) {
					logger.Info("price monitor shut down gracefully")
					return nil
				}
				logger.Error("application exited with error",
					slog.String("error", err.Error()),
				)
				return err
			}

			logger.Info("price monitor stopped")
			return nil
		},
	}
}

func newScrapeCmd() *cobra.Command {
	var (
		rawURL    string
		productID int64
	)
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrape one page immediately and print the result",
		Long: "With --url the page is scraped ad hoc and the extraction result is\n" +
			"printed without touching the database. With --product-id the product\n" +
			"runs through the full pipeline (history, alerts, notifications) and\n" +
			"the recorded scrape log is printed.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (rawURL == "") == (productID == 0) {
				return errors.New("exactly one of --url or --product-id is required")
			}
			ctx := cmd.Context()
			deps, cleanup, err := wireDeps(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if productID != 0 {
				if err := deps.Dispatcher.DispatchProduct(ctx, productID); err != nil {
					return err
				}
				log, err := deps.ScrapeLogs.LatestByProduct(ctx, productID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), log)
			}

			result := deps.Engine.Scrape(ctx, rawURL, scrape.Options{})
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&rawURL, "url", "", "product page URL to scrape ad hoc")
	cmd.Flags().Int64Var(&productID, "product-id", 0, "tracked product to scrape through the full pipeline")
	return cmd
}

func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage per-product and per-store check schedules",
	}
	cmd.AddCommand(
		newScheduleAddCmd(),
		newScheduleIDCmd("rm", "Soft-delete a schedule",
			func(ctx context.Context, deps *app.Dependencies, id int64) error {
				return deps.ScheduleSvc.Remove(ctx, id)
			}),
		newScheduleIDCmd("pause", "Deactivate a schedule without deleting it",
			func(ctx context.Context, deps *app.Dependencies, id int64) error {
				return deps.ScheduleSvc.Pause(ctx, id)
			}),
		newScheduleIDCmd("resume", "Reactivate a paused schedule",
			func(ctx context.Context, deps *app.Dependencies, id int64) error {
				return deps.ScheduleSvc.Resume(ctx, id)
			}),
		newScheduleListCmd(),
		newScheduleDueCmd(),
	)
	return cmd
}

func newScheduleAddCmd() *cobra.Command {
	var (
		productID int64
		store     string
		cronExpr  string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a schedule for a product or a store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (store == "") == (productID == 0) {
				return errors.New("exactly one of --product-id or --store is required")
			}
			ctx := cmd.Context()
			deps, cleanup, err := wireDeps(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			var sched domain.Schedule
			if productID != 0 {
				sched, err = deps.ScheduleSvc.AddProductSchedule(ctx, productID, cronExpr)
			} else {
				sched, err = deps.ScheduleSvc.AddStoreSchedule(ctx, store, cronExpr)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sched)
		},
	}
	cmd.Flags().Int64Var(&productID, "product-id", 0, "product the schedule drives")
	cmd.Flags().StringVar(&store, "store", "", "store domain the schedule drives")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "5-field cron expression, UTC")
	_ = cmd.MarkFlagRequired("cron")
	return cmd
}

// newScheduleIDCmd builds a schedule subcommand that takes a single schedule
// id argument (rm, pause, resume).
func newScheduleIDCmd(use, short string, act func(ctx context.Context, deps *app.Dependencies, id int64) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid schedule id %q", args[0])
			}
			ctx := cmd.Context()
			deps, cleanup, err := wireDeps(ctx)
			if err != nil {
				return err
			}
			defer cleanup()
			return act(ctx, deps, id)
		},
	}
}

func newScheduleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all schedules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			deps, cleanup, err := wireDeps(ctx)
			if err != nil {
				return err
			}
			defer cleanup()
			scheds, err := deps.ScheduleSvc.List(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), scheds)
		},
	}
}

func newScheduleDueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "due",
		Short: "List schedules that are due right now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			deps, cleanup, err := wireDeps(ctx)
			if err != nil {
				return err
			}
			defer cleanup()
			scheds, err := deps.ScheduleSvc.Due(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), scheds)
		},
	}
}

func newScrapeLogCmd() *cobra.Command {
	var (
		productID int64
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "scrapelog",
		Short: "Show recent scrape attempts for a product",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			deps, cleanup, err := wireDeps(ctx)
			if err != nil {
				return err
			}
			defer cleanup()
			logs, err := deps.ScrapeLogs.ListByProduct(ctx, productID, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), logs)
		},
	}
	cmd.Flags().Int64Var(&productID, "product-id", 0, "product whose scrape history to show")
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of log entries")
	_ = cmd.MarkFlagRequired("product-id")
	return cmd
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Upsert the embedded store catalog into the database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			deps, cleanup, err := wireDeps(ctx)
			if err != nil {
				return err
			}
			defer cleanup()
			n, err := deps.Registry.Seed(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d stores\n", n)
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			client, err := postgres.New(ctx, postgres.ClientConfig{
				DSN:      cfg.Database.DSN,
				Host:     cfg.Database.Host,
				Port:     cfg.Database.Port,
				Database: cfg.Database.Database,
				User:     cfg.Database.User,
				Password: cfg.Database.Password,
				SSLMode:  cfg.Database.SSLMode,
				MaxConns: cfg.Database.PoolMaxConns,
				MinConns: cfg.Database.PoolMinConns,
			})
			if err != nil {
				return err
			}
			defer client.Close()
			if err := client.RunMigrations(ctx); err != nil {
				return err
			}
			logger.Info("migrations applied")
			return nil
		},
	}
}

func newHealCmd() *cobra.Command {
	var store string
	cmd := &cobra.Command{
		Use:   "heal",
		Short: "Run one healing cycle over failing products",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			deps, cleanup, err := wireDeps(ctx)
			if err != nil {
				return err
			}
			defer cleanup()
			report, err := deps.Healer.RunCycle(ctx, store)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&store, "store", "", "restrict healing to one store domain")
	return cmd
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Recompute store health from recent scrape logs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			deps, cleanup, err := wireDeps(ctx)
			if err != nil {
				return err
			}
			defer cleanup()
			report, err := deps.Healer.RunHealthCheck(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config %s: %w", configPath, err)
			}
			redacted := config.RedactedConfig(cfg)
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(redacted)
		},
	}
}

func newEncryptSecretCmd() *cobra.Command {
	var (
		out      string
		password string
	)
	cmd := &cobra.Command{
		Use:   "encrypt-secret",
		Short: "Encrypt a secret read from stdin for use in the config file",
		Long: "Reads a secret from stdin, encrypts it with the password, and writes\n" +
			"the encrypted blob to --out. Point the encrypted_key_path config key at\n" +
			"the file and supply the same password via key_password.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				password = os.Getenv("PRICEWATCH_KEY_PASSWORD")
			}
			if password == "" {
				return errors.New("a password is required (--password or PRICEWATCH_KEY_PASSWORD)")
			}
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read secret from stdin: %w", err)
			}
			secret := strings.TrimSpace(string(data))
			if secret == "" {
				return errors.New("empty secret on stdin")
			}
			blob, err := crypto.EncryptSecret(secret, password)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, blob, 0o600); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "encrypted secret written to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output path for the encrypted blob")
	cmd.Flags().StringVar(&password, "password", "", "encryption password (falls back to PRICEWATCH_KEY_PASSWORD)")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}
