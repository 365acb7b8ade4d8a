package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/pricewatch/internal/alert"
	s3blob "github.com/alanyoungcy/pricewatch/internal/blob/s3"
	"github.com/alanyoungcy/pricewatch/internal/cache/memory"
	"github.com/alanyoungcy/pricewatch/internal/cache/redis"
	"github.com/alanyoungcy/pricewatch/internal/config"
	"github.com/alanyoungcy/pricewatch/internal/domain"
	"github.com/alanyoungcy/pricewatch/internal/heal"
	"github.com/alanyoungcy/pricewatch/internal/index"
	"github.com/alanyoungcy/pricewatch/internal/llm"
	"github.com/alanyoungcy/pricewatch/internal/notify"
	"github.com/alanyoungcy/pricewatch/internal/pipeline"
	"github.com/alanyoungcy/pricewatch/internal/registry"
	"github.com/alanyoungcy/pricewatch/internal/schedule"
	"github.com/alanyoungcy/pricewatch/internal/scrape"
	"github.com/alanyoungcy/pricewatch/internal/store/postgres"
)

const (
	// pageCacheTTL bounds how long a fetched HTML body may be reused by
	// callers that opt into the page cache.
	pageCacheTTL = 15 * time.Minute

	// robotsHTTPTimeout bounds one robots.txt fetch.
	robotsHTTPTimeout = 10 * time.Second
)

// Dependencies bundles every domain-level dependency the run modes and CLI
// verbs operate on. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	Stores        domain.StoreCatalog
	Products      domain.ProductStore
	History       domain.PriceHistoryStore
	Alerts        domain.AlertStore
	Schedules     domain.ScheduleStore
	ScrapeLogs    domain.ScrapeLogStore
	Notifications domain.NotificationStore
	Canonical     domain.CanonicalStore

	// Coordination backends: Redis when enabled, in-process fallbacks
	// otherwise. The in-process SignalBus only reaches subscribers in the
	// same process; cross-instance index sync needs Redis.
	RateLimiter domain.RateLimiter
	TokenBudget domain.TokenBudget
	PageCache   domain.PageCache
	Locks       domain.LockManager
	SignalBus   domain.SignalBus

	// Archiver copies expired rows to object storage before retention
	// pruning. Nil unless S3 is enabled; cleanup then prunes without
	// archiving.
	Archiver domain.Archiver

	// Services
	Registry    *registry.Registry
	LLM         *llm.Client
	Engine      *scrape.Engine
	Notifier    *notify.Notifier
	Detector    *heal.Detector
	Healer      *heal.Service
	Events      *index.Emitter
	Dispatcher  *pipeline.Dispatcher
	Cleanup     *pipeline.Cleanup
	ScheduleSvc *schedule.Service
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
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
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	// Run migrations if enabled.
	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Stores = postgres.NewStoreCatalog(pool)
	deps.Products = postgres.NewProductStore(pool)
	deps.History = postgres.NewPriceHistoryStore(pool)
	deps.Alerts = postgres.NewAlertStore(pool)
	deps.Schedules = postgres.NewScheduleStore(pool)
	deps.ScrapeLogs = postgres.NewScrapeLogStore(pool)
	deps.Notifications = postgres.NewNotificationStore(pool)
	deps.Canonical = postgres.NewCanonicalStore(pool)

	// --- Redis (in-process fallbacks when disabled) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.TokenBudget = redis.NewTokenBudget(redisClient, cfg.LLM.DailyTokenLimit)
		deps.PageCache = redis.NewPageCache(redisClient)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	} else {
		deps.RateLimiter = memory.NewRateLimiter()
		deps.TokenBudget = memory.NewTokenBudget(cfg.LLM.DailyTokenLimit)
		deps.PageCache = memory.NewPageCache()
		deps.Locks = memory.NewLockManager()
		deps.SignalBus = memory.NewSignalBus()
	}

	// --- S3 blob archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchive(s3blob.NewWriter(s3Client), deps.ScrapeLogs, deps.Notifications)
	}

	// --- LLM ---
	models := append([]string{cfg.LLM.PrimaryModel}, cfg.LLM.FallbackModels...)
	deps.LLM = llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, models)
	deps.LLM.SetRateLimiter(deps.RateLimiter, cfg.LLM.RequestsPerMinute)
	deps.LLM.SetTokenBudget(deps.TokenBudget)

	// --- Store registry ---
	deps.Registry = registry.NewRegistry(deps.Stores, logger)

	// --- Scrape engine ---
	fetcher := scrape.NewFetcher(
		cfg.Scraper.MaxConcurrentBrowsers,
		cfg.Scraper.PageLoadDelay.Duration,
		cfg.Scraper.BrowserPath,
	)
	closers = append(closers, func() { _ = fetcher.Close() })

	limiter := scrape.NewLimiter(deps.RateLimiter, cfg.Scraper.MaxScrapesPerMinute)
	robots := scrape.NewRobotsChecker(&http.Client{Timeout: robotsHTTPTimeout})

	deps.Engine = scrape.NewEngine(scrape.EngineConfig{
		RequestTimeout:   cfg.Scraper.RequestTimeout.Duration,
		OperationTimeout: cfg.Scraper.OperationTimeout.Duration,
		RespectRobots:    cfg.Scraper.RespectRobots,
		EnforceWhitelist: cfg.Scraper.EnforceWhitelist,
		EnableRetries:    cfg.Scraper.EnableRetries,
		MaxConcurrent:    cfg.Scraper.MaxConcurrentBrowsers,
	}, fetcher, limiter, robots, scrape.NewUserAgentPool(), deps.Registry, logger)
	deps.Engine.SetLLM(deps.LLM)
	deps.Engine.SetPageCache(deps.PageCache, pageCacheTTL)

	// --- Notifications ---
	sender := notify.NewEmailSender(notify.ResendBaseURL, cfg.Email.ResendAPIKey, cfg.Email.From, logger)
	deps.Notifier = notify.NewNotifier(deps.Notifications, sender, deps.Registry, cfg.Email.To, logger)

	// --- Healing ---
	deps.Detector = heal.NewDetector(deps.Products, deps.ScrapeLogs, cfg.Healing.MaxConsecutiveFailures, logger)
	health := heal.NewHealthCalculator(deps.Registry, deps.ScrapeLogs, logger)
	regenerator := heal.NewRegenerator(deps.LLM, logger)
	deps.Healer = heal.NewService(
		deps.Detector,
		regenerator,
		deps.Engine,
		deps.Registry,
		health,
		deps.Notifier,
		cfg.Healing.MaxProductsPerRun,
		cfg.Healing.MaxHealingAttempts,
		logger,
	)

	// --- Batch pipeline ---
	deps.Events = index.NewEmitter(deps.SignalBus, logger)
	deps.Dispatcher = pipeline.NewDispatcher(pipeline.DispatcherDeps{
		Scraper:   deps.Engine,
		Products:  deps.Products,
		History:   deps.History,
		Logs:      deps.ScrapeLogs,
		Schedules: deps.Schedules,
		Canonical: deps.Canonical,
		Alerts:    alert.NewEvaluator(deps.Alerts, logger),
		Notifier:  deps.Notifier,
		Failures:  deps.Detector,
		Events:    deps.Events,
		Gate:      pipeline.NewMemoryGate(cfg.Scraper.MemoryThreshold, logger),
	}, logger)
	deps.Cleanup = pipeline.NewCleanup(
		deps.ScrapeLogs,
		deps.Notifications,
		deps.Archiver,
		cfg.Retention.ScrapeLogDays,
		cfg.Retention.NotificationDays,
		logger,
	)

	// --- Schedule management ---
	deps.ScheduleSvc = schedule.NewService(deps.Schedules, deps.Products, deps.Stores, logger)

	return deps, cleanup, nil
}
