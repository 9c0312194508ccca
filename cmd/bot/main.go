// Package main is the entry point for the trainbot quota and progress
// engine: daily AI-operation allowances and lesson-unit progress for a
// Telegram learning bot, backed by PostgreSQL with an optional Redis
// projection cache.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/trainbot-hub/trainbot/config"
	"github.com/trainbot-hub/trainbot/internal/application/facade"
	"github.com/trainbot-hub/trainbot/internal/domain/quota"
	"github.com/trainbot-hub/trainbot/internal/infrastructure/metrics"
	"github.com/trainbot-hub/trainbot/internal/infrastructure/persistence/postgres"
	"github.com/trainbot-hub/trainbot/internal/infrastructure/persistence/redis"
	httpserver "github.com/trainbot-hub/trainbot/internal/interface/http"
	"github.com/trainbot-hub/trainbot/pkg/logger"
	"github.com/trainbot-hub/trainbot/pkg/retry"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	logOpts := logger.DefaultOptions()
	logOpts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	if cfg.App.Debug {
		logOpts.Level = logger.LevelDebug
	}
	log := logger.New(logOpts)

	log.Info("starting trainbot quota engine",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("timezone", cfg.App.Timezone),
		logger.Bool("debug", cfg.App.Debug),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. POSTGRESQL
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database")

	dbCfg := postgres.DefaultConfig()
	dbCfg.URL = cfg.Database.URL
	dbCfg.MaxConns = int32(cfg.Database.MaxOpenConns)
	dbCfg.MinConns = int32(cfg.Database.MaxIdleConns)
	dbCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	dbCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime

	retryCfg := retry.DefaultConfig()
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Warn("database connection retry",
			logger.Int("attempt", attempt),
			logger.Err(err),
			logger.Duration("delay", delay))
	}

	var dbConn *postgres.Connection
	err = retry.Do(ctx, retryCfg, func(ctx context.Context) error {
		var connErr error
		dbConn, connErr = postgres.NewConnection(ctx, dbCfg)
		return connErr
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection")
		dbConn.Close()
	}()
	log.Info("database connection established")

	// ─────────────────────────────────────────────────────────────────────────
	// 4. MIGRATIONS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("running database migrations")
	migrator := postgres.NewMigrator(dbConn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("migrations completed")

	// ─────────────────────────────────────────────────────────────────────────
	// 5. REDIS (optional)
	// ─────────────────────────────────────────────────────────────────────────
	var cache *redis.Cache
	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis")
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

		cache, err = redis.NewCache(redisCfg)
		if err != nil {
			log.Warn("failed to connect to Redis, projection caching disabled", logger.Err(err))
			cache = nil
		} else {
			defer cache.Close()
			log.Info("Redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. REPOSITORIES & AGGREGATOR
	// ─────────────────────────────────────────────────────────────────────────
	quotaRepo := postgres.NewQuotaRepository(dbConn)
	progressRepo := postgres.NewProgressRepository(dbConn)
	leaderboardRepo := postgres.NewLeaderboardRepository(dbConn)

	cachedAgg := redis.NewCachedAggregator(leaderboardRepo, cache)

	resolver := quota.NewPeriodResolver(cfg.App.Location, cfg.Quota.ResetHour)

	// Expired period rows are never read again; reclaim them once a day.
	go pruneLoop(ctx, log, quotaRepo, resolver, cfg.Quota.RetainPeriods)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. METRICS
	// ─────────────────────────────────────────────────────────────────────────
	var (
		registry *prometheus.Registry
		m        *metrics.Metrics
	)
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		m = metrics.New(registry)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. FACADE
	// ─────────────────────────────────────────────────────────────────────────
	unlimited := make(map[quota.UserID]struct{}, len(cfg.Quota.UnlimitedUserIDs))
	for _, id := range cfg.Quota.UnlimitedUserIDs {
		unlimited[quota.UserID(id)] = struct{}{}
	}

	engine, err := facade.New(facade.Options{
		Resolver: resolver,
		Limits: quota.Limits{
			quota.CapabilityTextGeneration:  cfg.Quota.TextGenerationLimit,
			quota.CapabilityImageGeneration: cfg.Quota.ImageGenerationLimit,
			quota.CapabilityQuizEvaluation:  cfg.Quota.QuizEvaluationLimit,
		},
		Ledger:         quotaRepo,
		Store:          progressRepo,
		Agg:            cachedAgg,
		Invalidator:    cachedAgg,
		Policy:         facade.ParsePolicy(cfg.Quota.RefundPolicy),
		UnlimitedUsers: unlimited,
		Log:            log,
		Metrics:        m,
	})
	if err != nil {
		return fmt.Errorf("failed to create facade: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	httpCfg := httpserver.DefaultConfig()
	httpCfg.Port = cfg.Observability.MetricsPort
	httpCfg.EnableMetrics = cfg.Observability.MetricsEnabled
	httpCfg.DefaultLeaderboardSize = cfg.Quota.LeaderboardSize

	httpDeps := httpserver.Dependencies{
		Facade:   engine,
		Ranker:   leaderboardRepo,
		Auditor:  quotaRepo,
		Summary:  progressRepo,
		Postgres: dbConn,
		Registry: registry,
		Logger:   log,
	}
	if cache != nil {
		httpDeps.Redis = cache
	}

	server := httpserver.NewServer(httpCfg, httpDeps)
	errCh := server.StartAsync()

	log.Info("trainbot quota engine is running",
		logger.String("http_address", server.Address()),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 10. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", logger.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			log.Error("http server error", logger.Err(err))
			return err
		}
	case <-ctx.Done():
		log.Info("context cancelled")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server gracefully", logger.Err(err))
		return err
	}

	log.Info("shutdown completed")
	return nil
}

// pruneLoop deletes quota rows from periods older than the retention window,
// once at startup and then daily.
func pruneLoop(ctx context.Context, log *logger.Logger, repo *postgres.QuotaRepository, resolver quota.PeriodResolver, retain time.Duration) {
	if retain <= 0 {
		return
	}

	prune := func() {
		keepFrom := resolver.Resolve(time.Now().Add(-retain))
		deleted, err := repo.PruneExpired(ctx, keepFrom)
		if err != nil {
			log.Warn("quota prune failed", logger.Err(err))
			return
		}
		if deleted > 0 {
			log.Info("pruned expired quota rows",
				logger.Int64("deleted", deleted),
				logger.PeriodID(string(keepFrom)))
		}
	}

	prune()

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
