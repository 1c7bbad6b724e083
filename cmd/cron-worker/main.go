package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/angelmondragon/shopstock-backend/internal/alerts"
	"github.com/angelmondragon/shopstock-backend/internal/catalog"
	"github.com/angelmondragon/shopstock-backend/internal/cron"
	"github.com/angelmondragon/shopstock-backend/internal/stock"
	"github.com/angelmondragon/shopstock-backend/pkg/config"
	"github.com/angelmondragon/shopstock-backend/pkg/db"
	"github.com/angelmondragon/shopstock-backend/pkg/logger"
	"github.com/angelmondragon/shopstock-backend/pkg/metrics"
	"github.com/angelmondragon/shopstock-backend/pkg/migrate"
	"github.com/angelmondragon/shopstock-backend/pkg/outbox"
	"github.com/angelmondragon/shopstock-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := multierr.Combine(dbClient.Close(), redisClient.Close()); err != nil {
			logg.Error(context.Background(), "error closing cron dependencies", err)
		}
	}()

	inventoryMetrics := metrics.NewInventoryMetrics(prometheus.DefaultRegisterer)
	cronMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)

	directory := catalog.NewRepository(dbClient.DB())
	outboxRepo := outbox.NewRepository(dbClient.DB())
	emitter := outbox.NewService(outboxRepo, logg)

	ledger, err := stock.NewLedger(stock.LedgerParams{
		DB:         dbClient,
		Repo:       stock.NewRepository(dbClient.DB()),
		Directory:  directory,
		Outbox:     emitter,
		Logger:     logg,
		Metrics:    inventoryMetrics,
		MaxRetries: cfg.Concurrency.MaxRetries,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create stock ledger", err)
		os.Exit(1)
	}

	engine, err := alerts.NewEngine(alerts.EngineParams{
		DB:         dbClient,
		Repo:       alerts.NewRepository(dbClient.DB()),
		Directory:  directory,
		Outbox:     emitter,
		Stock:      ledger,
		Logger:     logg,
		Metrics:    inventoryMetrics,
		MaxRetries: cfg.Concurrency.MaxRetries,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create alert engine", err)
		os.Exit(1)
	}

	sweepJob, err := cron.NewAlertSweepJob(cron.AlertSweepJobParams{
		Logger: logg,
		Alerts: engine,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create alert sweep job", err)
		os.Exit(1)
	}
	alertRetentionJob, err := cron.NewAlertRetentionJob(cron.AlertRetentionJobParams{
		Logger:    logg,
		DB:        dbClient,
		Alerts:    engine,
		Retention: cfg.Alerts.RetentionDays,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create alert retention job", err)
		os.Exit(1)
	}
	outboxRetentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outboxRepo,
		Retention:  cfg.Outbox.RetentionDays,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron"), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(sweepJob, alertRetentionJob, outboxRetentionJob),
		Lock:     lock,
		Metrics:  cronMetrics,
		Interval: cfg.Alerts.SweepInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	go func() {
		if err := metrics.Serve(ctx, cfg.App.MetricsAddr, prometheus.DefaultGatherer, logg); err != nil {
			logg.Error(ctx, "metrics endpoint stopped", err)
		}
	}()

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}
