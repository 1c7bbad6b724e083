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
	"github.com/angelmondragon/shopstock-backend/internal/consumers/stockevents"
	"github.com/angelmondragon/shopstock-backend/internal/stock"
	"github.com/angelmondragon/shopstock-backend/pkg/config"
	"github.com/angelmondragon/shopstock-backend/pkg/db"
	"github.com/angelmondragon/shopstock-backend/pkg/logger"
	"github.com/angelmondragon/shopstock-backend/pkg/metrics"
	"github.com/angelmondragon/shopstock-backend/pkg/migrate"
	"github.com/angelmondragon/shopstock-backend/pkg/outbox"
	"github.com/angelmondragon/shopstock-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/shopstock-backend/pkg/pubsub"
	"github.com/angelmondragon/shopstock-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
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

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}

	defer func() {
		closeErr := multierr.Combine(dbClient.Close(), redisClient.Close(), pubsubClient.Close())
		if closeErr != nil {
			logg.Error(context.Background(), "error closing worker dependencies", closeErr)
		}
	}()

	inventoryMetrics := metrics.NewInventoryMetrics(prometheus.DefaultRegisterer)
	directory := catalog.NewRepository(dbClient.DB())
	emitter := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

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

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create idempotency manager", err)
		os.Exit(1)
	}

	consumer, err := stockevents.NewConsumer(ledger, engine, manager, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create stock consumer", err)
		os.Exit(1)
	}

	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		Redis:         redisClient,
		PubSub:        pubsubClient,
		StockConsumer: consumer,
		Gatherer:      prometheus.DefaultGatherer,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create worker service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "worker shutting down gracefully")
}
