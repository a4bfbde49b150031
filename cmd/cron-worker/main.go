package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/commonsportal-backend/internal/availability"
	"github.com/angelmondragon/commonsportal-backend/internal/cron"
	"github.com/angelmondragon/commonsportal-backend/internal/listings"
	"github.com/angelmondragon/commonsportal-backend/pkg/config"
	"github.com/angelmondragon/commonsportal-backend/pkg/db"
	"github.com/angelmondragon/commonsportal-backend/pkg/logger"
	"github.com/angelmondragon/commonsportal-backend/pkg/metrics"
	"github.com/angelmondragon/commonsportal-backend/pkg/migrate"
	"github.com/angelmondragon/commonsportal-backend/pkg/outbox"
	"github.com/angelmondragon/commonsportal-backend/pkg/redis"
)

const serviceKind = "cron-worker"

func main() {
	bootCtx := context.Background()
	logg := logger.New(logger.Options{ServiceName: serviceKind})

	if err := godotenv.Load(); err != nil {
		logg.Warn(bootCtx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(bootCtx, "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceKind

	logg = logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(bootCtx, cfg.DB, logg)
	if err != nil {
		logg.Error(bootCtx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(bootCtx, "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(bootCtx, cfg, logg, dbClient); err != nil {
		logg.Error(bootCtx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(bootCtx, cfg.Redis, logg)
	if err != nil {
		logg.Error(bootCtx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(bootCtx, "error closing redis", err)
		}
	}()

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(serviceKind, cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(bootCtx, "failed to create cron lock", err)
		os.Exit(1)
	}

	jobMetrics := metrics.NewJobMetrics(prometheus.DefaultRegisterer)
	conn := dbClient.DB()

	retention, err := cron.NewOutboxRetention(cron.OutboxRetentionParams{
		Logger:    logg,
		DB:        dbClient,
		Outbox:    outbox.NewRepository(conn),
		Retention: cfg.Cron.OutboxRetention,
		BatchSize: cfg.Cron.OutboxBatchSize,
	})
	if err != nil {
		logg.Error(bootCtx, "failed to create outbox retention job", err)
		os.Exit(1)
	}
	audit, err := cron.NewCapacityAudit(cron.CapacityAuditParams{
		Logger:    logg,
		Listings:  listings.NewRepository(conn),
		Committed: availability.NewCommittedReader(conn),
		Metrics:   jobMetrics,
		PageSize:  cfg.Cron.AuditPageSize,
	})
	if err != nil {
		logg.Error(bootCtx, "failed to create capacity audit job", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Lock:     lock,
		Metrics:  jobMetrics,
		Interval: cfg.Cron.Interval,
		Jobs:     []cron.Job{retention, audit},
	})
	if err != nil {
		logg.Error(bootCtx, "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(bootCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceKind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}
