package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/angelmondragon/commonsportal-backend/api"
	"github.com/angelmondragon/commonsportal-backend/api/routes"
	"github.com/angelmondragon/commonsportal-backend/pkg/auth/session"
	"github.com/angelmondragon/commonsportal-backend/pkg/config"
	"github.com/angelmondragon/commonsportal-backend/pkg/db"
	"github.com/angelmondragon/commonsportal-backend/pkg/logger"
	"github.com/angelmondragon/commonsportal-backend/pkg/migrate"
	"github.com/angelmondragon/commonsportal-backend/pkg/redis"
)

const shutdownTimeout = 20 * time.Second

func main() {
	bootCtx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(bootCtx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(bootCtx, "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
	})

	if err := run(bootCtx, cfg, logg); err != nil {
		logg.Error(bootCtx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(bootCtx context.Context, cfg *config.Config, logg *logger.Logger) (err error) {
	dbClient, err := db.New(bootCtx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, dbClient.Close()) }()

	if err := migrate.MaybeRunDev(bootCtx, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := redis.New(bootCtx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, redisClient.Close()) }()

	var sessions session.AccessSessionChecker
	if cfg.JWT.RequireSession {
		checker, err := session.NewChecker(redisClient)
		if err != nil {
			return err
		}
		sessions = checker
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	services, err := routes.BuildServices(dbClient, cfg.Checkout, reg, logg)
	if err != nil {
		return err
	}

	server := api.NewServer(cfg, routes.NewRouter(cfg, logg, dbClient, redisClient, sessions, reg, services))

	ctx, stop := signal.NotifyContext(bootCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":     cfg.App.Env,
		"addr":    server.Addr,
		"dialect": dbClient.Dialect(),
	})

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logg.Info(ctx, "api server shutting down")
	shutdownCtx, cancel := context.WithTimeout(bootCtx, shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
