package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/splax/minivercel/api/internal/app/migrate"
	httpx "github.com/splax/minivercel/api/internal/http"
	"github.com/splax/minivercel/api/internal/repository"
	"github.com/splax/minivercel/api/internal/repository/postgres"
	"github.com/splax/minivercel/api/internal/service/logs"
	"github.com/splax/minivercel/api/internal/service/project"
	"github.com/splax/minivercel/api/internal/ws"
	"github.com/splax/minivercel/db"
	"github.com/splax/minivercel/pkg/config"
	"github.com/splax/minivercel/pkg/logbus"
	"github.com/splax/minivercel/pkg/logger"
	"github.com/splax/minivercel/pkg/queue"
	"github.com/splax/minivercel/pkg/redisx"
)

const shutdownTimeout = 10 * time.Second

func main() {
	bootLog := logger.New("api", slog.LevelInfo)
	cfg, err := config.LoadAPIConfig()
	if err != nil {
		bootLog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log, closeLog, err := logger.NewWithFile("api", cfg.Level(), cfg.LogFile)
	if err != nil {
		bootLog.Error("failed to open log file", "error", err, "path", cfg.LogFile)
		os.Exit(1)
	}
	defer closeLog()

	if err := run(cfg, log); err != nil {
		log.Error("api exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.APIConfig, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := redisx.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	checks := map[string]httpx.Check{
		"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}

	var deployments repository.DeploymentRepository
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			return err
		}
		if cfg.AutoMigrate {
			runner, err := migrate.New(cfg.DatabaseURL, db.Migrations(), cfg.MigrationsDir, log)
			if err != nil {
				return err
			}
			if err := runner.Ensure(ctx); err != nil {
				return err
			}
		}
		deployments = postgres.New(pool)
		checks["database"] = pool.Ping
	} else {
		log.Info("DATABASE_URL not set, deployment ledger disabled")
	}

	hub := ws.NewHub()
	defer hub.Close()

	bus := logbus.New(rdb)
	projectSvc := project.New(project.NewValidator(), queue.New(rdb, cfg.QueueName), deployments, log, cfg)
	logSvc := logs.New(hub, deployments, log.With("component", "log_bridge"), cfg.LedgerTimeout)

	trustedProxies, err := httpx.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return err
	}
	router := httpx.NewRouter(log, projectSvc, hub, httpx.Options{
		LogBuffer:        cfg.LogBuffer,
		SSEHeartbeat:     cfg.SSEHeartbeat,
		SubmitRateLimit:  cfg.SubmitLimit,
		SubmitRateWindow: cfg.SubmitWindow,
		Checks:           checks,
		TrustedProxies:   trustedProxies,
		Limiter:          httpx.NewRedisRateLimiter(rdb, log),
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return logSvc.Run(gctx, bus, cfg.LogPattern)
	})
	g.Go(func() error {
		log.Info("api server starting", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		return nil
	})

	err = g.Wait()
	log.Info("api server stopped")
	return err
}
