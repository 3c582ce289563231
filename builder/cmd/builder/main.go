package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"log/slog"

	_ "go.uber.org/automaxprocs"

	"github.com/splax/minivercel/builder/internal/docker"
	"github.com/splax/minivercel/builder/internal/git"
	httpx "github.com/splax/minivercel/builder/internal/http"
	"github.com/splax/minivercel/builder/internal/lease"
	"github.com/splax/minivercel/builder/internal/runner"
	"github.com/splax/minivercel/builder/internal/service/deploy"
	"github.com/splax/minivercel/builder/internal/workspace"
	"github.com/splax/minivercel/pkg/blobstore"
	"github.com/splax/minivercel/pkg/config"
	"github.com/splax/minivercel/pkg/logbus"
	"github.com/splax/minivercel/pkg/logger"
	"github.com/splax/minivercel/pkg/queue"
	"github.com/splax/minivercel/pkg/redisx"
)

const shutdownTimeout = 10 * time.Second

func main() {
	bootLog := logger.New("builder", slog.LevelInfo)
	cfg, err := config.LoadBuilderConfig()
	if err != nil {
		bootLog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log, closeLog, err := logger.NewWithFile("builder", cfg.Level(), cfg.LogFile)
	if err != nil {
		bootLog.Error("failed to open log file", "error", err, "path", cfg.LogFile)
		os.Exit(1)
	}
	defer closeLog()

	if err := run(cfg, log); err != nil {
		log.Error("builder exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.BuilderConfig, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := redisx.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	redisClosed := false
	defer func() {
		if !redisClosed {
			_ = rdb.Close()
		}
	}()

	store, err := blobstore.New(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	ws, err := workspace.New(cfg.Workdir)
	if err != nil {
		log.Error("workspace init failed", "error", err, "workdir", cfg.Workdir)
		return err
	}

	checks := map[string]httpx.Check{
		"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}

	var cmdRunner runner.Runner
	switch strings.ToLower(cfg.Runner) {
	case "docker":
		dockerClient, err := docker.New(cfg.DockerHost)
		if err != nil {
			return err
		}
		defer dockerClient.Close()
		if err := dockerClient.Ping(ctx); err != nil {
			return err
		}
		dr := docker.NewRunner(dockerClient, cfg.BuildImage, nil, log.With("runner", "docker"))
		if err := dr.Pull(ctx); err != nil {
			log.Warn("build image pull failed", "image", cfg.BuildImage, "error", err)
		}
		checks["docker"] = dockerClient.Ping
		cmdRunner = dr
	default:
		cmdRunner = runner.NewHost(log.With("runner", "host"), nil)
	}

	locker := lease.New(rdb, lease.Options{
		TTL:          cfg.LeaseTTL,
		Wait:         cfg.LeaseWait,
		PollInterval: cfg.LeasePollInterval,
		Logger:       log.With("component", "lease"),
	})
	svc := deploy.New(deploy.Dependencies{
		Cloner:    git.NewCloner(nil),
		Workspace: ws,
		Runner:    cmdRunner,
		Store:     store,
		Events:    logbus.New(rdb),
		Locker:    deploy.NewLeaseLocker(locker),
	}, deploy.OptionsFromConfig(cfg), log)

	router := httpx.New(log, checks)

	workerID, err := deploy.ResolveWorkerID(cfg.WorkerID, os.Hostname)
	if err != nil {
		return err
	}
	pool := deploy.NewPool(deploy.PoolConfig{
		WorkerID:     workerID,
		Concurrency:  cfg.Concurrency,
		RetryBackoff: cfg.DequeueRetryBackoff,
	}, func(id string) deploy.Consumer {
		return queue.NewConsumer(rdb, cfg.QueueName, id)
	}, svc, router, log)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 2)
	go func() {
		log.Info("builder server starting", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorCh <- err
		}
	}()
	poolDone := make(chan error, 1)
	go func() {
		log.Info("build workers starting", "worker_id", workerID, "concurrency", cfg.Concurrency, "queue", cfg.QueueName)
		poolDone <- pool.Run(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errorCh:
		runErr = err
		stop()
	case err := <-poolDone:
		stop()
		if err != nil {
			runErr = err
		}
		poolDone <- nil
	}

	// Jobs already picked up finish before the queue connection goes away;
	// closing it unblocks loops idling in BLMOVE.
	log.Info("waiting for in-flight builds")
	<-pool.Drain()
	redisClosed = true
	_ = rdb.Close()
	select {
	case <-poolDone:
	case <-time.After(shutdownTimeout):
		log.Warn("worker loops did not stop in time")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	log.Info("builder stopped")
	return runErr
}
