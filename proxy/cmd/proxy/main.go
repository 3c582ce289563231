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

	"golang.org/x/sync/errgroup"

	"github.com/splax/minivercel/pkg/blobstore"
	"github.com/splax/minivercel/pkg/config"
	"github.com/splax/minivercel/pkg/logger"
	httpx "github.com/splax/minivercel/proxy/internal/http"
)

const (
	shutdownTimeout = 10 * time.Second
	probeKey        = "healthz/probe"
)

func main() {
	bootLog := logger.New("proxy", slog.LevelInfo)
	cfg, err := config.LoadProxyConfig()
	if err != nil {
		bootLog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log, closeLog, err := logger.NewWithFile("proxy", cfg.Level(), cfg.LogFile)
	if err != nil {
		bootLog.Error("failed to open log file", "error", err, "path", cfg.LogFile)
		os.Exit(1)
	}
	defer closeLog()

	if err := run(cfg, log); err != nil {
		log.Error("proxy exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.ProxyConfig, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := blobstore.New(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	store := blobstore.NewGuarded(backend, cfg.BreakerThreshold, cfg.BreakerTimeout)

	checks := map[string]httpx.Check{
		"storage": func(ctx context.Context) error {
			obj, err := store.Get(ctx, probeKey)
			if err == nil {
				return obj.Body.Close()
			}
			if errors.Is(err, blobstore.ErrNotFound) {
				return nil
			}
			return err
		},
	}

	servers := []*http.Server{
		{
			Addr:              cfg.Addr,
			Handler:           httpx.New(log, store, httpx.Options{DefaultProject: cfg.DefaultProject, StripPrefixes: cfg.StripPrefixes}),
			ReadHeaderTimeout: 5 * time.Second,
		},
		{
			Addr:              cfg.MetricsAddr,
			Handler:           httpx.MetricsHandler(log, checks),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			log.Info("proxy listener starting", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error("graceful shutdown failed", "addr", srv.Addr, "error", err)
			}
		}
		return nil
	})

	err = g.Wait()
	log.Info("proxy stopped")
	return err
}
