package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/eapache/go-resiliency/retrier"
	"github.com/redis/go-redis/v9"

	"github.com/splax/minivercel/pkg/config"
)

const (
	healthCheckAttempts = 3
	healthCheckBackoff  = 100 * time.Millisecond
)

// New connects to Redis and verifies the server answers a PING. A failure
// here is fatal for callers: nothing in the pipeline works without Redis.
func New(ctx context.Context, cfg config.Redis) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	opts.ContextTimeoutEnabled = true

	client := redis.NewClient(opts)
	if err := HealthCheck(ctx, client); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// HealthCheck pings Redis, retrying with exponential backoff.
func HealthCheck(ctx context.Context, client redis.UniversalClient) error {
	r := retrier.New(retrier.ExponentialBackoff(healthCheckAttempts-1, healthCheckBackoff), nil)
	return r.RunCtx(ctx, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}
