package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/splax/minivercel/builder/internal/lease"
	"github.com/splax/minivercel/pkg/build"
	"github.com/splax/minivercel/pkg/queue"
)

// Consumer is the worker side of the job queue.
type Consumer interface {
	Dequeue(ctx context.Context) (queue.Delivery, error)
	Ack(ctx context.Context, d queue.Delivery) error
	Recover(ctx context.Context) (int, error)
}

// Executor runs one job to a terminal phase.
type Executor interface {
	Run(ctx context.Context, job build.Job) Result
}

// Observer is told about every finished run.
type Observer interface {
	ObserveBuild(r Result)
}

// PoolConfig configures a worker pool.
type PoolConfig struct {
	WorkerID     string
	Concurrency  int
	RetryBackoff time.Duration
}

// Pool runs independent dequeue loops. Each loop owns its own processing
// list and runs one job at a time.
type Pool struct {
	cfg         PoolConfig
	newConsumer func(workerID string) Consumer
	exec        Executor
	observer    Observer
	logger      *slog.Logger
	inflight    tracker
}

// NewPool builds a pool. newConsumer is called once per loop with the loop's
// unique worker identifier.
func NewPool(cfg PoolConfig, newConsumer func(workerID string) Consumer, exec Executor, observer Observer, logger *slog.Logger) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	return &Pool{cfg: cfg, newConsumer: newConsumer, exec: exec, observer: observer, logger: logger}
}

// ResolveWorkerID returns configured when set and the host name otherwise.
// The identifier must survive restarts: Recover only sees the processing
// lists of the same identifier.
func ResolveWorkerID(configured string, hostname func() (string, error)) (string, error) {
	if id := strings.TrimSpace(configured); id != "" {
		return id, nil
	}
	host, err := hostname()
	if err != nil {
		return "", fmt.Errorf("resolve worker id: %w", err)
	}
	if host = strings.TrimSpace(host); host == "" {
		return "", errors.New("resolve worker id: empty host name, set BUILDER_ID")
	}
	return host, nil
}

// LoopID names the consumer of loop i.
func LoopID(workerID string, i int) string {
	return fmt.Sprintf("%s-%d", workerID, i)
}

// Run starts every loop and blocks until all have returned. Loops stop
// dequeuing once ctx is cancelled; a loop blocked in Dequeue returns when
// the queue client is closed.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Concurrency; i++ {
		id := LoopID(p.cfg.WorkerID, i)
		consumer := p.newConsumer(id)
		g.Go(func() error {
			return p.loop(gctx, id, consumer)
		})
	}
	return g.Wait()
}

// Drain stops loops from starting new jobs and returns a channel closed once
// no job is running. A record dequeued after Drain stays in its processing
// list for Recover.
func (p *Pool) Drain() <-chan struct{} {
	return p.inflight.drain()
}

func (p *Pool) loop(ctx context.Context, id string, consumer Consumer) error {
	log := p.logger.With("worker_id", id)
	moved, err := consumer.Recover(ctx)
	if err != nil {
		return fmt.Errorf("worker %s: %w", id, err)
	}
	if moved > 0 {
		log.Warn("requeued unfinished jobs", "count", moved)
	}
	log.Info("worker loop started")
	for {
		if ctx.Err() != nil {
			log.Info("worker loop stopped")
			return nil
		}
		delivery, err := consumer.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("worker loop stopped")
				return nil
			}
			if errors.Is(err, build.ErrMalformedJob) {
				log.Warn("dropped malformed job", "error", err)
				continue
			}
			log.Error("dequeue failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(p.cfg.RetryBackoff):
			}
			continue
		}
		if !p.inflight.tryAdd() {
			log.Warn("draining, job left for recovery", "project_id", delivery.Job.ProjectID)
			return nil
		}
		p.handle(ctx, log, consumer, delivery)
	}
}

// handle runs a dequeued job detached from shutdown: once picked up a job
// always reaches a terminal phase.
func (p *Pool) handle(ctx context.Context, log *slog.Logger, consumer Consumer, d queue.Delivery) {
	defer p.inflight.done()

	runCtx := context.WithoutCancel(ctx)
	log.Info("picked up job", "project_id", d.Job.ProjectID, "repo_url", d.Job.RepoURL)
	res := p.exec.Run(runCtx, d.Job)
	if p.observer != nil {
		p.observer.ObserveBuild(res)
	}
	if err := consumer.Ack(runCtx, d); err != nil {
		log.Error("ack job failed", "project_id", d.Job.ProjectID, "error", err)
	}
}

type tracker struct {
	mu       sync.Mutex
	n        int
	draining bool
	idleCh   chan struct{}
}

func (t *tracker) tryAdd() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.draining {
		return false
	}
	if t.n == 0 {
		t.idleCh = make(chan struct{})
	}
	t.n++
	return true
}

func (t *tracker) done() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.n--
	if t.n == 0 {
		close(t.idleCh)
	}
}

func (t *tracker) drain() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.draining = true
	if t.n == 0 {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return t.idleCh
}

type leaseLocker struct {
	locker *lease.Locker
}

// NewLeaseLocker adapts a Redis lease locker.
func NewLeaseLocker(l *lease.Locker) Locker {
	return leaseLocker{locker: l}
}

func (a leaseLocker) Acquire(ctx context.Context, projectID string) (Lease, error) {
	le, err := a.locker.Acquire(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return le, nil
}
