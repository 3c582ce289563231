package logs

import (
	"context"
	"errors"
	"time"

	"log/slog"

	"github.com/eapache/go-resiliency/retrier"

	"github.com/splax/minivercel/api/internal/domain"
	"github.com/splax/minivercel/api/internal/repository"
	"github.com/splax/minivercel/api/internal/ws"
	"github.com/splax/minivercel/pkg/build"
	"github.com/splax/minivercel/pkg/logbus"
)

const (
	ledgerBacklog       = 256
	resubscribeAttempts = 10
)

var errSubscriptionClosed = errors.New("log subscription closed")

// Broadcaster fans payloads out to the listeners joined to a key.
type Broadcaster interface {
	Broadcast(key string, payload []byte)
}

// Service bridges the Redis log channels to websocket and SSE listeners and
// mirrors build progress into the deployment ledger.
type Service struct {
	hub         Broadcaster
	deployments repository.DeploymentRepository
	logger      *slog.Logger
	timeout     time.Duration
	now         func() time.Time
}

// New constructs a log bridge. deployments may be nil when the ledger is disabled.
func New(hub Broadcaster, deployments repository.DeploymentRepository, logger *slog.Logger, ledgerTimeout time.Duration) *Service {
	return &Service{hub: hub, deployments: deployments, logger: logger, timeout: ledgerTimeout, now: time.Now}
}

// Run subscribes to pattern and bridges messages until ctx ends. A dropped
// subscription is re-established with backoff.
func (s *Service) Run(ctx context.Context, bus *logbus.Bus, pattern string) error {
	r := retrier.New(retrier.LimitedExponentialBackoff(resubscribeAttempts, 200*time.Millisecond, 5*time.Second), nil)
	for {
		err := r.RunCtx(ctx, func(ctx context.Context) error {
			return s.bridge(ctx, bus, pattern)
		})
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Error("log bridge retries exhausted", "pattern", pattern, "error", err)
	}
}

func (s *Service) bridge(ctx context.Context, bus *logbus.Bus, pattern string) error {
	sub, err := bus.Subscribe(ctx, pattern)
	if err != nil {
		s.logger.Warn("log subscription failed", "pattern", pattern, "error", err)
		return err
	}
	defer sub.Close()
	s.logger.Info("log bridge subscribed", "pattern", pattern)
	if err := s.Consume(ctx, sub.C()); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return nil
	}
	s.logger.Warn("log subscription ended, resubscribing", "pattern", pattern)
	return errSubscriptionClosed
}

// Consume forwards every message to the hub in arrival order until msgs is
// closed or ctx ends.
func (s *Service) Consume(ctx context.Context, msgs <-chan logbus.Message) error {
	ledger := make(chan logbus.Event, ledgerBacklog)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range ledger {
			s.record(ctx, e)
		}
	}()
	defer func() {
		close(ledger)
		<-done
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			e := msg.Event
			s.hub.Broadcast(msg.Channel, ws.MessageFrame(e.Text, &e))
			if s.deployments == nil || e.Phase == "" {
				continue
			}
			select {
			case ledger <- e:
			default:
				s.logger.Warn("ledger backlog full, dropping update", "project_id", e.ProjectID, "phase", e.Phase)
			}
		}
	}
}

func (s *Service) record(ctx context.Context, e logbus.Event) {
	update := StatusUpdate(e, s.now().UTC())
	if update == nil {
		return
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	err := s.deployments.UpdateLatestDeployment(ctx, *update)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrNotFound):
		s.logger.Debug("no deployment recorded for project", "project_id", e.ProjectID)
	default:
		s.logger.Warn("failed to update deployment", "project_id", e.ProjectID, "error", err)
	}
}

// StatusUpdate maps a build event onto a ledger update, or nil when the
// event carries no phase.
func StatusUpdate(e logbus.Event, at time.Time) *domain.DeploymentStatusUpdate {
	if e.Phase == "" {
		return nil
	}
	update := &domain.DeploymentStatusUpdate{
		ProjectID: e.ProjectID,
		Status:    domain.DeploymentBuilding,
		Phase:     string(e.Phase),
		Message:   e.Text,
	}
	switch {
	case e.Status == logbus.StatusSuccess || e.Phase == build.PhaseDone:
		update.Status = domain.DeploymentSucceeded
		update.CompletedAt = &at
	case e.Status == logbus.StatusFailure || e.Phase == build.PhaseFailed:
		update.Status = domain.DeploymentFailed
		update.CompletedAt = &at
	}
	return update
}
