// Package lease grants a worker exclusive use of a project identifier while
// it builds, so two workers never write the same workspace or artifact
// prefix at once.
package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrProjectBusy is returned when the lease stays held past the wait limit.
var ErrProjectBusy = errors.New("project is being built by another worker")

const keyPrefix = "lease:"

// release deletes the key only while it still holds our token.
var release = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extend refreshes the expiry only while the key still holds our token.
var extend = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Options tune acquisition.
type Options struct {
	TTL          time.Duration
	Wait         time.Duration
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Locker hands out per-project leases.
type Locker struct {
	client redis.Cmdable
	opts   Options
	logger *slog.Logger
	token  func() string
	ticks  func(d time.Duration) (<-chan time.Time, func())
}

// New returns a Locker. Zero options fall back to a 30s TTL, no waiting and
// a one second poll.
func New(client redis.Cmdable, opts Options) *Locker {
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Locker{client: client, opts: opts, logger: logger, token: uuid.NewString, ticks: newTicks}
}

func newTicks(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Key names the lease of a project.
func Key(projectID string) string {
	return keyPrefix + projectID
}

// Lease is a held project lease. It is refreshed in the background until
// Release is called.
type Lease struct {
	locker *Locker
	key    string
	token  string
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// Acquire takes the lease of projectID, polling while another holder has it
// for at most Options.Wait.
func (l *Locker) Acquire(ctx context.Context, projectID string) (*Lease, error) {
	key := Key(projectID)
	token := l.token()
	deadline := time.Now().Add(l.opts.Wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.opts.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lease %s: %w", key, err)
		}
		if ok {
			lease := &Lease{locker: l, key: key, token: token, stop: make(chan struct{}), done: make(chan struct{})}
			go lease.keepAlive()
			return lease, nil
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrProjectBusy, projectID)
		}
		timer := time.NewTimer(min(l.opts.PollInterval, time.Until(deadline)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// keepAlive refreshes the expiry every third of the TTL. It stops early once
// the key no longer holds our token.
func (le *Lease) keepAlive() {
	defer close(le.done)
	interval := le.locker.opts.TTL / 3
	ticks, stop := le.locker.ticks(interval)
	defer stop()
	for {
		select {
		case <-le.stop:
			return
		case <-ticks:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			n, err := extend.Run(ctx, le.locker.client, []string{le.key}, le.token, le.locker.opts.TTL.Milliseconds()).Int64()
			cancel()
			if err != nil {
				le.locker.logger.Warn("lease refresh failed", "key", le.key, "error", err)
				continue
			}
			if n == 0 {
				le.locker.logger.Warn("lease lost", "key", le.key)
				return
			}
		}
	}
}

// Release stops refreshing and deletes the lease if it is still ours.
func (le *Lease) Release(ctx context.Context) error {
	var err error
	le.once.Do(func() {
		close(le.stop)
		<-le.done
		if runErr := release.Run(ctx, le.locker.client, []string{le.key}, le.token).Err(); runErr != nil && !errors.Is(runErr, redis.Nil) {
			err = fmt.Errorf("release lease %s: %w", le.key, runErr)
		}
	})
	return err
}
