package lease

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
)

func newTestLocker(t *testing.T, opts Options) (*Locker, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	l := New(db, opts)
	l.token = func() string { return "tok" }
	return l, mock
}

func TestAcquireAndRelease(t *testing.T) {
	l, mock := newTestLocker(t, Options{TTL: 30 * time.Second})
	mock.ExpectSetNX("lease:foo", "tok", 30*time.Second).SetVal(true)
	mock.ExpectEvalSha(release.Hash(), []string{"lease:foo"}, "tok").SetVal(int64(1))

	lease, err := l.Acquire(context.Background(), "foo")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := lease.Release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := lease.Release(context.Background()); err != nil {
		t.Fatalf("second release must be a no-op: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAcquireFailsWhenBusyWithoutWait(t *testing.T) {
	l, mock := newTestLocker(t, Options{TTL: 30 * time.Second})
	mock.ExpectSetNX("lease:foo", "tok", 30*time.Second).SetVal(false)

	if _, err := l.Acquire(context.Background(), "foo"); !errors.Is(err, ErrProjectBusy) {
		t.Fatalf("expected ErrProjectBusy, got %v", err)
	}
}

func TestAcquireWaitsForHolder(t *testing.T) {
	l, mock := newTestLocker(t, Options{TTL: 30 * time.Second, Wait: time.Second, PollInterval: time.Millisecond})
	mock.ExpectSetNX("lease:foo", "tok", 30*time.Second).SetVal(false)
	mock.ExpectSetNX("lease:foo", "tok", 30*time.Second).SetVal(false)
	mock.ExpectSetNX("lease:foo", "tok", 30*time.Second).SetVal(true)
	mock.ExpectEvalSha(release.Hash(), []string{"lease:foo"}, "tok").SetVal(int64(1))

	lease, err := l.Acquire(context.Background(), "foo")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := lease.Release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAcquireHonoursCancellation(t *testing.T) {
	l, mock := newTestLocker(t, Options{TTL: 30 * time.Second, Wait: time.Minute, PollInterval: time.Minute})
	mock.ExpectSetNX("lease:foo", "tok", 30*time.Second).SetVal(false)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx, "foo"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

// manualTicks lets a test decide when the lease refreshes.
func manualTicks(l *Locker) chan time.Time {
	ch := make(chan time.Time)
	l.ticks = func(time.Duration) (<-chan time.Time, func()) { return ch, func() {} }
	return ch
}

func TestLeaseRefreshesWhileHeld(t *testing.T) {
	l, mock := newTestLocker(t, Options{TTL: 30 * time.Second})
	ticks := manualTicks(l)
	mock.ExpectSetNX("lease:foo", "tok", 30*time.Second).SetVal(true)
	mock.ExpectEvalSha(extend.Hash(), []string{"lease:foo"}, "tok", int64(30000)).SetVal(int64(1))
	mock.ExpectEvalSha(extend.Hash(), []string{"lease:foo"}, "tok", int64(30000)).SetVal(int64(1))
	mock.ExpectEvalSha(release.Hash(), []string{"lease:foo"}, "tok").SetVal(int64(1))

	lease, err := l.Acquire(context.Background(), "foo")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	ticks <- time.Now()
	ticks <- time.Now()
	if err := lease.Release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLostLeaseIsLogged(t *testing.T) {
	var logs bytes.Buffer
	l, mock := newTestLocker(t, Options{TTL: 30 * time.Second, Logger: slog.New(slog.NewTextHandler(&logs, nil))})
	ticks := manualTicks(l)
	mock.ExpectSetNX("lease:foo", "tok", 30*time.Second).SetVal(true)
	mock.ExpectEvalSha(extend.Hash(), []string{"lease:foo"}, "tok", int64(30000)).SetVal(int64(0))
	mock.ExpectEvalSha(release.Hash(), []string{"lease:foo"}, "tok").SetVal(int64(0))

	lease, err := l.Acquire(context.Background(), "foo")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	ticks <- time.Now()
	if err := lease.Release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}
	if !strings.Contains(logs.String(), "lease lost") {
		t.Fatalf("expected a lost lease warning, got %q", logs.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFailedRefreshIsLogged(t *testing.T) {
	var logs bytes.Buffer
	l, mock := newTestLocker(t, Options{TTL: 30 * time.Second, Logger: slog.New(slog.NewTextHandler(&logs, nil))})
	ticks := manualTicks(l)
	mock.ExpectSetNX("lease:foo", "tok", 30*time.Second).SetVal(true)
	mock.ExpectEvalSha(extend.Hash(), []string{"lease:foo"}, "tok", int64(30000)).SetErr(errors.New("connection reset"))
	mock.ExpectEvalSha(release.Hash(), []string{"lease:foo"}, "tok").SetVal(int64(1))

	lease, err := l.Acquire(context.Background(), "foo")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	ticks <- time.Now()
	if err := lease.Release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}
	if !strings.Contains(logs.String(), "lease refresh failed") {
		t.Fatalf("expected a refresh warning, got %q", logs.String())
	}
}
