package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingSubscriber struct {
	mu     sync.Mutex
	got    []string
	fail   bool
	closed bool
}

func (s *recordingSubscriber) Send(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return ErrSlowSubscriber
	}
	s.got = append(s.got, string(p))
	return nil
}

func (s *recordingSubscriber) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *recordingSubscriber) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.got...)
}

func (s *recordingSubscriber) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func TestHubDeliversInOrderPerKey(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	a := &recordingSubscriber{}
	b := &recordingSubscriber{}
	hub.Register("logs:foo", a)
	hub.Register("logs:foo", b)

	for _, m := range []string{"M1", "M2", "M3"} {
		hub.Broadcast("logs:foo", []byte(m))
	}
	// Subscribers round-trips through the run loop, so earlier broadcasts are done.
	if n := hub.Subscribers("logs:foo"); n != 2 {
		t.Fatalf("expected 2 subscribers, got %d", n)
	}
	for _, sub := range []*recordingSubscriber{a, b} {
		if got := strings.Join(sub.messages(), ","); got != "M1,M2,M3" {
			t.Fatalf("unexpected delivery order %q", got)
		}
	}
}

func TestHubKeysAreIsolated(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	foo := &recordingSubscriber{}
	bar := &recordingSubscriber{}
	hub.Register("logs:foo", foo)
	hub.Register("logs:bar", bar)

	hub.Broadcast("logs:foo", []byte("for foo"))
	hub.Broadcast("logs:baz", []byte("nobody"))
	hub.Subscribers("logs:foo")

	if got := bar.messages(); len(got) != 0 {
		t.Fatalf("bar received %v", got)
	}
	if got := foo.messages(); len(got) != 1 {
		t.Fatalf("foo received %v", got)
	}
}

func TestHubSubscriberJoinsManyKeys(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	sub := &recordingSubscriber{}
	hub.Register("logs:a", sub)
	hub.Register("logs:b", sub)
	hub.Broadcast("logs:a", []byte("a"))
	hub.Broadcast("logs:b", []byte("b"))

	hub.Unregister("logs:a", sub)
	hub.Broadcast("logs:a", []byte("after leave"))
	hub.Subscribers("logs:a")

	if got := strings.Join(sub.messages(), ","); got != "a,b" {
		t.Fatalf("unexpected messages %q", got)
	}

	hub.UnregisterAll(sub)
	if n := hub.Subscribers("logs:b"); n != 0 {
		t.Fatalf("expected no subscribers after UnregisterAll, got %d", n)
	}
}

func TestHubDropsFailingSubscriber(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	slow := &recordingSubscriber{fail: true}
	healthy := &recordingSubscriber{}
	hub.Register("logs:foo", slow)
	hub.Register("logs:other", slow)
	hub.Register("logs:foo", healthy)

	hub.Broadcast("logs:foo", []byte("M1"))
	hub.Broadcast("logs:foo", []byte("M2"))

	if n := hub.Subscribers("logs:foo"); n != 1 {
		t.Fatalf("expected slow subscriber removed, %d left", n)
	}
	if n := hub.Subscribers("logs:other"); n != 0 {
		t.Fatalf("slow subscriber still joined elsewhere")
	}
	if !slow.isClosed() {
		t.Fatalf("expected slow subscriber closed")
	}
	if got := strings.Join(healthy.messages(), ","); got != "M1,M2" {
		t.Fatalf("healthy subscriber got %q", got)
	}
}

func TestHubCloseClosesSubscribers(t *testing.T) {
	hub := NewHub()
	sub := &recordingSubscriber{}
	hub.Register("logs:foo", sub)
	hub.Close()
	hub.Close()

	deadline := time.Now().Add(time.Second)
	for !sub.isClosed() {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber not closed after hub close")
		}
		time.Sleep(5 * time.Millisecond)
	}
	// Calls after close return instead of blocking.
	hub.Broadcast("logs:foo", []byte("late"))
	if n := hub.Subscribers("logs:foo"); n != 0 {
		t.Fatalf("expected 0 after close, got %d", n)
	}
}

type flushRecorder struct {
	*httptest.ResponseRecorder
	mu sync.Mutex
}

func (f *flushRecorder) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ResponseRecorder.Write(p)
}

func (f *flushRecorder) body() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ResponseRecorder.Body.String()
}

func TestSSEClientBuffersAndDrops(t *testing.T) {
	rec := &flushRecorder{ResponseRecorder: httptest.NewRecorder()}
	client := NewSSEClient(rec, rec, 1, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := client.Send([]byte(`{"a":1}`)); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := client.Send([]byte(`{"a":2}`)); err != ErrSlowSubscriber {
		t.Fatalf("expected ErrSlowSubscriber, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Serve(ctx, time.Hour) }()

	deadline := time.Now().Add(time.Second)
	for !strings.Contains(rec.body(), `data: {"a":1}`) {
		if time.Now().After(deadline) {
			t.Fatalf("event not written, body %q", rec.body())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("serve: %v", err)
	}

	client.Close()
	if err := client.Send([]byte("x")); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
