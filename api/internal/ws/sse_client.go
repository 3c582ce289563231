package ws

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// SSEClient streams Server-Sent Events over an HTTP response writer. Sends
// are buffered; Serve performs the writes on the request goroutine.
type SSEClient struct {
	writer  io.Writer
	flusher http.Flusher
	log     *slog.Logger
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	last    time.Time
}

// NewSSEClient builds an SSE client instance.
func NewSSEClient(writer io.Writer, flusher http.Flusher, buffer int, logger *slog.Logger) *SSEClient {
	if buffer <= 0 {
		buffer = 1
	}
	return &SSEClient{
		writer:  writer,
		flusher: flusher,
		log:     logger,
		send:    make(chan []byte, buffer),
		done:    make(chan struct{}),
		last:    time.Now().UTC(),
	}
}

// Send queues a data event without blocking.
func (c *SSEClient) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		c.log.Warn("sse subscriber too slow, dropping")
		return ErrSlowSubscriber
	}
}

// Serve writes queued events and heartbeat comments until ctx ends or the
// client is closed.
func (c *SSEClient) Serve(ctx context.Context, heartbeat time.Duration) error {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case payload := <-c.send:
			if err := c.write(fmt.Sprintf("event: message\ndata: %s\n\n", payload)); err != nil {
				return err
			}
		case <-ticker.C:
			if err := c.write(": ping\n\n"); err != nil {
				return err
			}
		}
	}
}

// Comment writes an SSE comment line immediately.
func (c *SSEClient) Comment(text string) error {
	return c.write(": " + text + "\n\n")
}

func (c *SSEClient) write(frame string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := io.WriteString(c.writer, frame); err != nil {
		c.log.Warn("sse send failed", "error", err)
		c.Close()
		return err
	}
	c.flusher.Flush()
	c.last = time.Now().UTC()
	return nil
}

// Close marks the stream as closed.
func (c *SSEClient) Close() {
	c.once.Do(func() { close(c.done) })
}

// LastActivity reports the timestamp of the most recent successful write.
func (c *SSEClient) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
