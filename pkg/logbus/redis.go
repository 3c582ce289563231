package logbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Publisher emits build events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Message is an event received on a concrete channel.
type Message struct {
	Channel string
	Event   Event
}

// Bus publishes and subscribes to project log channels over Redis pub/sub.
type Bus struct {
	client redis.UniversalClient
	now    func() time.Time
}

// New returns a bus backed by client.
func New(client redis.UniversalClient) *Bus {
	return &Bus{client: client, now: time.Now}
}

// Publish stamps the event and sends it to logs:<projectId>.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	if strings.TrimSpace(e.ProjectID) == "" {
		return errors.New("log event requires project id")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = b.now().UTC()
	}
	if e.Level == "" {
		e.Level = "info"
	}
	if e.Status == "" {
		e.Status = StatusProgress
	}
	data, err := Encode(e)
	if err != nil {
		return fmt.Errorf("marshal log event: %w", err)
	}
	if err := b.client.Publish(ctx, Channel(e.ProjectID), string(data)).Err(); err != nil {
		return fmt.Errorf("publish log event: %w", err)
	}
	return nil
}

// Subscription delivers messages for a channel pattern until closed.
type Subscription struct {
	pubsub *redis.PubSub
	out    chan Message
}

// Subscribe joins every channel matching pattern. It returns once Redis has
// confirmed the subscription, so nothing published afterwards is missed.
func (b *Bus) Subscribe(ctx context.Context, pattern string) (*Subscription, error) {
	ps := b.client.PSubscribe(ctx, pattern)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", pattern, err)
	}
	sub := &Subscription{pubsub: ps, out: make(chan Message)}
	go sub.run(ctx)
	return sub, nil
}

// C returns the message stream. It is closed when the subscription ends.
func (s *Subscription) C() <-chan Message {
	return s.out
}

// Close leaves the channels.
func (s *Subscription) Close() error {
	return s.pubsub.Close()
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.out)
	for msg := range s.pubsub.Channel() {
		projectID, _ := ProjectFromChannel(msg.Channel)
		m := Message{Channel: msg.Channel, Event: Decode(projectID, []byte(msg.Payload))}
		select {
		case s.out <- m:
		case <-ctx.Done():
			return
		}
	}
}
