package ws

import (
	"errors"
	"sync"
)

// ErrSlowSubscriber is returned by Send when a subscriber's buffer is full.
var ErrSlowSubscriber = errors.New("subscriber buffer full")

// ErrClosed is returned by Send after a subscriber was closed.
var ErrClosed = errors.New("subscriber closed")

// Subscriber abstracts a streaming client. Send must not block.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub manages stream subscriptions by channel key. A subscriber may be
// joined to any number of keys. A subscriber whose Send fails is closed and
// removed from every key, so one slow reader never stalls the others.
type Hub struct {
	clients   map[string]map[Subscriber]struct{}
	keys      map[Subscriber]map[string]struct{}
	register  chan subscription
	unreg     chan subscription
	unregAll  chan Subscriber
	broadcast chan message
	count     chan countRequest
	done      chan struct{}
	closeOnce sync.Once
}

// message couples payload with channel key.
type message struct {
	key     string
	payload []byte
}

// subscription defines register/unregister requests.
type subscription struct {
	key    string
	client Subscriber
}

type countRequest struct {
	key   string
	reply chan int
}

// NewHub creates an initialized Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		keys:      make(map[Subscriber]map[string]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		unregAll:  make(chan Subscriber),
		broadcast: make(chan message),
		count:     make(chan countRequest),
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			for c := range h.keys {
				c.Close()
			}
			return
		case sub := <-h.register:
			if _, ok := h.clients[sub.key]; !ok {
				h.clients[sub.key] = make(map[Subscriber]struct{})
			}
			h.clients[sub.key][sub.client] = struct{}{}
			if _, ok := h.keys[sub.client]; !ok {
				h.keys[sub.client] = make(map[string]struct{})
			}
			h.keys[sub.client][sub.key] = struct{}{}
		case sub := <-h.unreg:
			h.remove(sub.key, sub.client)
		case c := <-h.unregAll:
			for key := range h.keys[c] {
				h.remove(key, c)
			}
		case msg := <-h.broadcast:
			for c := range h.clients[msg.key] {
				if err := c.Send(msg.payload); err != nil {
					c.Close()
					for key := range h.keys[c] {
						h.remove(key, c)
					}
				}
			}
		case req := <-h.count:
			req.reply <- len(h.clients[req.key])
		}
	}
}

func (h *Hub) remove(key string, c Subscriber) {
	if clients, ok := h.clients[key]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.clients, key)
		}
	}
	if keys, ok := h.keys[c]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(h.keys, c)
		}
	}
}

// Register adds a client to a channel key.
func (h *Hub) Register(key string, client Subscriber) {
	select {
	case h.register <- subscription{key: key, client: client}:
	case <-h.done:
	}
}

// Unregister removes a client from one key.
func (h *Hub) Unregister(key string, client Subscriber) {
	select {
	case h.unreg <- subscription{key: key, client: client}:
	case <-h.done:
	}
}

// UnregisterAll removes a client from every key it joined.
func (h *Hub) UnregisterAll(client Subscriber) {
	select {
	case h.unregAll <- client:
	case <-h.done:
	}
}

// Broadcast sends payload to every client joined to key.
func (h *Hub) Broadcast(key string, payload []byte) {
	select {
	case h.broadcast <- message{key: key, payload: payload}:
	case <-h.done:
	}
}

// Subscribers reports how many clients are joined to key.
func (h *Hub) Subscribers(key string) int {
	req := countRequest{key: key, reply: make(chan int, 1)}
	select {
	case h.count <- req:
		return <-req.reply
	case <-h.done:
		return 0
	}
}

// Close stops the hub and closes every remaining client.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}
