package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/splax/minivercel/pkg/logbus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxFrameSize   = 4096
	EventSubscribe = "subscribe"
	EventLeave     = "unsubscribe"
	EventMessage   = "message"
	EventError     = "error"
)

// Frame is the JSON envelope exchanged over the websocket. Data carries the
// channel key on client frames and the display text on server frames.
type Frame struct {
	Event string        `json:"event"`
	Data  string        `json:"data"`
	Log   *logbus.Event `json:"log,omitempty"`
}

// MessageFrame encodes a server message frame.
func MessageFrame(text string, e *logbus.Event) []byte {
	data, _ := json.Marshal(Frame{Event: EventMessage, Data: text, Log: e})
	return data
}

// ErrorFrame encodes a server error frame.
func ErrorFrame(text string) []byte {
	data, _ := json.Marshal(Frame{Event: EventError, Data: text})
	return data
}

// Client represents a websocket client connection. Outbound frames go
// through a bounded buffer drained by WritePump.
type Client struct {
	conn *websocket.Conn
	log  *slog.Logger
	send chan []byte
	done chan struct{}
	once sync.Once
}

// NewClient constructs a client wrapper holding at most buffer pending frames.
func NewClient(conn *websocket.Conn, buffer int, logger *slog.Logger) *Client {
	if buffer <= 0 {
		buffer = 1
	}
	return &Client{conn: conn, log: logger, send: make(chan []byte, buffer), done: make(chan struct{})}
}

// Send queues a frame without blocking.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		c.log.Warn("websocket subscriber too slow, dropping")
		return ErrSlowSubscriber
	}
}

// Close terminates the connection once.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.conn.Close()
	})
}

// WritePump writes queued frames and keepalive pings until the client closes.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Warn("websocket send failed", "error", err)
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

// ReadFrames decodes client frames and hands them to handle until the
// connection fails. Undecodable frames are skipped.
func (c *Client) ReadFrames(handle func(Frame)) error {
	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.log.Debug("ignoring malformed websocket frame", "error", err)
			continue
		}
		handle(f)
	}
}
