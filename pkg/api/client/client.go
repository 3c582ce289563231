package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/splax/minivercel/pkg/logbus"
)

// DefaultBaseURL is used when no API address is configured.
const DefaultBaseURL = "http://localhost:9000"

// Client provides typed access to the minivercel API for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = DefaultBaseURL
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

// envelope is the {"status": ..., "data": ...} wrapper of API responses.
type envelope[T any] struct {
	Status string `json:"status"`
	Data   T      `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path string, body any, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

// Submission is the API's answer to an accepted deploy request.
type Submission struct {
	ProjectSlug string `json:"projectSlug"`
	URL         string `json:"url"`
}

// Submit queues a build of gitURL. An empty slug lets the server pick one.
func (c *Client) Submit(ctx context.Context, gitURL, slug string) (Submission, error) {
	body := map[string]string{"gitURL": gitURL}
	if s := strings.TrimSpace(slug); s != "" {
		body["slug"] = s
	}
	var resp envelope[Submission]
	if err := c.do(ctx, http.MethodPost, "/project", body, &resp); err != nil {
		return Submission{}, err
	}
	return resp.Data, nil
}

// Deployment mirrors the ledger record served by the API.
type Deployment struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"projectId"`
	RepoURL     string     `json:"repoUrl"`
	Status      string     `json:"status"`
	Phase       string     `json:"phase"`
	Message     string     `json:"message,omitempty"`
	URL         string     `json:"url"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Latest returns the most recent deployment of a project.
func (c *Client) Latest(ctx context.Context, projectID string) (Deployment, error) {
	var resp envelope[Deployment]
	if err := c.do(ctx, http.MethodGet, "/project/"+url.PathEscape(projectID), nil, &resp); err != nil {
		return Deployment{}, err
	}
	return resp.Data, nil
}

// History lists recent deployments of a project, newest first.
func (c *Client) History(ctx context.Context, projectID string, limit int) ([]Deployment, error) {
	path := "/project/" + url.PathEscape(projectID) + "/deployments"
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	var resp envelope[[]Deployment]
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Frame is one websocket message from the log stream.
type Frame struct {
	Event string        `json:"event"`
	Data  string        `json:"data"`
	Log   *logbus.Event `json:"log,omitempty"`
}

// ErrStreamClosed is returned when the server ends the log stream before a
// terminal event arrives.
var ErrStreamClosed = errors.New("log stream closed")

// FollowLogs joins the log channel of projectID and hands every frame to
// handle until a terminal build event arrives, which is returned.
func (c *Client) FollowLogs(ctx context.Context, projectID string, handle func(Frame)) (logbus.Event, error) {
	endpoint, err := c.streamURL()
	if err != nil {
		return logbus.Event{}, err
	}
	conn, resp, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return logbus.Event{}, APIError{Status: resp.StatusCode, Message: "websocket upgrade refused"}
		}
		return logbus.Event{}, fmt.Errorf("dial log stream: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	subscribe := Frame{Event: "subscribe", Data: logbus.Channel(projectID)}
	if err := conn.WriteJSON(subscribe); err != nil {
		return logbus.Event{}, fmt.Errorf("subscribe: %w", err)
	}

	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return logbus.Event{}, ctxErr
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return logbus.Event{}, ErrStreamClosed
			}
			return logbus.Event{}, fmt.Errorf("read log stream: %w", err)
		}
		if f.Event == "error" {
			return logbus.Event{}, fmt.Errorf("log stream: %s", f.Data)
		}
		if handle != nil {
			handle(f)
		}
		if f.Log != nil && f.Log.Terminal() {
			return *f.Log, nil
		}
	}
}

func (c *Client) streamURL() (string, error) {
	u, err := url.Parse(c.baseURL + "/ws")
	if err != nil {
		return "", fmt.Errorf("invalid api base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String(), nil
}
