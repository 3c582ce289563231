package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/minivercel/api/internal/domain"
	"github.com/splax/minivercel/api/internal/repository"
	"github.com/splax/minivercel/api/internal/service/project"
	"github.com/splax/minivercel/api/internal/ws"
	"github.com/splax/minivercel/pkg/build"
	"github.com/splax/minivercel/pkg/health"
	"github.com/splax/minivercel/pkg/logbus"
)

// Check probes one dependency.
type Check = health.Check

// Projects is the submission surface the router needs.
type Projects interface {
	Submit(ctx context.Context, in project.SubmitInput) (project.Submission, error)
	Latest(ctx context.Context, projectID string) (*domain.Deployment, error)
	History(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error)
}

// Options tunes the router.
type Options struct {
	LogBuffer        int
	SSEHeartbeat     time.Duration
	SubmitRateLimit  int
	SubmitRateWindow time.Duration
	Checks           map[string]Check
	// TrustedProxies may set X-Forwarded-For.
	TrustedProxies []netip.Prefix
	// Limiter defaults to a process-local limiter.
	Limiter RateLimiter
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux      *http.ServeMux
	handler  http.Handler
	logger   *slog.Logger
	projects Projects
	hub      *ws.Hub
	upgrader websocket.Upgrader
	limiter  RateLimiter
	opts     Options

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	submissions        *prometheus.CounterVec
	rateLimitHits      *prometheus.CounterVec
	activeStreams      *prometheus.GaugeVec
}

const (
	maxSubmitBody = 64 << 10
	historyLimit  = 20
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, projects Projects, hub *ws.Hub, opts Options) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   logger,
		projects: projects,
		hub:      hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter: opts.Limiter,
		opts:    opts,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	r.handler = withCORS(r.mux)
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/", r.audit("/", r.handleRoot))
	r.mux.HandleFunc("/healthz", r.audit("/healthz", health.Handler(r.logger, r.opts.Checks)))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/project", r.audit("/project", r.withRateLimit("/project", r.handleSubmit)))
	r.mux.HandleFunc("/project/", r.audit("/project/{slug}", r.handleProject))
	r.mux.HandleFunc("/ws", r.audit("/ws", r.handleLogsWS))
	r.mux.HandleFunc("/logs/", r.audit("/logs/{slug}/stream", r.handleLogStream))
}

func (r *Router) handleRoot(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != "/" {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "minivercel API is running"})
}

func (r *Router) handleSubmit(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload project.SubmitInput
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxSubmitBody)).Decode(&payload); err != nil {
		r.recordSubmission("invalid")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	sub, err := r.projects.Submit(req.Context(), payload)
	if err != nil {
		switch {
		case errors.Is(err, project.ErrInvalidInput):
			r.recordSubmission("invalid")
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, project.ErrQueueUnavailable):
			r.recordSubmission("unavailable")
			writeError(w, http.StatusServiceUnavailable, "build queue unavailable")
		default:
			r.recordSubmission("error")
			r.logger.Error("submit failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	r.recordSubmission("queued")
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "queued",
		"data": map[string]string{
			"projectSlug": sub.ProjectID,
			"url":         sub.URL,
		},
	})
}

func (r *Router) handleProject(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(req.URL.Path, "/project/"), "/"), "/")
	projectID := parts[0]
	if build.ValidateProjectID(projectID) != nil || len(parts) > 2 || (len(parts) == 2 && parts[1] != "deployments") {
		r.notFound(w)
		return
	}

	if len(parts) == 2 {
		limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
		if limit <= 0 || limit > 100 {
			limit = historyLimit
		}
		deployments, err := r.projects.History(req.Context(), projectID, limit)
		if err != nil {
			r.writeLedgerError(w, projectID, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "data": deployments})
		return
	}

	deployment, err := r.projects.Latest(req.Context(), projectID)
	if err != nil {
		r.writeLedgerError(w, projectID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "data": deployment})
}

func (r *Router) writeLedgerError(w http.ResponseWriter, projectID string, err error) {
	switch {
	case errors.Is(err, project.ErrLedgerDisabled):
		writeError(w, http.StatusNotImplemented, "deployment history is not enabled")
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "no deployment found")
	default:
		r.logger.Error("deployment lookup failed", "project_id", projectID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (r *Router) handleLogsWS(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.opts.LogBuffer, r.logger)
	r.streamOpened("websocket")
	go client.WritePump()
	go func() {
		defer func() {
			r.hub.UnregisterAll(client)
			client.Close()
			r.streamClosed("websocket")
		}()
		_ = client.ReadFrames(func(f ws.Frame) { r.handleFrame(client, f) })
	}()
}

func (r *Router) handleFrame(client *ws.Client, f ws.Frame) {
	switch f.Event {
	case ws.EventSubscribe, ws.EventLeave:
	default:
		_ = client.Send(ws.ErrorFrame("unknown event: " + f.Event))
		return
	}
	key := strings.TrimSpace(f.Data)
	projectID, ok := logbus.ProjectFromChannel(key)
	if !ok || build.ValidateProjectID(projectID) != nil {
		_ = client.Send(ws.ErrorFrame("invalid channel: " + key))
		return
	}
	if f.Event == ws.EventLeave {
		r.hub.Unregister(key, client)
		_ = client.Send(ws.MessageFrame("Left channel: "+key, nil))
		return
	}
	r.hub.Register(key, client)
	_ = client.Send(ws.MessageFrame("Joined channel: "+key, nil))
}

func (r *Router) handleLogStream(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	rest := strings.TrimPrefix(req.URL.Path, "/logs/")
	projectID, suffix, found := strings.Cut(rest, "/")
	if !found || suffix != "stream" || build.ValidateProjectID(projectID) != nil {
		r.notFound(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	key := logbus.Channel(projectID)
	client := ws.NewSSEClient(w, flusher, r.opts.LogBuffer, r.logger)
	r.hub.Register(key, client)
	r.streamOpened("sse")
	defer func() {
		r.hub.Unregister(key, client)
		client.Close()
		r.streamClosed("sse")
	}()
	if err := client.Comment("Joined channel: " + key); err != nil {
		return
	}
	if err := client.Serve(req.Context(), r.opts.SSEHeartbeat); err != nil {
		r.logger.Debug("sse stream ended", "project_id", projectID, "error", err)
	}
}

// audit logs every request and records its metrics under route.
func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		fields = append(fields, "ip", r.clientIP(req))
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		// A hijacked connection reports 101 to the access log.
		sr.status = http.StatusSwitchingProtocols
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

// clientIP returns the peer address. X-Forwarded-For is consulted only when
// the peer is a trusted proxy; the rightmost hop not owned by a trusted proxy
// is the client.
func (r *Router) clientIP(req *http.Request) string {
	peer := strings.TrimSpace(req.RemoteAddr)
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}
	if peer == "" {
		peer = "unknown"
	}
	if !r.trusted(peer) {
		return peer
	}
	hops := strings.Split(req.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !r.trusted(hop) {
			return hop
		}
		peer = hop
	}
	return peer
}

func (r *Router) trusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range r.opts.TrustedProxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ParseTrustedProxies accepts CIDR ranges and bare addresses.
func ParseTrustedProxies(values []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", v, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", v, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
