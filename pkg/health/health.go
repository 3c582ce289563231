// Package health probes service dependencies for the /healthz endpoints.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds one round of probes.
const DefaultTimeout = 2 * time.Second

const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// Component is the outcome of one check.
type Component struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Report is the /healthz payload.
type Report struct {
	Status     string               `json:"status"`
	Components map[string]Component `json:"components"`
	Timestamp  string               `json:"timestamp"`
}

// Healthy reports whether every component is up.
func (r Report) Healthy() bool {
	return r.Status == StatusOK
}

// Run executes every check concurrently and waits for all of them.
func Run(ctx context.Context, checks map[string]Check, timeout time.Duration) Report {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu         sync.Mutex
		g          errgroup.Group
		components = make(map[string]Component, len(checks))
	)
	for name, check := range checks {
		g.Go(func() error {
			c := Component{Status: "up"}
			if err := check(ctx); err != nil {
				c = Component{Status: "down", Error: err.Error()}
			}
			mu.Lock()
			components[name] = c
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	status := StatusOK
	for _, c := range components {
		if c.Status != "up" {
			status = StatusDegraded
			break
		}
	}
	return Report{
		Status:     status,
		Components: components,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// Handler serves the report for GET requests, answering 503 when degraded.
func Handler(logger *slog.Logger, checks map[string]Check) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet && req.Method != http.MethodHead {
			writeJSON(w, logger, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		report := Run(req.Context(), checks, DefaultTimeout)
		code := http.StatusOK
		if !report.Healthy() {
			code = http.StatusServiceUnavailable
			logger.Warn("health check degraded", "components", report.Components)
		}
		writeJSON(w, logger, code, report)
	}
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}
