package httpx

import (
	"net/http"
	"sync"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/minivercel/pkg/health"
)

// Check probes one dependency.
type Check = health.Check

// Router serves the builder's operational endpoints and collects build
// metrics reported by the worker pool.
type Router struct {
	mux    *http.ServeMux
	logger *slog.Logger

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	buildResults       *prometheus.CounterVec
	buildDuration      *prometheus.HistogramVec
	artifactsUploaded  prometheus.Counter
}

// New builds the router; /healthz runs every check.
func New(logger *slog.Logger, checks map[string]Check) *Router {
	r := &Router{mux: http.NewServeMux(), logger: logger}
	r.initMetrics()
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/healthz", r.instrument("/healthz", health.Handler(logger, checks)))
	return r
}

// ServeHTTP satisfies http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}
