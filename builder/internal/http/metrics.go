package httpx

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/minivercel/builder/internal/service/deploy"
	"github.com/splax/minivercel/pkg/build"
	"github.com/splax/minivercel/pkg/metrics"
)

var histogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

var buildBuckets = []float64{5, 15, 30, 60, 120, 300, 600, 1200}

func (r *Router) initMetrics() {
	r.metricsOnce.Do(func() {
		r.requestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "builder",
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"})

		r.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "builder",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   histogramBuckets,
		}, []string{"method", "route", "status"})

		r.buildResults = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "builder",
			Name:      "build_results_total",
			Help:      "Finished builds by outcome and the phase they ended in",
		}, []string{"outcome", "phase"})

		r.buildDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "builder",
			Name:      "build_duration_seconds",
			Help:      "Wall time from pick-up to terminal phase",
			Buckets:   buildBuckets,
		}, []string{"outcome"})

		r.artifactsUploaded = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "builder",
			Name:      "artifacts_uploaded_total",
			Help:      "Files written to the blob store",
		})

		r.requestTotal = metrics.Register(r.requestTotal)
		r.requestDuration = metrics.Register(r.requestDuration)
		r.buildResults = metrics.Register(r.buildResults)
		r.buildDuration = metrics.Register(r.buildDuration)
		r.artifactsUploaded = metrics.Register(r.artifactsUploaded)
		r.metricsInitialized = true
	})
}

func (r *Router) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if !r.metricsInitialized {
			next(w, req)
			return
		}
		recorder := &responseRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)
		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		r.recordRequest(req.Method, route, status, time.Since(start))
	}
}

func (r *Router) recordRequest(method, route string, status int, duration time.Duration) {
	if !r.metricsInitialized {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	r.requestTotal.With(labels).Inc()
	r.requestDuration.With(labels).Observe(duration.Seconds())
}

// ObserveBuild records a finished run.
func (r *Router) ObserveBuild(res deploy.Result) {
	if !r.metricsInitialized {
		return
	}
	outcome := "success"
	phase := res.Phase
	if res.Phase == build.PhaseFailed {
		outcome = "failure"
		phase = res.FailedIn
	}
	r.buildResults.With(prometheus.Labels{"outcome": outcome, "phase": phase.String()}).Inc()
	r.buildDuration.With(prometheus.Labels{"outcome": outcome}).Observe(res.Duration.Seconds())
	if res.Uploaded > 0 {
		r.artifactsUploaded.Add(float64(res.Uploaded))
	}
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (rr *responseRecorder) WriteHeader(code int) {
	rr.status = code
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	if rr.status == 0 {
		rr.status = http.StatusOK
	}
	return rr.ResponseWriter.Write(b)
}
