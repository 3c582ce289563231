package httpx

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/minivercel/pkg/metrics"
)

var histogramBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}

func (r *Router) initMetrics() {
	r.metricsOnce.Do(func() {
		r.requestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "proxy",
			Name:      "requests_total",
			Help:      "Artifact requests by outcome",
		}, []string{"outcome"})

		r.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "proxy",
			Name:      "request_duration_seconds",
			Help:      "Time to resolve and stream an artifact",
			Buckets:   histogramBuckets,
		}, []string{"outcome"})

		r.bytesServed = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "proxy",
			Name:      "bytes_served_total",
			Help:      "Artifact bytes written to clients",
		})

		r.requestTotal = metrics.Register(r.requestTotal)
		r.requestDuration = metrics.Register(r.requestDuration)
		r.bytesServed = metrics.Register(r.bytesServed)
		r.metricsInitialized = true
	})
}

func (r *Router) recordRequest(outcome string, duration time.Duration) {
	if !r.metricsInitialized {
		return
	}
	labels := prometheus.Labels{"outcome": outcome}
	r.requestTotal.With(labels).Inc()
	r.requestDuration.With(labels).Observe(duration.Seconds())
}

func (r *Router) recordBytes(n int64) {
	if r.metricsInitialized && n > 0 {
		r.bytesServed.Add(float64(n))
	}
}
