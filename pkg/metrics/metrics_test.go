package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterReturnsExistingCollector(t *testing.T) {
	opts := prometheus.CounterOpts{Namespace: Namespace, Subsystem: "test", Name: "register_twice_total", Help: "test"}
	first := Register(prometheus.NewCounter(opts))
	second := Register(prometheus.NewCounter(opts))
	first.Inc()
	if first != second {
		t.Fatalf("expected the second registration to reuse the first collector")
	}
}
