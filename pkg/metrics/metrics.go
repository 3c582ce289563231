// Package metrics holds helpers shared by the services' Prometheus collectors.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Namespace prefixes every collector.
const Namespace = "minivercel"

// Register registers c with the default registry. When a collector with the
// same descriptor already exists, as happens when a router is built twice in
// one process, the existing one is returned instead.
func Register[T prometheus.Collector](c T) T {
	if err := prometheus.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}
