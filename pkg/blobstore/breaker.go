package blobstore

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/eapache/go-resiliency/breaker"
)

// ErrUnavailable is returned while the circuit to the backend is open.
var ErrUnavailable = errors.New("blobstore: backend unavailable")

// Guarded wraps a Store with a circuit breaker so a failing backend is not
// hammered by every request. Missing keys do not count as failures.
type Guarded struct {
	store Store
	cb    *breaker.Breaker
}

// NewGuarded opens the circuit after errorThreshold backend errors and
// probes the backend again after timeout.
func NewGuarded(store Store, errorThreshold int, timeout time.Duration) *Guarded {
	if errorThreshold <= 0 {
		errorThreshold = 5
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Guarded{store: store, cb: breaker.New(errorThreshold, 1, timeout)}
}

// Get fetches key through the breaker.
func (g *Guarded) Get(ctx context.Context, key string) (Object, error) {
	var obj Object
	var getErr error
	err := g.cb.Run(func() error {
		obj, getErr = g.store.Get(ctx, key)
		if getErr != nil && !errors.Is(getErr, ErrNotFound) {
			return getErr
		}
		return nil
	})
	if errors.Is(err, breaker.ErrBreakerOpen) {
		return Object{}, ErrUnavailable
	}
	return obj, getErr
}

// Put stores body through the breaker.
func (g *Guarded) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	err := g.cb.Run(func() error {
		return g.store.Put(ctx, key, body, size, contentType)
	})
	if errors.Is(err, breaker.ErrBreakerOpen) {
		return ErrUnavailable
	}
	return err
}
