// Package store is the cache store adapter: a fail-open, time-bounded view
// over a key-value backend with expiry.
package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/i474232898/weather-currency-cache/internal/metrics"
)

// DefaultTimeout bounds every cache operation.
const DefaultTimeout = 2 * time.Second

var (
	// ErrNotFound is returned by a Backend when the key is absent or expired.
	ErrNotFound = errors.New("cache miss")
)

// Backend is a key-value store with per-entry expiry.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// Adapter wraps a Backend. Reads degrade to a miss and writes are dropped on
// any backend error or when the operation exceeds the timeout; neither is
// ever reported to the caller.
type Adapter struct {
	backend Backend
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewAdapter creates an Adapter. A non-positive timeout selects
// DefaultTimeout; logger and m may be nil.
func NewAdapter(backend Backend, timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Adapter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		backend: backend,
		timeout: timeout,
		logger:  logger,
		metrics: m,
	}
}

type getResult struct {
	val []byte
	err error
}

// Get returns the value stored under key, or false on a miss, a timeout, or
// a backend failure.
func (a *Adapter) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	// The backend runs on its own goroutine so the bound holds even if it
	// ignores ctx.
	done := make(chan getResult, 1)
	go func() {
		v, err := a.backend.Get(ctx, key)
		done <- getResult{val: v, err: err}
	}()

	select {
	case <-ctx.Done():
		a.abandoned(ctx, "get", key)
		return nil, false
	case r := <-done:
		switch {
		case errors.Is(r.err, ErrNotFound):
			a.logger.Debug("cache miss", "key", key)
			a.metrics.CacheOp("get", metrics.ResultMiss)
			return nil, false
		case r.err != nil:
			a.logger.Warn("cache get failed", "key", key, "error", r.err)
			a.metrics.CacheOp("get", metrics.ResultError)
			return nil, false
		}
		a.metrics.CacheOp("get", metrics.ResultHit)
		return r.val, true
	}
}

// Set stores value under key for ttl. Failures are logged and dropped.
func (a *Adapter) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- a.backend.Set(ctx, key, value, ttl)
	}()

	select {
	case <-ctx.Done():
		a.abandoned(ctx, "set", key)
	case err := <-done:
		if err != nil {
			a.logger.Warn("cache set failed", "key", key, "error", err)
			a.metrics.CacheOp("set", metrics.ResultError)
			return
		}
		a.metrics.CacheOp("set", metrics.ResultOK)
	}
}

// abandoned records an operation given up on because ctx is done. Only an
// expired deadline counts as a timeout; a caller cancellation is reported
// separately.
func (a *Adapter) abandoned(ctx context.Context, op, key string) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		a.logger.Warn("cache "+op+" timed out", "key", key, "timeout", a.timeout)
		a.metrics.CacheOp(op, metrics.ResultTimeout)
		return
	}
	a.logger.Debug("cache "+op+" abandoned", "key", key, "error", ctx.Err())
	a.metrics.CacheOp(op, metrics.ResultCanceled)
}

// Close releases the backend.
func (a *Adapter) Close() error {
	return a.backend.Close()
}
