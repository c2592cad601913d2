// Package chainstate keeps the remote values the payment flow depends on
// (account balance and the latest blockhash reference) fresh by polling each
// one on its own interval.
package chainstate

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brojonat/sendsol/service/metrics"
)

// FetchFunc loads the current remote value.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Snapshot is a point-in-time view of a polled value.
type Snapshot[T any] struct {
	Value     T
	Present   bool // a value has been fetched successfully at least once
	Loading   bool // no value yet and the first refresh has not completed
	Err       error
	UpdatedAt time.Time
}

// Value is a remote value refreshed on a fixed interval. Refreshes never
// overlap, and a failed refresh keeps the last good value in place.
type Value[T any] struct {
	name     string
	interval time.Duration
	fetch    FetchFunc[T]
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	refreshing atomic.Bool

	mu        sync.RWMutex
	value     T
	present   bool
	attempted bool
	err       error
	updatedAt time.Time
}

// NewValue creates a polled value. If m is nil, no metrics are recorded.
func NewValue[T any](name string, interval time.Duration, fetch FetchFunc[T], m *metrics.Metrics, logger *slog.Logger) *Value[T] {
	return &Value[T]{
		name:     name,
		interval: interval,
		fetch:    fetch,
		metrics:  m,
		logger:   logger.With("value", name),
		now:      time.Now,
	}
}

// Run refreshes immediately and then on every tick until ctx is done.
func (v *Value[T]) Run(ctx context.Context) {
	v.Refresh(ctx)

	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.Refresh(ctx)
		}
	}
}

// Refresh fetches the value once. It returns false without fetching when a
// refresh for this value is already in flight.
func (v *Value[T]) Refresh(ctx context.Context) bool {
	if !v.refreshing.CompareAndSwap(false, true) {
		v.logger.DebugContext(ctx, "refresh already in flight, skipping tick")
		if v.metrics != nil {
			v.metrics.RecordRefreshSkipped(v.name)
		}
		return false
	}
	defer v.refreshing.Store(false)

	val, err := v.fetch(ctx)
	if v.metrics != nil {
		v.metrics.RecordRefresh(v.name, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.attempted = true
	if err != nil {
		v.err = err
		v.logger.WarnContext(ctx, "refresh failed, keeping last known value",
			"present", v.present,
			"error", err,
		)
		return true
	}

	v.value = val
	v.present = true
	v.err = nil
	v.updatedAt = v.now()
	return true
}

// Snapshot returns the current state of the value.
func (v *Value[T]) Snapshot() Snapshot[T] {
	v.mu.RLock()
	defer v.mu.RUnlock()

	return Snapshot[T]{
		Value:     v.value,
		Present:   v.present,
		Loading:   !v.present && !v.attempted,
		Err:       v.err,
		UpdatedAt: v.updatedAt,
	}
}

// Reset forgets the value so that it reads as absent and loading again.
func (v *Value[T]) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()

	var zero T
	v.value = zero
	v.present = false
	v.attempted = false
	v.err = nil
	v.updatedAt = time.Time{}
}
