package chainstate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestValue_RefreshKeepsLastGoodValue(t *testing.T) {
	ctx := context.Background()

	var fail atomic.Bool
	var n atomic.Uint64
	fetch := func(ctx context.Context) (uint64, error) {
		if fail.Load() {
			return 0, errors.New("rpc unavailable")
		}
		return n.Add(100), nil
	}
	v := NewValue[uint64]("balance", time.Hour, fetch, nil, discardLogger())

	snap := v.Snapshot()
	assert.True(t, snap.Loading)
	assert.False(t, snap.Present)

	require.True(t, v.Refresh(ctx))
	snap = v.Snapshot()
	assert.Equal(t, uint64(100), snap.Value)
	assert.True(t, snap.Present)
	assert.False(t, snap.Loading)
	assert.NoError(t, snap.Err)

	fail.Store(true)
	require.True(t, v.Refresh(ctx))
	snap = v.Snapshot()
	assert.Equal(t, uint64(100), snap.Value, "stale value must survive a failed refresh")
	assert.True(t, snap.Present)
	assert.Error(t, snap.Err)

	fail.Store(false)
	require.True(t, v.Refresh(ctx))
	snap = v.Snapshot()
	assert.Equal(t, uint64(200), snap.Value)
	assert.NoError(t, snap.Err, "a successful refresh clears the error flag")
}

func TestValue_FirstRefreshFailure(t *testing.T) {
	v := NewValue[uint64]("balance", time.Hour, func(ctx context.Context) (uint64, error) {
		return 0, errors.New("boom")
	}, nil, discardLogger())

	v.Refresh(context.Background())
	snap := v.Snapshot()
	assert.False(t, snap.Present)
	assert.False(t, snap.Loading)
	assert.Error(t, snap.Err)
}

func TestValue_RefreshDoesNotOverlap(t *testing.T) {
	ctx := context.Background()

	release := make(chan struct{})
	started := make(chan struct{})
	var calls atomic.Int32
	fetch := func(ctx context.Context) (uint64, error) {
		calls.Add(1)
		close(started)
		<-release
		return 1, nil
	}
	v := NewValue[uint64]("reference", time.Hour, fetch, nil, discardLogger())

	done := make(chan bool)
	go func() { done <- v.Refresh(ctx) }()
	<-started

	assert.False(t, v.Refresh(ctx), "a tick during an in-flight refresh is skipped")

	close(release)
	assert.True(t, <-done)
	assert.Equal(t, int32(1), calls.Load())
}

func TestValue_RunRefreshesImmediatelyAndOnTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	v := NewValue[uint64]("balance", 5*time.Millisecond, func(ctx context.Context) (uint64, error) {
		return uint64(calls.Add(1)), nil
	}, nil, discardLogger())

	go v.Run(ctx)

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	assert.True(t, v.Snapshot().Present)
}

func TestValue_Reset(t *testing.T) {
	v := NewValue[uint64]("balance", time.Hour, func(ctx context.Context) (uint64, error) {
		return 7, nil
	}, nil, discardLogger())

	v.Refresh(context.Background())
	require.True(t, v.Snapshot().Present)

	v.Reset()
	snap := v.Snapshot()
	assert.False(t, snap.Present)
	assert.True(t, snap.Loading)
	assert.Zero(t, snap.Value)
}
