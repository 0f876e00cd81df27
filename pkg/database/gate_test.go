package database

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runConcurrently(t *testing.T, g *Gate, calls int) int32 {
	t.Helper()
	var inFlight, peak int32
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := g.Do(context.Background(), func(context.Context) error {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	return peak
}

func TestGateSingleFlight(t *testing.T) {
	g := NewGate(1)
	assert.Equal(t, int32(1), runConcurrently(t, g, 20))
}

func TestGateBoundedPool(t *testing.T) {
	g := NewGate(3)
	assert.LessOrEqual(t, runConcurrently(t, g, 30), int32(3))
	assert.Equal(t, 3, g.Weight())
}

func TestGateZeroWeightFallsBackToOne(t *testing.T) {
	assert.Equal(t, 1, NewGate(0).Weight())
}

func TestGateHonoursCancellationWhileWaiting(t *testing.T) {
	g := NewGate(1)
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = g.Do(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := g.Do(ctx, func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
	close(release)
}

func TestGateDetachesRunningCallFromCaller(t *testing.T) {
	g := NewGate(1)
	ctx, cancel := context.WithCancel(context.Background())
	err := g.Do(ctx, func(inner context.Context) error {
		cancel()
		assert.NoError(t, inner.Err())
		return nil
	})
	require.NoError(t, err)
}
