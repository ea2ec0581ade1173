package admission

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	g := New()
	ctx := context.Background()
	require.NoError(t, g.Acquire(ctx))
	g.Release()
}

func TestConcurrencyCapEnforced(t *testing.T) {
	g := New()
	ctx := context.Background()

	var inFlight int32
	var maxSeen int32
	done := make(chan struct{})

	const holders = Concurrency * 3
	for i := 0; i < holders; i++ {
		go func() {
			if err := g.Acquire(ctx); err != nil {
				done <- struct{}{}
				return
			}
			n := atomic.AddInt32(&inFlight, 1)
			for {
				old := atomic.LoadInt32(&maxSeen)
				if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			g.Release()
			done <- struct{}{}
		}()
	}

	for i := 0; i < holders; i++ {
		<-done
	}
	assert.LessOrEqual(t, int(atomic.LoadInt32(&maxSeen)), Concurrency)
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	g := New()
	ctx := context.Background()
	for i := 0; i < Concurrency; i++ {
		require.NoError(t, g.Acquire(ctx))
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	cancel()
	err := g.Acquire(cancelCtx)
	assert.Error(t, err)
}
