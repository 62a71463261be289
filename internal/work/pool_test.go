package work

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsSubmittedTasks(t *testing.T) {
	pool := NewPool(4, 32, zerolog.Nop())
	pool.Start(context.Background())

	var ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		pool.Submit(func() {
			ran.Add(1)
			wg.Done()
		})
	}
	wg.Wait()
	pool.Stop()

	require.Equal(t, int32(20), ran.Load())
	require.Zero(t, pool.InlineRuns())
}

func TestPoolRecoversFromTaskPanic(t *testing.T) {
	pool := NewPool(1, 4, zerolog.Nop())
	pool.Start(context.Background())

	pool.Submit(func() { panic("boom") })

	done := make(chan struct{})
	pool.Submit(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive the panic")
	}
	pool.Stop()
}

func TestSubmitRunsInlineWhenQueueIsFull(t *testing.T) {
	pool := NewPool(1, 1, zerolog.Nop())
	pool.Start(context.Background())

	started := make(chan struct{})
	gate := make(chan struct{})
	pool.Submit(func() {
		close(started)
		<-gate
	})
	<-started

	// The single worker is parked on the gate; this task fills the queue.
	var queuedRan atomic.Bool
	pool.Submit(func() { queuedRan.Store(true) })

	// Queue full: the next submit must execute in this goroutine, before
	// Submit returns.
	var inlineRan atomic.Bool
	pool.Submit(func() { inlineRan.Store(true) })

	require.True(t, inlineRan.Load())
	require.False(t, queuedRan.Load())
	require.Equal(t, int64(1), pool.InlineRuns())

	close(gate)
	pool.Stop()
	require.True(t, queuedRan.Load())
}

func TestInlinePanicDoesNotEscapeSubmit(t *testing.T) {
	pool := NewPool(1, 1, zerolog.Nop())
	pool.Start(context.Background())

	started := make(chan struct{})
	gate := make(chan struct{})
	pool.Submit(func() {
		close(started)
		<-gate
	})
	<-started
	pool.Submit(func() {})

	require.NotPanics(t, func() {
		pool.Submit(func() { panic("inline boom") })
	})

	close(gate)
	pool.Stop()
}

func TestStopDrainsPendingTasks(t *testing.T) {
	pool := NewPool(1, 8, zerolog.Nop())
	pool.Start(context.Background())

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		pool.Submit(func() { ran.Add(1) })
	}
	pool.Stop()

	require.Equal(t, int32(5), ran.Load())
}
