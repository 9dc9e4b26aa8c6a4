package http

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/freekieb7/quarry/metrics"
	"github.com/freekieb7/quarry/test"
	"github.com/prometheus/client_golang/prometheus"
)

func TestNewWorkerPoolInvalidSize(t *testing.T) {
	_, err := NewWorkerPool(0, 1, nil, nil)
	test.ErrorIs(t, err, ErrInvalidPoolSize)
}

func TestWorkerPoolRunsJobs(t *testing.T) {
	wp, err := NewWorkerPool(4, 16, nil, metrics.New(prometheus.NewRegistry()))
	test.NoError(t, err)
	test.Equal(t, 4, wp.Size())

	var count atomic.Int64
	for iter := 0; iter < 100; iter++ {
		test.NoError(t, wp.Submit(context.Background(), func() { count.Add(1) }))
	}

	wp.Shutdown()
	test.Equal(t, int64(100), count.Load())
}

func TestWorkerPoolFIFO(t *testing.T) {
	wp, err := NewWorkerPool(1, 8, nil, nil)
	test.NoError(t, err)

	var order []int
	for i := 0; i < 8; i++ {
		i := i
		test.NoError(t, wp.Submit(context.Background(), func() { order = append(order, i) }))
	}
	wp.Shutdown()

	for i, v := range order {
		test.Equal(t, i, v)
	}
}

func TestWorkerPoolRecoversPanic(t *testing.T) {
	wp, err := NewWorkerPool(1, 2, nil, nil)
	test.NoError(t, err)

	done := make(chan struct{})
	test.NoError(t, wp.Submit(context.Background(), func() { panic("boom") }))
	test.NoError(t, wp.Submit(context.Background(), func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Expected worker to keep running after panic")
	}
	wp.Shutdown()
}

func TestWorkerPoolBackpressure(t *testing.T) {
	wp, err := NewWorkerPool(1, 1, nil, nil)
	test.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{})
	test.NoError(t, wp.Submit(context.Background(), func() {
		close(started)
		<-release
	}))
	<-started

	// The only worker is busy, so the queue holds exactly one more job.
	test.NoError(t, wp.TrySubmit(func() {}))
	test.ErrorIs(t, wp.TrySubmit(func() {}), ErrQueueFull)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	test.ErrorIs(t, wp.Submit(ctx, func() {}), context.DeadlineExceeded)

	close(release)
	wp.Shutdown()
}

func TestWorkerPoolShutdownWaitsForJobs(t *testing.T) {
	wp, err := NewWorkerPool(2, 4, nil, nil)
	test.NoError(t, err)

	var mu sync.Mutex
	finished := 0
	for iter := 0; iter < 4; iter++ {
		test.NoError(t, wp.Submit(context.Background(), func() {
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			finished++
			mu.Unlock()
		}))
	}

	wp.Shutdown()
	test.Equal(t, 4, finished)

	if err := wp.Submit(context.Background(), func() {}); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Expected ErrPoolClosed, got %v", err)
	}
	test.ErrorIs(t, wp.TrySubmit(func() {}), ErrPoolClosed)

	// Shutdown is idempotent.
	wp.Shutdown()
}
