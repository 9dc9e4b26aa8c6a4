package http

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/freekieb7/quarry/metrics"
)

var (
	ErrInvalidPoolSize = errors.New("http: worker pool size must be positive")
	ErrPoolClosed      = errors.New("http: worker pool is closed")
	ErrQueueFull       = errors.New("http: worker pool queue is full")
)

type Job func()

// WorkerPool runs jobs on a fixed set of goroutines fed by a bounded FIFO
// queue.
type WorkerPool struct {
	jobs    chan Job
	size    int
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewWorkerPool(size, queueSize int, logger *slog.Logger, m *metrics.Metrics) (*WorkerPool, error) {
	if size <= 0 {
		return nil, ErrInvalidPoolSize
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if logger == nil {
		logger = slog.Default()
	}

	wp := &WorkerPool{
		jobs:    make(chan Job, queueSize),
		size:    size,
		logger:  logger,
		metrics: m,
	}

	wp.wg.Add(size)
	for id := 0; id < size; id++ {
		go wp.work(id)
	}

	return wp, nil
}

func (wp *WorkerPool) Size() int {
	return wp.size
}

// Submit blocks until the job is queued or ctx is done.
func (wp *WorkerPool) Submit(ctx context.Context, job Job) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if wp.closed {
		return ErrPoolClosed
	}

	wp.metrics.JobQueued()
	select {
	case wp.jobs <- job:
		return nil
	case <-ctx.Done():
		wp.metrics.JobRejected()
		return ctx.Err()
	}
}

// TrySubmit queues the job only if there is room right now.
func (wp *WorkerPool) TrySubmit(job Job) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if wp.closed {
		return ErrPoolClosed
	}

	wp.metrics.JobQueued()
	select {
	case wp.jobs <- job:
		return nil
	default:
		wp.metrics.JobRejected()
		return ErrQueueFull
	}
}

// Shutdown stops accepting jobs and waits for the queue to drain and
// every running job to return.
func (wp *WorkerPool) Shutdown() {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return
	}
	wp.closed = true
	close(wp.jobs)
	wp.mu.Unlock()

	wp.wg.Wait()
}

func (wp *WorkerPool) work(id int) {
	defer wp.wg.Done()

	for job := range wp.jobs {
		wp.run(id, job)
	}
}

func (wp *WorkerPool) run(id int, job Job) {
	wp.metrics.JobStarted()
	defer wp.metrics.JobDone()

	defer func() {
		if r := recover(); r != nil {
			wp.metrics.JobPanicked()
			wp.logger.Error("recovered from panic",
				"worker", id,
				"error", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	job()
}
