package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

// WorkerStats counts the background processes a runner has hosted.
type WorkerStats struct {
	Running  int64 `json:"running"`
	Finished int64 `json:"finished"`
	Failed   int64 `json:"failed"`
	Panicked int64 `json:"panicked"`
}

// ErrPoolShutdown is returned when a background process is started after the
// runner drained its workers.
var ErrPoolShutdown = errors.New("background workers are shut down")

// WorkerPool hosts background processes, one goroutine each. It is not
// bounded: a background step holds its worker until it finishes or is
// canceled, so a bound would stall the sequence.
type WorkerPool struct {
	wg sync.WaitGroup

	running, finished, failed, panicked atomic.Int64

	mu     sync.Mutex
	closed bool

	onDone func(err error, panicked bool)
}

// NewWorkerPool creates an empty pool. onDone, when not nil, receives the
// result of every job.
func NewWorkerPool(onDone func(err error, panicked bool)) *WorkerPool {
	return &WorkerPool{onDone: onDone}
}

// Submit starts fn on its own goroutine. A panic in fn is recovered and
// reported to onDone as a STEP_PANIC error.
func (p *WorkerPool) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	// Add under the lock so Shutdown cannot start waiting in between.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	p.running.Add(1)
	p.mu.Unlock()

	go func() {
		var (
			err      error
			panicked bool
		)
		defer func() {
			if rec := recover(); rec != nil {
				panicked = true
				err = schema.NewErrorf(schema.ErrCodeStepPanic, "background step panicked: %v", rec).
					WithCause(fmt.Errorf("%v", rec))
				p.panicked.Add(1)
			}
			if err != nil {
				p.failed.Add(1)
			} else {
				p.finished.Add(1)
			}
			p.running.Add(-1)
			if p.onDone != nil {
				p.onDone(err, panicked)
			}
			p.wg.Done()
		}()

		err = fn(ctx)
	}()
	return nil
}

// Close rejects further submissions. Running jobs are left alone.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// Shutdown closes the pool and waits for running jobs to return.
func (p *WorkerPool) Shutdown() {
	p.Close()
	p.wg.Wait()
}

// Stats returns the current counters.
func (p *WorkerPool) Stats() WorkerStats {
	return WorkerStats{
		Running:  p.running.Load(),
		Finished: p.finished.Load(),
		Failed:   p.failed.Load(),
		Panicked: p.panicked.Load(),
	}
}
