package pipeline

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrDispatcherClosed is returned by Submit after Shutdown
var ErrDispatcherClosed = errors.New("dispatcher is shut down")

// Runner executes one job. Implemented by Orchestrator.
type Runner interface {
	Run(ctx context.Context, job Job) Outcome
}

// Dispatcher runs jobs in the background with bounded concurrency.
// Runs for different videos proceed independently.
type Dispatcher struct {
	runner    Runner
	sem       *semaphore.Weighted
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	closed    bool
	active    atomic.Int64
	onOutcome func(Outcome)
}

// NewDispatcher creates a dispatcher allowing maxConcurrent simultaneous runs
func NewDispatcher(runner Runner, maxConcurrent int64) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		runner: runner,
		sem:    semaphore.NewWeighted(maxConcurrent),
		ctx:    ctx,
		cancel: cancel,
	}
}

// OnOutcome registers a callback invoked after every run
func (d *Dispatcher) OnOutcome(fn func(Outcome)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onOutcome = fn
}

// Submit schedules job and returns immediately
func (d *Dispatcher) Submit(job Job) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	d.wg.Add(1)
	onOutcome := d.onOutcome
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()

		// On shutdown the run still executes so it can fail the video and clean up
		if err := d.sem.Acquire(d.ctx, 1); err == nil {
			defer d.sem.Release(1)
		}

		d.active.Add(1)
		defer d.active.Add(-1)

		outcome := d.runner.Run(d.ctx, job)
		if onOutcome != nil {
			onOutcome(outcome)
		}
	}()
	return nil
}

// Active returns the number of runs currently executing
func (d *Dispatcher) Active() int {
	return int(d.active.Load())
}

// Shutdown cancels in-flight runs and waits for them to release their resources
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Printf("[Dispatcher] Stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
