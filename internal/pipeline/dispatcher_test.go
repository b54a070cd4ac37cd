package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingRunner struct {
	started  chan int64
	release  chan struct{}
	running  atomic.Int32
	peak     atomic.Int32
	mu       sync.Mutex
	finished []Outcome
}

func (r *blockingRunner) Run(ctx context.Context, job Job) Outcome {
	n := r.running.Add(1)
	defer r.running.Add(-1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}
	r.started <- job.VideoID

	out := Outcome{Job: job, State: RunStateFinished}
	select {
	case <-r.release:
	case <-ctx.Done():
		out.State = RunStateFailed
		out.Err = ctx.Err()
	}
	r.mu.Lock()
	r.finished = append(r.finished, out)
	r.mu.Unlock()
	return out
}

func TestDispatcherBoundsConcurrency(t *testing.T) {
	runner := &blockingRunner{started: make(chan int64, 4), release: make(chan struct{})}
	d := NewDispatcher(runner, 2)

	for i := int64(1); i <= 4; i++ {
		require.NoError(t, d.Submit(Job{VideoID: i}))
	}

	for i := 0; i < 2; i++ {
		select {
		case <-runner.started:
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for run to start")
		}
	}
	select {
	case <-runner.started:
		t.Fatal("third run started while two were active")
	case <-time.After(50 * time.Millisecond):
	}

	close(runner.release)
	for i := 0; i < 2; i++ {
		select {
		case <-runner.started:
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for queued run")
		}
	}

	require.NoError(t, d.Shutdown(context.Background()))
	assert.LessOrEqual(t, runner.peak.Load(), int32(2))
	assert.Len(t, runner.finished, 4)
}

func TestDispatcherShutdownCancelsRuns(t *testing.T) {
	runner := &blockingRunner{started: make(chan int64, 1), release: make(chan struct{})}
	d := NewDispatcher(runner, 1)

	var outcomes atomic.Int32
	d.OnOutcome(func(o Outcome) {
		if o.State == RunStateFailed {
			outcomes.Add(1)
		}
	})

	require.NoError(t, d.Submit(Job{VideoID: 1}))
	<-runner.started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))

	assert.Equal(t, int32(1), outcomes.Load())
	assert.ErrorIs(t, d.Submit(Job{VideoID: 2}), ErrDispatcherClosed)
	assert.Zero(t, d.Active())
}
