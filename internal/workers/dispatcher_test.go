package workers

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func newTestDispatcher() *Dispatcher {
	return NewDispatcher(nil, nil, 2, 2, arbor.NewLogger())
}

func TestSubmitJobDeduplicates(t *testing.T) {
	d := newTestDispatcher()

	require.NoError(t, d.SubmitJob("job_a"))
	require.NoError(t, d.SubmitJob("job_a"))
	require.NoError(t, d.SubmitJob("job_b"))

	assert.Len(t, d.jobQueue, 2)
}

func TestSubmitBatchUsesSeparateQueue(t *testing.T) {
	d := newTestDispatcher()

	require.NoError(t, d.SubmitJob("job_a"))
	require.NoError(t, d.SubmitBatch("batch_a"))

	assert.Len(t, d.jobQueue, 1)
	assert.Len(t, d.batchQueue, 1)
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	d := newTestDispatcher()

	for i := 0; i < queueCapacity; i++ {
		require.NoError(t, d.SubmitJob(fmt.Sprintf("job_%d", i)))
	}

	err := d.SubmitJob("job_overflow")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue is full")

	// The rejected id is forgotten and can be resubmitted later
	d.mu.Lock()
	_, exists := d.inflight["job_overflow"]
	d.mu.Unlock()
	assert.False(t, exists)
}

func TestCancelUnknownID(t *testing.T) {
	d := newTestDispatcher()

	assert.False(t, d.Cancel("job_missing"))
}

func TestCancelQueuedWork(t *testing.T) {
	d := newTestDispatcher()

	require.NoError(t, d.SubmitJob("job_a"))
	assert.True(t, d.Cancel("job_a"))
}

func TestNewDispatcherClampsWorkerCounts(t *testing.T) {
	d := NewDispatcher(nil, nil, 0, -1, arbor.NewLogger())

	assert.Equal(t, 1, d.jobWorkers)
	assert.Equal(t, 1, d.batchWorkers)
}

func TestCancelBeforeStartSkipsWork(t *testing.T) {
	d := newTestDispatcher()
	d.baseCtx, d.cancel = context.WithCancel(context.Background())

	require.NoError(t, d.SubmitJob("job_a"))
	require.True(t, d.Cancel("job_a"))

	var ctxErr error
	d.run("job_a", func(ctx context.Context, id string) error {
		ctxErr = ctx.Err()
		return ctxErr
	})

	// The work function sees an already-cancelled context and can only
	// record its terminal state
	assert.ErrorIs(t, ctxErr, context.Canceled)
}

func TestRunWithoutCancelKeepsContextLive(t *testing.T) {
	d := newTestDispatcher()
	d.baseCtx, d.cancel = context.WithCancel(context.Background())

	require.NoError(t, d.SubmitJob("job_a"))

	var ctxErr error
	d.run("job_a", func(ctx context.Context, id string) error {
		ctxErr = ctx.Err()
		return nil
	})

	assert.NoError(t, ctxErr)
}

func TestSubmitAfterShutdownFails(t *testing.T) {
	d := newTestDispatcher()
	d.Shutdown()

	err := d.SubmitJob("job_a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shut down")
}
