package concurrency_test

import (
	"io"
	"sync/atomic"
	"testing"

	"pairs_trader/internal/logging"
	"pairs_trader/pkg/concurrency"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTinyPool(nonBlocking bool) *concurrency.WorkerPool {
	logger := logging.NewLogger(logging.ErrorLevel, io.Discard)
	return concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "tiny",
		MaxWorkers:  1,
		MaxCapacity: 1,
		NonBlocking: nonBlocking,
	}, logger)
}

func TestPoolRunsSubmittedTasks(t *testing.T) {
	pool := newTinyPool(false)

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(func() { ran.Add(1) }))
	}
	pool.Stop()

	assert.Equal(t, int32(5), ran.Load())
	assert.Equal(t, uint64(5), pool.Stats().SuccessfulTasks)
}

func TestPoolNonBlockingRejectsWhenSaturated(t *testing.T) {
	pool := newTinyPool(true)
	release := make(chan struct{})

	require.NoError(t, pool.Submit(func() { <-release }))

	rejected := false
	for i := 0; i < 10; i++ {
		if err := pool.Submit(func() {}); err != nil {
			rejected = true
			break
		}
	}
	close(release)
	pool.Stop()

	assert.True(t, rejected, "a full single-slot queue must refuse work")
}

func TestPoolContainsPanickingTask(t *testing.T) {
	pool := newTinyPool(false)

	require.NoError(t, pool.Submit(func() { panic("sink blew up") }))

	var ran atomic.Int32
	require.NoError(t, pool.Submit(func() { ran.Add(1) }))
	pool.Stop()

	assert.Equal(t, int32(1), ran.Load(), "pool keeps working after a panic")
	assert.Equal(t, uint64(1), pool.Stats().FailedTasks)
}
