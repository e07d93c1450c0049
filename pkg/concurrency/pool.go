// Package concurrency provides the pond-backed worker pool used for
// asynchronous fan-out work such as notification delivery.
package concurrency

import (
	"fmt"
	"pairs_trader/internal/core"
	"time"

	"github.com/alitto/pond"
)

// PoolConfig sizes a pool. NonBlocking makes Submit fail fast when the
// queue is full instead of applying backpressure to the caller.
type PoolConfig struct {
	Name        string
	MaxWorkers  int
	MaxCapacity int
	IdleTimeout time.Duration
	NonBlocking bool
}

// Stats is a point-in-time view of pool load.
type Stats struct {
	RunningWorkers  int
	IdleWorkers     int
	WaitingTasks    uint64
	SubmittedTasks  uint64
	SuccessfulTasks uint64
	FailedTasks     uint64
}

// WorkerPool wraps alitto/pond with the repo's logging and config
// conventions. Panics inside tasks are contained and logged, never
// propagated to the submitter.
type WorkerPool struct {
	pool   *pond.WorkerPool
	config PoolConfig
	logger core.ILogger
}

func NewWorkerPool(cfg PoolConfig, logger core.ILogger) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 10
	}
	if cfg.MaxCapacity <= 0 {
		cfg.MaxCapacity = 100
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	poolLogger := logger.WithField("component", "worker_pool").WithField("pool", cfg.Name)
	pool := pond.New(
		cfg.MaxWorkers,
		cfg.MaxCapacity,
		pond.MinWorkers(1),
		pond.IdleTimeout(cfg.IdleTimeout),
		pond.Strategy(pond.Balanced()),
		pond.PanicHandler(func(p interface{}) {
			poolLogger.Error("worker panic recovered", "panic", p)
		}),
	)

	return &WorkerPool{
		pool:   pool,
		config: cfg,
		logger: poolLogger,
	}
}

// Submit queues a task. In non-blocking mode a full queue returns an
// error; otherwise the call blocks until a slot frees up.
func (wp *WorkerPool) Submit(task func()) error {
	if wp.config.NonBlocking {
		if !wp.pool.TrySubmit(task) {
			return fmt.Errorf("pool %s full, capacity %d", wp.config.Name, wp.config.MaxCapacity)
		}
		return nil
	}
	wp.pool.Submit(task)
	return nil
}

// Stop waits for queued tasks to finish, then releases the workers.
func (wp *WorkerPool) Stop() {
	wp.pool.StopAndWait()
}

func (wp *WorkerPool) Stats() Stats {
	return Stats{
		RunningWorkers:  wp.pool.RunningWorkers(),
		IdleWorkers:     wp.pool.IdleWorkers(),
		WaitingTasks:    wp.pool.WaitingTasks(),
		SubmittedTasks:  wp.pool.SubmittedTasks(),
		SuccessfulTasks: wp.pool.SuccessfulTasks(),
		FailedTasks:     wp.pool.FailedTasks(),
	}
}
