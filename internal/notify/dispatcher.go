// Package notify fans target notifications out to registered sinks
// without blocking the execution path.
package notify

import (
	"pairs_trader/internal/core"
	"pairs_trader/pkg/concurrency"
	"sync"
)

// Dispatcher implements core.INotificationSink and relays every
// notification to its sinks through a worker pool. In batch mode only
// terminal notifications and fill inconsistencies go through; progress
// chatter (created, submitted, partial fills, sweeps) is suppressed.
type Dispatcher struct {
	pool   *concurrency.WorkerPool
	logger core.ILogger
	batch  bool

	mu    sync.RWMutex
	sinks []core.INotificationSink
}

func NewDispatcher(batch bool, logger core.ILogger) *Dispatcher {
	componentLogger := logger.WithField("component", "notify_dispatcher")
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "notifications",
		MaxWorkers:  4,
		MaxCapacity: 256,
		NonBlocking: true,
	}, componentLogger)
	return &Dispatcher{
		pool:   pool,
		logger: componentLogger,
		batch:  batch,
	}
}

// AddSink registers a delivery target. Sinks run on pool workers; a
// panicking sink is contained by the pool and cannot reach execution.
func (d *Dispatcher) AddSink(sink core.INotificationSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, sink)
}

func (d *Dispatcher) NotifyTarget(kind core.NotificationKind, snapshot core.TargetSnapshot) {
	if d.batch && !kind.IsTerminal() && kind != core.NotifyFillInconsistency {
		return
	}

	d.mu.RLock()
	sinks := make([]core.INotificationSink, len(d.sinks))
	copy(sinks, d.sinks)
	d.mu.RUnlock()

	for _, sink := range sinks {
		s := sink
		if err := d.pool.Submit(func() { s.NotifyTarget(kind, snapshot) }); err != nil {
			d.logger.Warn("notification dropped",
				"kind", kind.String(), "handle", snapshot.Handle, "error", err.Error())
		}
	}
}

// Close drains queued notifications and stops the pool.
func (d *Dispatcher) Close() {
	d.pool.Stop()
	st := d.pool.Stats()
	d.logger.Debug("dispatcher drained",
		"delivered", st.SuccessfulTasks, "dropped", st.FailedTasks)
}
