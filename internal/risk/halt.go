// Package risk gates new executions on recent target outcomes.
package risk

import (
	"fmt"
	"pairs_trader/internal/config"
	"pairs_trader/internal/core"
	"pairs_trader/pkg/telemetry"
	"sync"
	"time"
)

// Halt is a consecutive-failure breaker implementing
// core.IExecutionGate. Failed, Canceled and Invalid retirements count
// toward the trip threshold; a Filled retirement clears the count. Once
// open, the halt refuses new targets until the cooldown elapses or an
// operator resets it.
type Halt struct {
	enabled  bool
	maxFails int
	cooldown time.Duration
	logger   core.ILogger

	mu       sync.Mutex
	halted   bool
	failures int
	reason   string
	haltedAt time.Time
}

func NewHalt(cfg config.RiskConfig, logger core.ILogger) *Halt {
	return &Halt{
		enabled:  cfg.Enabled,
		maxFails: cfg.MaxConsecutiveFailures,
		cooldown: time.Duration(cfg.CooldownSeconds) * time.Second,
		logger:   logger.WithField("component", "execution_halt"),
	}
}

func (h *Halt) Allow() bool {
	if !h.enabled {
		return true
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.halted {
		return true
	}
	if h.cooldown > 0 && time.Since(h.haltedAt) > h.cooldown {
		h.clear("cooldown elapsed")
		return true
	}
	return false
}

func (h *Halt) RecordResult(status core.TargetStatus) {
	if !h.enabled {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	switch status {
	case core.TargetStatusFilled:
		h.failures = 0
		return
	case core.TargetStatusCanceled, core.TargetStatusInvalid, core.TargetStatusFailed:
		h.failures++
	default:
		// Non-terminal statuses never retire; nothing to record.
		return
	}

	if !h.halted && h.maxFails > 0 && h.failures >= h.maxFails {
		h.trip(fmt.Sprintf("%d consecutive failed targets", h.failures))
	}
}

func (h *Halt) State() core.HaltState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return core.HaltState{
		Halted:              h.halted,
		ConsecutiveFailures: h.failures,
		Reason:              h.reason,
	}
}

func (h *Halt) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clear("manual reset")
}

// trip and clear run with the mutex held.
func (h *Halt) trip(reason string) {
	h.halted = true
	h.reason = reason
	h.haltedAt = time.Now()
	h.logger.Error("execution halted", "reason", reason)
	telemetry.GetGlobalMetrics().SetExecutionHalted("global", true)
}

func (h *Halt) clear(cause string) {
	h.halted = false
	h.failures = 0
	h.reason = ""
	h.logger.Info("execution halt cleared", "cause", cause)
	telemetry.GetGlobalMetrics().SetExecutionHalted("global", false)
}
