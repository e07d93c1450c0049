package risk

import (
	"io"
	"testing"
	"time"

	"pairs_trader/internal/config"
	"pairs_trader/internal/core"
	"pairs_trader/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHalt(maxFails, cooldownSeconds int) *Halt {
	cfg := config.RiskConfig{
		Enabled:                true,
		MaxConsecutiveFailures: maxFails,
		CooldownSeconds:        cooldownSeconds,
	}
	return NewHalt(cfg, logging.NewLogger(logging.ErrorLevel, io.Discard))
}

func TestHaltTripsAfterConsecutiveFailures(t *testing.T) {
	halt := newTestHalt(3, 60)

	halt.RecordResult(core.TargetStatusFailed)
	halt.RecordResult(core.TargetStatusCanceled)
	assert.True(t, halt.Allow())

	halt.RecordResult(core.TargetStatusFailed)
	assert.False(t, halt.Allow())

	state := halt.State()
	assert.True(t, state.Halted)
	assert.Equal(t, 3, state.ConsecutiveFailures)
	assert.Equal(t, "3 consecutive failed targets", state.Reason)
}

func TestHaltFilledResetsStreak(t *testing.T) {
	halt := newTestHalt(3, 60)

	halt.RecordResult(core.TargetStatusFailed)
	halt.RecordResult(core.TargetStatusFailed)
	halt.RecordResult(core.TargetStatusFilled)

	state := halt.State()
	assert.Equal(t, 0, state.ConsecutiveFailures)

	halt.RecordResult(core.TargetStatusFailed)
	halt.RecordResult(core.TargetStatusFailed)
	assert.True(t, halt.Allow())

	halt.RecordResult(core.TargetStatusInvalid)
	assert.False(t, halt.Allow())
}

func TestHaltIgnoresNonTerminalStatuses(t *testing.T) {
	halt := newTestHalt(2, 60)

	halt.RecordResult(core.TargetStatusNew)
	halt.RecordResult(core.TargetStatusSubmitted)
	halt.RecordResult(core.TargetStatusPartiallyFilled)

	state := halt.State()
	assert.Equal(t, 0, state.ConsecutiveFailures)
	assert.True(t, halt.Allow())
}

func TestHaltCooldownAutoReset(t *testing.T) {
	halt := newTestHalt(1, 30)

	halt.RecordResult(core.TargetStatusFailed)
	require.False(t, halt.Allow())

	halt.mu.Lock()
	halt.haltedAt = time.Now().Add(-time.Minute)
	halt.mu.Unlock()

	assert.True(t, halt.Allow())

	state := halt.State()
	assert.False(t, state.Halted)
	assert.Equal(t, 0, state.ConsecutiveFailures)
	assert.Empty(t, state.Reason)
}

func TestHaltManualReset(t *testing.T) {
	halt := newTestHalt(1, 3600)

	halt.RecordResult(core.TargetStatusFailed)
	require.False(t, halt.Allow())

	halt.Reset()

	assert.True(t, halt.Allow())
	state := halt.State()
	assert.False(t, state.Halted)
	assert.Equal(t, 0, state.ConsecutiveFailures)
}

func TestHaltDisabledAlwaysAllows(t *testing.T) {
	cfg := config.RiskConfig{Enabled: false, MaxConsecutiveFailures: 1, CooldownSeconds: 1}
	halt := NewHalt(cfg, logging.NewLogger(logging.ErrorLevel, io.Discard))

	for i := 0; i < 5; i++ {
		halt.RecordResult(core.TargetStatusFailed)
	}
	assert.True(t, halt.Allow())
	assert.False(t, halt.State().Halted)
}
