package core

// HaltState describes the execution gate's current disposition.
type HaltState struct {
	Halted              bool
	ConsecutiveFailures int
	Reason              string
}

// IExecutionGate admits or refuses new execution targets based on recent
// outcomes. RecordResult is fed every retired target's final status.
type IExecutionGate interface {
	Allow() bool
	RecordResult(status TargetStatus)
	State() HaltState
	Reset()
}
