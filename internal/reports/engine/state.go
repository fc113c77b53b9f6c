package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle phase of one report execution.
type State string

const (
	StateIdle      State = "IDLE"
	StateResolving State = "RESOLVING"
	StateBuilding  State = "BUILDING"
	StateExecuting State = "EXECUTING"
	StateDone      State = "DONE"
	StateFailed    State = "FAILED"
)

// stateMachine enforces execution state transitions.
type stateMachine struct {
	allowedTransitions map[State][]State
}

// newStateMachine creates the execution state machine. RESOLVING may go
// straight to DONE: skeleton previews never build or run a query.
func newStateMachine() *stateMachine {
	return &stateMachine{
		allowedTransitions: map[State][]State{
			StateIdle:      {StateResolving},
			StateResolving: {StateBuilding, StateDone, StateFailed},
			StateBuilding:  {StateExecuting, StateFailed},
			StateExecuting: {StateDone, StateFailed},
			StateDone:      {},
			StateFailed:    {},
		},
	}
}

// CanTransition checks if a state transition is allowed.
func (sm *stateMachine) CanTransition(from, to State) bool {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return false
	}
	for _, allowedTo := range allowed {
		if allowedTo == to {
			return true
		}
	}
	return false
}

// Execution tracks one run of a report from request to result. Terminal
// states are DONE and FAILED; a failed execution is never retried.
type Execution struct {
	ID        uuid.UUID `json:"id"`
	ReportID  uuid.UUID `json:"report_id"`
	State     State     `json:"state"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	machine *stateMachine
}

// newExecution starts an execution in IDLE.
func newExecution(reportID uuid.UUID) *Execution {
	return &Execution{
		ID:        uuid.New(),
		ReportID:  reportID,
		State:     StateIdle,
		StartedAt: time.Now(),
		machine:   newStateMachine(),
	}
}

// transition moves the execution to the next state, rejecting any move
// the machine does not allow.
func (e *Execution) transition(to State) error {
	if !e.machine.CanTransition(e.State, to) {
		return fmt.Errorf("invalid execution state transition: %s -> %s", e.State, to)
	}
	e.State = to
	if to == StateDone || to == StateFailed {
		now := time.Now()
		e.EndedAt = &now
	}
	return nil
}

// fail marks the execution FAILED with the underlying message.
func (e *Execution) fail(err error) {
	e.Error = err.Error()
	e.State = StateFailed
	now := time.Now()
	e.EndedAt = &now
}
