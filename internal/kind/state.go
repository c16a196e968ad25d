// Package kind defines the typed document bodies stored in the kinds table
// and the task/subtask state machine.
package kind

// State is the lifecycle status shared by tasks and subtasks.
type State string

// Lifecycle states. DELETE is a terminal tombstone reachable only through the
// explicit delete operation, never through a generic update.
const (
	StatePending    State = "PENDING"
	StateRunning    State = "RUNNING"
	StateCancelling State = "CANCELLING"
	StateCompleted  State = "COMPLETED"
	StateFailed     State = "FAILED"
	StateCancelled  State = "CANCELLED"
	StateDelete     State = "DELETE"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateRunning, StateCancelling,
		StateCompleted, StateFailed, StateCancelled, StateDelete:
		return true
	}
	return false
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled, StateDelete:
		return true
	}
	return false
}

// Resumable reports whether a stream for a subtask in this state may still
// produce content.
func (s State) Resumable() bool {
	return s == StatePending || s == StateRunning
}

// AllowedTransition reports whether a generic status update from 'from' to
// 'to' is accepted. The guard is deliberately partial: CANCELLING may only
// settle to CANCELLED or FAILED, terminal states never regress to non-terminal
// ones, and everything else is accepted as given (so PENDING -> COMPLETED
// passes). DELETE is excluded as a target here; it is reachable only through
// the delete operation.
func AllowedTransition(from, to State) bool {
	if to == StateDelete {
		return false
	}
	if from == StateCancelling {
		return to == StateCancelled || to == StateFailed
	}
	if from.Terminal() && !to.Terminal() {
		return false
	}
	return true
}
