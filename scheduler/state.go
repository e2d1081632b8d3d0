package scheduler

// State is the lifecycle position of one admitted operation.
//
//	Queued → Executing → {Succeeded, Retrying, Failed, Cancelled}
//	Retrying → Queued (front of the queue, after the backoff delay)
//	Queued, Retrying → Cancelled
type State int

const (
	// StateQueued means the operation waits for a free slot.
	StateQueued State = iota
	// StateExecuting means the operation holds a slot and is running.
	StateExecuting
	// StateRetrying means the last attempt failed and a backoff timer is pending.
	StateRetrying
	// StateSucceeded is terminal.
	StateSucceeded
	// StateFailed is terminal.
	StateFailed
	// StateCancelled is terminal.
	StateCancelled
)

var transitions = map[State][]State{
	StateQueued:    {StateExecuting, StateCancelled},
	StateExecuting: {StateSucceeded, StateRetrying, StateFailed, StateCancelled},
	StateRetrying:  {StateQueued, StateCancelled},
}

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateExecuting:
		return "executing"
	case StateRetrying:
		return "retrying"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// CanTransition reports whether s → to is a legal move.
func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}
