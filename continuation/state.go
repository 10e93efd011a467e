package continuation

// State is the lifecycle state of a long-running operation.
type State string

// The set of operation states.
//
// An operation starts in StateNotStarted, spends zero or more steps in
// StateInProgress, and ends in exactly one of the terminal states. State
// only ever moves forward; a terminal operation is never resurrected.
const (
	StateNotStarted State = "not-started"
	StateInProgress State = "in-progress"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// IsTerminal returns true if s is one of the terminal states.
func (s State) IsTerminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// IsValid returns true if s is a recognized state.
func (s State) IsValid() bool {
	switch s {
	case StateNotStarted, StateInProgress, StateSucceeded, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}
