package continuation

import "time"

// Result is the outcome of executing one step of an operation.
//
// It is returned both by individual machine steps and by the activator's
// Execute() and Resume() methods.
type Result struct {
	// Status is the operation state after the step.
	Status State

	// NextState is the named state the machine moves to. It is required
	// when Status is StateInProgress and ignored otherwise.
	NextState StateName

	// NextPayload is the state-specific payload for the next step.
	NextPayload interface{}

	// RetryAfter is the minimum delay before the next step runs. Zero
	// means "as soon as a worker is available".
	RetryAfter time.Duration

	// Reason describes a terminal failure. It is empty on success.
	Reason string
}

// InProgress returns a result that advances the machine to state s.
func InProgress(s StateName, payload interface{}) Result {
	return Result{
		Status:      StateInProgress,
		NextState:   s,
		NextPayload: payload,
	}
}

// Wait returns a result that re-runs state s after no less than d.
//
// It is the poll-and-wait idiom: the step has observed that the provider
// is not finished, so the machine stays where it is and checks again
// later.
func Wait(s StateName, payload interface{}, d time.Duration) Result {
	return Result{
		Status:      StateInProgress,
		NextState:   s,
		NextPayload: payload,
		RetryAfter:  d,
	}
}

// Succeeded returns a terminal success result.
func Succeeded() Result {
	return Result{Status: StateSucceeded}
}

// Failed returns a terminal failure result with the given reason.
func Failed(reason string) Result {
	return Result{Status: StateFailed, Reason: reason}
}

// Cancelled returns a terminal cancellation result.
func Cancelled(reason string) Result {
	return Result{Status: StateCancelled, Reason: reason}
}
