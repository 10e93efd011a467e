package handler

import (
	"context"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/linger/backoff"
	"github.com/perdure/perdure/continuation"
)

// A Request carries everything a step needs about the operation it is
// resuming.
type Request struct {
	// TrackingID correlates every step of the operation.
	TrackingID string

	// State is the named state the step is running in.
	State continuation.StateName

	// Payload is the unmarshaled state-specific payload, or nil if the
	// token carried none.
	Payload interface{}

	// RetryAttempt is the number of consecutive transient failures in the
	// current state.
	RetryAttempt uint

	// Properties is the logging/correlation map from the originating
	// input.
	Properties map[string]string

	// Logger is the target for log messages produced by the step.
	Logger logging.Logger
}

// StepFunc executes one step of a machine.
//
// A step never blocks waiting for the cloud provider. It returns promptly
// with an in-progress result carrying a resumable payload; the next step
// runs on a later queue delivery, possibly on a different worker.
type StepFunc func(ctx context.Context, req Request) (continuation.Result, error)

// A Machine is the named state machine implementing one resource-type
// lifecycle operation.
type Machine struct {
	// Name is the identifier callers use to target this machine.
	Name string

	// Initial is the state a fresh operation starts in.
	Initial continuation.StateName

	// Steps maps each non-terminal state to its step function.
	Steps map[continuation.StateName]StepFunc

	// MaxRetries is the retry ceiling for a single state. Once a state
	// has failed transiently more than MaxRetries times the operation
	// fails.
	MaxRetries uint

	// Backoff is the strategy used to delay retries of a failed state. If
	// it is nil the activator's default strategy is used.
	Backoff backoff.Strategy

	// Timeout is the wall-clock budget for a whole operation on this
	// machine, measured from the operation's first step. If it is zero
	// the activator's default budget applies. Long-lived machines, such
	// as the heartbeat monitor, override it.
	Timeout time.Duration

	// PayloadTypes lists the payload values this machine exchanges with
	// the engine, for registration with the marshaler.
	PayloadTypes []interface{}
}

// Step returns the step function for state s.
func (m *Machine) Step(s continuation.StateName) (StepFunc, bool) {
	fn, ok := m.Steps[s]
	return fn, ok
}
