package continuation

import (
	"time"

	"github.com/dogmatiq/marshalkit"
)

// StateName identifies one named state within a handler's state machine.
type StateName string

// Input is the caller-supplied payload for the first step of an operation.
type Input struct {
	// Handler is the identifier of the machine that executes the operation.
	Handler string

	// TrackingID correlates every step and resumption of the operation. If
	// it is empty the activator generates one.
	TrackingID string

	// Payload is the domain payload for the initial step. It is opaque to
	// the engine.
	Payload interface{}

	// Properties is a string-keyed map of logging/correlation values that
	// is carried, unmodified, on every resumption.
	Properties map[string]string
}

// A Token is the serialized record of an in-progress operation.
//
// It is fully self-describing: resuming the operation requires nothing but
// this record and a handler router. Tokens are immutable values; every
// transition constructs the next token rather than mutating the current
// one.
type Token struct {
	// TrackingID correlates every step and resumption of the operation.
	TrackingID string

	// Handler is the identifier of the machine that executes the operation.
	Handler string

	// State is the named machine state the next step runs in. It is empty
	// on a token built from a fresh Input, in which case the machine's
	// initial state is used.
	State StateName

	// Payload is the marshaled state-specific payload.
	Payload marshalkit.Packet

	// RetryAttempt is the number of consecutive transient failures in the
	// current state. It resets to zero whenever the machine advances.
	RetryAttempt uint

	// StepCount is the total number of steps executed so far.
	StepCount uint

	// CreatedAt is the time the tracking ID was first seen. Wall-clock
	// operation timeouts are measured from it, even across workers.
	CreatedAt time.Time

	// Properties is the logging/correlation map from the originating Input.
	Properties map[string]string

	// Revision is the token's optimistic-concurrency revision.
	//
	// It is 0 for a token that has never been persisted. Writes with a
	// stale revision are rejected by the data store.
	Revision uint64
}

// Next returns the token for the machine's next step.
//
// The retry counter resets; the step counter advances.
func (t Token) Next(s StateName, payload marshalkit.Packet) Token {
	n := t
	n.State = s
	n.Payload = payload
	n.RetryAttempt = 0
	n.StepCount++
	return n
}

// Retry returns the token for another attempt of the current state.
func (t Token) Retry() Token {
	n := t
	n.RetryAttempt++
	n.StepCount++
	return n
}
