package handler

import (
	"errors"
	"fmt"
	"time"
)

// TransientError indicates that a step failed for a reason that is
// expected to clear on its own, such as provider throttling or a network
// interruption.
//
// The activator retries the same state with a bounded attempt counter
// rather than failing the operation.
type TransientError struct {
	// Cause is the underlying failure.
	Cause error

	// RetryAfter is the minimum delay before the retry, if the provider
	// supplied one. Zero means the machine's backoff strategy decides.
	RetryAfter time.Duration
}

func (e TransientError) Error() string {
	return fmt.Sprintf("transient failure: %s", e.Cause)
}

func (e TransientError) Unwrap() error {
	return e.Cause
}

// Transient wraps err to mark it as transient.
func Transient(err error) error {
	return TransientError{Cause: err}
}

// TransientFor wraps err to mark it as transient with a provider-supplied
// retry delay.
func TransientFor(err error, d time.Duration) error {
	return TransientError{Cause: err, RetryAfter: d}
}

// IsTransient reports whether err is transient, and the retry delay it
// requested.
func IsTransient(err error) (time.Duration, bool) {
	var te TransientError
	if errors.As(err, &te) {
		return te.RetryAfter, true
	}

	return 0, false
}

// ResourceNotFoundError indicates that the resource an operation targets
// does not exist at the provider.
//
// Delete-style steps treat it as success; create-style steps treat it as
// fatal.
type ResourceNotFoundError struct {
	Resource string
}

func (e ResourceNotFoundError) Error() string {
	return fmt.Sprintf("resource '%s' does not exist", e.Resource)
}

// IsResourceNotFound reports whether err indicates an already-gone
// resource.
func IsResourceNotFound(err error) bool {
	var nf ResourceNotFoundError
	return errors.As(err, &nf)
}

// ValidationError indicates malformed or inconsistent input. It is fatal
// and never retried.
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid input: %s", e.Reason)
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}
