package mlog

import (
	"fmt"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/perdure/perdure/continuation"
)

// LogStep logs a message indicating that a step of an operation is being
// executed.
func LogStep(
	log logging.Logger,
	t continuation.Token,
	state continuation.StateName,
) {
	logging.LogString(
		log,
		String(
			[]IconWithLabel{
				TrackingIDIcon.WithID(t.TrackingID),
			},
			[]Icon{
				StepIcon,
				retryIcon(t.RetryAttempt),
			},
			t.Handler,
			string(state),
		),
	)
}

// LogSuspend logs a message indicating that an operation has been
// suspended and a resume message published.
func LogSuspend(
	log logging.Logger,
	t continuation.Token,
	delay time.Duration,
) {
	logging.LogString(
		log,
		String(
			[]IconWithLabel{
				TrackingIDIcon.WithID(t.TrackingID),
			},
			[]Icon{
				SuspendIcon,
				retryIcon(t.RetryAttempt),
			},
			t.Handler,
			string(t.State),
			fmt.Sprintf("resume in %s", delay),
		),
	)
}

// LogTerminal logs a message indicating that an operation has reached a
// terminal state.
func LogTerminal(
	log logging.Logger,
	t continuation.Token,
	status continuation.State,
	reason string,
) {
	var icon Icon
	if status == continuation.StateSucceeded {
		icon = ""
	} else {
		icon = ErrorIcon
	}

	logging.LogString(
		log,
		String(
			[]IconWithLabel{
				TrackingIDIcon.WithID(t.TrackingID),
			},
			[]Icon{
				StepIcon,
				icon,
			},
			t.Handler,
			string(status),
			reason,
		),
	)
}

// LogStale logs a message indicating that a redelivered resume message
// was dropped because its operation has already completed.
func LogStale(
	log logging.Logger,
	trackingID string,
) {
	logging.LogString(
		log,
		String(
			[]IconWithLabel{
				TrackingIDIcon.WithID(trackingID),
			},
			[]Icon{
				StaleIcon,
				"",
			},
			"resume message is stale",
		),
	)
}

// retryIcon returns the icon to use to represent a step's retry count.
func retryIcon(n uint) Icon {
	if n == 0 {
		return ""
	}

	return RetryIcon
}
