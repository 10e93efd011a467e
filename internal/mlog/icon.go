package mlog

import (
	"fmt"
	"io"

	"github.com/dogmatiq/iago/must"
)

const (
	// TrackingIDIcon is the icon shown directly before a tracking ID. It
	// is an "equals sign", indicating that this log line "has exactly"
	// the displayed operation.
	TrackingIDIcon Icon = "="

	// StepIcon is the icon shown to indicate that a step is being
	// executed. It is a downward pointing arrow, as such resume messages
	// could be considered as being "downloaded" from the queue.
	StepIcon Icon = "▼"

	// SuspendIcon is the icon shown to indicate that an operation has
	// been suspended and a resume message published. It is an upward
	// pointing arrow, the message being "uploaded" to the queue.
	SuspendIcon Icon = "▲"

	// RetryIcon is an icon used instead of StepIcon when a state is being
	// re-attempted after a transient failure. It is an open-circle with
	// an arrow, indicating that the step has "come around again".
	RetryIcon Icon = "↻"

	// ErrorIcon is the icon shown when logging information about an
	// error. It is a heavy cross, indicating a failure.
	ErrorIcon Icon = "✖"

	// StaleIcon is the icon shown when a redelivered resume message is
	// dropped because its operation has already completed. It is an
	// hollow arrow, indicating that nothing was consumed.
	StaleIcon Icon = "▽"

	// SystemIcon is an icon shown when a log message relates to the
	// internals of the engine. It is a sprocket, representing the inner
	// workings of the machine.
	SystemIcon Icon = "⚙"

	// SeparatorIcon is an icon used to separate strings of unrelated text
	// inside a log message. It is a large bullet, intended to have a
	// large visual impact.
	SeparatorIcon Icon = "●"
)

// Icon is a unicode symbol used as an icon in log messages.
type Icon string

func (i Icon) String() string {
	return string(i)
}

// WriteTo writes a string representation of the icon to w.
// If i is the zero-value, a single space is rendered.
func (i Icon) WriteTo(w io.Writer) (int64, error) {
	s := i.String()
	if i == "" {
		s = " "
	}

	n, err := io.WriteString(w, s)
	return int64(n), err
}

// WithLabel return an IconWithLabel containing this icon and the given
// label.
func (i Icon) WithLabel(f string, v ...interface{}) IconWithLabel {
	return IconWithLabel{
		i,
		formatLabel(fmt.Sprintf(f, v...)),
	}
}

// WithID return an IconWithLabel containing this icon and an ID as its
// label.
//
// The id is formatted using FormatID().
func (i Icon) WithID(id string) IconWithLabel {
	return i.WithLabel(FormatID(id))
}

// IconWithLabel is a container for an icon and its associated text label.
type IconWithLabel struct {
	Icon  Icon
	Label string
}

func (i IconWithLabel) String() string {
	return i.Icon.String() + " " + i.Label
}

// WriteTo writes a string representation of the icon and its label to w.
func (i IconWithLabel) WriteTo(w io.Writer) (_ int64, err error) {
	defer must.Recover(&err)

	n := must.WriteTo(w, i.Icon)
	n += must.Write(w, space1)
	n += must.WriteString(w, i.Label)

	return int64(n), err
}

// formatLabel formats a label for display.
func formatLabel(label string) string {
	if label == "" {
		return "-"
	}

	return label
}
