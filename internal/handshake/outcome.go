package handshake

import (
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// State is the tri-state of a registration request.
type State int32

const (
	Pending State = iota
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Outcome is the single reply to a registration request: either success or a failure
// with its reason. The zero value is success.
type Outcome struct {
	reason error
}

// Success reports that the adapter accepted the application.
func Success() Outcome { return Outcome{} }

// Failure reports that the adapter refused the application. A nil reason is recorded
// as ErrUnknownFailure so a failure can never be mistaken for success.
func Failure(reason error) Outcome {
	if reason == nil {
		reason = ErrUnknownFailure
	}
	return Outcome{reason: reason}
}

// Succeeded reports whether the outcome is a success.
func (o Outcome) Succeeded() bool { return o.reason == nil }

// Reason returns the failure reason, nil on success.
func (o Outcome) Reason() error { return o.reason }

var (
	// ErrUnknownFailure is the reason recorded for failures reported without one.
	ErrUnknownFailure = errors.New("registration failed without a reason")

	// ErrCancelled is the reason recorded when shutdown overtakes an outstanding request.
	ErrCancelled = errors.New("registration cancelled")

	// ErrTimedOut is the reason recorded when the adapter does not reply in time.
	ErrTimedOut = errors.New("registration timed out")
)

// RegistrationError is the fatal error that stops the event loop when the adapter
// refuses the application. It is never retried.
type RegistrationError struct {
	Path   dbus.ObjectPath
	Reason error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("register application %s: %v", e.Path, e.Reason)
}

func (e *RegistrationError) Unwrap() error { return e.Reason }

// Is matches any *RegistrationError so callers can test with errors.Is(err, ErrRegistrationFailed).
func (e *RegistrationError) Is(target error) bool {
	_, ok := target.(*RegistrationError)
	return ok
}

// ErrRegistrationFailed is the sentinel matching every *RegistrationError.
var ErrRegistrationFailed = &RegistrationError{}
