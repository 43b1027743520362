package agent

import (
	"errors"

	"github.com/godbus/dbus/v5"
)

// BlueZ error names returned to the stack.
const (
	errRejectedName = "org.bluez.Error.Rejected"
	errCanceledName = "org.bluez.Error.Canceled"
)

var (
	// ErrRejected refuses a pairing or authorization request.
	ErrRejected = errors.New("pairing rejected")

	// ErrReleased is the stop cause recorded when the stack revokes the agent.
	ErrReleased = errors.New("agent released by bluetooth stack")

	// ErrUnknownCapability is returned by ParseCapability.
	ErrUnknownCapability = errors.New("unknown agent capability")
)

// toDBusError maps a handler error to the reply BlueZ expects.
func toDBusError(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrRejected) {
		return dbus.NewError(errRejectedName, []interface{}{err.Error()})
	}
	return dbus.NewError(errCanceledName, []interface{}{err.Error()})
}
