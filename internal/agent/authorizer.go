package agent

import (
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/srg/gattd/internal/objpath"
)

// Authorizer decides confirmation and authorization requests. service is empty for
// pairing-level requests and holds the profile UUID for AuthorizeService.
type Authorizer interface {
	Authorize(device dbus.ObjectPath, service string) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(device dbus.ObjectPath, service string) error

func (f AuthorizerFunc) Authorize(device dbus.ObjectPath, service string) error {
	return f(device, service)
}

// AutoAccept accepts every request.
type AutoAccept struct{}

func (AutoAccept) Authorize(dbus.ObjectPath, string) error { return nil }

// AllowList accepts only listed devices of one adapter.
type AllowList struct {
	devices map[dbus.ObjectPath]struct{}
}

// NewAllowList builds an allow-list from device addresses (AA:BB:CC:DD:EE:FF) seen
// through adapter, e.g. /org/bluez/hci0.
func NewAllowList(adapter dbus.ObjectPath, addrs ...string) *AllowList {
	a := &AllowList{devices: make(map[dbus.ObjectPath]struct{}, len(addrs))}
	for _, addr := range addrs {
		a.devices[objpath.Device(adapter, addr)] = struct{}{}
	}
	return a
}

// Authorize accepts the device itself and objects below it, such as its services.
func (a *AllowList) Authorize(device dbus.ObjectPath, _ string) error {
	for allowed := range a.devices {
		if device == allowed || objpath.IsDescendant(allowed, device) {
			return nil
		}
	}
	return fmt.Errorf("%w: device %s is not allowed", ErrRejected, objpath.MAC(device))
}
