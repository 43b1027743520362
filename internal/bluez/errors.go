package bluez

import (
	"errors"

	"github.com/godbus/dbus/v5"

	"github.com/srg/gattd/internal/gatt"
)

// D-Bus error names returned to BlueZ and other callers.
const (
	ErrNameInvalidArgs      = "org.freedesktop.DBus.Error.InvalidArgs"
	ErrNamePropertyReadOnly = "org.freedesktop.DBus.Error.PropertyReadOnly"
	ErrNameFailed           = "org.bluez.Error.Failed"
	ErrNameNotPermitted     = "org.bluez.Error.NotPermitted"
	ErrNameNotSupported     = "org.bluez.Error.NotSupported"
	ErrNameInvalidOffset    = "org.bluez.Error.InvalidOffset"
)

// toDBusError maps tree errors onto replies. Unknown errors become org.bluez.Error.Failed.
func toDBusError(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	var gerr *gatt.Error
	if errors.As(err, &gerr) {
		switch gerr.Kind {
		case gatt.InvalidInterface, gatt.InvalidProperty:
			return dbus.NewError(ErrNameInvalidArgs, []interface{}{err.Error()})
		case gatt.NotPermitted:
			return dbus.NewError(ErrNameNotPermitted, []interface{}{err.Error()})
		case gatt.NotSupported:
			return dbus.NewError(ErrNameNotSupported, []interface{}{err.Error()})
		case gatt.InvalidOffset:
			return dbus.NewError(ErrNameInvalidOffset, []interface{}{err.Error()})
		}
	}
	return dbus.NewError(ErrNameFailed, []interface{}{err.Error()})
}

func readOnly(iface, name string) *dbus.Error {
	return dbus.NewError(ErrNamePropertyReadOnly, []interface{}{"property " + iface + "." + name + " is read-only"})
}
