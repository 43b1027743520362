// Package bluez binds the peripheral to BlueZ over the D-Bus system bus.
//
// It exports the GATT tree, the LE advertisement and the pairing agent, drives the
// adapter's management interfaces and delivers device property changes.
package bluez

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

// Well-known names.
const (
	Service = "org.bluez"

	AdapterInterface            = "org.bluez.Adapter1"
	DeviceInterface             = "org.bluez.Device1"
	GattManagerInterface        = "org.bluez.GattManager1"
	AdvertisingManagerInterface = "org.bluez.LEAdvertisingManager1"
	AdvertisementInterface      = "org.bluez.LEAdvertisement1"
	AgentManagerInterface       = "org.bluez.AgentManager1"

	PropertiesInterface     = "org.freedesktop.DBus.Properties"
	ObjectManagerInterface  = "org.freedesktop.DBus.ObjectManager"
	IntrospectableInterface = "org.freedesktop.DBus.Introspectable"

	propertiesChangedSignal = PropertiesInterface + ".PropertiesChanged"
)

// AgentManagerPath is where BlueZ serves AgentManager1.
const AgentManagerPath = dbus.ObjectPath("/org/bluez")

// Conn is the subset of *dbus.Conn used by this package.
type Conn interface {
	Export(v interface{}, path dbus.ObjectPath, iface string) error
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
	AddMatchSignal(options ...dbus.MatchOption) error
	RemoveMatchSignal(options ...dbus.MatchOption) error
}

var _ Conn = (*dbus.Conn)(nil)

// Connect opens a private system bus connection. The caller closes it.
func Connect() (*dbus.Conn, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	return conn, nil
}
