package gatt

import (
	"context"

	"github.com/godbus/dbus/v5"
)

// D-Bus interface names implemented by tree nodes.
const (
	ServiceInterface        = "org.bluez.GattService1"
	CharacteristicInterface = "org.bluez.GattCharacteristic1"
)

// Property names.
const (
	PropUUID            = "UUID"
	PropPrimary         = "Primary"
	PropCharacteristics = "Characteristics"
	PropService         = "Service"
	PropValue           = "Value"
	PropFlags           = "Flags"
)

// Properties maps property names to values for one interface.
type Properties map[string]any

// ManagedObjects is the enumerate snapshot: path -> interface -> properties.
type ManagedObjects map[dbus.ObjectPath]map[string]Properties

// PropertyProvider is implemented independently by every tree node.
type PropertyProvider interface {
	Path() dbus.ObjectPath
	// Interfaces lists the property interfaces the node answers for.
	Interfaces() []string
	Get(iface, property string) (any, error)
	GetAll(iface string) (Properties, error)
}

// ValueProvider computes a characteristic value on demand. ctx carries the read deadline.
type ValueProvider func(ctx context.Context) ([]byte, error)

// WriteHandler receives a value written by a central.
type WriteHandler func(ctx context.Context, value []byte) error

// ChangeEmitter publishes a PropertiesChanged notification for a node.
type ChangeEmitter func(path dbus.ObjectPath, iface string, changed Properties) error
