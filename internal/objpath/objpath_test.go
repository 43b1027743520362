package objpath

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
)

func TestServiceAndCharacteristicPaths(t *testing.T) {
	root := dbus.ObjectPath("/org/bluez/example")

	svc := Service(root, 0)
	assert.Equal(t, dbus.ObjectPath("/org/bluez/example/service0"), svc)

	char := Characteristic(svc, 3)
	assert.Equal(t, dbus.ObjectPath("/org/bluez/example/service0/char3"), char)

	assert.True(t, svc.IsValid())
	assert.True(t, char.IsValid())
}

func TestServiceUnderSlashRoot(t *testing.T) {
	assert.Equal(t, dbus.ObjectPath("/service1"), Service("/", 1))
}

func TestIsDescendant(t *testing.T) {
	tests := []struct {
		name     string
		parent   dbus.ObjectPath
		child    dbus.ObjectPath
		expected bool
	}{
		{name: "direct child", parent: "/app/service0", child: "/app/service0/char0", expected: true},
		{name: "grandchild", parent: "/app", child: "/app/service0/char0", expected: true},
		{name: "same path is not a descendant", parent: "/app/service0", child: "/app/service0", expected: false},
		{name: "sibling with shared prefix", parent: "/app/service1", child: "/app/service10/char0", expected: false},
		{name: "slash root", parent: "/", child: "/app", expected: true},
		{name: "invalid child", parent: "/app", child: "app/x", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsDescendant(tt.parent, tt.child))
		})
	}
}

func TestValidateRoot(t *testing.T) {
	assert.NoError(t, ValidateRoot("/org/bluez/example"))
	assert.Error(t, ValidateRoot("org/bluez"))
	assert.Error(t, ValidateRoot("/trailing/"))
}

func TestDevicePathRoundTrip(t *testing.T) {
	adapter := Adapter("hci0")
	assert.Equal(t, dbus.ObjectPath("/org/bluez/hci0"), adapter)

	p := Device(adapter, "aa:bb:cc:dd:ee:ff")
	assert.Equal(t, dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF"), p)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", MAC(p))
}

func TestMAC(t *testing.T) {
	assert.Equal(t, "11:22:33:44:55:66", MAC("/org/bluez/hci0/dev_11_22_33_44_55_66/service000a"))
	assert.Equal(t, "", MAC("/org/bluez/hci0"))
}
