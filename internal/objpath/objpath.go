// Package objpath implements the object path namespace used by the exported GATT tree
// and helpers for BlueZ device paths.
//
// Services live at {root}/service{N} and characteristics at {root}/service{N}/char{M}.
// N and M are assigned at build time and never reused.
package objpath

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	servicePrefix        = "service"
	characteristicPrefix = "char"
	devicePrefix         = "dev_"
)

// Service returns the path of the n-th service under root.
func Service(root dbus.ObjectPath, n int) dbus.ObjectPath {
	return join(root, servicePrefix+strconv.Itoa(n))
}

// Characteristic returns the path of the m-th characteristic of a service.
func Characteristic(service dbus.ObjectPath, m int) dbus.ObjectPath {
	return join(service, characteristicPrefix+strconv.Itoa(m))
}

func join(parent dbus.ObjectPath, elem string) dbus.ObjectPath {
	if parent == "/" {
		return dbus.ObjectPath("/" + elem)
	}
	return dbus.ObjectPath(string(parent) + "/" + elem)
}

// IsDescendant reports whether child lies strictly below parent.
func IsDescendant(parent, child dbus.ObjectPath) bool {
	if !parent.IsValid() || !child.IsValid() || parent == child {
		return false
	}
	if parent == "/" {
		return true
	}
	return strings.HasPrefix(string(child), string(parent)+"/")
}

// ValidateRoot checks that root can hold an application tree.
func ValidateRoot(root dbus.ObjectPath) error {
	if !root.IsValid() {
		return fmt.Errorf("invalid object path %q", root)
	}
	return nil
}

// Adapter returns the BlueZ object path of the named adapter, e.g. hci0 -> /org/bluez/hci0.
func Adapter(name string) dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + name)
}

// Device returns the BlueZ object path of a device under an adapter path.
// AA:BB:CC:DD:EE:FF becomes {adapter}/dev_AA_BB_CC_DD_EE_FF.
func Device(adapter dbus.ObjectPath, mac string) dbus.ObjectPath {
	s := strings.ReplaceAll(strings.ToUpper(mac), ":", "_")
	return join(adapter, devicePrefix+s)
}

// MAC extracts the device address from a BlueZ device path.
// Returns an empty string when the path has no dev_ element.
func MAC(p dbus.ObjectPath) string {
	s := string(p)
	idx := strings.LastIndex(s, "/"+devicePrefix)
	if idx < 0 {
		return ""
	}
	mac := s[idx+1+len(devicePrefix):]
	// Paths below the device (e.g. .../dev_XX/service000a) keep only the device element.
	if slash := strings.IndexByte(mac, '/'); slash >= 0 {
		mac = mac[:slash]
	}
	return strings.ReplaceAll(mac, "_", ":")
}
