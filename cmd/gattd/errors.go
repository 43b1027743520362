package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/srg/gattd/internal/agent"
	"github.com/srg/gattd/internal/handshake"
)

// D-Bus error names that deserve a hint rather than the raw name.
const (
	dbusServiceUnknown = "org.freedesktop.DBus.Error.ServiceUnknown"
	dbusAccessDenied   = "org.freedesktop.DBus.Error.AccessDenied"
	dbusUnknownObject  = "org.freedesktop.DBus.Error.UnknownObject"
	bluezAlreadyExists = "org.bluez.Error.AlreadyExists"
)

// FormatUserError renders err for the terminal.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var regErr *handshake.RegistrationError
	if errors.As(err, &regErr) {
		return fmt.Sprintf("BlueZ did not accept the GATT application %s: %s", regErr.Path, describeReason(regErr.Reason))
	}

	if errors.Is(err, agent.ErrReleased) {
		return "the pairing agent was released by BlueZ; bluetoothd probably restarted"
	}

	if name, body, ok := dbusError(err); ok {
		return describeDBus(name, body)
	}

	return err.Error()
}

func describeReason(reason error) string {
	if name, body, ok := dbusError(reason); ok {
		return describeDBus(name, body)
	}
	return reason.Error()
}

func describeDBus(name, body string) string {
	switch name {
	case dbusServiceUnknown:
		return "BlueZ is not running (org.bluez is not on the system bus)"
	case dbusAccessDenied:
		return "access to BlueZ was denied; run as root or allow the user in the D-Bus policy"
	case dbusUnknownObject:
		return "the adapter does not exist: " + body
	case bluezAlreadyExists:
		return "an application is already registered at this path"
	}
	if body == "" {
		return name
	}
	return fmt.Sprintf("%s: %s", name, body)
}

// dbusError extracts the name and message of a D-Bus error anywhere in the chain.
func dbusError(err error) (name, body string, ok bool) {
	var ptr *dbus.Error
	if errors.As(err, &ptr) && ptr != nil {
		return ptr.Name, joinBody(ptr.Body), true
	}
	var val dbus.Error
	if errors.As(err, &val) {
		return val.Name, joinBody(val.Body), true
	}
	return "", "", false
}

func joinBody(body []interface{}) string {
	parts := make([]string, 0, len(body))
	for _, v := range body {
		parts = append(parts, fmt.Sprint(v))
	}
	return strings.Join(parts, " ")
}
