package gatt

import (
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// ErrorKind identifies the class of a tree query failure.
type ErrorKind string

const (
	InvalidInterface ErrorKind = "invalid_interface"
	InvalidProperty  ErrorKind = "invalid_property"
	NotPermitted     ErrorKind = "not_permitted"
	NotSupported     ErrorKind = "not_supported"
	InvalidOffset    ErrorKind = "invalid_offset"
)

// Error is returned for queries and operations a node cannot serve.
// These are recovered locally: the transport turns them into protocol-level replies.
type Error struct {
	Kind      ErrorKind
	Path      dbus.ObjectPath
	Interface string
	Name      string // property or method name, empty for interface errors
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch e.Kind {
	case InvalidInterface:
		return fmt.Sprintf("%s: interface %q not implemented", e.Path, e.Interface)
	case InvalidProperty:
		return fmt.Sprintf("%s: property %q not found on %s", e.Path, e.Name, e.Interface)
	default:
		if e.Name == "" {
			return fmt.Sprintf("%s: %s", e.Path, e.Kind)
		}
		return fmt.Sprintf("%s: %s %s", e.Path, e.Name, e.Kind)
	}
}

// Is allows errors.Is to compare Error values by Kind.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrInvalidInterface = &Error{Kind: InvalidInterface}
	ErrInvalidProperty  = &Error{Kind: InvalidProperty}
	ErrNotPermitted     = &Error{Kind: NotPermitted}
	ErrNotSupported     = &Error{Kind: NotSupported}
	ErrInvalidOffset    = &Error{Kind: InvalidOffset}
)

var (
	// ErrFrozen is returned by structural calls made after the tree was frozen.
	ErrFrozen = errors.New("application tree is frozen")

	// ErrValueTimeout is wrapped into a ValueError when a provider outlives the read deadline.
	ErrValueTimeout = errors.New("value provider timed out")
)

// ValueError is the structured failure of a value provider.
// The provider's error is kept as the cause and never folded into the value bytes.
type ValueError struct {
	Path dbus.ObjectPath
	Err  error
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("%s: value unavailable: %v", e.Path, e.Err)
}

func (e *ValueError) Unwrap() error { return e.Err }

func invalidInterface(path dbus.ObjectPath, iface string) error {
	return &Error{Kind: InvalidInterface, Path: path, Interface: iface}
}

func invalidProperty(path dbus.ObjectPath, iface, name string) error {
	return &Error{Kind: InvalidProperty, Path: path, Interface: iface, Name: name}
}

// IsKind reports whether err is a tree Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind == kind
	}
	return false
}
