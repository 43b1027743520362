package gatt

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
)

// Characteristic is a GATT leaf. Its value is never cached: every query re-invokes
// the provider under the tree's read timeout.
type Characteristic struct {
	path    dbus.ObjectPath
	service dbus.ObjectPath
	uuid    string
	flags   Flags
	value   ValueProvider
	write   WriteHandler
	timeout time.Duration
	logger  *logrus.Logger

	notifying atomic.Bool
	emitter   atomic.Pointer[ChangeEmitter]
}

// CharacteristicOption customises a characteristic at build time.
type CharacteristicOption func(*Characteristic)

// WithWriteHandler accepts writes from centrals. Without it WriteValue is not permitted.
func WithWriteHandler(h WriteHandler) CharacteristicOption {
	return func(c *Characteristic) { c.write = h }
}

func (c *Characteristic) Path() dbus.ObjectPath { return c.path }

// ServicePath returns the owning service's path.
func (c *Characteristic) ServicePath() dbus.ObjectPath { return c.service }

func (c *Characteristic) UUID() string { return c.uuid }

func (c *Characteristic) Flags() Flags { return append(Flags(nil), c.flags...) }

func (c *Characteristic) Interfaces() []string { return []string{CharacteristicInterface} }

// Notifying reports whether a central subscribed to value changes.
func (c *Characteristic) Notifying() bool { return c.notifying.Load() }

func (c *Characteristic) checkInterface(iface string) error {
	if iface != CharacteristicInterface {
		return invalidInterface(c.path, iface)
	}
	return nil
}

// Get returns one property of the characteristic interface.
func (c *Characteristic) Get(iface, property string) (any, error) {
	if err := c.checkInterface(iface); err != nil {
		return nil, err
	}
	switch property {
	case PropUUID:
		return c.uuid, nil
	case PropService:
		return c.service, nil
	case PropFlags:
		return c.flags.Strings(), nil
	case PropValue:
		return c.readValue(context.Background())
	default:
		return nil, invalidProperty(c.path, iface, property)
	}
}

// GetAll returns every characteristic property in one snapshot.
func (c *Characteristic) GetAll(iface string) (Properties, error) {
	return c.getAll(context.Background(), iface)
}

func (c *Characteristic) getAll(ctx context.Context, iface string) (Properties, error) {
	if err := c.checkInterface(iface); err != nil {
		return nil, err
	}
	value, err := c.readValue(ctx)
	if err != nil {
		return nil, err
	}
	return Properties{
		PropUUID:    c.uuid,
		PropService: c.service,
		PropValue:   value,
		PropFlags:   c.flags.Strings(),
	}, nil
}

// ReadValue serves a central's read, honouring the offset option.
func (c *Characteristic) ReadValue(ctx context.Context, offset uint16) ([]byte, error) {
	value, err := c.readValue(ctx)
	if err != nil {
		return nil, err
	}
	if int(offset) > len(value) {
		return nil, &Error{Kind: InvalidOffset, Path: c.path, Interface: CharacteristicInterface, Name: fmt.Sprintf("offset %d", offset)}
	}
	return value[offset:], nil
}

// WriteValue forwards a central's write to the write handler, then notifies subscribers
// of the resulting value. A failed notification does not fail the write.
func (c *Characteristic) WriteValue(ctx context.Context, value []byte) error {
	if c.write == nil || !c.flags.CanWrite() {
		return &Error{Kind: NotPermitted, Path: c.path, Interface: CharacteristicInterface, Name: "WriteValue"}
	}
	if err := c.write(ctx, value); err != nil {
		return &ValueError{Path: c.path, Err: err}
	}
	if err := c.Notify(ctx); err != nil {
		c.logger.WithError(err).WithField("path", c.path).Warn("Notification after write failed")
	}
	return nil
}

// StartNotify enables value change notifications.
func (c *Characteristic) StartNotify() error {
	if !c.flags.CanNotify() {
		return &Error{Kind: NotSupported, Path: c.path, Interface: CharacteristicInterface, Name: "StartNotify"}
	}
	if !c.notifying.Swap(true) {
		c.logger.WithField("path", c.path).Debug("Notifications enabled")
	}
	return nil
}

// StopNotify disables value change notifications.
func (c *Characteristic) StopNotify() error {
	if !c.flags.CanNotify() {
		return &Error{Kind: NotSupported, Path: c.path, Interface: CharacteristicInterface, Name: "StopNotify"}
	}
	if c.notifying.Swap(false) {
		c.logger.WithField("path", c.path).Debug("Notifications disabled")
	}
	return nil
}

// SetEmitter binds the transport used by Notify.
func (c *Characteristic) SetEmitter(e ChangeEmitter) {
	if e == nil {
		c.emitter.Store(nil)
		return
	}
	c.emitter.Store(&e)
}

// Notify pushes the current value to subscribed centrals.
// It is a no-op while no central is subscribed.
func (c *Characteristic) Notify(ctx context.Context) error {
	if !c.notifying.Load() {
		return nil
	}
	emit := c.emitter.Load()
	if emit == nil {
		return nil
	}
	value, err := c.readValue(ctx)
	if err != nil {
		return err
	}
	return (*emit)(c.path, CharacteristicInterface, Properties{PropValue: value})
}

func (c *Characteristic) readValue(ctx context.Context) ([]byte, error) {
	if c.value == nil {
		return []byte{}, nil
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	type result struct {
		value []byte
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := c.value(ctx)
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			c.logger.WithError(r.err).WithField("path", c.path).Warn("Value provider failed")
			return nil, &ValueError{Path: c.path, Err: r.err}
		}
		if r.value == nil {
			return []byte{}, nil
		}
		return r.value, nil
	case <-ctx.Done():
		c.logger.WithField("path", c.path).Warn("Value provider timed out")
		return nil, &ValueError{Path: c.path, Err: fmt.Errorf("%w: %v", ErrValueTimeout, ctx.Err())}
	}
}
