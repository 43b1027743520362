package bluez

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/srg/gattd/internal/groutine"
	"github.com/srg/gattd/internal/objpath"
)

// Adapter drives one local controller (Adapter1, GattManager1).
type Adapter struct {
	conn   Conn
	name   string
	path   dbus.ObjectPath
	obj    dbus.BusObject
	logger *logrus.Logger
}

// NewAdapter binds to the adapter called name, e.g. "hci0".
func NewAdapter(conn Conn, name string, logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	path := objpath.Adapter(name)
	return &Adapter{
		conn:   conn,
		name:   name,
		path:   path,
		obj:    conn.Object(Service, path),
		logger: logger,
	}
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) Path() dbus.ObjectPath { return a.path }

func (a *Adapter) set(ctx context.Context, property string, value interface{}) error {
	call := a.obj.CallWithContext(ctx, PropertiesInterface+".Set", 0, AdapterInterface, property, dbus.MakeVariant(value))
	if call.Err != nil {
		return fmt.Errorf("set %s.%s on %s: %w", AdapterInterface, property, a.name, call.Err)
	}
	a.logger.WithFields(logrus.Fields{
		"adapter":  a.name,
		"property": property,
		"value":    value,
	}).Debug("Adapter property set")
	return nil
}

func (a *Adapter) Power(ctx context.Context, on bool) error {
	return a.set(ctx, "Powered", on)
}

// SetDiscoverable implements presence.Discoverability over D-Bus.
func (a *Adapter) SetDiscoverable(ctx context.Context, on bool) error {
	return a.set(ctx, "Discoverable", on)
}

func (a *Adapter) SetPairable(ctx context.Context, on bool) error {
	return a.set(ctx, "Pairable", on)
}

func (a *Adapter) SetAlias(ctx context.Context, alias string) error {
	return a.set(ctx, "Alias", alias)
}

// RegisterApplication sends GattManager1.RegisterApplication without waiting. The
// returned channel receives exactly one value: nil on success, the error otherwise.
func (a *Adapter) RegisterApplication(app dbus.ObjectPath, options map[string]dbus.Variant) <-chan error {
	if options == nil {
		options = map[string]dbus.Variant{}
	}
	reply := make(chan error, 1)
	call := a.obj.Go(GattManagerInterface+".RegisterApplication", 0, make(chan *dbus.Call, 1), app, options)

	groutine.Go(context.Background(), "register-application", func(ctx context.Context) {
		done := <-call.Done
		reply <- done.Err
	})
	return reply
}

func (a *Adapter) UnregisterApplication(app dbus.ObjectPath) error {
	if call := a.obj.Call(GattManagerInterface+".UnregisterApplication", 0, app); call.Err != nil {
		return fmt.Errorf("unregister application %s: %w", app, call.Err)
	}
	return nil
}
