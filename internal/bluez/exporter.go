package bluez

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/srg/gattd/internal/gatt"
)

type exported struct {
	path  dbus.ObjectPath
	iface string
}

// Exporter publishes a GATT application on the bus.
type Exporter struct {
	conn   Conn
	app    *gatt.Application
	logger *logrus.Logger

	exported []exported
}

// NewExporter creates an exporter for app.
func NewExporter(conn Conn, app *gatt.Application, logger *logrus.Logger) *Exporter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Exporter{conn: conn, app: app, logger: logger}
}

func (e *Exporter) export(v interface{}, path dbus.ObjectPath, iface string) error {
	if err := e.conn.Export(v, path, iface); err != nil {
		return fmt.Errorf("export %s on %s: %w", iface, path, err)
	}
	e.exported = append(e.exported, exported{path: path, iface: iface})
	return nil
}

// Export publishes the object manager on the root and every node below it.
// On error, whatever was exported is withdrawn again.
func (e *Exporter) Export() (err error) {
	defer func() {
		if err != nil {
			e.Unexport()
		}
	}()

	root := e.app.Path()
	if err := e.export(&objectManager{app: e.app, logger: e.logger}, root, ObjectManagerInterface); err != nil {
		return err
	}
	if err := e.export(introspectable(objectManagerIntrospect), root, IntrospectableInterface); err != nil {
		return err
	}

	for _, node := range e.app.Nodes() {
		path := node.Path()
		if err := e.export(&properties{node: node, logger: e.logger}, path, PropertiesInterface); err != nil {
			return err
		}

		switch n := node.(type) {
		case *gatt.Service:
			err = e.export(introspectable(serviceIntrospect), path, IntrospectableInterface)
		case *gatt.Characteristic:
			if err = e.export(&characteristic{char: n, logger: e.logger}, path, gatt.CharacteristicInterface); err != nil {
				return err
			}
			n.SetEmitter(e.emitPropertiesChanged)
			err = e.export(introspectable(characteristicIntrospect), path, IntrospectableInterface)
		}
		if err != nil {
			return err
		}
	}

	e.logger.WithFields(logrus.Fields{
		"path":    root,
		"objects": len(e.app.Nodes()),
	}).Info("GATT application exported")
	return nil
}

// Unexport withdraws every exported object, in reverse order.
func (e *Exporter) Unexport() {
	for i := len(e.exported) - 1; i >= 0; i-- {
		x := e.exported[i]
		if err := e.conn.Export(nil, x.path, x.iface); err != nil {
			e.logger.WithError(err).WithField("path", x.path).Debug("Unexport failed")
		}
	}
	e.exported = nil
	for _, c := range e.app.Characteristics() {
		c.SetEmitter(nil)
	}
}

// Release implements handshake.Releaser.
func (e *Exporter) Release() error {
	e.Unexport()
	return nil
}

func (e *Exporter) emitPropertiesChanged(path dbus.ObjectPath, iface string, changed gatt.Properties) error {
	return e.conn.Emit(path, propertiesChangedSignal, iface, toVariants(changed), []string{})
}
