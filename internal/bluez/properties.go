package bluez

import (
	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/srg/gattd/internal/gatt"
)

// properties serves org.freedesktop.DBus.Properties for one node.
type properties struct {
	node   gatt.PropertyProvider
	logger *logrus.Logger
}

func (p *properties) Get(iface, name string) (dbus.Variant, *dbus.Error) {
	v, err := p.node.Get(iface, name)
	if err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"path":      p.node.Path(),
			"interface": iface,
			"property":  name,
		}).Debug("Property query failed")
		return dbus.Variant{}, toDBusError(err)
	}
	return dbus.MakeVariant(v), nil
}

func (p *properties) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	props, err := p.node.GetAll(iface)
	if err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"path":      p.node.Path(),
			"interface": iface,
		}).Debug("Property query failed")
		return nil, toDBusError(err)
	}
	return toVariants(props), nil
}

func (p *properties) Set(iface, name string, _ dbus.Variant) *dbus.Error {
	return readOnly(iface, name)
}

func toVariants(props gatt.Properties) map[string]dbus.Variant {
	out := make(map[string]dbus.Variant, len(props))
	for k, v := range props {
		out[k] = dbus.MakeVariant(v)
	}
	return out
}

// objectManager serves GetManagedObjects on the application root.
type objectManager struct {
	app    *gatt.Application
	logger *logrus.Logger
}

func (o *objectManager) GetManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, *dbus.Error) {
	objects, err := o.app.Enumerate()
	if err != nil {
		o.logger.WithError(err).Error("Failed to enumerate GATT application")
		return nil, toDBusError(err)
	}
	out := make(map[dbus.ObjectPath]map[string]map[string]dbus.Variant, len(objects))
	for path, ifaces := range objects {
		converted := make(map[string]map[string]dbus.Variant, len(ifaces))
		for iface, props := range ifaces {
			converted[iface] = toVariants(props)
		}
		out[path] = converted
	}
	return out, nil
}
