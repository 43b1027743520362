package bluez

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/srg/gattd/internal/gatt"
)

// Advertisement is an org.bluez.LEAdvertisement1 object.
type Advertisement struct {
	path         dbus.ObjectPath
	LocalName    string
	ServiceUUIDs []string
	// IncludeTxPower adds "tx-power" to the advertised data.
	IncludeTxPower bool
}

// NewAdvertisement creates a peripheral advertisement exported at path.
func NewAdvertisement(path dbus.ObjectPath, localName string, serviceUUIDs []string) *Advertisement {
	return &Advertisement{path: path, LocalName: localName, ServiceUUIDs: serviceUUIDs, IncludeTxPower: true}
}

func (a *Advertisement) Path() dbus.ObjectPath { return a.path }

func (a *Advertisement) Interfaces() []string { return []string{AdvertisementInterface} }

func (a *Advertisement) GetAll(iface string) (gatt.Properties, error) {
	if iface != AdvertisementInterface {
		return nil, &gatt.Error{Kind: gatt.InvalidInterface, Path: a.path, Interface: iface}
	}
	props := gatt.Properties{
		"Type":         "peripheral",
		"ServiceUUIDs": append([]string{}, a.ServiceUUIDs...),
	}
	if a.LocalName != "" {
		props["LocalName"] = a.LocalName
	}
	includes := []string{}
	if a.IncludeTxPower {
		includes = append(includes, "tx-power")
	}
	props["Includes"] = includes
	return props, nil
}

func (a *Advertisement) Get(iface, property string) (any, error) {
	props, err := a.GetAll(iface)
	if err != nil {
		return nil, err
	}
	v, ok := props[property]
	if !ok {
		return nil, &gatt.Error{Kind: gatt.InvalidProperty, Path: a.path, Interface: iface, Name: property}
	}
	return v, nil
}

// advertisementObject serves the Release method BlueZ calls when it drops the advertisement.
type advertisementObject struct {
	adv    *Advertisement
	logger *logrus.Logger
}

func (o *advertisementObject) Release() *dbus.Error {
	o.logger.WithField("path", o.adv.path).Info("Advertisement released by BlueZ")
	return nil
}

// Advertiser makes the adapter visible: discoverable, pairable and, when an
// advertisement is set, an LE advertisement registered with LEAdvertisingManager1.
// It implements handshake.Advertiser.
type Advertiser struct {
	conn    Conn
	adapter *Adapter
	adv     *Advertisement
	logger  *logrus.Logger

	mu        sync.Mutex
	exported  bool
	active    bool
	announced bool
}

// NewAdvertiser creates an advertiser. adv may be nil to only toggle discoverability.
func NewAdvertiser(conn Conn, adapter *Adapter, adv *Advertisement, logger *logrus.Logger) *Advertiser {
	if logger == nil {
		logger = logrus.New()
	}
	return &Advertiser{conn: conn, adapter: adapter, adv: adv, logger: logger}
}

func (a *Advertiser) StartAdvertising(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active {
		return nil
	}

	if err := a.adapter.SetDiscoverable(ctx, true); err != nil {
		return err
	}
	// From here on StopAdvertising has to hide the adapter again, even if a later step fails.
	a.active = true
	if err := a.adapter.SetPairable(ctx, true); err != nil {
		return err
	}

	if a.adv == nil {
		return nil
	}
	if err := a.exportAdvertisement(); err != nil {
		return err
	}
	call := a.adapter.obj.CallWithContext(ctx, AdvertisingManagerInterface+".RegisterAdvertisement", 0,
		a.adv.path, map[string]dbus.Variant{})
	if call.Err != nil {
		return fmt.Errorf("register advertisement %s: %w", a.adv.path, call.Err)
	}
	a.announced = true
	a.logger.WithFields(logrus.Fields{
		"path":       a.adv.path,
		"local_name": a.adv.LocalName,
		"services":   a.adv.ServiceUUIDs,
	}).Info("LE advertisement registered")
	return nil
}

func (a *Advertiser) exportAdvertisement() error {
	if a.exported {
		return nil
	}
	path := a.adv.path
	if err := a.conn.Export(&advertisementObject{adv: a.adv, logger: a.logger}, path, AdvertisementInterface); err != nil {
		return fmt.Errorf("export advertisement: %w", err)
	}
	if err := a.conn.Export(&properties{node: a.adv, logger: a.logger}, path, PropertiesInterface); err != nil {
		return fmt.Errorf("export advertisement properties: %w", err)
	}
	if err := a.conn.Export(introspectable(advertisementIntrospect), path, IntrospectableInterface); err != nil {
		return fmt.Errorf("export advertisement introspection: %w", err)
	}
	a.exported = true
	return nil
}

// StopAdvertising withdraws the advertisement and hides the adapter. Every step runs;
// the first error is returned.
func (a *Advertiser) StopAdvertising() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	if a.announced {
		if call := a.adapter.obj.Call(AdvertisingManagerInterface+".UnregisterAdvertisement", 0, a.adv.path); call.Err != nil {
			keep(fmt.Errorf("unregister advertisement %s: %w", a.adv.path, call.Err))
		}
		a.announced = false
	}
	if a.exported {
		for _, iface := range []string{AdvertisementInterface, PropertiesInterface, IntrospectableInterface} {
			keep(a.conn.Export(nil, a.adv.path, iface))
		}
		a.exported = false
	}
	if a.active {
		keep(a.adapter.SetDiscoverable(context.Background(), false))
		a.active = false
	}
	return first
}
