package gatt

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/srg/gattd/internal/objpath"
)

// Service groups characteristics under one GattService1 node.
type Service struct {
	app             *Application
	path            dbus.ObjectPath
	uuid            string
	primary         bool
	characteristics []*Characteristic
}

func (s *Service) Path() dbus.ObjectPath { return s.path }

func (s *Service) UUID() string { return s.uuid }

func (s *Service) Primary() bool { return s.primary }

func (s *Service) Interfaces() []string { return []string{ServiceInterface} }

// Characteristics returns the owned characteristics in insertion order.
func (s *Service) Characteristics() []*Characteristic {
	return append([]*Characteristic(nil), s.characteristics...)
}

// AddCharacteristic appends a characteristic at {service}/char{M}.
// It fails with ErrFrozen once the application has been frozen.
func (s *Service) AddCharacteristic(uuid string, flags Flags, value ValueProvider, opts ...CharacteristicOption) (*Characteristic, error) {
	if s.app.Frozen() {
		s.app.logger.WithFields(logrus.Fields{
			"service": s.path,
			"uuid":    uuid,
		}).Error("AddCharacteristic called after registration was submitted")
		return nil, fmt.Errorf("add characteristic %s to %s: %w", uuid, s.path, ErrFrozen)
	}
	if uuid == "" {
		return nil, fmt.Errorf("add characteristic to %s: empty UUID", s.path)
	}

	c := &Characteristic{
		path:    objpath.Characteristic(s.path, len(s.characteristics)),
		service: s.path,
		uuid:    uuid,
		flags:   append(Flags(nil), flags...),
		value:   value,
		timeout: s.app.readTimeout,
		logger:  s.app.logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	s.characteristics = append(s.characteristics, c)
	return c, nil
}

func (s *Service) characteristicPaths() []dbus.ObjectPath {
	paths := make([]dbus.ObjectPath, len(s.characteristics))
	for i, c := range s.characteristics {
		paths[i] = c.path
	}
	return paths
}

func (s *Service) Get(iface, property string) (any, error) {
	if iface != ServiceInterface {
		return nil, invalidInterface(s.path, iface)
	}
	switch property {
	case PropUUID:
		return s.uuid, nil
	case PropPrimary:
		return s.primary, nil
	case PropCharacteristics:
		return s.characteristicPaths(), nil
	default:
		return nil, invalidProperty(s.path, iface, property)
	}
}

func (s *Service) GetAll(iface string) (Properties, error) {
	if iface != ServiceInterface {
		return nil, invalidInterface(s.path, iface)
	}
	return Properties{
		PropUUID:            s.uuid,
		PropPrimary:         s.primary,
		PropCharacteristics: s.characteristicPaths(),
	}, nil
}
