package bluez

import (
	"context"
	"fmt"
	"math"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/srg/gattd/internal/gatt"
)

// characteristic serves the org.bluez.GattCharacteristic1 methods.
type characteristic struct {
	char   *gatt.Characteristic
	logger *logrus.Logger
}

func (c *characteristic) entry(method string, options map[string]dbus.Variant) *logrus.Entry {
	fields := logrus.Fields{"path": c.char.Path(), "method": method}
	if dev, ok := options["device"]; ok {
		fields["device"] = dev.Value()
	}
	return c.logger.WithFields(fields)
}

func (c *characteristic) ReadValue(options map[string]dbus.Variant) ([]byte, *dbus.Error) {
	offset, err := c.offset(options)
	if err != nil {
		c.entry("ReadValue", options).WithError(err).Warn("Read rejected")
		return nil, toDBusError(err)
	}
	value, err := c.char.ReadValue(context.Background(), offset)
	if err != nil {
		c.entry("ReadValue", options).WithError(err).Warn("Read failed")
		return nil, toDBusError(err)
	}
	c.entry("ReadValue", options).WithField("bytes", len(value)).Debug("Read served")
	return value, nil
}

func (c *characteristic) WriteValue(value []byte, options map[string]dbus.Variant) *dbus.Error {
	if err := c.char.WriteValue(context.Background(), value); err != nil {
		c.entry("WriteValue", options).WithError(err).Warn("Write failed")
		return toDBusError(err)
	}
	c.entry("WriteValue", options).WithField("bytes", len(value)).Debug("Write handled")
	return nil
}

func (c *characteristic) StartNotify() *dbus.Error {
	return toDBusError(c.char.StartNotify())
}

func (c *characteristic) StopNotify() *dbus.Error {
	return toDBusError(c.char.StopNotify())
}

// offset reads the "offset" option. Values outside the attribute range are rejected
// rather than truncated.
func (c *characteristic) offset(options map[string]dbus.Variant) (uint16, error) {
	v, ok := options["offset"]
	if !ok {
		return 0, nil
	}
	var n int64
	switch x := v.Value().(type) {
	case uint16:
		return x, nil
	case uint32:
		n = int64(x)
	case int32:
		n = int64(x)
	case uint64:
		if x > math.MaxUint16 {
			n = -1
		} else {
			n = int64(x)
		}
	case int64:
		n = x
	default:
		return 0, &gatt.Error{Kind: gatt.InvalidOffset, Path: c.char.Path(), Interface: gatt.CharacteristicInterface,
			Name: fmt.Sprintf("offset of type %s", v.Signature())}
	}
	if n < 0 || n > math.MaxUint16 {
		return 0, &gatt.Error{Kind: gatt.InvalidOffset, Path: c.char.Path(), Interface: gatt.CharacteristicInterface,
			Name: fmt.Sprintf("offset %v", v.Value())}
	}
	return uint16(n), nil
}
