package bluez

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// DeviceHandler receives the changed properties of one device.
type DeviceHandler func(ctx context.Context, device dbus.ObjectPath, changed map[string]dbus.Variant)

// WatchDevices delivers org.bluez.Device1 PropertiesChanged signals to handler until
// ctx ends. Signals are handled one at a time on the calling goroutine.
func WatchDevices(ctx context.Context, conn Conn, handler DeviceHandler) error {
	match := []dbus.MatchOption{
		dbus.WithMatchInterface(PropertiesInterface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchArg(0, DeviceInterface),
	}
	if err := conn.AddMatchSignal(match...); err != nil {
		return fmt.Errorf("watch devices: %w", err)
	}
	defer func() { _ = conn.RemoveMatchSignal(match...) }()

	signals := make(chan *dbus.Signal, 16)
	conn.Signal(signals)
	defer conn.RemoveSignal(signals)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			if path, changed, ok := deviceChange(sig); ok {
				handler(ctx, path, changed)
			}
		}
	}
}

func deviceChange(sig *dbus.Signal) (dbus.ObjectPath, map[string]dbus.Variant, bool) {
	if sig == nil || sig.Name != propertiesChangedSignal || len(sig.Body) < 2 {
		return "", nil, false
	}
	if iface, _ := sig.Body[0].(string); iface != DeviceInterface {
		return "", nil, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return "", nil, false
	}
	return sig.Path, changed, true
}
