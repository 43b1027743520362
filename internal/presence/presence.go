// Package presence hides the adapter while a central is connected.
//
// The observer consumes org.bluez.Device1 PropertiesChanged notifications. A device's
// Connected transition false→true disables discoverable mode once; true→false enables
// it once. Repeated values and changes without Connected have no effect. A failed
// change is not recorded, so the next identical notification retries it.
package presence

import (
	"context"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
)

// ConnectedProperty is the Device1 property the observer reacts to.
const ConnectedProperty = "Connected"

// Discoverability toggles whether the adapter can be discovered.
type Discoverability interface {
	SetDiscoverable(ctx context.Context, on bool) error
}

// DefaultTimeout bounds each discoverability change.
const DefaultTimeout = 5 * time.Second

// Observer tracks per-device connection state. HandleChange is called from a single
// signal-dispatch goroutine.
type Observer struct {
	target  Discoverability
	devices *hashmap.Map[string, bool]
	timeout time.Duration
	gate    func() bool
	logger  *logrus.Logger
}

// Option configures an Observer.
type Option func(*Observer)

func WithTimeout(d time.Duration) Option { return func(o *Observer) { o.timeout = d } }

func WithLogger(l *logrus.Logger) Option { return func(o *Observer) { o.logger = l } }

// WithGate holds back re-enabling discoverable mode while open returns false. Hiding
// the adapter on connect is never held back.
func WithGate(open func() bool) Option { return func(o *Observer) { o.gate = open } }

// NewObserver creates an observer driving target.
func NewObserver(target Discoverability, opts ...Option) *Observer {
	o := &Observer{
		target:  target,
		devices: hashmap.New[string, bool](),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logrus.New()
	}
	return o
}

// HandleChange applies one PropertiesChanged notification for device.
// It returns the error of the discoverability change, if one was made.
func (o *Observer) HandleChange(ctx context.Context, device dbus.ObjectPath, changed map[string]dbus.Variant) error {
	v, ok := changed[ConnectedProperty]
	if !ok {
		return nil
	}
	connected, ok := v.Value().(bool)
	if !ok {
		o.logger.WithFields(logrus.Fields{
			"device": device,
			"value":  v.String(),
		}).Warn("Ignoring non-boolean Connected value")
		return nil
	}

	key := string(device)
	previous, _ := o.devices.Get(key)
	if previous == connected {
		return nil
	}

	entry := o.logger.WithFields(logrus.Fields{
		"device":    device,
		"connected": connected,
	})
	entry.Info("Device connection changed")

	if !connected && o.gate != nil && !o.gate() {
		o.devices.Del(key)
		entry.Debug("Adapter is not advertising yet, discoverable mode left unchanged")
		return nil
	}

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	if err := o.target.SetDiscoverable(ctx, !connected); err != nil {
		entry.WithError(err).Error("Failed to change discoverable mode")
		return err
	}

	if connected {
		o.devices.Set(key, true)
	} else {
		o.devices.Del(key)
	}
	return nil
}

// Connected returns the number of devices currently tracked as connected.
func (o *Observer) Connected() int { return o.devices.Len() }
