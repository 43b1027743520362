package peripheral

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/gattd/internal/agent"
	"github.com/srg/gattd/internal/bluez"
	"github.com/srg/gattd/internal/handshake"
	"github.com/srg/gattd/internal/presence"
	"github.com/srg/gattd/pkg/config"
)

// busObject answers every call; replies maps a method to its error.
type busObject struct {
	dbus.BusObject
	bus  *bus
	path dbus.ObjectPath
}

func (o *busObject) call(method string, args []interface{}) *dbus.Call {
	o.bus.mu.Lock()
	defer o.bus.mu.Unlock()
	o.bus.calls = append(o.bus.calls, method)
	if method == bluez.PropertiesInterface+".Set" && len(args) == 3 {
		if v, ok := args[2].(dbus.Variant); ok {
			o.bus.sets = append(o.bus.sets, fmt.Sprintf("%v=%v", args[1], v.Value()))
		}
	}
	return &dbus.Call{Path: o.path, Method: method, Args: args, Err: o.bus.replies[method]}
}

func (o *busObject) Call(method string, _ dbus.Flags, args ...interface{}) *dbus.Call {
	return o.call(method, args)
}

func (o *busObject) CallWithContext(_ context.Context, method string, _ dbus.Flags, args ...interface{}) *dbus.Call {
	return o.call(method, args)
}

func (o *busObject) Go(method string, _ dbus.Flags, ch chan *dbus.Call, args ...interface{}) *dbus.Call {
	c := o.call(method, args)
	c.Done = ch
	o.bus.mu.Lock()
	held := o.bus.held
	o.bus.mu.Unlock()
	if held == nil {
		ch <- c
		return c
	}
	go func() {
		<-held
		ch <- c
	}()
	return c
}

// bus is a minimal in-memory bluez.Conn.
type bus struct {
	mu      sync.Mutex
	calls   []string
	sets    []string
	replies map[string]error
	objects map[dbus.ObjectPath]map[string]interface{}
	signals []chan<- *dbus.Signal
	// held delays replies to asynchronous calls until closed
	held chan struct{}
}

func newBus() *bus {
	return &bus{replies: map[string]error{}, objects: map[dbus.ObjectPath]map[string]interface{}{}}
}

func (b *bus) Export(v interface{}, path dbus.ObjectPath, iface string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v == nil {
		delete(b.objects[path], iface)
		if len(b.objects[path]) == 0 {
			delete(b.objects, path)
		}
		return nil
	}
	if b.objects[path] == nil {
		b.objects[path] = map[string]interface{}{}
	}
	b.objects[path][iface] = v
	return nil
}

func (b *bus) Object(_ string, path dbus.ObjectPath) dbus.BusObject {
	return &busObject{bus: b, path: path}
}

func (b *bus) Emit(dbus.ObjectPath, string, ...interface{}) error { return nil }
func (b *bus) AddMatchSignal(...dbus.MatchOption) error           { return nil }
func (b *bus) RemoveMatchSignal(...dbus.MatchOption) error        { return nil }

func (b *bus) Signal(ch chan<- *dbus.Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.signals = append(b.signals, ch)
}

func (b *bus) RemoveSignal(ch chan<- *dbus.Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, c := range b.signals {
		if c == ch {
			b.signals = append(b.signals[:i], b.signals[i+1:]...)
			return
		}
	}
}

func (b *bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.signals)
}

// connected delivers a Device1 Connected change to every subscriber.
func (b *bus) connected(device dbus.ObjectPath, on bool) {
	sig := &dbus.Signal{
		Path: device,
		Name: bluez.PropertiesInterface + ".PropertiesChanged",
		Body: []interface{}{
			bluez.DeviceInterface,
			map[string]dbus.Variant{"Connected": dbus.MakeVariant(on)},
			[]string{},
		},
	}
	b.mu.Lock()
	subscribers := append([]chan<- *dbus.Signal(nil), b.signals...)
	b.mu.Unlock()
	for _, ch := range subscribers {
		ch <- sig
	}
}

// Sets lists adapter property writes as "Name=value".
func (b *bus) Sets() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.sets...)
}

func (b *bus) count(set string) int {
	n := 0
	for _, s := range b.Sets() {
		if s == set {
			n++
		}
	}
	return n
}

func (b *bus) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func (b *bus) Exported() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

func (b *bus) Lookup(path dbus.ObjectPath, iface string) interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.objects[path][iface]
}

func serverConfig() *config.Config {
	cfg := testConfig(config.ServiceConfig{UUID: "180d", Characteristics: []config.CharacteristicConfig{
		{UUID: "2a37", Flags: []string{"read"}, Value: config.ValueConfig{Text: "hello"}},
	}})
	cfg.Registration.Timeout = time.Second
	return cfg
}

const (
	registerApp   = bluez.GattManagerInterface + ".RegisterApplication"
	unregisterApp = bluez.GattManagerInterface + ".UnregisterApplication"
	registerAdv   = bluez.AdvertisingManagerInterface + ".RegisterAdvertisement"
)

func TestServer_RegistrationFailureIsFatal(t *testing.T) {
	b := newBus()
	b.replies[registerApp] = errors.New("adapter busy")

	err := NewServer(serverConfig(), b, nil).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, handshake.ErrRegistrationFailed)
	assert.ErrorContains(t, err, "adapter busy")

	assert.NotContains(t, b.Calls(), registerAdv)
	assert.Equal(t, 0, b.Exported())
}

func TestServer_RunUntilCancelled(t *testing.T) {
	b := newBus()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServer(serverConfig(), b, nil).Run(ctx) }()

	require.Eventually(t, func() bool {
		for _, c := range b.Calls() {
			if c == registerAdv {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	assert.NotNil(t, b.Lookup("/org/bluez/test", bluez.ObjectManagerInterface))
	assert.NotNil(t, b.Lookup("/org/bluez/gattd/agent", agent.Interface))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}

	calls := b.Calls()
	assert.Contains(t, calls, unregisterApp)
	assert.Contains(t, calls, bluez.AgentManagerInterface+".UnregisterAgent")
	assert.Equal(t, 0, b.Exported())
}

func TestServer_AgentReleaseStopsServer(t *testing.T) {
	b := newBus()
	done := make(chan error, 1)
	go func() { done <- NewServer(serverConfig(), b, nil).Run(context.Background()) }()

	var ag *agent.Agent
	require.Eventually(t, func() bool {
		ag, _ = b.Lookup("/org/bluez/gattd/agent", agent.Interface).(*agent.Agent)
		return ag != nil
	}, 2*time.Second, 5*time.Millisecond)

	ag.Release()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, agent.ErrReleased)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServer_StaysHiddenUntilRegistered(t *testing.T) {
	b := newBus()
	b.held = make(chan struct{})
	cfg := serverConfig()
	cfg.Registration.Timeout = 10 * time.Second
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- NewServer(cfg, b, nil).Run(ctx) }()

	require.Eventually(t, func() bool { return b.Subscribers() > 0 }, 2*time.Second, 5*time.Millisecond)

	const (
		first  = dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_01")
		second = dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_02")
	)
	b.connected(first, true)
	b.connected(first, false)
	b.connected(second, true)

	// Changes are handled in order, so the second hide proves the disconnect was seen.
	require.Eventually(t, func() bool { return b.count("Discoverable=false") == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, b.count("Discoverable=true"))
	assert.NotContains(t, b.Calls(), registerAdv)

	close(b.held)
	require.Eventually(t, func() bool { return b.count("Discoverable=true") == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServer_EarlyFailureStopsLoop(t *testing.T) {
	run := map[string]func(*Server, context.Context) error{
		"Run":      (*Server).Run,
		"RunAgent": (*Server).RunAgent,
	}
	for name, fn := range run {
		t.Run(name, func(t *testing.T) {
			b := newBus()
			b.replies[bluez.PropertiesInterface+".Set"] = errors.New("rfkill blocked")
			logger, hook := test.NewNullLogger()
			logger.SetLevel(logrus.DebugLevel)

			err := fn(NewServer(serverConfig(), b, logger), context.Background())
			assert.ErrorContains(t, err, "rfkill blocked")

			var stopped bool
			for _, e := range hook.AllEntries() {
				stopped = stopped || e.Message == "Event loop stopping"
			}
			assert.True(t, stopped)
		})
	}
}

func TestServer_RunAgent(t *testing.T) {
	b := newBus()
	cfg := serverConfig()
	cfg.Discoverable.HideOnConnect = false
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServer(cfg, b, nil).RunAgent(ctx) }()

	require.Eventually(t, func() bool {
		return b.Lookup("/org/bluez/gattd/agent", agent.Interface) != nil
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.NotContains(t, b.Calls(), registerApp)

	cfg.Agent.Enabled = false
	assert.Error(t, NewServer(cfg, newBus(), nil).RunAgent(context.Background()))
}

func TestDiscoverability(t *testing.T) {
	cfg := config.DefaultConfig()
	adapter := bluez.NewAdapter(newBus(), "hci0", nil)
	assert.Same(t, adapter, Discoverability(cfg, adapter))

	cfg.Discoverable.Backend = config.BackendBtmgmt
	assert.Equal(t, presence.Btmgmt{Adapter: "hci0"}, Discoverability(cfg, adapter))
}
