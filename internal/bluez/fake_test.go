package bluez

import (
	"context"
	"errors"
	"sync"

	"github.com/godbus/dbus/v5"
)

// fakeObject records method calls. Unused BusObject methods panic through the nil embed.
type fakeObject struct {
	dbus.BusObject
	dest string
	path dbus.ObjectPath

	mu      sync.Mutex
	calls   []*dbus.Call
	replies map[string]error
	bodies  map[string][]interface{}
	// setErrs fails Properties.Set for single property names
	setErrs map[string]error
	// held delays replies to Go calls until released
	held chan struct{}
}

func (o *fakeObject) record(method string, args []interface{}) *dbus.Call {
	o.mu.Lock()
	defer o.mu.Unlock()
	call := &dbus.Call{Destination: o.dest, Path: o.path, Method: method, Args: args}
	call.Err = o.replies[method]
	if method == PropertiesInterface+".Set" && len(args) > 1 {
		if name, ok := args[1].(string); ok && o.setErrs[name] != nil {
			call.Err = o.setErrs[name]
		}
	}
	call.Body = o.bodies[method]
	o.calls = append(o.calls, call)
	return call
}

func (o *fakeObject) Call(method string, _ dbus.Flags, args ...interface{}) *dbus.Call {
	return o.record(method, args)
}

func (o *fakeObject) CallWithContext(ctx context.Context, method string, _ dbus.Flags, args ...interface{}) *dbus.Call {
	call := o.record(method, args)
	if call.Err == nil && ctx.Err() != nil {
		call.Err = ctx.Err()
	}
	return call
}

func (o *fakeObject) Go(method string, _ dbus.Flags, ch chan *dbus.Call, args ...interface{}) *dbus.Call {
	call := o.record(method, args)
	if ch == nil {
		ch = make(chan *dbus.Call, 1)
	}
	call.Done = ch
	held := o.held
	go func() {
		if held != nil {
			<-held
		}
		ch <- call
	}()
	return call
}

func (o *fakeObject) Path() dbus.ObjectPath { return o.path }

func (o *fakeObject) Destination() string { return o.dest }

func (o *fakeObject) Methods() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.calls))
	for _, c := range o.calls {
		out = append(out, c.Method)
	}
	return out
}

func (o *fakeObject) LastCall(method string) *dbus.Call {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.calls) - 1; i >= 0; i-- {
		if o.calls[i].Method == method {
			return o.calls[i]
		}
	}
	return nil
}

type emission struct {
	path   dbus.ObjectPath
	name   string
	values []interface{}
}

// fakeConn is an in-memory bus.
type fakeConn struct {
	mu        sync.Mutex
	objects   map[dbus.ObjectPath]map[string]interface{}
	remotes   map[dbus.ObjectPath]*fakeObject
	emitted   []emission
	signals   []chan<- *dbus.Signal
	matches   int
	exportErr map[string]error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		objects:   map[dbus.ObjectPath]map[string]interface{}{},
		remotes:   map[dbus.ObjectPath]*fakeObject{},
		exportErr: map[string]error{},
	}
}

func (c *fakeConn) Export(v interface{}, path dbus.ObjectPath, iface string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.exportErr[iface]; err != nil && v != nil {
		return err
	}
	if v == nil {
		delete(c.objects[path], iface)
		if len(c.objects[path]) == 0 {
			delete(c.objects, path)
		}
		return nil
	}
	if c.objects[path] == nil {
		c.objects[path] = map[string]interface{}{}
	}
	c.objects[path][iface] = v
	return nil
}

func (c *fakeConn) Object(dest string, path dbus.ObjectPath) dbus.BusObject {
	return c.remote(dest, path)
}

func (c *fakeConn) remote(dest string, path dbus.ObjectPath) *fakeObject {
	c.mu.Lock()
	defer c.mu.Unlock()
	if o, ok := c.remotes[path]; ok {
		return o
	}
	o := &fakeObject{dest: dest, path: path, replies: map[string]error{}, bodies: map[string][]interface{}{}, setErrs: map[string]error{}}
	c.remotes[path] = o
	return o
}

func (c *fakeConn) Emit(path dbus.ObjectPath, name string, values ...interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitted = append(c.emitted, emission{path: path, name: name, values: values})
	return nil
}

func (c *fakeConn) Signal(ch chan<- *dbus.Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signals = append(c.signals, ch)
}

func (c *fakeConn) RemoveSignal(ch chan<- *dbus.Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.signals {
		if s == ch {
			c.signals = append(c.signals[:i], c.signals[i+1:]...)
			return
		}
	}
}

func (c *fakeConn) AddMatchSignal(...dbus.MatchOption) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.matches++
	return nil
}

func (c *fakeConn) RemoveMatchSignal(...dbus.MatchOption) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.matches--
	return nil
}

func (c *fakeConn) Deliver(sig *dbus.Signal) {
	c.mu.Lock()
	subs := append([]chan<- *dbus.Signal(nil), c.signals...)
	c.mu.Unlock()
	for _, ch := range subs {
		ch <- sig
	}
}

func (c *fakeConn) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.signals)
}

func (c *fakeConn) Exported(path dbus.ObjectPath, iface string) interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.objects[path][iface]
}

func (c *fakeConn) Emitted() []emission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]emission(nil), c.emitted...)
}

var errBusy = errors.New("org.bluez.Error.AlreadyExists")
