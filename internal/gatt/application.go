package gatt

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/srg/gattd/internal/objpath"
)

// DefaultReadTimeout bounds every value provider call made by a property read.
const DefaultReadTimeout = 2 * time.Second

// DefaultEnumerateTimeout bounds a whole tree snapshot.
const DefaultEnumerateTimeout = 10 * time.Second

// Application is the root of the GATT tree.
type Application struct {
	path        dbus.ObjectPath
	services    []*Service
	frozen      atomic.Bool
	readTimeout time.Duration
	enumTimeout time.Duration
	logger      *logrus.Logger
}

// Option customises an Application.
type Option func(*Application)

// WithReadTimeout overrides DefaultReadTimeout. Zero disables the bound.
func WithReadTimeout(d time.Duration) Option {
	return func(a *Application) { a.readTimeout = d }
}

// WithEnumerateTimeout overrides DefaultEnumerateTimeout. Zero disables the bound, leaving
// only the per-read timeout.
func WithEnumerateTimeout(d time.Duration) Option {
	return func(a *Application) { a.enumTimeout = d }
}

// WithLogger sets the logger shared by all nodes.
func WithLogger(logger *logrus.Logger) Option {
	return func(a *Application) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewApplication creates an empty tree rooted at root.
func NewApplication(root dbus.ObjectPath, opts ...Option) (*Application, error) {
	if err := objpath.ValidateRoot(root); err != nil {
		return nil, fmt.Errorf("new application: %w", err)
	}
	a := &Application{
		path:        root,
		readTimeout: DefaultReadTimeout,
		enumTimeout: DefaultEnumerateTimeout,
		logger:      logrus.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *Application) Path() dbus.ObjectPath { return a.path }

// Interfaces is empty: the root answers no property interface.
func (a *Application) Interfaces() []string { return nil }

// Services returns the services in insertion order.
func (a *Application) Services() []*Service {
	return append([]*Service(nil), a.services...)
}

// AddService appends a service at {root}/service{N}.
// It fails with ErrFrozen once the application has been frozen.
func (a *Application) AddService(uuid string, primary bool) (*Service, error) {
	if a.Frozen() {
		a.logger.WithField("uuid", uuid).Error("AddService called after registration was submitted")
		return nil, fmt.Errorf("add service %s: %w", uuid, ErrFrozen)
	}
	if uuid == "" {
		return nil, fmt.Errorf("add service: empty UUID")
	}
	s := &Service{
		app:     a,
		path:    objpath.Service(a.path, len(a.services)),
		uuid:    uuid,
		primary: primary,
	}
	a.services = append(a.services, s)
	return s, nil
}

// Freeze forbids further structural changes. It is idempotent.
func (a *Application) Freeze() {
	if !a.frozen.Swap(true) {
		a.logger.WithFields(logrus.Fields{
			"path":     a.path,
			"services": len(a.services),
		}).Debug("GATT tree frozen")
	}
}

// Frozen reports whether Freeze was called.
func (a *Application) Frozen() bool { return a.frozen.Load() }

// Get always fails: the root implements no property interface.
func (a *Application) Get(iface, _ string) (any, error) {
	return nil, invalidInterface(a.path, iface)
}

// GetAll always fails: the root implements no property interface.
func (a *Application) GetAll(iface string) (Properties, error) {
	return nil, invalidInterface(a.path, iface)
}

// Nodes returns every service and characteristic, depth first.
func (a *Application) Nodes() []PropertyProvider {
	var nodes []PropertyProvider
	for _, s := range a.services {
		nodes = append(nodes, s)
		for _, c := range s.characteristics {
			nodes = append(nodes, c)
		}
	}
	return nodes
}

// Characteristics returns every characteristic, depth first.
func (a *Application) Characteristics() []*Characteristic {
	var out []*Characteristic
	for _, s := range a.services {
		out = append(out, s.characteristics...)
	}
	return out
}

// Lookup finds a node by path.
func (a *Application) Lookup(path dbus.ObjectPath) (PropertyProvider, bool) {
	for _, n := range a.Nodes() {
		if n.Path() == path {
			return n, true
		}
	}
	return nil, false
}

// Enumerate walks the tree and snapshots every interface of every node.
// Any node failure fails the whole snapshot, and so does running past the
// enumerate timeout.
func (a *Application) Enumerate() (ManagedObjects, error) {
	ctx := context.Background()
	if a.enumTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.enumTimeout)
		defer cancel()
	}

	out := make(ManagedObjects)
	for _, n := range a.Nodes() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("enumerate %s: %w", n.Path(),
				&ValueError{Path: n.Path(), Err: fmt.Errorf("%w: %v", ErrValueTimeout, err)})
		}
		ifaces := make(map[string]Properties, len(n.Interfaces()))
		for _, iface := range n.Interfaces() {
			var (
				props Properties
				err   error
			)
			if c, ok := n.(*Characteristic); ok {
				props, err = c.getAll(ctx, iface)
			} else {
				props, err = n.GetAll(iface)
			}
			if err != nil {
				return nil, fmt.Errorf("enumerate %s: %w", n.Path(), err)
			}
			ifaces[iface] = props
		}
		out[n.Path()] = ifaces
	}
	return out, nil
}
