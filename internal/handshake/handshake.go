// Package handshake registers a frozen GATT application with the adapter and gates
// advertising on the adapter's reply.
//
// The adapter's reply is asynchronous. Submit returns at once with a Registration that
// resolves exactly once: success starts advertising, failure releases resources and
// stops the event loop. Shutdown or timeout before the reply counts as failure.
package handshake

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/srg/gattd/internal/eventloop"
	"github.com/srg/gattd/internal/groutine"
)

// Tree is the part of the application the handshake needs.
type Tree interface {
	Path() dbus.ObjectPath
	Freeze()
}

// ApplicationManager is the adapter's GATT management endpoint. RegisterApplication
// must not block; the returned channel delivers the single reply (nil on success).
type ApplicationManager interface {
	RegisterApplication(app dbus.ObjectPath, options map[string]dbus.Variant) <-chan error
	UnregisterApplication(app dbus.ObjectPath) error
}

// Advertiser makes the peripheral visible to centrals.
type Advertiser interface {
	StartAdvertising(ctx context.Context) error
	StopAdvertising() error
}

// Releaser frees adapter resources acquired before registration.
type Releaser interface {
	Release() error
}

// ReleaseFunc adapts a function to Releaser.
type ReleaseFunc func() error

func (f ReleaseFunc) Release() error { return f() }

// DefaultTimeout bounds how long Submit waits for the adapter's reply.
const DefaultTimeout = 30 * time.Second

// Handshake drives one application registration.
type Handshake struct {
	tree       Tree
	manager    ApplicationManager
	stopper    eventloop.Stopper
	advertiser Advertiser
	releaser   Releaser
	options    map[string]dbus.Variant
	timeout    time.Duration
	logger     *logrus.Logger

	submitted atomic.Bool
}

// Option configures a Handshake.
type Option func(*Handshake)

// WithAdvertiser sets the advertiser started after a successful registration.
func WithAdvertiser(a Advertiser) Option { return func(h *Handshake) { h.advertiser = a } }

// WithReleaser sets what is released after a failed registration.
func WithReleaser(r Releaser) Option { return func(h *Handshake) { h.releaser = r } }

// WithOptions sets the registration options sent with the request.
func WithOptions(opts map[string]dbus.Variant) Option {
	return func(h *Handshake) { h.options = opts }
}

// WithTimeout bounds the wait for the adapter's reply. Zero disables the bound.
func WithTimeout(d time.Duration) Option { return func(h *Handshake) { h.timeout = d } }

// WithLogger sets the logger.
func WithLogger(l *logrus.Logger) Option { return func(h *Handshake) { h.logger = l } }

// New creates a handshake for tree against manager. stopper is signalled on failure.
func New(tree Tree, manager ApplicationManager, stopper eventloop.Stopper, opts ...Option) *Handshake {
	h := &Handshake{
		tree:    tree,
		manager: manager,
		stopper: stopper,
		options: map[string]dbus.Variant{},
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = logrus.New()
	}
	return h
}

// ErrAlreadySubmitted is returned when Submit is called twice; the tree is registered once.
var ErrAlreadySubmitted = errors.New("application already submitted")

// Submit freezes the tree, sends the registration request and returns immediately.
// The returned Registration resolves when the adapter replies or ctx ends.
func (h *Handshake) Submit(ctx context.Context) (*Registration, error) {
	if !h.submitted.CompareAndSwap(false, true) {
		return nil, ErrAlreadySubmitted
	}

	h.tree.Freeze()
	path := h.tree.Path()
	reg := newRegistration(path)

	h.logger.WithField("path", path).Info("Registering GATT application")
	reply := h.manager.RegisterApplication(path, h.options)

	groutine.Go(ctx, "registration-reply", func(ctx context.Context) {
		if h.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, h.timeout)
			defer cancel()
		}

		select {
		case err := <-reply:
			if err != nil {
				h.resolve(ctx, reg, Failure(err))
				return
			}
			h.resolve(ctx, reg, Success())
		case <-ctx.Done():
			reason := ErrCancelled
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				reason = ErrTimedOut
			}
			if h.resolve(ctx, reg, Failure(reason)) {
				h.unregister(path)
			}
		}
	})
	return reg, nil
}

func (h *Handshake) resolve(ctx context.Context, reg *Registration, outcome Outcome) bool {
	applied := reg.resolve(outcome, func() {
		entry := groutine.Entry(ctx, h.logger).WithField("path", reg.path)
		if outcome.Succeeded() {
			entry.Info("GATT application registered")
			h.startAdvertising(ctx)
			return
		}

		entry.WithError(outcome.Reason()).Error("Failed to register GATT application")
		if h.releaser != nil {
			if err := h.releaser.Release(); err != nil {
				entry.WithError(err).Warn("Failed to release adapter resources")
			}
		}
		h.stopper.Stop(&RegistrationError{Path: reg.path, Reason: outcome.Reason()})
	})
	return applied
}

func (h *Handshake) startAdvertising(ctx context.Context) {
	if h.advertiser == nil {
		return
	}
	if err := h.advertiser.StartAdvertising(context.WithoutCancel(ctx)); err != nil {
		h.logger.WithError(err).Error("Failed to start advertising")
		h.stopper.Stop(err)
		return
	}
	h.logger.Info("Advertising started")
}

// unregister is best effort: a late acceptance must not leave the application registered.
func (h *Handshake) unregister(path dbus.ObjectPath) {
	if err := h.manager.UnregisterApplication(path); err != nil {
		h.logger.WithError(err).WithField("path", path).Debug("Unregister after abandoned registration failed")
	}
}

// Registration is the pending result of one Submit.
type Registration struct {
	path    dbus.ObjectPath
	state   atomic.Int32
	once    sync.Once
	done    chan struct{}
	outcome Outcome
}

func newRegistration(path dbus.ObjectPath) *Registration {
	return &Registration{path: path, done: make(chan struct{})}
}

// Path returns the registered application path.
func (r *Registration) Path() dbus.ObjectPath { return r.path }

// State returns the current state.
func (r *Registration) State() State { return State(r.state.Load()) }

// Done is closed once the registration resolves and its side effects have run.
func (r *Registration) Done() <-chan struct{} { return r.done }

// Outcome returns the resolved outcome. It is only meaningful after Done is closed.
func (r *Registration) Outcome() Outcome {
	<-r.done
	return r.outcome
}

// Wait blocks until the registration resolves or ctx ends.
func (r *Registration) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-r.done:
		return r.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// resolve applies outcome once; later calls are ignored and report false.
func (r *Registration) resolve(outcome Outcome, effects func()) bool {
	applied := false
	r.once.Do(func() {
		applied = true
		r.outcome = outcome
		if outcome.Succeeded() {
			r.state.Store(int32(Succeeded))
		} else {
			r.state.Store(int32(Failed))
		}
		effects()
		close(r.done)
	})
	return applied
}
