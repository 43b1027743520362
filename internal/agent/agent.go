// Package agent implements the org.bluez.Agent1 pairing agent.
//
// Every challenge is answered immediately: pin and passkey requests return fixed values,
// confirmation and authorization requests go through an Authorizer. The agent keeps no
// state across pairing attempts.
package agent

import (
	"sync/atomic"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/srg/gattd/internal/eventloop"
)

// Interface is the D-Bus interface name implemented by Agent.
const Interface = "org.bluez.Agent1"

// Defaults answered to pin and passkey requests.
const (
	DefaultPinCode = "0000"
	DefaultPasskey = uint32(0)
)

// State of the current pairing attempt.
type State int32

const (
	Idle State = iota
	AwaitingChallenge
)

func (s State) String() string {
	if s == AwaitingChallenge {
		return "awaiting_challenge"
	}
	return "idle"
}

// Agent answers BlueZ pairing callbacks. Its exported methods follow godbus export rules.
type Agent struct {
	path       dbus.ObjectPath
	capability Capability
	pin        string
	passkey    uint32
	authorizer Authorizer
	stopper    eventloop.Stopper
	logger     *logrus.Logger

	state atomic.Int32
}

// Option configures an Agent.
type Option func(*Agent)

func WithCapability(c Capability) Option { return func(a *Agent) { a.capability = c } }

func WithPinCode(pin string) Option { return func(a *Agent) { a.pin = pin } }

func WithPasskey(passkey uint32) Option { return func(a *Agent) { a.passkey = passkey } }

// WithAuthorizer replaces the default auto-accept authorizer.
func WithAuthorizer(auth Authorizer) Option { return func(a *Agent) { a.authorizer = auth } }

func WithLogger(l *logrus.Logger) Option { return func(a *Agent) { a.logger = l } }

// New creates an agent exported at path. stopper is stopped when BlueZ releases the agent.
func New(path dbus.ObjectPath, stopper eventloop.Stopper, opts ...Option) *Agent {
	a := &Agent{
		path:       path,
		capability: NoInputNoOutput,
		pin:        DefaultPinCode,
		passkey:    DefaultPasskey,
		authorizer: AutoAccept{},
		stopper:    stopper,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = logrus.New()
	}
	return a
}

func (a *Agent) Path() dbus.ObjectPath { return a.path }

func (a *Agent) Capability() Capability { return a.capability }

// State reports whether a challenge is being answered.
func (a *Agent) State() State { return State(a.state.Load()) }

func (a *Agent) challenge() func() {
	a.state.Store(int32(AwaitingChallenge))
	return func() { a.state.Store(int32(Idle)) }
}

func (a *Agent) entry(device dbus.ObjectPath) *logrus.Entry {
	return a.logger.WithFields(logrus.Fields{
		"agent":  a.path,
		"device": device,
	})
}

// Release is called when BlueZ unregisters the agent. The peripheral can no longer
// complete pairing, so the event loop is stopped.
func (a *Agent) Release() *dbus.Error {
	a.logger.WithField("agent", a.path).Warn("Agent released")
	a.state.Store(int32(Idle))
	if a.stopper != nil {
		a.stopper.Stop(ErrReleased)
	}
	return nil
}

func (a *Agent) RequestPinCode(device dbus.ObjectPath) (string, *dbus.Error) {
	defer a.challenge()()
	a.entry(device).Info("Pin code requested")
	return a.pin, nil
}

func (a *Agent) DisplayPinCode(device dbus.ObjectPath, pincode string) *dbus.Error {
	a.entry(device).WithField("pincode", pincode).Info("Display pin code")
	return nil
}

func (a *Agent) RequestPasskey(device dbus.ObjectPath) (uint32, *dbus.Error) {
	defer a.challenge()()
	a.entry(device).Info("Passkey requested")
	return a.passkey, nil
}

func (a *Agent) DisplayPasskey(device dbus.ObjectPath, passkey uint32, entered uint16) *dbus.Error {
	a.entry(device).WithFields(logrus.Fields{
		"passkey": passkey,
		"entered": entered,
	}).Info("Display passkey")
	return nil
}

func (a *Agent) RequestConfirmation(device dbus.ObjectPath, passkey uint32) *dbus.Error {
	defer a.challenge()()
	entry := a.entry(device).WithField("passkey", passkey)
	if err := a.authorizer.Authorize(device, ""); err != nil {
		entry.WithError(err).Warn("Confirmation rejected")
		return toDBusError(err)
	}
	entry.Info("Confirmation accepted")
	return nil
}

func (a *Agent) RequestAuthorization(device dbus.ObjectPath) *dbus.Error {
	defer a.challenge()()
	if err := a.authorizer.Authorize(device, ""); err != nil {
		a.entry(device).WithError(err).Warn("Authorization rejected")
		return toDBusError(err)
	}
	a.entry(device).Info("Authorization accepted")
	return nil
}

func (a *Agent) AuthorizeService(device dbus.ObjectPath, uuid string) *dbus.Error {
	defer a.challenge()()
	entry := a.entry(device).WithField("uuid", uuid)
	if err := a.authorizer.Authorize(device, uuid); err != nil {
		entry.WithError(err).Warn("Service authorization rejected")
		return toDBusError(err)
	}
	entry.Info("Service authorized")
	return nil
}

// Cancel aborts the current attempt. There is nothing to undo.
func (a *Agent) Cancel() *dbus.Error {
	a.state.Store(int32(Idle))
	a.logger.WithField("agent", a.path).Info("Pairing cancelled")
	return nil
}
