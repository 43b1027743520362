// Package peripheral wires the GATT tree, the registration handshake, the pairing
// agent and the connection policy to one BlueZ adapter.
package peripheral

import (
	"context"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/srg/gattd/internal/agent"
	"github.com/srg/gattd/internal/bluez"
	"github.com/srg/gattd/internal/eventloop"
	"github.com/srg/gattd/internal/groutine"
	"github.com/srg/gattd/internal/handshake"
	"github.com/srg/gattd/internal/objpath"
	"github.com/srg/gattd/internal/presence"
	"github.com/srg/gattd/pkg/config"
)

// Server runs the peripheral role until its event loop stops.
type Server struct {
	cfg    *config.Config
	conn   bluez.Conn
	logger *logrus.Logger
}

func NewServer(cfg *config.Config, conn bluez.Conn, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	return &Server{cfg: cfg, conn: conn, logger: logger}
}

// Run builds and exports the tree, registers the agent, starts the connection policy
// and registers the application. It returns when ctx is cancelled (nil) or the loop
// stops with a fatal cause. Everything acquired is released in reverse order.
func (s *Server) Run(ctx context.Context) error {
	loop := eventloop.New(ctx, s.logger)
	defer loop.Stop(nil)

	tree, err := BuildApplication(s.cfg, s.logger)
	if err != nil {
		return err
	}
	defer tree.Close()
	s.logger.WithField("tree", Describe(tree)).Info("Starting peripheral")

	adapter := bluez.NewAdapter(s.conn, s.cfg.Adapter, s.logger)
	if err := s.prepareAdapter(loop.Context(), adapter); err != nil {
		return err
	}

	exporter := bluez.NewExporter(s.conn, tree.App, s.logger)
	if err := exporter.Export(); err != nil {
		return err
	}
	defer exporter.Unexport()

	stopAgent, err := s.startAgent(loop)
	if err != nil {
		return err
	}
	defer stopAgent()

	var adv *bluez.Advertisement
	if s.cfg.Advertising.Enabled {
		adv = bluez.NewAdvertisement(dbus.ObjectPath(s.cfg.AppRoot+"/advertisement0"), s.cfg.LocalName, tree.ServiceUUIDs())
		adv.IncludeTxPower = s.cfg.Advertising.IncludeTxPower
	}
	advertiser := bluez.NewAdvertiser(s.conn, adapter, adv, s.logger)
	defer func() {
		if err := advertiser.StopAdvertising(); err != nil {
			s.logger.WithError(err).Warn("Failed to stop advertising")
		}
	}()

	hs := handshake.New(tree.App, adapter, loop,
		handshake.WithAdvertiser(advertiser),
		handshake.WithReleaser(exporter),
		handshake.WithOptions(RegistrationOptions(s.cfg.Registration.Options)),
		handshake.WithTimeout(s.cfg.Registration.Timeout),
		handshake.WithLogger(s.logger))
	reg, err := hs.Submit(loop.Context())
	if err != nil {
		return err
	}

	// Re-enabling discoverable mode belongs to the advertiser until registration succeeds.
	s.startPresence(loop, adapter, presence.WithGate(func() bool {
		return reg.State() == handshake.Succeeded
	}))
	tree.StartNotifiers(loop.Context(), s.logger)

	cause := loop.Wait()
	// Outcome blocks until the reply goroutine is done with the exporter.
	outcome := reg.Outcome()

	if outcome.Succeeded() {
		if err := adapter.UnregisterApplication(reg.Path()); err != nil {
			s.logger.WithError(err).Warn("Failed to unregister GATT application")
		}
	}
	return cause
}

// RunAgent serves only the pairing agent and the connection policy.
func (s *Server) RunAgent(ctx context.Context) error {
	if !s.cfg.Agent.Enabled {
		return errors.New("agent is disabled in the configuration")
	}
	loop := eventloop.New(ctx, s.logger)
	defer loop.Stop(nil)
	adapter := bluez.NewAdapter(s.conn, s.cfg.Adapter, s.logger)
	if err := s.prepareAdapter(loop.Context(), adapter); err != nil {
		return err
	}
	stop, err := s.startAgent(loop)
	if err != nil {
		return err
	}
	defer stop()

	s.startPresence(loop, adapter)
	return loop.Wait()
}

func (s *Server) prepareAdapter(ctx context.Context, adapter *bluez.Adapter) error {
	if err := adapter.Power(ctx, true); err != nil {
		return err
	}
	if s.cfg.Alias != "" {
		if err := adapter.SetAlias(ctx, s.cfg.Alias); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) startAgent(loop *eventloop.Loop) (func(), error) {
	if !s.cfg.Agent.Enabled {
		return func() {}, nil
	}
	ag, err := NewAgent(s.cfg.Agent, s.cfg.Adapter, loop, s.logger)
	if err != nil {
		return nil, err
	}
	manager := bluez.NewAgentManager(s.conn, s.logger)
	if err := manager.Register(ag, s.cfg.Agent.Default); err != nil {
		return nil, err
	}
	return func() {
		if err := manager.Unregister(ag); err != nil {
			s.logger.WithError(err).Debug("Failed to unregister agent")
		}
	}, nil
}

func (s *Server) startPresence(loop *eventloop.Loop, adapter *bluez.Adapter, opts ...presence.Option) {
	if !s.cfg.Discoverable.HideOnConnect {
		return
	}
	opts = append([]presence.Option{
		presence.WithTimeout(s.cfg.Discoverable.CommandTimeout),
		presence.WithLogger(s.logger),
	}, opts...)
	observer := presence.NewObserver(Discoverability(s.cfg, adapter), opts...)

	groutine.Go(loop.Context(), "device-watcher", func(ctx context.Context) {
		err := bluez.WatchDevices(ctx, s.conn, func(ctx context.Context, device dbus.ObjectPath, changed map[string]dbus.Variant) {
			_ = observer.HandleChange(ctx, device, changed)
		})
		if err != nil {
			groutine.Entry(ctx, s.logger).WithError(err).Error("Device watcher stopped")
		}
	})
}

// NewAgent builds the pairing agent described by cfg for the named adapter.
func NewAgent(cfg config.AgentConfig, adapter string, stopper eventloop.Stopper, logger *logrus.Logger) (*agent.Agent, error) {
	capability, err := agent.ParseCapability(cfg.Capability)
	if err != nil {
		return nil, err
	}
	opts := []agent.Option{
		agent.WithCapability(capability),
		agent.WithPinCode(cfg.PinCode),
		agent.WithPasskey(cfg.Passkey),
		agent.WithLogger(logger),
	}
	if len(cfg.Allow) > 0 {
		opts = append(opts, agent.WithAuthorizer(agent.NewAllowList(objpath.Adapter(adapter), cfg.Allow...)))
	}
	return agent.New(dbus.ObjectPath(cfg.Path), stopper, opts...), nil
}

// Discoverability picks the configured backend for the connection policy.
func Discoverability(cfg *config.Config, adapter *bluez.Adapter) presence.Discoverability {
	if cfg.Discoverable.Backend == config.BackendBtmgmt {
		return presence.Btmgmt{Adapter: cfg.Adapter}
	}
	return adapter
}

// RegistrationOptions converts configured options to the a{sv} sent with the request.
func RegistrationOptions(opts map[string]string) map[string]dbus.Variant {
	out := make(map[string]dbus.Variant, len(opts))
	for k, v := range opts {
		out[k] = dbus.MakeVariant(v)
	}
	return out
}

// Describe summarises the tree for logs.
func Describe(tree *Tree) string {
	return fmt.Sprintf("%d services, %d characteristics at %s",
		len(tree.App.Services()), len(tree.App.Characteristics()), tree.App.Path())
}
