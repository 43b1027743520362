package peripheral

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/srg/gattd/internal/gatt"
	"github.com/srg/gattd/internal/groutine"
	"github.com/srg/gattd/internal/provider"
	"github.com/srg/gattd/pkg/config"
)

// Tree is a built application and the resources held by its value providers.
type Tree struct {
	App       *gatt.Application
	closers   []func()
	notifiers []notifier
}

type notifier struct {
	char     *gatt.Characteristic
	interval time.Duration
}

// Close releases provider resources (Lua interpreters).
func (t *Tree) Close() {
	for i := len(t.closers) - 1; i >= 0; i-- {
		t.closers[i]()
	}
	t.closers = nil
}

// ServiceUUIDs lists primary service UUIDs, in tree order, for the advertisement.
func (t *Tree) ServiceUUIDs() []string {
	var out []string
	for _, s := range t.App.Services() {
		if s.Primary() {
			out = append(out, s.UUID())
		}
	}
	return out
}

// BuildApplication turns the configured services into an unfrozen tree.
func BuildApplication(cfg *config.Config, logger *logrus.Logger) (*Tree, error) {
	if logger == nil {
		logger = logrus.New()
	}
	app, err := gatt.NewApplication(dbus.ObjectPath(cfg.AppRoot),
		gatt.WithReadTimeout(cfg.ProviderTimeout),
		gatt.WithEnumerateTimeout(cfg.EnumerateTimeout),
		gatt.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	tree := &Tree{App: app}

	for i, sc := range cfg.Services {
		uuid, err := config.NormalizeUUID(sc.UUID)
		if err != nil {
			tree.Close()
			return nil, fmt.Errorf("service %d: %w", i, err)
		}
		svc, err := app.AddService(uuid, sc.IsPrimary())
		if err != nil {
			tree.Close()
			return nil, fmt.Errorf("service %d: %w", i, err)
		}
		for j, cc := range sc.Characteristics {
			if err := tree.addCharacteristic(svc, cc, logger); err != nil {
				tree.Close()
				return nil, fmt.Errorf("service %d characteristic %d: %w", i, j, err)
			}
		}
	}

	logger.WithFields(logrus.Fields{
		"root":     app.Path(),
		"services": len(app.Services()),
		"chars":    len(app.Characteristics()),
	}).Debug("GATT application built")
	return tree, nil
}

func (t *Tree) addCharacteristic(svc *gatt.Service, cc config.CharacteristicConfig, logger *logrus.Logger) error {
	uuid, err := config.NormalizeUUID(cc.UUID)
	if err != nil {
		return err
	}
	flags, err := gatt.ParseFlags(cc.Flags...)
	if err != nil {
		return err
	}
	value, opts, err := t.valueSource(svc, cc.Value, logger)
	if err != nil {
		return err
	}
	char, err := svc.AddCharacteristic(uuid, flags, value, opts...)
	if err != nil {
		return err
	}
	if cc.NotifyInterval > 0 {
		t.notifiers = append(t.notifiers, notifier{char: char, interval: cc.NotifyInterval})
	}
	return nil
}

// StartNotifiers pushes the value of every characteristic with a notify interval
// until ctx ends. Ticks while no central is subscribed do nothing.
func (t *Tree) StartNotifiers(ctx context.Context, logger *logrus.Logger) {
	if logger == nil {
		logger = logrus.New()
	}
	for _, n := range t.notifiers {
		n := n
		groutine.Go(ctx, "notify-"+string(n.char.Path()), func(ctx context.Context) {
			ticker := time.NewTicker(n.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := n.char.Notify(ctx); err != nil {
						logger.WithError(err).WithField("path", n.char.Path()).Warn("Periodic notification failed")
					}
				}
			}
		})
	}
}

func (t *Tree) valueSource(svc *gatt.Service, vc config.ValueConfig, logger *logrus.Logger) (gatt.ValueProvider, []gatt.CharacteristicOption, error) {
	var (
		value gatt.ValueProvider
		write gatt.WriteHandler
		err   error
	)

	switch vc.Source() {
	case config.SourceNone:
		return nil, nil, nil
	case config.SourceText:
		value = provider.Text(vc.Text)
	case config.SourceHex:
		value, err = provider.Hex(vc.Hex)
	case config.SourceCommand:
		value, err = provider.Command(vc.Command, provider.CommandOptions{
			Timeout:        vc.Timeout,
			KeepWhitespace: vc.KeepWhitespace,
			Logger:         logger,
		})
	case config.SourceLua:
		var script *provider.LuaScript
		script, err = loadLua(svc, vc, logger)
		if err == nil {
			t.closers = append(t.closers, script.Close)
			value = script.Read
			if script.CanWrite() {
				write = script.Write
			}
		}
	}
	if err != nil {
		return nil, nil, err
	}

	if vc.Cache > 0 {
		cached := provider.NewCached(value, vc.Cache)
		value = cached.Value
		if write != nil {
			// A write changes the source, so the cached value is stale.
			next := write
			write = func(ctx context.Context, data []byte) error {
				if err := next(ctx, data); err != nil {
					return err
				}
				cached.Invalidate()
				return nil
			}
		}
	}

	var opts []gatt.CharacteristicOption
	if write != nil {
		opts = append(opts, gatt.WithWriteHandler(write))
	}
	return value, opts, nil
}

func loadLua(svc *gatt.Service, vc config.ValueConfig, logger *logrus.Logger) (*provider.LuaScript, error) {
	if vc.LuaFile == "" {
		return provider.NewLuaScript(string(svc.Path())+".lua", vc.Lua, logger)
	}
	data, err := os.ReadFile(vc.LuaFile)
	if err != nil {
		return nil, fmt.Errorf("read lua script: %w", err)
	}
	return provider.NewLuaScript(filepath.Base(vc.LuaFile), string(data), logger)
}
