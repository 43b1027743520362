package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/gattd/internal/agent"
	"github.com/srg/gattd/internal/gatt"
	"github.com/srg/gattd/internal/objpath"
	"github.com/srg/gattd/internal/provider"
)

// Discoverable backends.
const (
	BackendDBus   = "dbus"
	BackendBtmgmt = "btmgmt"
)

// Config holds application configuration
type Config struct {
	LogLevel        logrus.Level  `yaml:"log_level"`
	Adapter         string        `yaml:"adapter" default:"hci0"`
	AppRoot         string        `yaml:"app_root" default:"/org/bluez/gattd"`
	LocalName       string        `yaml:"local_name" default:"gattd"`
	Alias           string        `yaml:"alias"`
	ProviderTimeout time.Duration `yaml:"provider_timeout" default:"2s"`
	// EnumerateTimeout bounds one GetManagedObjects snapshot of the whole tree.
	EnumerateTimeout time.Duration `yaml:"enumerate_timeout" default:"10s"`

	Registration RegistrationConfig `yaml:"registration"`
	Advertising  AdvertisingConfig  `yaml:"advertising"`
	Services     []ServiceConfig    `yaml:"services"`
	Agent        AgentConfig        `yaml:"agent"`
	Discoverable DiscoverableConfig `yaml:"discoverable"`
}

// RegistrationConfig tunes GattManager1.RegisterApplication.
type RegistrationConfig struct {
	Timeout time.Duration     `yaml:"timeout" default:"30s"`
	Options map[string]string `yaml:"options"`
}

// AdvertisingConfig controls the LE advertisement started after registration.
type AdvertisingConfig struct {
	Enabled        bool `yaml:"enabled" default:"true"`
	IncludeTxPower bool `yaml:"include_tx_power" default:"true"`
}

// ServiceConfig describes one GATT service.
type ServiceConfig struct {
	UUID            string                 `yaml:"uuid"`
	Primary         *bool                  `yaml:"primary"`
	Characteristics []CharacteristicConfig `yaml:"characteristics"`
}

// IsPrimary defaults to true when primary is not set.
func (s ServiceConfig) IsPrimary() bool {
	return s.Primary == nil || *s.Primary
}

// CharacteristicConfig describes one characteristic and where its value comes from.
type CharacteristicConfig struct {
	UUID  string      `yaml:"uuid"`
	Flags []string    `yaml:"flags"`
	Value ValueConfig `yaml:"value"`
	// NotifyInterval pushes the value to subscribed centrals periodically. Zero disables it.
	NotifyInterval time.Duration `yaml:"notify_interval"`
}

// ValueConfig selects a value source. At most one of Text, Hex, Command, Lua and
// LuaFile may be set; none means an empty value.
type ValueConfig struct {
	Text    string        `yaml:"text"`
	Hex     string        `yaml:"hex"`
	Command []string      `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`
	// KeepWhitespace keeps trailing whitespace of command output.
	KeepWhitespace bool          `yaml:"keep_whitespace"`
	Cache          time.Duration `yaml:"cache"`
	Lua            string        `yaml:"lua"`
	LuaFile        string        `yaml:"lua_file"`
}

// Value sources.
const (
	SourceNone    = ""
	SourceText    = "text"
	SourceHex     = "hex"
	SourceCommand = "command"
	SourceLua     = "lua"
)

// Sources lists the sources that are set.
func (v ValueConfig) Sources() []string {
	var out []string
	if v.Text != "" {
		out = append(out, SourceText)
	}
	if v.Hex != "" {
		out = append(out, SourceHex)
	}
	if len(v.Command) > 0 {
		out = append(out, SourceCommand)
	}
	if v.Lua != "" || v.LuaFile != "" {
		out = append(out, SourceLua)
	}
	return out
}

// Source returns the selected source, SourceNone when unset.
func (v ValueConfig) Source() string {
	if s := v.Sources(); len(s) > 0 {
		return s[0]
	}
	return SourceNone
}

// AgentConfig configures the pairing agent.
type AgentConfig struct {
	Enabled    bool     `yaml:"enabled" default:"true"`
	Path       string   `yaml:"path" default:"/org/bluez/gattd/agent"`
	Capability string   `yaml:"capability" default:"NoInputNoOutput"`
	PinCode    string   `yaml:"pin_code" default:"0000"`
	Passkey    uint32   `yaml:"passkey"`
	Default    bool     `yaml:"default" default:"true"`
	Allow      []string `yaml:"allow"`
}

// DiscoverableConfig is the connection-state policy.
type DiscoverableConfig struct {
	HideOnConnect  bool          `yaml:"hide_on_connect" default:"true"`
	Backend        string        `yaml:"backend" default:"dbus"`
	CommandTimeout time.Duration `yaml:"command_timeout" default:"5s"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.LogLevel = logrus.InfoLevel
	return cfg
}

// Load reads a YAML file over the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Adapter == "" {
		add("adapter is required")
	}
	if err := objpath.ValidateRoot(dbus.ObjectPath(c.AppRoot)); err != nil {
		add("app_root: %w", err)
	}
	if c.ProviderTimeout <= 0 {
		add("provider_timeout must be positive")
	}
	if c.EnumerateTimeout <= 0 {
		add("enumerate_timeout must be positive")
	}

	for i, svc := range c.Services {
		if err := ValidateUUID(svc.UUID); err != nil {
			add("services[%d].uuid: %w", i, err)
		}
		for j, ch := range svc.Characteristics {
			at := fmt.Sprintf("services[%d].characteristics[%d]", i, j)
			if err := ValidateUUID(ch.UUID); err != nil {
				add("%s.uuid: %w", at, err)
			}
			if len(ch.Flags) == 0 {
				add("%s.flags: at least one flag is required", at)
			} else if flags, err := gatt.ParseFlags(ch.Flags...); err != nil {
				add("%s.flags: %w", at, err)
			} else if ch.NotifyInterval > 0 && !flags.CanNotify() {
				add("%s.notify_interval: requires the notify or indicate flag", at)
			}
			if ch.NotifyInterval < 0 {
				add("%s.notify_interval: must not be negative", at)
			}
			if sources := ch.Value.Sources(); len(sources) > 1 {
				add("%s.value: only one source allowed, got %s", at, strings.Join(sources, ", "))
			}
			if ch.Value.Hex != "" {
				if _, err := provider.ParseHex(ch.Value.Hex); err != nil {
					add("%s.value.hex: %w", at, err)
				}
			}
			if ch.Value.Lua != "" && ch.Value.LuaFile != "" {
				add("%s.value: lua and lua_file are exclusive", at)
			}
			if ch.Value.Timeout < 0 || ch.Value.Cache < 0 {
				add("%s.value: durations must not be negative", at)
			}
		}
	}

	if c.Agent.Enabled {
		if !dbus.ObjectPath(c.Agent.Path).IsValid() {
			add("agent.path: invalid object path %q", c.Agent.Path)
		}
		if _, err := agent.ParseCapability(c.Agent.Capability); err != nil {
			add("agent.capability: %w", err)
		}
		for i, addr := range c.Agent.Allow {
			if !isMAC(addr) {
				add("agent.allow[%d]: invalid device address %q", i, addr)
			}
		}
	}

	switch c.Discoverable.Backend {
	case BackendDBus, BackendBtmgmt:
	default:
		add("discoverable.backend: must be %q or %q, got %q", BackendDBus, BackendBtmgmt, c.Discoverable.Backend)
	}

	return errors.Join(errs...)
}

// baseUUID is the Bluetooth base UUID used to expand 16 and 32 bit UUIDs.
const baseUUID = "-0000-1000-8000-00805f9b34fb"

// ValidateUUID accepts 128-bit UUIDs and 16 or 32 bit short forms.
func ValidateUUID(s string) error {
	_, err := NormalizeUUID(s)
	return err
}

// NormalizeUUID returns the lower-case 128-bit form of s.
func NormalizeUUID(s string) (string, error) {
	short := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	switch len(short) {
	case 4, 8:
		if !isHex(short) {
			return "", fmt.Errorf("invalid UUID %q", s)
		}
		return strings.Repeat("0", 8-len(short)) + short + baseUUID, nil
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid UUID %q: %w", s, err)
	}
	return u.String(), nil
}

func isHex(s string) bool {
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	return s != ""
}

func isMAC(s string) bool {
	parts := strings.Split(strings.ToLower(s), ":")
	if len(parts) != 6 {
		return false
	}
	for _, p := range parts {
		if len(p) != 2 || !isHex(p) {
			return false
		}
	}
	return true
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
