package peripheral

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/gattd/internal/gatt"
	"github.com/srg/gattd/pkg/config"
)

func testConfig(services ...config.ServiceConfig) *config.Config {
	cfg := config.DefaultConfig()
	cfg.AppRoot = "/org/bluez/test"
	cfg.Services = services
	return cfg
}

func TestBuildApplication(t *testing.T) {
	notPrimary := false
	cfg := testConfig(
		config.ServiceConfig{UUID: "180d", Characteristics: []config.CharacteristicConfig{
			{UUID: "2a37", Flags: []string{"read"}, Value: config.ValueConfig{Text: "hello"}},
			{UUID: "2a38", Flags: []string{"read"}, Value: config.ValueConfig{Hex: "0102"}},
			{UUID: "2a39", Flags: []string{"write"}},
		}},
		config.ServiceConfig{UUID: "180a", Primary: &notPrimary},
	)

	tree, err := BuildApplication(cfg, nil)
	require.NoError(t, err)
	defer tree.Close()

	objects, err := tree.App.Enumerate()
	require.NoError(t, err)
	assert.Len(t, objects, 4)

	svc := dbus.ObjectPath("/org/bluez/test/service0")
	assert.Equal(t, "0000180d-0000-1000-8000-00805f9b34fb", objects[svc][gatt.ServiceInterface]["UUID"])
	assert.Equal(t, []byte("hello"), objects[svc+"/char0"][gatt.CharacteristicInterface]["Value"])
	assert.Equal(t, []byte{1, 2}, objects[svc+"/char1"][gatt.CharacteristicInterface]["Value"])
	assert.Equal(t, []byte{}, objects[svc+"/char2"][gatt.CharacteristicInterface]["Value"])
	assert.Equal(t, false, objects["/org/bluez/test/service1"][gatt.ServiceInterface]["Primary"])

	assert.Equal(t, []string{"0000180d-0000-1000-8000-00805f9b34fb"}, tree.ServiceUUIDs())
	assert.Equal(t, "2 services, 3 characteristics at /org/bluez/test", Describe(tree))
	assert.False(t, tree.App.Frozen())
}

func TestBuildApplication_CommandWithCache(t *testing.T) {
	dir := t.TempDir()
	counter := filepath.Join(dir, "count")
	cfg := testConfig(config.ServiceConfig{UUID: "180d", Characteristics: []config.CharacteristicConfig{{
		UUID:  "2a37",
		Flags: []string{"read"},
		Value: config.ValueConfig{
			Command: []string{"sh", "-c", "echo x >> " + counter + "; grep -c x " + counter},
			Timeout: time.Second,
			Cache:   time.Hour,
		},
	}}})

	tree, err := BuildApplication(cfg, nil)
	require.NoError(t, err)
	defer tree.Close()

	char := tree.App.Characteristics()[0]
	for i := 0; i < 3; i++ {
		v, err := char.Get(gatt.CharacteristicInterface, "Value")
		require.NoError(t, err)
		assert.Equal(t, "1", string(v.([]byte)))
	}
}

func TestBuildApplication_LuaFile(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "status.lua")
	require.NoError(t, os.WriteFile(script, []byte(`
		local state = "idle"
		function read() return state end
		function write(data) state = data end
	`), 0o600))

	cfg := testConfig(config.ServiceConfig{UUID: "180d", Characteristics: []config.CharacteristicConfig{{
		UUID:  "2a37",
		Flags: []string{"read", "write"},
		Value: config.ValueConfig{LuaFile: script},
	}}})

	tree, err := BuildApplication(cfg, nil)
	require.NoError(t, err)
	defer tree.Close()

	char := tree.App.Characteristics()[0]
	require.NoError(t, char.WriteValue(context.Background(), []byte("busy")))
	v, err := char.ReadValue(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("busy"), v)
}

func TestBuildApplication_CommandKeepsWhitespace(t *testing.T) {
	cfg := testConfig(config.ServiceConfig{UUID: "180d", Characteristics: []config.CharacteristicConfig{
		{UUID: "2a37", Flags: []string{"read"}, Value: config.ValueConfig{
			Command: []string{"printf", "42\\n"},
		}},
		{UUID: "2a38", Flags: []string{"read"}, Value: config.ValueConfig{
			Command:        []string{"printf", "42\\n"},
			KeepWhitespace: true,
		}},
	}})

	tree, err := BuildApplication(cfg, nil)
	require.NoError(t, err)
	defer tree.Close()

	chars := tree.App.Characteristics()
	trimmed, err := chars[0].ReadValue(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "42", string(trimmed))

	kept, err := chars[1].ReadValue(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "42\n", string(kept))
}

func TestBuildApplication_WriteRefreshesCache(t *testing.T) {
	cfg := testConfig(config.ServiceConfig{UUID: "180d", Characteristics: []config.CharacteristicConfig{{
		UUID:  "2a37",
		Flags: []string{"read", "write"},
		Value: config.ValueConfig{
			Lua: `
				local state = "idle"
				function read() return state end
				function write(data) state = data end
			`,
			Cache: time.Hour,
		},
	}}})

	tree, err := BuildApplication(cfg, nil)
	require.NoError(t, err)
	defer tree.Close()

	char := tree.App.Characteristics()[0]
	v, err := char.ReadValue(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("idle"), v)

	require.NoError(t, char.WriteValue(context.Background(), []byte("busy")))
	v, err = char.ReadValue(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("busy"), v)
}

func TestTree_StartNotifiers(t *testing.T) {
	cfg := testConfig(config.ServiceConfig{UUID: "180d", Characteristics: []config.CharacteristicConfig{
		{UUID: "2a37", Flags: []string{"read", "notify"}, Value: config.ValueConfig{Text: "tick"}, NotifyInterval: 10 * time.Millisecond},
		{UUID: "2a38", Flags: []string{"read", "notify"}, Value: config.ValueConfig{Text: "quiet"}},
	}})

	tree, err := BuildApplication(cfg, nil)
	require.NoError(t, err)
	defer tree.Close()

	var (
		mu      sync.Mutex
		emitted = map[dbus.ObjectPath][]byte{}
	)
	for _, c := range tree.App.Characteristics() {
		require.NoError(t, c.StartNotify())
		c.SetEmitter(func(path dbus.ObjectPath, _ string, changed gatt.Properties) error {
			mu.Lock()
			defer mu.Unlock()
			emitted[path] = changed[gatt.PropValue].([]byte)
			return nil
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tree.StartNotifiers(ctx, nil)

	periodic := tree.App.Characteristics()[0].Path()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return string(emitted[periodic]) == "tick"
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.NotContains(t, emitted, tree.App.Characteristics()[1].Path())
}

func TestBuildApplication_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  *config.Config
	}{
		{"bad root", func() *config.Config { c := testConfig(); c.AppRoot = "nope"; return c }()},
		{"bad uuid", testConfig(config.ServiceConfig{UUID: "zz"})},
		{"bad flags", testConfig(config.ServiceConfig{UUID: "180d", Characteristics: []config.CharacteristicConfig{
			{UUID: "2a37", Flags: []string{"teleport"}},
		}})},
		{"bad lua", testConfig(config.ServiceConfig{UUID: "180d", Characteristics: []config.CharacteristicConfig{
			{UUID: "2a37", Flags: []string{"read"}, Value: config.ValueConfig{Lua: "x = "}},
		}})},
		{"missing lua file", testConfig(config.ServiceConfig{UUID: "180d", Characteristics: []config.CharacteristicConfig{
			{UUID: "2a37", Flags: []string{"read"}, Value: config.ValueConfig{LuaFile: "/nonexistent/x.lua"}},
		}})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildApplication(tt.cfg, nil)
			assert.Error(t, err)
		})
	}
}

func TestRegistrationOptions(t *testing.T) {
	assert.Equal(t, map[string]dbus.Variant{}, RegistrationOptions(nil))
	assert.Equal(t,
		map[string]dbus.Variant{"Role": dbus.MakeVariant("server")},
		RegistrationOptions(map[string]string{"Role": "server"}))
}
