package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "livelink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeTempFile(t, `
platform: douyin
rooms: ["261378947940", "12345"]
server:
  addr: 127.0.0.1:9000
connection:
  heartbeat_interval: 5s
  reconnect_max_delay: 2m
  max_reconnect_times: 0
douyin:
  signer_url: http://127.0.0.1:8088/sign
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, PlatformDouyin, cfg.Platform)
	assert.Equal(t, []string{"261378947940", "12345"}, cfg.Rooms)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Connection.HeartbeatInterval)
	assert.Equal(t, 2*time.Minute, cfg.Connection.ReconnectMaxDelay)
	require.NotNil(t, cfg.Connection.MaxReconnectTimes)
	assert.Equal(t, 0, *cfg.Connection.MaxReconnectTimes)
	assert.Equal(t, "http://127.0.0.1:8088/sign", cfg.Douyin.SignerURL)
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("LIVELINK_ROOM", "777")
	t.Setenv("LIVELINK_BRIDGE", "/usr/bin/node")

	cfg, err := LoadAndValidate(writeTempFile(t, `
platform: bridge
rooms: ["${LIVELINK_ROOM}"]
bridge:
  command: ${LIVELINK_BRIDGE}
  args: ["bridge.js", "--room", "{room}"]
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"777"}, cfg.Rooms)
	assert.Equal(t, "/usr/bin/node", cfg.Bridge.Command)
	assert.Equal(t, []string{"bridge.js", "--room", "{room}"}, cfg.Bridge.Args)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeTempFile(t, "rooms: [unterminated"))
	assert.Error(t, err)

	_, err = Load(writeTempFile(t, "connection:\n  heartbeat_interval: soon\n"))
	assert.Error(t, err)
}

func TestApplyDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, PlatformDouyin, cfg.Platform)
	assert.Equal(t, DefaultServerAddr, cfg.Server.Addr)
	assert.Equal(t, DefaultShutdownTimeout, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, slog.LevelInfo, cfg.Log.SlogLevel())
	assert.NoError(t, cfg.Validate())
}

func TestConnectionSettingsPresets(t *testing.T) {
	douyin := Default().ConnectionSettings()
	assert.Equal(t, 60*time.Second, douyin.ReconnectMaxDelay)
	assert.Equal(t, time.Second, douyin.ReconnectBaseTime)
	assert.Equal(t, 0, douyin.MaxReconnectTimes)
	assert.Equal(t, 0, douyin.RateLimitPenalty)
	assert.Equal(t, 60*time.Second, douyin.SilenceThreshold)

	bridge := &Config{Platform: PlatformBridge}
	bridge.ApplyDefaults()
	settings := bridge.ConnectionSettings()
	assert.Equal(t, 300*time.Second, settings.ReconnectMaxDelay)
	assert.Equal(t, 5*time.Second, settings.ReconnectBaseTime)
	assert.Equal(t, 10, settings.MaxReconnectTimes)
	assert.Equal(t, 2, settings.RateLimitPenalty)
	assert.Equal(t, 120*time.Second, settings.SilenceThreshold)
}

func TestConnectionSettingsOverrides(t *testing.T) {
	unlimited := 0
	cfg := &Config{
		Platform: PlatformBridge,
		Connection: ConnectionConfig{
			HeartbeatInterval: 3 * time.Second,
			SilenceThreshold:  time.Minute,
			MaxReconnectTimes: &unlimited,
			RateLimitPenalty:  &unlimited,
			BufferSize:        50,
		},
	}
	cfg.ApplyDefaults()
	settings := cfg.ConnectionSettings()

	assert.Equal(t, 3*time.Second, settings.HeartbeatInterval)
	assert.Equal(t, time.Minute, settings.SilenceThreshold)
	assert.Equal(t, 0, settings.MaxReconnectTimes)
	assert.Equal(t, 0, settings.RateLimitPenalty)
	assert.Equal(t, 50, settings.BufferSize)
	// 未覆盖的沿用预设
	assert.Equal(t, 300*time.Second, settings.ReconnectMaxDelay)
}

func TestValidate(t *testing.T) {
	negative := -1
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"unknown platform", func(c *Config) { c.Platform = "kuaishou" }, "platform must be"},
		{"bridge without command", func(c *Config) { c.Platform = PlatformBridge }, "bridge.command"},
		{"empty room", func(c *Config) { c.Rooms = []string{"1", " "} }, "rooms[1] is empty"},
		{"duplicate room", func(c *Config) { c.Rooms = []string{"1", "1"} }, "duplicate room"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"base below one", func(c *Config) { c.Connection.ReconnectBase = 0.5 }, "reconnect_base"},
		{"negative max reconnect", func(c *Config) { c.Connection.MaxReconnectTimes = &negative }, "max_reconnect_times"},
		{"negative rate limit penalty", func(c *Config) { c.Connection.RateLimitPenalty = &negative }, "rate_limit_penalty"},
		{"factor above cap", func(c *Config) {
			c.Connection.ReconnectBaseTime = time.Minute
			c.Connection.ReconnectMaxDelay = time.Second
		}, "cannot exceed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, LogConfig{Level: "DEBUG"}.SlogLevel())
	assert.Equal(t, slog.LevelWarn, LogConfig{Level: "warning"}.SlogLevel())
	assert.Equal(t, slog.LevelError, LogConfig{Level: "error"}.SlogLevel())
	assert.Equal(t, slog.LevelInfo, LogConfig{Level: "verbose"}.SlogLevel())
}
