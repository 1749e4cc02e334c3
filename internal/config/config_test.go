package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/churnwatch/churnwatch/pkg/logger"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("CHURNWATCH_HOME", "")

	cfg := DefaultConfig()

	assert.Equal(t, filepath.Join(os.Getenv("HOME"), ".churnwatch"), cfg.Home)
	assert.Equal(t, int64(43200), cfg.Churn.DefaultInterval)
	assert.Equal(t, 5.9, cfg.Churn.DefaultBlockSeconds)
	assert.Equal(t, 8*time.Second, cfg.Churn.LivenessWindow)
	assert.Equal(t, time.Duration(0), cfg.Churn.MaxBackoff)
	assert.Equal(t, DefaultMetricsHost, cfg.Metrics.Host)
	assert.Equal(t, DefaultRPCWebSocketURL, cfg.Network.RPCWebSocketURL)
	assert.Equal(t, StoreBackendFile, cfg.Store.Backend)
	assert.NoError(t, cfg.Validate())

	t.Setenv("CHURNWATCH_HOME", "/test/home")
	cfg = DefaultConfig()
	assert.Equal(t, "/test/home", cfg.Home)
}

func TestConfigPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Home = "/test/home"

	assert.Equal(t, "/test/home/config.toml", cfg.ConfigFilePath())
	assert.Equal(t, "/test/home/state.toml", cfg.StateFilePath())

	cfg.Store.Path = "/var/lib/churnwatch/state.toml"
	assert.Equal(t, "/var/lib/churnwatch/state.toml", cfg.StateFilePath())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults",
			mutate: func(*Config) {},
		},
		{
			name:    "empty home",
			mutate:  func(c *Config) { c.Home = "" },
			wantErr: "home directory is required",
		},
		{
			name:    "http feed url",
			mutate:  func(c *Config) { c.Network.RPCWebSocketURL = "https://rpc.example/websocket" },
			wantErr: "rpc_ws_url must use one of",
		},
		{
			name:    "missing mimir url",
			mutate:  func(c *Config) { c.Network.MimirURL = "" },
			wantErr: "mimir_url is required",
		},
		{
			name:    "zero churn interval",
			mutate:  func(c *Config) { c.Churn.DefaultInterval = 0 },
			wantErr: "default_interval must be positive",
		},
		{
			name:    "bad cron schedule",
			mutate:  func(c *Config) { c.Churn.RefreshSchedule = "every so often" },
			wantErr: "refresh_schedule",
		},
		{
			name:    "negative max backoff",
			mutate:  func(c *Config) { c.Churn.MaxBackoff = -time.Second },
			wantErr: "max_backoff cannot be negative",
		},
		{
			name:   "backoff enabled",
			mutate: func(c *Config) { c.Churn.MaxBackoff = 30 * time.Second },
		},
		{
			name:   "schedule disabled",
			mutate: func(c *Config) { c.Churn.RefreshSchedule = "" },
		},
		{
			name:    "unknown store backend",
			mutate:  func(c *Config) { c.Store.Backend = "sqlite" },
			wantErr: "unknown store backend",
		},
		{
			name: "redis without address",
			mutate: func(c *Config) {
				c.Store.Backend = StoreBackendRedis
				c.Store.RedisAddr = ""
			},
			wantErr: "redis_addr is required",
		},
		{
			name: "api and metrics share a port",
			mutate: func(c *Config) {
				c.API.Enabled = true
				c.Metrics.Enabled = true
				c.Metrics.Port = c.API.Port
			},
			wantErr: "must differ",
		},
		{
			name: "metrics on a wildcard host share the api port",
			mutate: func(c *Config) {
				c.API.Enabled = true
				c.Metrics.Enabled = true
				c.Metrics.Host = "0.0.0.0"
				c.Metrics.Port = c.API.Port
			},
			wantErr: "must differ",
		},
		{
			name: "api and metrics on separate hosts",
			mutate: func(c *Config) {
				c.API.Enabled = true
				c.Metrics.Enabled = true
				c.Metrics.Host = "10.0.0.5"
				c.Metrics.Port = c.API.Port
			},
		},
		{
			name: "auth without credentials",
			mutate: func(c *Config) {
				c.API.EnableAuth = true
			},
			wantErr: "requires jwt_secret or api_keys",
		},
		{
			name: "auth with short secret",
			mutate: func(c *Config) {
				c.API.EnableAuth = true
				c.API.JWTSecret = "short"
			},
			wantErr: "at least 16 characters",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "loud" },
			wantErr: "unknown log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Home = t.TempDir()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidator_AddRule(t *testing.T) {
	v := NewValidator()
	v.AddRule(&staticRule{})

	cfg := DefaultConfig()
	err := v.Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Static: always fails")

	assert.EqualError(t, v.Validate(nil), "configuration is nil")
}

type staticRule struct{}

func (r *staticRule) Name() string               { return "Static" }
func (r *staticRule) Validate(cfg *Config) error { return errors.New("always fails") }

func TestWriteFileAndLoad(t *testing.T) {
	for _, ext := range []string{".toml", ".yaml", ".json"} {
		t.Run(ext, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "config"+ext)

			cfg := DefaultConfig()
			cfg.Home = dir
			cfg.Network.RPCWebSocketURL = "ws://localhost:26657/websocket"
			cfg.Churn.LivenessWindow = 20 * time.Second
			cfg.Store.Backend = StoreBackendMemory
			cfg.API.Enabled = true
			cfg.API.Port = 18080
			cfg.Metrics.Host = "0.0.0.0"
			cfg.Churn.MaxBackoff = 15 * time.Second

			require.NoError(t, WriteFile(path, cfg))

			loaded, err := Load(path)
			require.NoError(t, err)

			assert.Equal(t, dir, loaded.Home)
			assert.Equal(t, "ws://localhost:26657/websocket", loaded.Network.RPCWebSocketURL)
			assert.Equal(t, 20*time.Second, loaded.Churn.LivenessWindow)
			assert.Equal(t, 15*time.Second, loaded.Churn.MaxBackoff)
			assert.Equal(t, "0.0.0.0", loaded.Metrics.Host)
			assert.Equal(t, DefaultHTTPTimeout, loaded.Network.HTTPTimeout)
			assert.Equal(t, StoreBackendMemory, loaded.Store.Backend)
			assert.True(t, loaded.API.Enabled)
			assert.Equal(t, 18080, loaded.API.Port)
			assert.Equal(t, 5.9, loaded.Churn.DefaultBlockSeconds)
		})
	}
}

func TestWriteFile_UnsupportedFormat(t *testing.T) {
	err := WriteFile(filepath.Join(t.TempDir(), "config.ini"), DefaultConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported config format")
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("CHURNWATCH_HOME", "/tmp/churnwatch-test")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultMimirURL, cfg.Network.MimirURL)
	assert.Equal(t, DefaultChurnInterval, cfg.Churn.DefaultInterval)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("CHURNWATCH_NETWORK_MIMIR_URL", "http://midgard.local/v2/thorchain/mimir")
	t.Setenv("CHURNWATCH_CHURN_LIVENESS_WINDOW", "45s")
	t.Setenv("CHURNWATCH_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://midgard.local/v2/thorchain/mimir", cfg.Network.MimirURL)
	assert.Equal(t, 45*time.Second, cfg.Churn.LivenessWindow)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[store]\nbackend = \"sqlite\"\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store backend")
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg := DefaultConfig()
	cfg.Home = dir
	require.NoError(t, WriteFile(path, cfg))

	w, err := NewWatcher(path, cfg, logger.NewTestLogger())
	require.NoError(t, err)
	defer w.Stop()

	cfg.Network.NetworkURL = "http://midgard.local/v2/network"
	require.NoError(t, WriteFile(path, cfg))

	select {
	case update := <-w.Updates():
		require.NoError(t, update.Error)
		require.NotNil(t, update.NewConfig)
		assert.Equal(t, "http://midgard.local/v2/network", update.NewConfig.Network.NetworkURL)
		assert.Equal(t, DefaultNetworkURL, update.OldConfig.Network.NetworkURL)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config update")
	}

	assert.Equal(t, "http://midgard.local/v2/network", w.Current().Network.NetworkURL)
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	w, err := NewWatcher(path, DefaultConfig(), logger.NewTestLogger())
	require.NoError(t, err)

	w.Stop()
	w.Stop()

	_, ok := <-w.Updates()
	assert.False(t, ok)
}
