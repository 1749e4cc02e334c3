package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from path (TOML, YAML or JSON) layered over
// DefaultConfig, then applies CHURNWATCH_* environment overrides.
// A missing file is not an error; defaults and environment still apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	for key, value := range flatten("", toMap(DefaultConfig())) {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// WriteFile saves cfg to path, picking the encoding from the extension.
func WriteFile(path string, cfg *Config) error {
	m := toMap(cfg)

	var data []byte
	var err error

	switch ext := filepath.Ext(path); ext {
	case ".toml":
		data, err = toml.Marshal(m)
	case ".yaml", ".yml":
		data, err = yaml.Marshal(m)
	case ".json":
		data, err = json.MarshalIndent(m, "", "  ")
	default:
		return fmt.Errorf("unsupported config format: %s", ext)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Write atomically
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return os.Rename(tmpPath, path)
}

// toMap renders cfg with the same keys viper reads back. Durations are
// written as strings so the file stays human editable.
func toMap(cfg *Config) map[string]any {
	return map[string]any{
		"home": cfg.Home,
		"network": map[string]any{
			"mimir_url":       cfg.Network.MimirURL,
			"network_url":     cfg.Network.NetworkURL,
			"rpc_ws_url":      cfg.Network.RPCWebSocketURL,
			"subscribe_query": cfg.Network.SubscribeQuery,
			"http_timeout":    cfg.Network.HTTPTimeout.String(),
			"dial_timeout":    cfg.Network.DialTimeout.String(),
		},
		"churn": map[string]any{
			"default_interval":      cfg.Churn.DefaultInterval,
			"default_block_seconds": cfg.Churn.DefaultBlockSeconds,
			"liveness_window":       cfg.Churn.LivenessWindow.String(),
			"refresh_schedule":      cfg.Churn.RefreshSchedule,
			"max_backoff":           cfg.Churn.MaxBackoff.String(),
		},
		"store": map[string]any{
			"backend":        cfg.Store.Backend,
			"path":           cfg.Store.Path,
			"redis_addr":     cfg.Store.RedisAddr,
			"redis_password": cfg.Store.RedisPassword,
			"redis_db":       cfg.Store.RedisDB,
			"redis_prefix":   cfg.Store.RedisPrefix,
		},
		"api": map[string]any{
			"enabled":      cfg.API.Enabled,
			"host":         cfg.API.Host,
			"port":         cfg.API.Port,
			"cors_origins": cfg.API.CORSOrigins,
			"enable_auth":  cfg.API.EnableAuth,
			"jwt_secret":   cfg.API.JWTSecret,
			"api_keys":     cfg.API.APIKeys,
			"debug":        cfg.API.Debug,
		},
		"metrics": map[string]any{
			"enabled":   cfg.Metrics.Enabled,
			"host":      cfg.Metrics.Host,
			"port":      cfg.Metrics.Port,
			"path":      cfg.Metrics.Path,
			"namespace": cfg.Metrics.Namespace,
		},
		"log": map[string]any{
			"level":       cfg.Log.Level,
			"color":       cfg.Log.Color,
			"disable":     cfg.Log.Disable,
			"time_format": cfg.Log.TimeFormat,
		},
	}
}

// flatten turns nested maps into viper's dotted keys
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}
