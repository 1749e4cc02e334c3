package config

import (
	"os"
	"path/filepath"
	"time"
)

// Default configuration values
const (
	DefaultMimirURL        = "https://midgard.thorchain.info/v2/thorchain/mimir"
	DefaultNetworkURL      = "https://midgard.thorchain.info/v2/network"
	DefaultRPCWebSocketURL = "wss://rpc.thorchain.info/websocket"
	DefaultSubscribeQuery  = "tm.event='NewBlock'"
	DefaultHTTPTimeout     = 15 * time.Second
	DefaultDialTimeout     = 10 * time.Second

	DefaultChurnInterval   int64 = 43200
	DefaultBlockSeconds          = 5.9
	DefaultLivenessWindow        = 8 * time.Second
	DefaultRefreshSchedule       = "@every 30m"
	DefaultMaxBackoff            = time.Duration(0)

	DefaultStoreBackend = StoreBackendFile
	DefaultRedisAddr    = "localhost:6379"
	DefaultRedisPrefix  = "churnwatch:"

	DefaultAPIHost      = "127.0.0.1"
	DefaultAPIPort      = 8080
	DefaultMetricsHost  = "127.0.0.1"
	DefaultMetricsPort  = 9090
	DefaultMetricsPath  = "/metrics"
	DefaultMetricsSpace = "churnwatch"

	DefaultLogLevel       = "info"
	DefaultTimeFormatLogs = "kitchen"

	ConfigFileName = "config.toml"
	StateFileName  = "state.toml"
	EnvPrefix      = "CHURNWATCH"
)

// Store backends
const (
	StoreBackendFile   = "file"
	StoreBackendRedis  = "redis"
	StoreBackendMemory = "memory"
)

// Config holds all configuration for churnwatch
type Config struct {
	Home string `mapstructure:"home"`

	Network NetworkConfig `mapstructure:"network"`
	Churn   ChurnConfig   `mapstructure:"churn"`
	Store   StoreConfig   `mapstructure:"store"`
	API     APIConfig     `mapstructure:"api"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`
}

// NetworkConfig points at the Midgard and Tendermint RPC endpoints.
type NetworkConfig struct {
	MimirURL        string        `mapstructure:"mimir_url"`
	NetworkURL      string        `mapstructure:"network_url"`
	RPCWebSocketURL string        `mapstructure:"rpc_ws_url"`
	SubscribeQuery  string        `mapstructure:"subscribe_query"`
	HTTPTimeout     time.Duration `mapstructure:"http_timeout"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
}

// ChurnConfig tunes the network state client.
type ChurnConfig struct {
	// DefaultInterval is used until mimir has been read once.
	DefaultInterval int64 `mapstructure:"default_interval"`
	// DefaultBlockSeconds is reported until five blocks have been seen.
	DefaultBlockSeconds float64 `mapstructure:"default_block_seconds"`
	// LivenessWindow of zero disables the watchdog.
	LivenessWindow time.Duration `mapstructure:"liveness_window"`
	// RefreshSchedule is a cron spec; empty disables periodic resync.
	RefreshSchedule string `mapstructure:"refresh_schedule"`
	// MaxBackoff follows churn.Options.MaxBackoff.
	MaxBackoff time.Duration `mapstructure:"max_backoff"`
}

// StoreConfig selects where nextChurnHeight and churnInterval survive restarts.
type StoreConfig struct {
	Backend       string `mapstructure:"backend"`
	Path          string `mapstructure:"path"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
}

// APIConfig configures the observer API.
type APIConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	EnableAuth  bool     `mapstructure:"enable_auth"`
	JWTSecret   string   `mapstructure:"jwt_secret"`
	APIKeys     []string `mapstructure:"api_keys"`
	Debug       bool     `mapstructure:"debug"`
}

// MetricsConfig configures the Prometheus exporter.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// LogConfig configures pkg/logger.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Color      bool   `mapstructure:"color"`
	Disable    bool   `mapstructure:"disable"`
	TimeFormat string `mapstructure:"time_format"`
}

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	home := getDefaultHome()

	return &Config{
		Home: home,
		Network: NetworkConfig{
			MimirURL:        DefaultMimirURL,
			NetworkURL:      DefaultNetworkURL,
			RPCWebSocketURL: DefaultRPCWebSocketURL,
			SubscribeQuery:  DefaultSubscribeQuery,
			HTTPTimeout:     DefaultHTTPTimeout,
			DialTimeout:     DefaultDialTimeout,
		},
		Churn: ChurnConfig{
			DefaultInterval:     DefaultChurnInterval,
			DefaultBlockSeconds: DefaultBlockSeconds,
			LivenessWindow:      DefaultLivenessWindow,
			RefreshSchedule:     DefaultRefreshSchedule,
			MaxBackoff:          DefaultMaxBackoff,
		},
		Store: StoreConfig{
			Backend:     DefaultStoreBackend,
			RedisAddr:   DefaultRedisAddr,
			RedisPrefix: DefaultRedisPrefix,
		},
		API: APIConfig{
			Host:        DefaultAPIHost,
			Port:        DefaultAPIPort,
			CORSOrigins: []string{"*"},
		},
		Metrics: MetricsConfig{
			Host:      DefaultMetricsHost,
			Port:      DefaultMetricsPort,
			Path:      DefaultMetricsPath,
			Namespace: DefaultMetricsSpace,
		},
		Log: LogConfig{
			Level:      DefaultLogLevel,
			Color:      true,
			TimeFormat: DefaultTimeFormatLogs,
		},
	}
}

// getDefaultHome returns the default churnwatch home directory
func getDefaultHome() string {
	if home := os.Getenv(EnvPrefix + "_HOME"); home != "" {
		return home
	}
	return filepath.Join(os.Getenv("HOME"), ".churnwatch")
}

// ConfigFilePath returns the default config file location under Home.
func (c *Config) ConfigFilePath() string {
	return filepath.Join(c.Home, ConfigFileName)
}

// StateFilePath returns the file store location, honouring store.path.
func (c *Config) StateFilePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return filepath.Join(c.Home, StateFileName)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	return NewValidator().Validate(c)
}
