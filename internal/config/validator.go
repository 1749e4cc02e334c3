package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/churnwatch/churnwatch/pkg/logger"
	"github.com/robfig/cron/v3"
)

// ValidationRule represents a configuration validation rule
type ValidationRule interface {
	Name() string
	Validate(cfg *Config) error
}

// Validator validates configuration
type Validator struct {
	rules []ValidationRule
}

// NewValidator creates a new configuration validator
func NewValidator() *Validator {
	v := &Validator{}

	// Register default validation rules
	v.registerDefaultRules()

	return v
}

// Validate validates the configuration
func (v *Validator) Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	// Run all validation rules
	var errors []string
	for _, rule := range v.rules {
		if err := rule.Validate(cfg); err != nil {
			errors = append(errors, fmt.Sprintf("%s: %v", rule.Name(), err))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

// AddRule adds a custom validation rule
func (v *Validator) AddRule(rule ValidationRule) {
	v.rules = append(v.rules, rule)
}

// registerDefaultRules registers default validation rules
func (v *Validator) registerDefaultRules() {
	v.rules = []ValidationRule{
		&pathValidationRule{},
		&endpointValidationRule{},
		&churnValidationRule{},
		&storeValidationRule{},
		&portValidationRule{},
		&securityValidationRule{},
		&logValidationRule{},
	}
}

// validateURL checks that raw parses and uses one of the allowed schemes
func validateURL(field, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Host == "" {
		return fmt.Errorf("%s has no host: %s", field, raw)
	}

	for _, scheme := range schemes {
		if u.Scheme == scheme {
			return nil
		}
	}
	return fmt.Errorf("%s must use one of %v, got %q", field, schemes, u.Scheme)
}

// validatePort validates a port number
func validatePort(field string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535", field)
	}
	return nil
}

// pathValidationRule validates path-related configuration
type pathValidationRule struct{}

func (r *pathValidationRule) Name() string {
	return "PathValidation"
}

func (r *pathValidationRule) Validate(cfg *Config) error {
	if cfg.Home == "" {
		return fmt.Errorf("home directory is required")
	}
	return nil
}

// endpointValidationRule validates the Midgard and RPC endpoints
type endpointValidationRule struct{}

func (r *endpointValidationRule) Name() string {
	return "EndpointValidation"
}

func (r *endpointValidationRule) Validate(cfg *Config) error {
	n := cfg.Network
	if err := validateURL("mimir_url", n.MimirURL, "http", "https"); err != nil {
		return err
	}
	if err := validateURL("network_url", n.NetworkURL, "http", "https"); err != nil {
		return err
	}
	if err := validateURL("rpc_ws_url", n.RPCWebSocketURL, "ws", "wss"); err != nil {
		return err
	}
	if n.SubscribeQuery == "" {
		return fmt.Errorf("subscribe_query is required")
	}
	if n.HTTPTimeout <= 0 {
		return fmt.Errorf("http_timeout must be positive")
	}
	if n.DialTimeout <= 0 {
		return fmt.Errorf("dial_timeout must be positive")
	}
	return nil
}

// churnValidationRule validates client tuning
type churnValidationRule struct{}

func (r *churnValidationRule) Name() string {
	return "ChurnValidation"
}

func (r *churnValidationRule) Validate(cfg *Config) error {
	c := cfg.Churn
	if c.DefaultInterval <= 0 {
		return fmt.Errorf("default_interval must be positive")
	}
	if c.DefaultBlockSeconds <= 0 {
		return fmt.Errorf("default_block_seconds must be positive")
	}
	if c.LivenessWindow < 0 {
		return fmt.Errorf("liveness_window cannot be negative")
	}
	if c.MaxBackoff < 0 {
		return fmt.Errorf("max_backoff cannot be negative")
	}
	if c.RefreshSchedule != "" {
		if _, err := cron.ParseStandard(c.RefreshSchedule); err != nil {
			return fmt.Errorf("refresh_schedule %q: %w", c.RefreshSchedule, err)
		}
	}
	return nil
}

// storeValidationRule validates the persistence backend
type storeValidationRule struct{}

func (r *storeValidationRule) Name() string {
	return "StoreValidation"
}

func (r *storeValidationRule) Validate(cfg *Config) error {
	switch cfg.Store.Backend {
	case StoreBackendFile, StoreBackendMemory:
		return nil
	case StoreBackendRedis:
		if cfg.Store.RedisAddr == "" {
			return fmt.Errorf("redis_addr is required for the redis backend")
		}
		if cfg.Store.RedisDB < 0 {
			return fmt.Errorf("redis_db cannot be negative")
		}
		return nil
	default:
		return fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// portValidationRule validates listener ports
type portValidationRule struct{}

func (r *portValidationRule) Name() string {
	return "PortValidation"
}

func (r *portValidationRule) Validate(cfg *Config) error {
	if cfg.API.Enabled {
		if err := validatePort("api.port", cfg.API.Port); err != nil {
			return err
		}
	}
	if cfg.Metrics.Enabled {
		if err := validatePort("metrics.port", cfg.Metrics.Port); err != nil {
			return err
		}
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path must start with /")
		}
	}
	if cfg.API.Enabled && cfg.Metrics.Enabled && cfg.API.Port == cfg.Metrics.Port &&
		hostsOverlap(cfg.API.Host, cfg.Metrics.Host) {
		return fmt.Errorf("api.port and metrics.port must differ on a shared host")
	}
	return nil
}

// hostsOverlap reports whether two listeners on the same port would collide.
// A wildcard host binds every interface.
func hostsOverlap(a, b string) bool {
	wildcard := func(h string) bool { return h == "" || h == "0.0.0.0" || h == "::" }
	return a == b || wildcard(a) || wildcard(b)
}

// securityValidationRule validates API authentication settings
type securityValidationRule struct{}

func (r *securityValidationRule) Name() string {
	return "SecurityValidation"
}

func (r *securityValidationRule) Validate(cfg *Config) error {
	if !cfg.API.EnableAuth {
		return nil
	}
	if cfg.API.JWTSecret == "" && len(cfg.API.APIKeys) == 0 {
		return fmt.Errorf("enable_auth requires jwt_secret or api_keys")
	}
	if cfg.API.JWTSecret != "" && len(cfg.API.JWTSecret) < 16 {
		return fmt.Errorf("jwt_secret must be at least 16 characters")
	}
	return nil
}

// logValidationRule validates logging settings
type logValidationRule struct{}

func (r *logValidationRule) Name() string {
	return "LogValidation"
}

func (r *logValidationRule) Validate(cfg *Config) error {
	if _, err := logger.ParseLevel(cfg.Log.Level); err != nil {
		return err
	}
	return nil
}
