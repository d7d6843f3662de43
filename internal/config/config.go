// Package config provides YAML configuration loading with validation and
// environment variable substitution for the breaker daemon.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dskow/breaker-core/breaker"
)

// Config is the top-level breakerd configuration.
type Config struct {
	Server   ServerConfig    `yaml:"server" json:"server"`
	Metrics  MetricsConfig   `yaml:"metrics" json:"metrics"`
	Logging  LoggingConfig   `yaml:"logging" json:"logging"`
	Auth     AuthConfig      `yaml:"auth" json:"auth"`
	Admin    AdminConfig     `yaml:"admin" json:"admin"`
	Breaker  BreakerConfig   `yaml:"breaker" json:"breaker"`
	Services []ServiceConfig `yaml:"services" json:"services"`

	// Warnings holds non-fatal config issues detected during loading.
	// Stored on the Config itself (not a package-level var) so it is
	// safe to call Load concurrently from the hot-reload goroutine.
	Warnings []string `yaml:"-" json:"-"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" json:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	TLS             TLSConfig     `yaml:"tls" json:"tls"`
}

// TLSConfig holds TLS termination settings.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	CertFile   string `yaml:"cert_file" json:"cert_file"`
	KeyFile    string `yaml:"key_file" json:"key_file"`
	MinVersion string `yaml:"min_version" json:"min_version"` // "1.2" or "1.3"; default: "1.2"
}

// MetricsConfig holds Prometheus metrics endpoint settings.
// Enabled defaults to true; set to false to disable metrics.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// IsEnabled returns whether metrics are enabled (defaults to true).
func (m MetricsConfig) IsEnabled() bool {
	if m.Enabled == nil {
		return true
	}
	return *m.Enabled
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Output     string `yaml:"output" json:"output"`           // "stdout", "stderr", or file path; default: "stdout"
	Level      string `yaml:"level" json:"level"`             // "debug", "info", "warn", "error"; default: "info"
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"` // max log file size before rotation; default: 100
	MaxBackups int    `yaml:"max_backups" json:"max_backups"` // number of rotated files to keep; default: 3
}

// ValidLogLevels are the accepted logging.level strings.
var ValidLogLevels = map[string]bool{
	"":      true, // empty means default ("info")
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// AuthConfig holds JWT settings for the admin API.
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	JWTSecret string `yaml:"jwt_secret" json:"jwt_secret"`
	Issuer    string `yaml:"issuer" json:"issuer"`
	Audience  string `yaml:"audience" json:"audience"`
	Scope     string `yaml:"scope" json:"scope"` // required scope; default: "breaker:admin"
}

// AdminConfig holds admin API settings.
type AdminConfig struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`           // default: false
	IPAllowlist []string `yaml:"ip_allowlist" json:"ip_allowlist"` // CIDR notation
}

// BreakerConfig holds the default admission policy and notification
// throttle applied across all services.
type BreakerConfig struct {
	Defaults     breaker.Policy `yaml:"defaults" json:"defaults"`
	NotifyPerSec float64        `yaml:"notify_per_sec" json:"notify_per_sec"`
	NotifyBurst  int            `yaml:"notify_burst" json:"notify_burst"`
}

// ServiceConfig describes one upstream watched by the prober.
type ServiceConfig struct {
	Name          string          `yaml:"name" json:"name"`
	URL           string          `yaml:"url" json:"url"`
	ProbeInterval time.Duration   `yaml:"probe_interval" json:"probe_interval"`
	Policy        *breaker.Policy `yaml:"policy" json:"policy,omitempty"`
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns in s with the corresponding
// environment variable value.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		key := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return match
	})
}

// Load reads and parses a YAML configuration file, applies environment
// variable substitution, sets defaults, and validates the result.
// Warnings are stored on cfg.Warnings (goroutine-safe, no package-level state).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes. Useful for testing.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.Warnings = collectWarnings(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	// TLS defaults
	if cfg.Server.TLS.Enabled && cfg.Server.TLS.MinVersion == "" {
		cfg.Server.TLS.MinVersion = "1.2"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	// Logging defaults
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 3
	}

	if cfg.Auth.Enabled && cfg.Auth.Scope == "" {
		cfg.Auth.Scope = "breaker:admin"
	}

	// Breaker defaults
	b := &cfg.Breaker
	d := breaker.DefaultPolicy()
	if b.Defaults.ErrorWarnThreshold == 0 {
		b.Defaults.ErrorWarnThreshold = d.ErrorWarnThreshold
	}
	if b.Defaults.ErrorBlockThreshold == 0 {
		b.Defaults.ErrorBlockThreshold = d.ErrorBlockThreshold
	}
	if b.Defaults.TimeoutWarnThreshold == 0 {
		b.Defaults.TimeoutWarnThreshold = d.TimeoutWarnThreshold
	}
	if b.Defaults.TimeoutBlockThreshold == 0 {
		b.Defaults.TimeoutBlockThreshold = d.TimeoutBlockThreshold
	}
	if b.Defaults.CallTimeout == 0 {
		b.Defaults.CallTimeout = d.CallTimeout
	}
	if b.Defaults.ResetTimeout == 0 {
		b.Defaults.ResetTimeout = d.ResetTimeout
	}
	if b.NotifyPerSec == 0 {
		b.NotifyPerSec = 1
	}
	if b.NotifyBurst == 0 {
		b.NotifyBurst = 5
	}

	for i := range cfg.Services {
		if cfg.Services[i].ProbeInterval == 0 {
			cfg.Services[i].ProbeInterval = 30 * time.Second
		}
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	// TLS validation
	if cfg.Server.TLS.Enabled {
		if cfg.Server.TLS.CertFile == "" {
			return fmt.Errorf("server.tls.cert_file is required when TLS is enabled")
		}
		if cfg.Server.TLS.KeyFile == "" {
			return fmt.Errorf("server.tls.key_file is required when TLS is enabled")
		}
		if cfg.Server.TLS.MinVersion != "1.2" && cfg.Server.TLS.MinVersion != "1.3" {
			return fmt.Errorf("server.tls.min_version must be \"1.2\" or \"1.3\", got %q", cfg.Server.TLS.MinVersion)
		}
	}

	// Logging validation
	if !ValidLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Output != "stdout" && cfg.Logging.Output != "stderr" {
		if cfg.Logging.MaxSizeMB < 1 {
			return fmt.Errorf("logging.max_size_mb must be positive when output is a file path")
		}
	}

	if cfg.Auth.Enabled {
		if cfg.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
		}
		if cfg.Auth.Issuer == "" {
			return fmt.Errorf("auth.issuer is required when auth is enabled")
		}
		if cfg.Auth.Audience == "" {
			return fmt.Errorf("auth.audience is required when auth is enabled")
		}
	}

	// Admin validation
	if cfg.Admin.Enabled {
		if len(cfg.Admin.IPAllowlist) == 0 {
			return fmt.Errorf("admin.ip_allowlist is required when admin is enabled")
		}
		for i, cidr := range cfg.Admin.IPAllowlist {
			if _, _, err := net.ParseCIDR(cidr); err != nil {
				return fmt.Errorf("admin.ip_allowlist[%d]: invalid CIDR %q: %w", i, cidr, err)
			}
		}
	}

	// Breaker validation
	b := cfg.Breaker
	if err := validatePolicy("breaker.defaults", b.Defaults); err != nil {
		return err
	}
	if b.NotifyPerSec <= 0 {
		return fmt.Errorf("breaker.notify_per_sec must be positive")
	}
	if b.NotifyBurst < 1 {
		return fmt.Errorf("breaker.notify_burst must be positive")
	}

	seen := make(map[string]bool)
	for i, s := range cfg.Services {
		if s.Name == "" {
			return fmt.Errorf("services[%d].name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate service name: %s", s.Name)
		}
		seen[s.Name] = true
		if s.URL == "" {
			return fmt.Errorf("services[%d].url is required", i)
		}
		u, err := url.Parse(s.URL)
		if err != nil {
			return fmt.Errorf("services[%d].url: invalid URL: %w", i, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("services[%d].url: scheme must be http or https, got %q", i, u.Scheme)
		}
		if u.Host == "" {
			return fmt.Errorf("services[%d].url: host is required", i)
		}
		if s.ProbeInterval < time.Second {
			return fmt.Errorf("services[%d].probe_interval must be at least 1s", i)
		}
		if s.Policy != nil {
			if err := validatePolicy(fmt.Sprintf("services[%d].policy", i), *s.Policy); err != nil {
				return err
			}
		}
	}

	return nil
}

// validatePolicy checks threshold ordering. Per-service policies may
// leave fields zero (they fall back to the defaults at call time), so
// only non-zero fields are checked against each other.
func validatePolicy(prefix string, p breaker.Policy) error {
	if p.ErrorWarnThreshold < 0 || p.ErrorBlockThreshold < 0 ||
		p.TimeoutWarnThreshold < 0 || p.TimeoutBlockThreshold < 0 {
		return fmt.Errorf("%s: thresholds must be non-negative", prefix)
	}
	if p.ErrorWarnThreshold > 0 && p.ErrorBlockThreshold > 0 &&
		p.ErrorWarnThreshold > p.ErrorBlockThreshold {
		return fmt.Errorf("%s: error_warn_threshold must not exceed error_block_threshold", prefix)
	}
	if p.TimeoutWarnThreshold > 0 && p.TimeoutBlockThreshold > 0 &&
		p.TimeoutWarnThreshold > p.TimeoutBlockThreshold {
		return fmt.Errorf("%s: timeout_warn_threshold must not exceed timeout_block_threshold", prefix)
	}
	if p.CallTimeout < 0 {
		return fmt.Errorf("%s: call_timeout must be non-negative", prefix)
	}
	if p.ResetTimeout < 0 {
		return fmt.Errorf("%s: reset_timeout must be non-negative", prefix)
	}
	return nil
}

func collectWarnings(cfg *Config) []string {
	var warnings []string
	if cfg.Auth.Enabled && strings.Contains(cfg.Auth.JWTSecret, "${") {
		warnings = append(warnings, "auth.jwt_secret contains unresolved environment variable")
	}
	if cfg.Admin.Enabled && !cfg.Auth.Enabled {
		warnings = append(warnings, "admin API is enabled without JWT auth; only the IP allowlist guards it")
	}
	if len(cfg.Services) == 0 {
		warnings = append(warnings, "no services configured; the prober is idle")
	}
	return warnings
}
