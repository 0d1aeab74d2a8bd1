// Package config loads the orchestrator configuration from a YAML file,
// applies VPNFORGE_* environment overrides, and validates the result.
package config

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vpnforge/vpnforge/pki"
)

// Config is the complete orchestrator configuration.
type Config struct {
	Server    ServerConfig      `yaml:"server"`
	Store     StoreConfig       `yaml:"store"`
	Profile   pki.ProfileParams `yaml:"profile"`
	Logging   LoggingConfig     `yaml:"logging"`
	Audit     AuditConfig       `yaml:"audit"`
	RateLimit RateLimitConfig   `yaml:"ratelimit"`
	VPN       VPNConfig         `yaml:"vpn"`
}

// ServerConfig holds the management API settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// Token protects mutating API routes. An empty token disables
	// authentication, which is only sane on a loopback bind.
	Token string `yaml:"token"`
}

// Addr returns the host:port the API binds to.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StoreConfig locates the toolkit installation and the output directory.
type StoreConfig struct {
	// Dir is the easy-rsa installation directory. Empty means discover a
	// system installation or provision a pinned release.
	Dir string `yaml:"dir"`
	// Output is where artifacts and client profiles are published.
	Output string `yaml:"output"`
	// ServerName is the server certificate identity.
	ServerName string `yaml:"server_name"`

	GateWaitSeconds    int `yaml:"gate_wait_seconds"`
	StepTimeoutSeconds int `yaml:"step_timeout_seconds"`
	DHTimeoutMinutes   int `yaml:"dh_timeout_minutes"`
}

func (s StoreConfig) GateWait() time.Duration {
	return time.Duration(s.GateWaitSeconds) * time.Second
}

func (s StoreConfig) StepTimeout() time.Duration {
	return time.Duration(s.StepTimeoutSeconds) * time.Second
}

func (s StoreConfig) DHTimeout() time.Duration {
	return time.Duration(s.DHTimeoutMinutes) * time.Minute
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// NewLogger builds the process logger described by the configuration.
func (l LoggingConfig) NewLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(l.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(l.Format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// AuditConfig controls the tamper-evident audit trail.
type AuditConfig struct {
	// Path is the audit database file. Empty keeps the trail in the log
	// stream only.
	Path string `yaml:"path"`
	// DSN selects a PostgreSQL trail instead of the local file. When set
	// it takes precedence over Path.
	DSN string `yaml:"dsn"`
}

// RateLimitConfig throttles the management API.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

// VPNConfig controls the supervised OpenVPN server process.
type VPNConfig struct {
	Enabled bool `yaml:"enabled"`
	// Binary is the OpenVPN executable.
	Binary string `yaml:"binary"`
	// ConfigFile is the server configuration passed via --config.
	ConfigFile string `yaml:"config_file"`
	// Args are appended verbatim to the command line.
	Args []string `yaml:"args,omitempty"`

	RestartBackoffSeconds    int `yaml:"restart_backoff_seconds"`
	RestartBackoffMaxSeconds int `yaml:"restart_backoff_max_seconds"`
}

func (v VPNConfig) RestartBackoff() time.Duration {
	return time.Duration(v.RestartBackoffSeconds) * time.Second
}

func (v VPNConfig) RestartBackoffMax() time.Duration {
	return time.Duration(v.RestartBackoffMaxSeconds) * time.Second
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Store: StoreConfig{
			Output:             "out",
			ServerName:         pki.DefaultServerName,
			GateWaitSeconds:    5,
			StepTimeoutSeconds: 120,
			DHTimeoutMinutes:   30,
		},
		Profile: pki.DefaultProfileParams(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Audit: AuditConfig{
			Path: "vpnforge-audit.db",
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			RPS:     5,
			Burst:   10,
		},
		VPN: VPNConfig{
			Binary:                   "openvpn",
			RestartBackoffSeconds:    1,
			RestartBackoffMaxSeconds: 60,
		},
	}
}

// Load reads a YAML configuration file over the defaults, applies
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load, or returns the validated defaults plus
// environment overrides when path is empty.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	cfg := Default()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment environments override file settings
// without editing the file.
func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv("VPNFORGE_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("VPNFORGE_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil || p < 1 || p > 65535 {
			log.Printf("warning: ignoring invalid VPNFORGE_PORT %q, keeping %d", port, cfg.Server.Port)
		} else {
			cfg.Server.Port = p
		}
	}
	if token := os.Getenv("VPNFORGE_TOKEN"); token != "" {
		cfg.Server.Token = token
	}
	if dir := os.Getenv("VPNFORGE_STORE_DIR"); dir != "" {
		cfg.Store.Dir = dir
	}
	if out := os.Getenv("VPNFORGE_OUTPUT_DIR"); out != "" {
		cfg.Store.Output = out
	}
	if level := os.Getenv("VPNFORGE_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("VPNFORGE_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}
	if path := os.Getenv("VPNFORGE_AUDIT_DB"); path != "" {
		cfg.Audit.Path = path
	}
	if dsn := os.Getenv("VPNFORGE_AUDIT_DSN"); dsn != "" {
		cfg.Audit.DSN = dsn
	}
	if remote := os.Getenv("VPNFORGE_PROFILE_REMOTE"); remote != "" {
		cfg.Profile.Remote = remote
	}
}

// Validate rejects configurations the server would fail on later.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level %q must be debug, info, warn, or error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log format %q must be text or json", c.Logging.Format)
	}

	if c.Store.Output == "" {
		return fmt.Errorf("store output directory must be set")
	}
	if c.Store.ServerName == "" {
		return fmt.Errorf("store server_name must be set")
	}
	if c.Store.GateWaitSeconds < 1 {
		return fmt.Errorf("store gate_wait_seconds must be positive")
	}
	if c.Store.StepTimeoutSeconds < 1 {
		return fmt.Errorf("store step_timeout_seconds must be positive")
	}
	if c.Store.DHTimeoutMinutes < 1 {
		return fmt.Errorf("store dh_timeout_minutes must be positive")
	}

	if err := c.Profile.Validate(); err != nil {
		return err
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RPS <= 0 {
			return fmt.Errorf("ratelimit rps must be positive")
		}
		if c.RateLimit.Burst < 1 {
			return fmt.Errorf("ratelimit burst must be positive")
		}
	}

	if c.VPN.Enabled {
		if c.VPN.Binary == "" {
			return fmt.Errorf("vpn binary must be set when supervision is enabled")
		}
		if c.VPN.ConfigFile == "" {
			return fmt.Errorf("vpn config_file must be set when supervision is enabled")
		}
	}
	return nil
}
