// ABOUTME: Configuration loading and parsing for relayhub
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults applied when a value is not configured.
const (
	DefaultGRPCAddr          = "0.0.0.0:50051"
	DefaultHTTPAddr          = "0.0.0.0:8080"
	DefaultLivenessTimeout   = 120 * time.Second
	DefaultSweepInterval     = 60 * time.Second
	DefaultMaxQueuedCommands = 256
	DefaultRosterDebounce    = 250 * time.Millisecond
	DefaultOutboxSize        = 64
	DefaultTokenTTL          = 24 * time.Hour
)

// Config represents the complete relayhub configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Relay     RelayConfig     `yaml:"relay" toml:"relay"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // serve the HTTP API publicly over Funnel (HTTPS)
}

// AuthConfig holds the controller auth gate. An empty JWTSecret disables it.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" toml:"jwt_secret"`
	Users     []UserConfig  `yaml:"users" toml:"users"`
	TokenTTL  time.Duration `yaml:"-" toml:"-"`

	TokenTTLRaw string `yaml:"token_ttl" toml:"token_ttl"`
}

// UserConfig is one operator account. Generate hashes with `relayhub hash-password`.
type UserConfig struct {
	Username     string `yaml:"username" toml:"username"`
	PasswordHash string `yaml:"password_hash" toml:"password_hash"`
}

// RelayConfig holds session liveness and delivery tuning
type RelayConfig struct {
	LivenessTimeout   time.Duration `yaml:"-" toml:"-"`
	SweepInterval     time.Duration `yaml:"-" toml:"-"`
	RosterDebounce    time.Duration `yaml:"-" toml:"-"`
	MaxQueuedCommands int           `yaml:"max_queued_commands" toml:"max_queued_commands"`
	OutboxSize        int           `yaml:"outbox_size" toml:"outbox_size"`

	// Raw string values for unmarshaling
	LivenessTimeoutRaw string `yaml:"liveness_timeout" toml:"liveness_timeout"`
	SweepIntervalRaw   string `yaml:"sweep_interval" toml:"sweep_interval"`
	RosterDebounceRaw  string `yaml:"roster_debounce" toml:"roster_debounce"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// DefaultPath returns where the config file is looked up.
func DefaultPath() string {
	if p := os.Getenv("RELAYHUB_CONFIG"); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "relayhub", "config.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func applyDefaults(cfg *Config) {
	if !cfg.Tailscale.Enabled {
		if cfg.Server.GRPCAddr == "" {
			cfg.Server.GRPCAddr = DefaultGRPCAddr
		}
		if cfg.Server.HTTPAddr == "" {
			cfg.Server.HTTPAddr = DefaultHTTPAddr
		}
	}
	if cfg.Relay.LivenessTimeout == 0 {
		cfg.Relay.LivenessTimeout = DefaultLivenessTimeout
	}
	if cfg.Relay.SweepInterval == 0 {
		cfg.Relay.SweepInterval = DefaultSweepInterval
	}
	if cfg.Relay.RosterDebounce == 0 {
		cfg.Relay.RosterDebounce = DefaultRosterDebounce
	}
	if cfg.Relay.MaxQueuedCommands == 0 {
		cfg.Relay.MaxQueuedCommands = DefaultMaxQueuedCommands
	}
	if cfg.Relay.OutboxSize == 0 {
		cfg.Relay.OutboxSize = DefaultOutboxSize
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = DefaultTokenTTL
	}
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return errors.New("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Relay.LivenessTimeout < 0 || c.Relay.SweepInterval < 0 {
		return errors.New("relay durations must be positive")
	}
	if c.Relay.SweepInterval >= c.Relay.LivenessTimeout {
		return fmt.Errorf("relay.sweep_interval (%s) must be shorter than relay.liveness_timeout (%s)",
			c.Relay.SweepInterval, c.Relay.LivenessTimeout)
	}
	if c.Relay.MaxQueuedCommands < 0 || c.Relay.OutboxSize < 0 {
		return errors.New("relay.max_queued_commands and relay.outbox_size must not be negative")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return errors.New("auth.jwt_secret must be at least 32 bytes")
	}
	if c.Auth.JWTSecret == "" && len(c.Auth.Users) > 0 {
		return errors.New("auth.users requires auth.jwt_secret")
	}
	seen := make(map[string]bool, len(c.Auth.Users))
	for i, u := range c.Auth.Users {
		if u.Username == "" || u.PasswordHash == "" {
			return fmt.Errorf("auth.users[%d] needs username and password_hash", i)
		}
		if seen[u.Username] {
			return fmt.Errorf("auth.users: duplicate username %q", u.Username)
		}
		seen[u.Username] = true
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"relay.liveness_timeout", cfg.Relay.LivenessTimeoutRaw, &cfg.Relay.LivenessTimeout},
		{"relay.sweep_interval", cfg.Relay.SweepIntervalRaw, &cfg.Relay.SweepInterval},
		{"relay.roster_debounce", cfg.Relay.RosterDebounceRaw, &cfg.Relay.RosterDebounce},
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// UserMap returns the configured accounts keyed by username.
func (a AuthConfig) UserMap() map[string]string {
	users := make(map[string]string, len(a.Users))
	for _, u := range a.Users {
		users[u.Username] = u.PasswordHash
	}
	return users
}
