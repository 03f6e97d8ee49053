// ABOUTME: Configuration loading and parsing for wa-gateway
// ABOUTME: YAML or TOML files with ${VAR} expansion, duration parsing, and environment overrides

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

// Config represents the complete wa-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Redis     RedisConfig     `yaml:"redis" toml:"redis"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Quota     QuotaConfig     `yaml:"quota" toml:"quota"`
	Session   SessionConfig   `yaml:"session" toml:"session"`
	Inbox     InboxConfig     `yaml:"inbox" toml:"inbox"`
	Webhook   WebhookConfig   `yaml:"webhook" toml:"webhook"`
	Network   NetworkConfig   `yaml:"network" toml:"network"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// BaseURL is the external URL used in QR links handed to clients
	BaseURL string `yaml:"base_url" toml:"base_url"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // serve with tailnet certs on :443
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // expose publicly over HTTPS
}

// DatabaseConfig selects the durable store
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"` // "sqlite" or "postgres"
	Path   string `yaml:"path" toml:"path"`     // sqlite file
	DSN    string `yaml:"dsn" toml:"dsn"`       // postgres connection string
}

// RedisConfig holds the Redis connection used for quota counters
type RedisConfig struct {
	URL string `yaml:"url" toml:"url"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// QuotaConfig holds daily send limits and the unknown-recipient delay
type QuotaConfig struct {
	LimitKnown   int            `yaml:"limit_known" toml:"limit_known"`
	LimitUnknown int            `yaml:"limit_unknown" toml:"limit_unknown"`
	Timezone     string         `yaml:"timezone" toml:"timezone"`
	Backend      string         `yaml:"backend" toml:"backend"` // "database" or "redis"
	UnknownDelay time.Duration  `yaml:"-" toml:"-"`
	Location     *time.Location `yaml:"-" toml:"-"`

	UnknownDelayRaw string `yaml:"unknown_delay" toml:"unknown_delay"`
}

// SessionConfig holds connection lifecycle timing
type SessionConfig struct {
	ReconnectDelay time.Duration `yaml:"-" toml:"-"`
	ReadyAttempts  int           `yaml:"ready_attempts" toml:"ready_attempts"`
	ReadyInterval  time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	ReconnectDelayRaw string `yaml:"reconnect_delay" toml:"reconnect_delay"`
	ReadyIntervalRaw  string `yaml:"ready_interval" toml:"ready_interval"`
}

// InboxConfig sizes the per-tenant inbox buffers
type InboxConfig struct {
	Capacity      int `yaml:"capacity" toml:"capacity"`
	DebugCapacity int `yaml:"debug_capacity" toml:"debug_capacity"`
	DefaultLimit  int `yaml:"default_limit" toml:"default_limit"`
	MaxLimit      int `yaml:"max_limit" toml:"max_limit"`
}

// WebhookConfig forwards inbound messages from one number downstream
type WebhookConfig struct {
	URL           string        `yaml:"url" toml:"url"`
	TriggerNumber string        `yaml:"trigger_number" toml:"trigger_number"`
	Timeout       time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// NetworkConfig selects the chat network driver
type NetworkConfig struct {
	Driver   string        `yaml:"driver" toml:"driver"`
	AutoPair time.Duration `yaml:"-" toml:"-"` // loopback only; 0 waits for a manual pair

	AutoPairRaw string `yaml:"auto_pair" toml:"auto_pair"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{HTTPAddr: ":3000", BaseURL: "http://localhost:3000"},
		Database: DatabaseConfig{Driver: "sqlite", Path: "./data/wa-gateway.db"},
		Quota: QuotaConfig{
			LimitKnown:      5,
			LimitUnknown:    3,
			Backend:         "database",
			UnknownDelayRaw: "2s",
		},
		Session: SessionConfig{
			ReadyAttempts:     12,
			ReconnectDelayRaw: "2s",
			ReadyIntervalRaw:  "1s",
		},
		Inbox:   InboxConfig{Capacity: 200, DebugCapacity: 50, DefaultLimit: 50, MaxLimit: 500},
		Webhook: WebhookConfig{TimeoutRaw: "10s"},
		Network: NetworkConfig{Driver: "loopback"},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded, then
// environment overrides are applied on top of the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return finish(cfg)
}

// LoadOrDefault loads path, or starts from Default when the file does not
// exist. Environment overrides apply either way.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return finish(Default())
	}
	return Load(path)
}

func finish(cfg *Config) (*Config, error) {
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported (sqlite, postgres)", c.Database.Driver)
	}

	switch c.Quota.Backend {
	case "database":
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("redis.url is required when quota.backend is redis")
		}
	default:
		return fmt.Errorf("quota.backend %q is not supported (database, redis)", c.Quota.Backend)
	}

	if c.Quota.LimitKnown < 1 || c.Quota.LimitUnknown < 1 {
		return fmt.Errorf("quota limits must be at least 1")
	}
	if c.Quota.UnknownDelay < 0 {
		return fmt.Errorf("quota.unknown_delay must not be negative")
	}
	loc := time.Local
	if c.Quota.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(c.Quota.Timezone); err != nil {
			return fmt.Errorf("quota.timezone: %w", err)
		}
	}
	c.Quota.Location = loc

	if c.Inbox.Capacity < 1 || c.Inbox.MaxLimit < 1 {
		return fmt.Errorf("inbox.capacity and inbox.max_limit must be at least 1")
	}

	if c.Network.Driver != "loopback" {
		return fmt.Errorf("network.driver %q is not supported (loopback)", c.Network.Driver)
	}

	if c.Webhook.URL != "" && c.Webhook.TriggerNumber == "" {
		return fmt.Errorf("webhook.trigger_number is required when webhook.url is set")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not supported (text, json)", c.Logging.Format)
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
		{"quota.unknown_delay", cfg.Quota.UnknownDelayRaw, &cfg.Quota.UnknownDelay},
		{"session.reconnect_delay", cfg.Session.ReconnectDelayRaw, &cfg.Session.ReconnectDelay},
		{"session.ready_interval", cfg.Session.ReadyIntervalRaw, &cfg.Session.ReadyInterval},
		{"webhook.timeout", cfg.Webhook.TimeoutRaw, &cfg.Webhook.Timeout},
		{"network.auto_pair", cfg.Network.AutoPairRaw, &cfg.Network.AutoPair},
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
