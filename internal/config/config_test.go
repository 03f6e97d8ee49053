// ABOUTME: Tests for configuration loading, env overrides, and validation
// ABOUTME: Uses temp YAML and TOML files to exercise the loader end to end

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadValidYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  http_addr: ":8080"
  base_url: "https://wa.example.com"
database:
  driver: "sqlite"
  path: "/tmp/wa.db"
quota:
  limit_known: 10
  limit_unknown: 4
  unknown_delay: "1500ms"
  timezone: "UTC"
session:
  reconnect_delay: "5s"
  ready_attempts: 20
  ready_interval: "250ms"
webhook:
  url: "http://hooks.local/in"
  trigger_number: "0812-3456-789"
  timeout: "3s"
logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "https://wa.example.com", cfg.Server.BaseURL)
	assert.Equal(t, "/tmp/wa.db", cfg.Database.Path)
	assert.Equal(t, 10, cfg.Quota.LimitKnown)
	assert.Equal(t, 4, cfg.Quota.LimitUnknown)
	assert.Equal(t, 1500*time.Millisecond, cfg.Quota.UnknownDelay)
	assert.Equal(t, time.UTC, cfg.Quota.Location)
	assert.Equal(t, 5*time.Second, cfg.Session.ReconnectDelay)
	assert.Equal(t, 20, cfg.Session.ReadyAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Session.ReadyInterval)
	assert.Equal(t, 3*time.Second, cfg.Webhook.Timeout)
	assert.Equal(t, "json", cfg.Logging.Format)

	// untouched sections keep their defaults
	assert.Equal(t, 200, cfg.Inbox.Capacity)
	assert.Equal(t, "loopback", cfg.Network.Driver)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[server]
http_addr = ":9000"

[database]
driver = "postgres"
dsn = "postgres://localhost/wa"

[quota]
limit_known = 7
unknown_delay = "0s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.HTTPAddr)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://localhost/wa", cfg.Database.DSN)
	assert.Equal(t, 7, cfg.Quota.LimitKnown)
	assert.Equal(t, 3, cfg.Quota.LimitUnknown)
	assert.Equal(t, time.Duration(0), cfg.Quota.UnknownDelay)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_WA_DB_PATH", "/var/lib/wa/test.db")
	t.Setenv("TEST_WA_SECRET", "s3cret")

	path := writeConfig(t, "config.yaml", `
database:
  path: "${TEST_WA_DB_PATH}"
auth:
  jwt_secret: "${TEST_WA_SECRET}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/wa/test.db", cfg.Database.Path)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("PORT", "4100")
	t.Setenv("BASE_URL", "https://public.example.com")
	t.Setenv("DELAY_NOT_IN_CONTACTS_MS", "750")
	t.Setenv("LIMIT_IN_CONTACTS_PER_DAY", "9")
	t.Setenv("LIMIT_NOT_IN_CONTACTS_PER_DAY", "2")
	t.Setenv("WEBHOOK_URL", "http://hooks.local")
	t.Setenv("WEBHOOK_TRIGGER_NUMBER", "628111")

	path := writeConfig(t, "config.yaml", `
server:
  http_addr: ":8080"
quota:
  limit_known: 50
  unknown_delay: "10s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":4100", cfg.Server.HTTPAddr)
	assert.Equal(t, "https://public.example.com", cfg.Server.BaseURL)
	assert.Equal(t, 750*time.Millisecond, cfg.Quota.UnknownDelay)
	assert.Equal(t, 9, cfg.Quota.LimitKnown)
	assert.Equal(t, 2, cfg.Quota.LimitUnknown)
	assert.Equal(t, "http://hooks.local", cfg.Webhook.URL)
	assert.Equal(t, "628111", cfg.Webhook.TriggerNumber)
}

func TestEnvRejectsBadNumber(t *testing.T) {
	t.Setenv("LIMIT_IN_CONTACTS_PER_DAY", "lots")

	_, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env")
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.Server.HTTPAddr)
	assert.Equal(t, "http://localhost:3000", cfg.Server.BaseURL)
	assert.Equal(t, 5, cfg.Quota.LimitKnown)
	assert.Equal(t, 3, cfg.Quota.LimitUnknown)
	assert.Equal(t, 2*time.Second, cfg.Quota.UnknownDelay)
	assert.Equal(t, 2*time.Second, cfg.Session.ReconnectDelay)
	assert.Equal(t, 12, cfg.Session.ReadyAttempts)
	assert.Equal(t, time.Second, cfg.Session.ReadyInterval)
	assert.Equal(t, 10*time.Second, cfg.Webhook.Timeout)
	assert.Equal(t, time.Local, cfg.Quota.Location)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoadInvalidDuration(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
session:
  reconnect_delay: "soon"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session.reconnect_delay")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"no listener", func(c *Config) { c.Server.HTTPAddr = "" }, "http_addr"},
		{"tailscale without hostname", func(c *Config) { c.Tailscale.Enabled = true }, "tailscale.hostname"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres" }, "database.dsn"},
		{"redis quota without url", func(c *Config) { c.Quota.Backend = "redis" }, "redis.url"},
		{"zero limit", func(c *Config) { c.Quota.LimitUnknown = 0 }, "quota limits"},
		{"bad timezone", func(c *Config) { c.Quota.Timezone = "Mars/Olympus" }, "quota.timezone"},
		{"unknown network", func(c *Config) { c.Network.Driver = "carrier-pigeon" }, "network.driver"},
		{"webhook without trigger", func(c *Config) { c.Webhook.URL = "http://x" }, "trigger_number"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
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

func TestExpandEnvVarsUnset(t *testing.T) {
	assert.Equal(t, "a--b", expandEnvVars("a-${WA_GATEWAY_SURELY_UNSET_VAR}-b"))
}
