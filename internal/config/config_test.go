package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpnforge/vpnforge/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vpnforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr())
	assert.Equal(t, "server", cfg.Store.ServerName)
	assert.Equal(t, 5*time.Second, cfg.Store.GateWait())
	assert.Equal(t, 2*time.Minute, cfg.Store.StepTimeout())
	assert.Equal(t, 30*time.Minute, cfg.Store.DHTimeout())
	assert.Equal(t, "udp", cfg.Profile.Proto)
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
  port: 9443
  token: hunter2
store:
  dir: /opt/easy-rsa
  output: /srv/vpn/out
profile:
  remote: vpn.example.net
  port: 1194
  proto: udp
  device: tun
  cipher: AES-256-GCM
  auth: SHA256
  extra:
    - redirect-gateway def1
logging:
  level: debug
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9443", cfg.Server.Addr())
	assert.Equal(t, "hunter2", cfg.Server.Token)
	assert.Equal(t, "/opt/easy-rsa", cfg.Store.Dir)
	assert.Equal(t, "/srv/vpn/out", cfg.Store.Output)
	assert.Equal(t, "vpn.example.net", cfg.Profile.Remote)
	assert.Equal(t, []string{"redirect-gateway def1"}, cfg.Profile.Extra)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched sections keep their defaults.
	assert.Equal(t, "server", cfg.Store.ServerName)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_BadYAML(t *testing.T) {
	path := writeConfig(t, "server: [not: a: mapping\n")
	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: loud\n")
	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log level")
}

func TestLoadOrDefault_EmptyPath(t *testing.T) {
	cfg, err := config.LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, config.Default().Server.Addr(), cfg.Server.Addr())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VPNFORGE_HOST", "10.8.0.1")
	t.Setenv("VPNFORGE_PORT", "9000")
	t.Setenv("VPNFORGE_TOKEN", "sekrit")
	t.Setenv("VPNFORGE_STORE_DIR", "/data/easy-rsa")
	t.Setenv("VPNFORGE_OUTPUT_DIR", "/data/out")
	t.Setenv("VPNFORGE_LOG_FORMAT", "json")
	t.Setenv("VPNFORGE_AUDIT_DB", "/data/audit.db")
	t.Setenv("VPNFORGE_PROFILE_REMOTE", "vpn.example.net")

	cfg, err := config.LoadOrDefault("")
	require.NoError(t, err)

	assert.Equal(t, "10.8.0.1:9000", cfg.Server.Addr())
	assert.Equal(t, "sekrit", cfg.Server.Token)
	assert.Equal(t, "/data/easy-rsa", cfg.Store.Dir)
	assert.Equal(t, "/data/out", cfg.Store.Output)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "/data/audit.db", cfg.Audit.Path)
	assert.Equal(t, "vpn.example.net", cfg.Profile.Remote)
}

func TestEnvOverrides_IgnoresBadPort(t *testing.T) {
	t.Setenv("VPNFORGE_PORT", "not-a-port")

	cfg, err := config.LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, config.Default().Server.Port, cfg.Server.Port)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"port out of range", func(c *config.Config) { c.Server.Port = 0 }},
		{"unknown log level", func(c *config.Config) { c.Logging.Level = "loud" }},
		{"unknown log format", func(c *config.Config) { c.Logging.Format = "xml" }},
		{"empty output", func(c *config.Config) { c.Store.Output = "" }},
		{"empty server name", func(c *config.Config) { c.Store.ServerName = "" }},
		{"zero gate wait", func(c *config.Config) { c.Store.GateWaitSeconds = 0 }},
		{"bad profile proto", func(c *config.Config) { c.Profile.Proto = "sctp" }},
		{"ratelimit without rps", func(c *config.Config) { c.RateLimit.RPS = 0 }},
		{"vpn without config file", func(c *config.Config) {
			c.VPN.Enabled = true
			c.VPN.ConfigFile = ""
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
