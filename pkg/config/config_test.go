package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.normalize()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultBind, cfg.Server.Bind)
	assert.Equal(t, DefaultPortStart, cfg.Preview.PortStart)
	assert.Equal(t, DefaultPortEnd, cfg.Preview.PortEnd)
	assert.Equal(t, 60, cfg.Approval.TimeoutSeconds)
	assert.Equal(t, 30, cfg.Hub.HeartbeatSeconds)
}

func TestLoadFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  bind: "127.0.0.1:9090"
preview:
  command: ["pnpm", "dev", "--port", "{port}"]
  port_start: 4000
  port_end: 4100
approval:
  timeout_seconds: 15
`), 0o600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Bind)
	assert.Equal(t, []string{"pnpm", "dev", "--port", "{port}"}, cfg.Preview.Command)
	assert.Equal(t, 4000, cfg.Preview.PortStart)
	assert.Equal(t, 4100, cfg.Preview.PortEnd)
	assert.Equal(t, 15, cfg.Approval.TimeoutSeconds)
	// Untouched sections keep their defaults
	assert.Equal(t, 30, cfg.Hub.HeartbeatSeconds)
}

func TestLoadFromPathBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: ["), 0o600))

	_, err := LoadFromPath(path)
	assert.Error(t, err)
}

func TestPortShorthandDerivesRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Preview.Port = 5000
	cfg.normalize()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5000, cfg.Preview.PortStart)
	assert.Equal(t, 5863, cfg.Preview.PortEnd)
}

func TestPortShorthandClampsToCeiling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Preview.Port = 65500
	cfg.normalize()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 65500, cfg.Preview.PortStart)
	assert.Equal(t, 65535, cfg.Preview.PortEnd)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STAGEHAND_BIND", "0.0.0.0:8800")
	t.Setenv("STAGEHAND_PORT_START", "6000")
	t.Setenv("STAGEHAND_PORT_END", "6100")
	t.Setenv("STAGEHAND_APPROVAL_TIMEOUT_SECONDS", "5")
	t.Setenv("STAGEHAND_PREVIEW_COMMAND", "bun dev --port {port}")

	cfg := DefaultConfig()
	applyEnvOverrides(cfg)
	cfg.normalize()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "0.0.0.0:8800", cfg.Server.Bind)
	assert.Equal(t, 6000, cfg.Preview.PortStart)
	assert.Equal(t, 6100, cfg.Preview.PortEnd)
	assert.Equal(t, 5, cfg.Approval.TimeoutSeconds)
	assert.Equal(t, []string{"bun", "dev", "--port", "{port}"}, cfg.Preview.Command)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad bind", func(c *Config) { c.Server.Bind = "not-a-hostport" }},
		{"empty command", func(c *Config) { c.Preview.Command = nil }},
		{"port start too low", func(c *Config) { c.Preview.PortStart = 0 }},
		{"port end before start", func(c *Config) { c.Preview.PortEnd = c.Preview.PortStart - 1 }},
		{"zero approval timeout", func(c *Config) { c.Approval.TimeoutSeconds = 0 }},
		{"unknown approval mode", func(c *Config) { c.Approval.Mode = "always" }},
		{"zero heartbeat", func(c *Config) { c.Hub.HeartbeatSeconds = 0 }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"empty storage path", func(c *Config) { c.Storage.Path = " " }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.normalize()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestResolveWorkspaceRoot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Preview.WorkspaceRoot = t.TempDir()
	assert.Equal(t, cfg.Preview.WorkspaceRoot, ResolveWorkspaceRoot(cfg))

	cfg.Preview.WorkspaceRoot = ""
	cwd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, cwd, ResolveWorkspaceRoot(cfg))
}

func TestDurationHelpers(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, DefaultApprovalTimeout, cfg.ApprovalTimeout())
	assert.Equal(t, DefaultHeartbeat, cfg.HeartbeatInterval())
	assert.Equal(t, DefaultReadyTimeout, cfg.ReadyTimeout())
}
