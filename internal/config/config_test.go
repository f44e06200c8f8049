// ABOUTME: Tests for configuration loading, env expansion and validation
// ABOUTME: Writes temporary YAML files and checks parsed values

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":8080"
  trusted_proxies:
    - "10.0.0.0/8"
    - "192.0.2.1"
redis:
  addr: "localhost:6379"
  db: 2
database:
  path: "/var/lib/devgw/gateway.db"
auth:
  session_secret: "topsecret"
  session_ttl: "2h"
dispatch:
  default_timeout: "45s"
  grace: "10s"
  presence_max_age: "90s"
  circuit_failure_threshold: 5
  circuit_reset_timeout: "30s"
agent:
  tenant_id: "tenant-a"
  agent_id: "agent-1"
  key: "dgk_ab_cd"
  gateway_url: "http://localhost:8080"
  store_path: "/var/lib/devgw/agent.db"
  max_queued: 5000
  retention_days: 14
  cleanup_interval: "1h"
  heartbeat_interval: "30s"
logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.1"}, cfg.Server.TrustedProxies)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, "/var/lib/devgw/gateway.db", cfg.Database.Path)
	assert.Equal(t, "topsecret", cfg.Auth.SessionSecret)
	assert.Equal(t, 2*time.Hour, cfg.Auth.SessionTTL)
	assert.Equal(t, 45*time.Second, cfg.Dispatch.DefaultTimeout)
	assert.Equal(t, 10*time.Second, cfg.Dispatch.Grace)
	assert.Equal(t, 90*time.Second, cfg.Dispatch.PresenceMaxAge)
	assert.Equal(t, 5, cfg.Dispatch.CircuitFailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.CircuitResetTimeout)
	assert.Equal(t, "tenant-a", cfg.Agent.TenantID)
	assert.Equal(t, 5000, cfg.Agent.MaxQueued)
	assert.Equal(t, 14, cfg.Agent.RetentionDays)
	assert.Equal(t, time.Hour, cfg.Agent.CleanupInterval)
	assert.Equal(t, 30*time.Second, cfg.Agent.HeartbeatInterval)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("DEVGW_TEST_SECRET", "from-env")
	t.Setenv("DEVGW_TEST_REDIS", "redis.internal:6379")

	path := writeConfig(t, `
auth:
  session_secret: "${DEVGW_TEST_SECRET}"
redis:
  addr: "${DEVGW_TEST_REDIS}"
  password: "${DEVGW_TEST_UNSET}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.SessionSecret)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.Equal(t, "", cfg.Redis.Password)
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `
dispatch:
  default_timeout: "not-a-duration"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dispatch.default_timeout")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [broken")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateGateway(t *testing.T) {
	valid := &Config{
		Server:   ServerConfig{HTTPAddr: ":8080"},
		Redis:    RedisConfig{Addr: "localhost:6379"},
		Database: DatabaseConfig{Path: "/tmp/gw.db"},
		Auth:     AuthConfig{SessionSecret: "s"},
	}
	require.NoError(t, valid.ValidateGateway())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing addr", func(c *Config) { c.Server.HTTPAddr = "" }, "server.http_addr"},
		{"missing db path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"missing secret", func(c *Config) { c.Auth.SessionSecret = "" }, "auth.session_secret"},
		{"missing redis", func(c *Config) { c.Redis.Addr = "" }, "redis.addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *valid
			tt.mutate(&cfg)
			err := cfg.ValidateGateway()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateAgent(t *testing.T) {
	valid := &Config{
		Redis: RedisConfig{Addr: "localhost:6379"},
		Agent: AgentConfig{
			TenantID:   "tenant-a",
			AgentID:    "agent-1",
			Key:        "dgk_ab_cd",
			GatewayURL: "http://localhost:8080",
			StorePath:  "/tmp/agent.db",
		},
	}
	require.NoError(t, valid.ValidateAgent())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing tenant", func(c *Config) { c.Agent.TenantID = "" }, "agent.tenant_id"},
		{"missing agent id", func(c *Config) { c.Agent.AgentID = "" }, "agent.agent_id"},
		{"missing key", func(c *Config) { c.Agent.Key = "" }, "agent.key"},
		{"missing gateway url", func(c *Config) { c.Agent.GatewayURL = "" }, "agent.gateway_url"},
		{"missing store path", func(c *Config) { c.Agent.StorePath = "" }, "agent.store_path"},
		{"missing redis", func(c *Config) { c.Redis.Addr = "" }, "redis.addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *valid
			tt.mutate(&cfg)
			err := cfg.ValidateAgent()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
