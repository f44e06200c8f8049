// ABOUTME: Configuration loading and parsing for the device gateway and agent
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete device-gateway configuration. The gateway
// and agent binaries each read the sections relevant to them.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Agent    AgentConfig    `yaml:"agent"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds gateway listen configuration. TrustedProxies lists the
// reverse proxy addresses or CIDR ranges whose X-Forwarded-For header the
// gate honors; leave it empty when agents connect directly.
type ServerConfig struct {
	HTTPAddr       string   `yaml:"http_addr"`
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// RedisConfig holds the message channel connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DatabaseConfig holds SQLite paths for either side.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds session token settings for the gate.
type AuthConfig struct {
	SessionSecret string        `yaml:"session_secret"`
	SessionTTL    time.Duration `yaml:"-"`
	SessionTTLRaw string        `yaml:"session_ttl"`
}

// DispatchConfig holds dispatcher timing and the reserved circuit-breaker
// fields. CircuitFailureThreshold and CircuitResetTimeout are parsed and
// validated but not enforced anywhere yet; they are RESERVED for a breaker
// in front of the channel.
type DispatchConfig struct {
	DefaultTimeout time.Duration `yaml:"-"`
	Grace          time.Duration `yaml:"-"`
	PresenceMaxAge time.Duration `yaml:"-"`

	DefaultTimeoutRaw string `yaml:"default_timeout"`
	GraceRaw          string `yaml:"grace"`
	PresenceMaxAgeRaw string `yaml:"presence_max_age"`

	// Reserved: no enforcement logic reads these yet.
	CircuitFailureThreshold int           `yaml:"circuit_failure_threshold"`
	CircuitResetTimeoutRaw  string        `yaml:"circuit_reset_timeout"`
	CircuitResetTimeout     time.Duration `yaml:"-"`
}

// AgentConfig holds agent-side identity and offline store settings.
type AgentConfig struct {
	TenantID   string `yaml:"tenant_id"`
	AgentID    string `yaml:"agent_id"`
	Key        string `yaml:"key"`
	GatewayURL string `yaml:"gateway_url"`
	StorePath  string `yaml:"store_path"`
	MaxQueued  int    `yaml:"max_queued"`

	RetentionDays        int           `yaml:"retention_days"`
	CleanupInterval      time.Duration `yaml:"-"`
	CleanupIntervalRaw   string        `yaml:"cleanup_interval"`
	HeartbeatInterval    time.Duration `yaml:"-"`
	HeartbeatIntervalRaw string        `yaml:"heartbeat_interval"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// ValidateGateway checks the fields the gateway binary requires.
func (c *Config) ValidateGateway() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Auth.SessionSecret == "" {
		return fmt.Errorf("auth.session_secret is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	return nil
}

// ValidateAgent checks the fields the agent binary requires.
func (c *Config) ValidateAgent() error {
	if c.Agent.TenantID == "" {
		return fmt.Errorf("agent.tenant_id is required")
	}
	if c.Agent.AgentID == "" {
		return fmt.Errorf("agent.agent_id is required")
	}
	if c.Agent.Key == "" {
		return fmt.Errorf("agent.key is required")
	}
	if c.Agent.GatewayURL == "" {
		return fmt.Errorf("agent.gateway_url is required")
	}
	if c.Agent.StorePath == "" {
		return fmt.Errorf("agent.store_path is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Auth.SessionTTLRaw, &cfg.Auth.SessionTTL, "auth.session_ttl"},
		{cfg.Dispatch.DefaultTimeoutRaw, &cfg.Dispatch.DefaultTimeout, "dispatch.default_timeout"},
		{cfg.Dispatch.GraceRaw, &cfg.Dispatch.Grace, "dispatch.grace"},
		{cfg.Dispatch.PresenceMaxAgeRaw, &cfg.Dispatch.PresenceMaxAge, "dispatch.presence_max_age"},
		{cfg.Dispatch.CircuitResetTimeoutRaw, &cfg.Dispatch.CircuitResetTimeout, "dispatch.circuit_reset_timeout"},
		{cfg.Agent.CleanupIntervalRaw, &cfg.Agent.CleanupInterval, "agent.cleanup_interval"},
		{cfg.Agent.HeartbeatIntervalRaw, &cfg.Agent.HeartbeatInterval, "agent.heartbeat_interval"},
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
