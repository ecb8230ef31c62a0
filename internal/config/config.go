package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration. Zero values are replaced by
// defaults in Default(); YAML fields override defaults; environment
// variables override YAML.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	DevMode  bool           `yaml:"dev_mode"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

// RedisConfig configures the optional durable store. When Addr is empty the
// relay runs purely in memory.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DispatchConfig holds the dispatch engine tunables. Every field defaults to
// the package constant of the same name.
type DispatchConfig struct {
	Strategy        string   `yaml:"strategy"`
	FallbackEnabled bool     `yaml:"fallback_enabled"`
	Endpoints       []string `yaml:"endpoints"`

	MaxRetries              int   `yaml:"max_retries"`
	DefaultCooldownMs       int64 `yaml:"default_cooldown_ms"`
	ExtendedCooldownMs      int64 `yaml:"extended_cooldown_ms"`
	MaxConsecutiveFailures  int   `yaml:"max_consecutive_failures"`
	MaxCapacityRetries      int   `yaml:"max_capacity_retries"`
	CapacityRetryDelayMs    int64 `yaml:"capacity_retry_delay_ms"`
	RateLimitDedupWindowMs  int64 `yaml:"rate_limit_dedup_window_ms"`
	MaxWaitBeforeErrorMs    int64 `yaml:"max_wait_before_error_ms"`
	MaxEmptyResponseRetries int   `yaml:"max_empty_response_retries"`
	EmptyResponseBackoffMs  int64 `yaml:"empty_response_backoff_ms"`
	ServerErrorRetryDelayMs int64 `yaml:"server_error_retry_delay_ms"`
}

// Default returns a configuration with every tunable at its default.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8787,
		},
		Dispatch: DispatchConfig{
			Strategy:                "sticky",
			FallbackEnabled:         true,
			Endpoints:               append([]string(nil), EndpointFallbacks...),
			MaxRetries:              MaxRetries,
			DefaultCooldownMs:       DefaultCooldownMs,
			ExtendedCooldownMs:      ExtendedCooldownMs,
			MaxConsecutiveFailures:  MaxConsecutiveFailures,
			MaxCapacityRetries:      MaxCapacityRetries,
			CapacityRetryDelayMs:    CapacityRetryDelayMs,
			RateLimitDedupWindowMs:  RateLimitDedupWindowMs,
			MaxWaitBeforeErrorMs:    MaxWaitBeforeErrorMs,
			MaxEmptyResponseRetries: MaxEmptyResponseRetries,
			EmptyResponseBackoffMs:  EmptyResponseBackoffMs,
			ServerErrorRetryDelayMs: ServerErrorRetryDelayMs,
		},
	}
}

// Load reads a YAML config file, expanding ${VAR} references from the
// environment. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else {
			expanded := []byte(os.ExpandEnv(string(data)))
			if err := yaml.Unmarshal(expanded, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies environment overrides on top of file values.
func (c *Config) applyEnv() {
	if v := os.Getenv("RELAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("RELAY_API_KEY"); v != "" {
		c.Server.APIKey = v
	}
	if v := os.Getenv("RELAY_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("RELAY_STRATEGY"); v != "" {
		c.Dispatch.Strategy = v
	}
	if v := os.Getenv("RELAY_DEBUG"); v == "1" || v == "true" {
		c.DevMode = true
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Dispatch.Strategy {
	case "sticky", "round-robin", "hybrid":
	default:
		return fmt.Errorf("unknown strategy %q (want sticky, round-robin or hybrid)", c.Dispatch.Strategy)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if len(c.Dispatch.Endpoints) == 0 {
		return fmt.Errorf("dispatch.endpoints must not be empty")
	}
	if c.Dispatch.MaxRetries < 1 {
		return fmt.Errorf("dispatch.max_retries must be >= 1")
	}
	return nil
}
