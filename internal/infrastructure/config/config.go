package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Logging   LogConfig       `yaml:"logging" toml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	Sandbox   SandboxConfig   `yaml:"sandbox" toml:"sandbox"`
	Session   SessionConfig   `yaml:"session" toml:"session"`
	Cache     CacheConfig     `yaml:"cache" toml:"cache"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string   `envconfig:"PORT" yaml:"port" toml:"port"`
	Host         string   `envconfig:"HOST" yaml:"host" toml:"host"`
	AllowOrigins []string `envconfig:"CORS_ORIGINS" yaml:"allow_origins" toml:"allow_origins"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" yaml:"development" toml:"development"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" yaml:"rps" toml:"rps"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" yaml:"burst" toml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" yaml:"enabled" toml:"enabled"`
	// GlobalRPS caps the whole process, since every trace burns a goroutine
	// and a VM. 0 disables it.
	GlobalRPS int `envconfig:"RATE_LIMIT_GLOBAL_RPS" yaml:"global_rps" toml:"global_rps"`
}

// SandboxConfig holds interpreter limits and bootstrap settings.
type SandboxConfig struct {
	MaxCallStackSize int      `envconfig:"SANDBOX_MAX_CALL_STACK" yaml:"max_call_stack" toml:"max_call_stack"`
	MaxSteps         int      `envconfig:"SANDBOX_MAX_STEPS" yaml:"max_steps" toml:"max_steps"`
	MaxSourceBytes   int      `envconfig:"SANDBOX_MAX_SOURCE_BYTES" yaml:"max_source_bytes" toml:"max_source_bytes"`
	RunTimeout       Duration `envconfig:"SANDBOX_RUN_TIMEOUT" yaml:"run_timeout" toml:"run_timeout"`
	PoolSize         int      `envconfig:"SANDBOX_POOL_SIZE" yaml:"pool_size" toml:"pool_size"`
	BundleURL        string   `envconfig:"SANDBOX_BUNDLE_URL" yaml:"bundle_url" toml:"bundle_url"`
	BundleSHA256     string   `envconfig:"SANDBOX_BUNDLE_SHA256" yaml:"bundle_sha256" toml:"bundle_sha256"`
}

// SessionConfig holds debugger session settings.
type SessionConfig struct {
	IdleTTL     Duration `envconfig:"SESSION_IDLE_TTL" yaml:"idle_ttl" toml:"idle_ttl"`
	MaxSessions int      `envconfig:"SESSION_MAX" yaml:"max_sessions" toml:"max_sessions"`
	Cadence     Duration `envconfig:"PLAYBACK_CADENCE" yaml:"cadence" toml:"cadence"`
}

// CacheConfig holds the one-shot trace cache settings.
type CacheConfig struct {
	Enabled  bool  `envconfig:"CACHE_ENABLED" yaml:"enabled" toml:"enabled"`
	MaxBytes int64 `envconfig:"CACHE_MAX_BYTES" yaml:"max_bytes" toml:"max_bytes"`
}

// Load builds configuration from defaults, then the optional config file at
// path, then environment variables. Each layer overrides the one before.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.Sandbox.MaxSourceBytes <= 0 {
		return fmt.Errorf("sandbox max source bytes must be positive, got %d", c.Sandbox.MaxSourceBytes)
	}
	if c.Sandbox.MaxSteps < 0 {
		return fmt.Errorf("sandbox max steps must not be negative, got %d", c.Sandbox.MaxSteps)
	}
	if c.Sandbox.BundleURL != "" && c.Sandbox.BundleSHA256 == "" {
		return fmt.Errorf("sandbox bundle url requires a sha256 digest")
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Sandbox: SandboxConfig{
			MaxCallStackSize: 1024,
			MaxSteps:         20000,
			MaxSourceBytes:   64 << 10,
			PoolSize:         4,
		},
		Session: SessionConfig{
			IdleTTL:     Duration(30 * time.Minute),
			MaxSessions: 1000,
			Cadence:     Duration(700 * time.Millisecond),
		},
		Cache: CacheConfig{
			Enabled:  false,
			MaxBytes: 64 << 20,
		},
	}
}
