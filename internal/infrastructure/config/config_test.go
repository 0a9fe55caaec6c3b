package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Server config
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	// Logging config
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	// Rate limit config
	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)

	// Sandbox config
	assert.Equal(t, 20000, cfg.Sandbox.MaxSteps)
	assert.Equal(t, 64<<10, cfg.Sandbox.MaxSourceBytes)
	assert.Zero(t, cfg.Sandbox.RunTimeout)

	// Session config
	assert.Equal(t, 700*time.Millisecond, cfg.Session.Cadence.Std())
	assert.Equal(t, 30*time.Minute, cfg.Session.IdleTTL.Std())

	require.NoError(t, cfg.Validate())
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                "9000",
		"HOST":                "127.0.0.1",
		"LOG_LEVEL":           "debug",
		"LOG_DEV":             "true",
		"RATE_LIMIT_RPS":      "500",
		"RATE_LIMIT_BURST":    "1000",
		"RATE_LIMIT_ENABLED":  "false",
		"SANDBOX_MAX_STEPS":   "500",
		"SANDBOX_RUN_TIMEOUT": "5s",
		"PLAYBACK_CADENCE":    "250ms",
		"CACHE_ENABLED":       "true",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, 500, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 1000, cfg.RateLimit.Burst)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 500, cfg.Sandbox.MaxSteps)
	assert.Equal(t, 5*time.Second, cfg.Sandbox.RunTimeout.Std())
	assert.Equal(t, 250*time.Millisecond, cfg.Session.Cadence.Std())
	assert.True(t, cfg.Cache.Enabled)
}

func TestLoadWithPartialEnvironmentVariables(t *testing.T) {
	t.Setenv("PORT", "3000")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)

	// Verify overridden values
	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)

	// Verify default values still apply
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 20000, cfg.Sandbox.MaxSteps)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "yaml",
			file: "steptrace.yaml",
			content: `server:
  port: "7000"
sandbox:
  max_steps: 42
  run_timeout: 3s
session:
  cadence: 100ms
`,
		},
		{
			name: "toml",
			file: "steptrace.toml",
			content: `[server]
port = "7000"

[sandbox]
max_steps = 42
run_timeout = "3s"

[session]
cadence = "100ms"
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			cfg, err := Load(path)
			require.NoError(t, err)

			assert.Equal(t, "7000", cfg.Server.Port)
			assert.Equal(t, 42, cfg.Sandbox.MaxSteps)
			assert.Equal(t, 3*time.Second, cfg.Sandbox.RunTimeout.Std())
			assert.Equal(t, 100*time.Millisecond, cfg.Session.Cadence.Std())

			// Untouched sections keep their defaults
			assert.Equal(t, "0.0.0.0", cfg.Server.Host)
			assert.Equal(t, 64<<10, cfg.Sandbox.MaxSourceBytes)
		})
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "steptrace.yml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: \"7000\"\n"), 0o600))
	t.Setenv("PORT", "7100")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7100", cfg.Server.Port)
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	ini := filepath.Join(dir, "steptrace.ini")
	require.NoError(t, os.WriteFile(ini, []byte("port=1"), 0o600))
	_, err = Load(ini)
	assert.ErrorContains(t, err, "unsupported")

	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[sandbox]\nrun_timeout = \"soon\"\n"), 0o600))
	_, err = Load(bad)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "zero source limit", mutate: func(c *Config) { c.Sandbox.MaxSourceBytes = 0 }, wantErr: true},
		{name: "negative steps", mutate: func(c *Config) { c.Sandbox.MaxSteps = -1 }, wantErr: true},
		{name: "bundle without digest", mutate: func(c *Config) { c.Sandbox.BundleURL = "https://example.com/p.js" }, wantErr: true},
		{
			name: "bundle with digest",
			mutate: func(c *Config) {
				c.Sandbox.BundleURL = "https://example.com/p.js"
				c.Sandbox.BundleSHA256 = "00"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDuration(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte(" 1m30s ")))
	assert.Equal(t, 90*time.Second, d.Std())

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))

	assert.Error(t, d.UnmarshalText([]byte("ninety")))
}
