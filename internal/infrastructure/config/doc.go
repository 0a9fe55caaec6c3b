// Package config provides 12-factor configuration management for the steptrace backend.
//
// Configuration is layered: built-in defaults, then an optional YAML or TOML
// file, then environment variables. CLI flags can override the result for
// development flexibility.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host)
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting configuration
//   - Sandbox: Interpreter limits, worker pool and prelude bundle
//   - Session: Idle expiry, session cap and playback cadence
//   - Cache: One-shot trace cache
//
// Example Usage:
//
//	cfg, err := config.Load("steptrace.yaml")
//	fmt.Printf("Server running on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//
// Environment Variables:
//   - PORT, HOST
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
//   - SANDBOX_MAX_STEPS, SANDBOX_RUN_TIMEOUT, SANDBOX_POOL_SIZE, SANDBOX_BUNDLE_URL
//   - SESSION_IDLE_TTL, SESSION_MAX, PLAYBACK_CADENCE
//   - CACHE_ENABLED, CACHE_MAX_BYTES
package config
