// Package main is the entry point for the steptrace debugger backend.
//
// The server traces JavaScript programs in an instrumented goja sandbox and
// serves the recorded frames for step-by-step playback.
//
// Architecture:
//
//	Browser → REST / WebSocket → Session (worker + playback controller)
//	                                   → Sandbox worker (goja, one per run)
//
// The server provides:
//   - POST /trace for one-shot traces
//   - Debugger sessions with forward, back, play, pause, reset and stop
//   - WebSocket session streaming at /sessions/ws
//   - Prometheus metrics, rate limiting and source validation
//
// Configuration:
//   - Defaults, then an optional -config file (YAML or TOML)
//   - Environment variables (12-factor) override the file
//   - CLI flags override both
//
// Usage:
//
//	# Production mode
//	./server -config steptrace.yaml
//
//	# Development mode (colored logs, debug level)
//	./server -dev -port 8080
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
