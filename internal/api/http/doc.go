// Package http provides HTTP handlers and routing for the steptrace REST API.
//
// This package implements all HTTP endpoints using the Gin framework: one-shot
// traces, debugger sessions and their playback controls, health and metrics.
//
// Endpoints:
//   - Health: / and /health
//   - Metrics: /metrics (Prometheus) and /metrics/json
//   - Trace: POST /trace
//   - Sessions: /sessions, /sessions/:id, /sessions/:id/frames
//   - Run: POST /sessions/:id/run
//   - Playback: POST /sessions/:id/{forward,back,play,pause,reset,stop}
//
// Sandbox failures are not HTTP errors: a run that could not be traced
// answers 200 with ok=false in the body. Domain errors map to status codes
// (unknown session 404, nothing loaded 409, oversized source 413).
//
// Example Usage:
//
//	handlers := http.NewHandlers(http.Options{Sessions: manager, Metrics: metrics})
//	handlers.Register(router)
//	handlers.RegisterMetrics(router)
package http
