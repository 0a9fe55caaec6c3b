// Package server wires the steptrace components into an HTTP server.
//
// This package orchestrates all components:
//   - HTTP routing with Gin framework
//   - Middleware stack (recovery, tracing, metrics, CORS, rate limiting, body limit)
//   - Sandbox runtime factory, optionally backed by a prewarmed pool
//   - Prelude bundle download and verification
//   - Session manager with idle reaper
//   - Optional one-shot trace cache
//
// Server Lifecycle:
//  1. Load configuration (defaults, file, environment, flags)
//  2. Initialize logger, metrics and tracer
//  3. Fetch the prelude bundle if configured
//  4. Build the sandbox pool and session manager
//  5. Setup HTTP routes and middleware
//  6. Run until the context is cancelled, then shut the listener down
//  7. Close sessions, pool and cache
//
// Example Usage:
//
//	cfg, err := config.Load(path)
//	srv, err := server.NewServer(ctx, cfg)
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	srv.Close()
package server
