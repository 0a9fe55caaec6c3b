// Package middleware provides HTTP middleware for the steptrace API.
//
// Middleware stack includes:
//   - CORS: Cross-origin resource sharing with configurable origins
//   - RateLimit: Per-IP token bucket rate limiting with idle client sweep
//   - GlobalRateLimit: One bucket for the whole process
//   - BodyLimit: Request body cap ahead of source validation
//
// Example Usage:
//
//	router.Use(middleware.CORS(middleware.CORSFromOrigins(cfg.Server.AllowOrigins)))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
