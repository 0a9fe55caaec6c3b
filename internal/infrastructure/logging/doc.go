// Package logging provides structured logging using uber/zap.
//
// Two output modes:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// The tracer CLI logs to stderr (CLIConfig) so that trace documents written
// to stdout can be piped into other tools.
//
// Example Usage:
//
//	logger, err := logging.New(logging.DefaultConfig())
//	logger.Info("Server starting", zap.String("port", "8000"))
//	sessions := logger.Component("session")
package logging
