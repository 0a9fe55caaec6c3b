// Command tracer traces JavaScript programs from the terminal.
//
// Usage:
//
//	# Print the full trace as JSON, YAML or TOML
//	tracer run fib.js --format yaml
//
//	# Step through the trace, re-running whenever the file is saved
//	tracer step fib.js --watch
//
// Logs go to stderr, or to --log-file, so trace output on stdout stays
// machine readable and the stepper's screen stays clean.
package main
