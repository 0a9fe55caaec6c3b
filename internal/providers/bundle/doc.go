// Package bundle fetches the optional sandbox prelude from a remote URL.
//
// The download goes through resty on top of a go-retryablehttp client and is
// guarded by a resilience.Breaker. Gzip bodies are detected by magic bytes.
// The decoded text must match the configured SHA-256 digest before it is
// handed to sandbox.Config.Prelude.
package bundle
