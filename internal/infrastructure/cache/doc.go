// Package cache provides the optional one-shot trace cache, backed by
// ristretto. Keys come from utils.Hasher.SourceKey.
package cache
