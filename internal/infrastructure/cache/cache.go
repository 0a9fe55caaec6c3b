package cache

import (
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/GriffinCanCode/steptrace/internal/domain/trace"
)

// TraceCache keeps finished one-shot results keyed by source digest.
// Entries are stored msgpack encoded so callers never share frame slices
// and the encoded length is the admission cost.
type TraceCache struct {
	store *ristretto.Cache[string, []byte]
}

// New creates a cache bounded by maxBytes of encoded results.
func New(maxBytes int64) (*TraceCache, error) {
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	store, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		// ~10x the expected entry count, assuming ~8KiB per trace
		NumCounters: max(maxBytes/(8<<10)*10, 1000),
		MaxCost:     maxBytes,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("create trace cache: %w", err)
	}
	return &TraceCache{store: store}, nil
}

// Get returns a cached result.
func (c *TraceCache) Get(key string) (trace.Result, bool) {
	b, ok := c.store.Get(key)
	if !ok {
		return trace.Result{}, false
	}
	var res trace.Result
	if err := msgpack.Unmarshal(b, &res); err != nil {
		c.store.Del(key)
		return trace.Result{}, false
	}
	return res, true
}

// Put stores a result. Only successful traces are cached: failures depend on
// timing (timeouts, termination) rather than on the source alone.
func (c *TraceCache) Put(key string, res trace.Result) bool {
	if !res.OK {
		return false
	}
	b, err := msgpack.Marshal(&res)
	if err != nil {
		return false
	}
	return c.store.Set(key, b, int64(len(b)))
}

// Wait blocks until buffered writes are applied.
func (c *TraceCache) Wait() {
	c.store.Wait()
}

// Stats reports hit and miss counters.
func (c *TraceCache) Stats() map[string]interface{} {
	m := c.store.Metrics
	return map[string]interface{}{
		"hits":     m.Hits(),
		"misses":   m.Misses(),
		"ratio":    m.Ratio(),
		"cost":     m.CostAdded() - m.CostEvicted(),
		"rejected": m.SetsRejected(),
	}
}

// Close releases the cache goroutines.
func (c *TraceCache) Close() {
	c.store.Close()
}
