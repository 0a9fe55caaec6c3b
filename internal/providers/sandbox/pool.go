package sandbox

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrPoolClosed = errors.New("sandbox pool is closed")
)

// Pool keeps bootstrapped runtimes ready so a run does not pay for the
// prelude. Runtimes are handed out once and never returned: every run gets
// an interpreter no other run has touched.
type Pool struct {
	config    Config
	sandboxes chan *Runtime
	size      int
	mu        sync.RWMutex
	closed    bool

	refill chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup

	created     atomic.Int64
	refillFails atomic.Int64
}

// NewPool creates a sandbox pool and pre-warms size runtimes.
func NewPool(config Config, size int) (*Pool, error) {
	if size <= 0 {
		size = 2
	}

	pool := &Pool{
		config:    config,
		sandboxes: make(chan *Runtime, size),
		size:      size,
		refill:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}

	// Pre-create sandboxes
	for i := 0; i < size; i++ {
		sandbox, err := pool.create(context.Background())
		if err != nil {
			pool.Close()
			return nil, err
		}
		pool.sandboxes <- sandbox
	}

	pool.wg.Add(1)
	go pool.fill()

	return pool, nil
}

func (p *Pool) create(ctx context.Context) (*Runtime, error) {
	sandbox, err := New(p.config)
	if err != nil {
		return nil, err
	}
	if err := sandbox.Bootstrap(ctx); err != nil {
		sandbox.Close()
		return nil, err
	}
	p.created.Add(1)
	return sandbox, nil
}

// Acquire takes a ready runtime, or bootstraps one if none is waiting. The
// caller owns the runtime and must Close it.
func (p *Pool) Acquire(ctx context.Context) (*Runtime, error) {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, ErrPoolClosed
	}

	defer p.signal()

	select {
	case sandbox := <-p.sandboxes:
		return sandbox, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return p.create(ctx)
}

func (p *Pool) signal() {
	select {
	case p.refill <- struct{}{}:
	default:
	}
}

// fill tops the pool back up whenever a runtime is taken.
func (p *Pool) fill() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case <-p.refill:
		}

		for len(p.sandboxes) < p.size {
			sandbox, err := p.create(context.Background())
			if err != nil {
				p.refillFails.Add(1)
				break
			}
			select {
			case p.sandboxes <- sandbox:
			case <-p.done:
				sandbox.Close()
				return
			default:
				sandbox.Close()
			}
		}
	}
}

// Close closes pool and all waiting sandboxes
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.done)
	p.wg.Wait()

	for {
		select {
		case sandbox := <-p.sandboxes:
			sandbox.Close()
		default:
			return nil
		}
	}
}

// Stats returns pool statistics
func (p *Pool) Stats() map[string]interface{} {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return map[string]interface{}{
		"size":         p.size,
		"available":    len(p.sandboxes),
		"created":      p.created.Load(),
		"refill_fails": p.refillFails.Load(),
		"closed":       p.closed,
	}
}
