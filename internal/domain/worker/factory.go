package worker

import (
	"context"

	"github.com/GriffinCanCode/steptrace/internal/providers/sandbox"
)

// SandboxFactory bootstraps a fresh runtime for every worker.
func SandboxFactory(config sandbox.Config) Factory {
	return func(ctx context.Context) (Runner, error) {
		rt, err := sandbox.New(config)
		if err != nil {
			return nil, err
		}
		if err := rt.Bootstrap(ctx); err != nil {
			rt.Close()
			return nil, err
		}
		return rt, nil
	}
}

// PoolFactory hands each worker a pre-warmed runtime from pool.
func PoolFactory(pool *sandbox.Pool) Factory {
	return func(ctx context.Context) (Runner, error) {
		return pool.Acquire(ctx)
	}
}
