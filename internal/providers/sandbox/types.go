package sandbox

import (
	"context"
	"errors"
	"time"

	"github.com/GriffinCanCode/steptrace/internal/domain/trace"
)

var (
	ErrBootstrap   = errors.New("sandbox bootstrap failed")
	ErrStepLimit   = errors.New("step limit exceeded")
	ErrInterrupted = errors.New("sandbox interrupted")
	ErrClosed      = errors.New("sandbox is closed")
)

// Config defines sandbox configuration
type Config struct {
	MaxCallStackSize int        // Maximum function call depth
	MaxSteps         int        // Frames recorded before the run is aborted, 0 for no limit
	Repr             ReprLimits // Display string limits
	EnableConsole    bool       // Route console.log/info/warn/error to stdout
	Prelude          string     // Replaces the embedded prelude when set
}

// ReprLimits bounds how much of a value is rendered.
type ReprLimits struct {
	Depth  int // Nesting depth before containers collapse
	Items  int // Elements shown per container
	String int // Characters shown per string
}

// Result holds the outcome of one traced run
type Result struct {
	Frames   []trace.Frame // Recorded frames, linked
	Stdout   string        // Final captured output
	Uncaught bool          // The program ended with an uncaught exception
	Duration time.Duration // Execution time
}

// Sandbox defines the traced execution interface
type Sandbox interface {
	Bootstrap(ctx context.Context) error
	Run(ctx context.Context, code string) (*Result, error)
	Interrupt(reason string)
	Close() error
}

// Default configuration
func DefaultConfig() Config {
	return Config{
		MaxCallStackSize: 1024,
		MaxSteps:         20000,
		Repr: ReprLimits{
			Depth:  3,
			Items:  50,
			String: 200,
		},
		EnableConsole: true,
	}
}
