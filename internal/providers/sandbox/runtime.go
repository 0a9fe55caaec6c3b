package sandbox

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"

	"github.com/GriffinCanCode/steptrace/internal/domain/trace"
)

//go:embed prelude.js
var preludeSource string

var embeddedPrelude = sync.OnceValues(func() (*goja.Program, error) {
	return goja.Compile("<prelude>", preludeSource, false)
})

// maxTraceback bounds the number of activations printed for an uncaught error.
const maxTraceback = 32

// Runtime wraps goja VM with tracing hooks
type Runtime struct {
	vm     *goja.Runtime
	config Config

	bootOnce sync.Once
	bootErr  error
	baseline map[string]bool
	render   *Renderer

	// Serializes runs; the hook state below is only touched on the run goroutine.
	mu  sync.Mutex
	out *strings.Builder
	rec *recorder

	closed atomic.Bool
}

// New creates a new sandboxed runtime. The prelude is not evaluated until
// Bootstrap or the first Run.
func New(config Config) (*Runtime, error) {
	vm := goja.New()

	r := &Runtime{
		vm:     vm,
		config: config,
	}

	if config.MaxCallStackSize > 0 {
		vm.SetMaxCallStackSize(config.MaxCallStackSize)
	}

	if err := r.setupGlobals(); err != nil {
		return nil, err
	}

	return r, nil
}

// Bootstrap evaluates the prelude. It runs at most once per runtime; later
// calls return the first outcome.
func (r *Runtime) Bootstrap(ctx context.Context) error {
	if r.closed.Load() {
		return ErrClosed
	}
	r.bootOnce.Do(func() {
		r.bootErr = r.bootstrap(ctx)
	})
	return r.bootErr
}

func (r *Runtime) bootstrap(ctx context.Context) error {
	prg, err := r.prelude()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBootstrap, err)
	}

	// Capture builtins before any user visible code runs.
	r.render = NewRenderer(r.vm, r.config.Repr)

	stop := r.watch(ctx)
	_, err = r.vm.RunProgram(prg)
	stop()
	if err != nil {
		r.vm.ClearInterrupt()
		return fmt.Errorf("%w: %v", ErrBootstrap, err)
	}

	keys := r.vm.GlobalObject().Keys()
	r.baseline = make(map[string]bool, len(keys))
	for _, k := range keys {
		r.baseline[k] = true
	}
	return nil
}

func (r *Runtime) prelude() (*goja.Program, error) {
	if r.config.Prelude != "" {
		return goja.Compile("<prelude>", r.config.Prelude, false)
	}
	return embeddedPrelude()
}

// Run traces code. Errors raised by the program are part of the trace; an
// error is returned only when the sandbox could not produce one.
func (r *Runtime) Run(ctx context.Context, code string) (*Result, error) {
	if err := r.Bootstrap(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed.Load() {
		return nil, ErrClosed
	}

	start := time.Now()

	prog, err := Instrument(code)
	var syntaxErr *SyntaxError
	if errors.As(err, &syntaxErr) {
		return syntaxResult(syntaxErr, time.Since(start)), nil
	}
	if err != nil {
		return nil, err
	}

	rec := newRecorder(r.vm, prog, r.render, r.baseline, r.config.MaxSteps)
	release := r.acquire(rec)
	defer release()

	rec.enter()
	stop := r.watch(ctx)
	_, runErr := r.vm.RunProgram(prog.compiled)
	stop()

	uncaught, err := r.settle(rec, runErr)
	if err != nil {
		return nil, err
	}
	if !uncaught {
		rec.exit()
	}

	trace.Link(rec.frames)
	return &Result{
		Frames:   rec.frames,
		Stdout:   rec.stdout.String(),
		Uncaught: uncaught,
		Duration: time.Since(start),
	}, nil
}

// settle classifies the error RunProgram returned.
func (r *Runtime) settle(rec *recorder, runErr error) (bool, error) {
	if runErr == nil {
		return false, nil
	}

	var interrupted *goja.InterruptedError
	var overflow *goja.StackOverflowError
	var exception *goja.Exception

	switch {
	case errors.As(runErr, &interrupted):
		r.vm.ClearInterrupt()
		if errors.Is(runErr, ErrStepLimit) {
			return false, ErrStepLimit
		}
		if cause, ok := interrupted.Value().(error); ok {
			if errors.Is(cause, ErrInterrupted) {
				return false, cause
			}
			return false, fmt.Errorf("%w: %w", ErrInterrupted, cause)
		}
		return false, fmt.Errorf("%w: %v", ErrInterrupted, interrupted.Value())
	case errors.As(runErr, &overflow):
		rec.uncaught(nil, "RangeError: Maximum call stack size exceeded")
		return true, nil
	case errors.As(runErr, &exception):
		rec.uncaught(exception.Value(), "")
		return true, nil
	default:
		return false, fmt.Errorf("sandbox run: %w", runErr)
	}
}

func syntaxResult(se *SyntaxError, d time.Duration) *Result {
	stdout := "Uncaught " + se.Message + "\n"
	frames := []trace.Frame{{
		Step:     1,
		Event:    trace.EventException,
		File:     trace.UserFile,
		FuncName: trace.ModuleFunc,
		Line:     se.Line,
		Locals:   []trace.Var{},
		Globals:  []trace.Var{},
		Stdout:   stdout,
	}}
	trace.Link(frames)
	return &Result{Frames: frames, Stdout: stdout, Uncaught: true, Duration: d}
}

// acquire installs the recorder and stdout sink for one run. The returned
// release restores whatever was installed before.
func (r *Runtime) acquire(rec *recorder) (release func()) {
	prevOut, prevRec := r.out, r.rec
	r.out, r.rec = &rec.stdout, rec
	return func() {
		r.out, r.rec = prevOut, prevRec
	}
}

// watch interrupts the VM if ctx ends before stop is called. stop waits for
// the watcher to exit.
func (r *Runtime) watch(ctx context.Context) (stop func()) {
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			r.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}

// Interrupt aborts a run in progress from any goroutine. A runtime that is
// not running is interrupted as soon as it next runs.
func (r *Runtime) Interrupt(reason string) {
	r.vm.Interrupt(fmt.Errorf("%w: %s", ErrInterrupted, reason))
}

// Close releases resources
func (r *Runtime) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.vm.Interrupt(ErrClosed)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = nil
	r.rec = nil
	return nil
}

// ============================================================================
// Globals
// ============================================================================

// setupGlobals installs host builtins and the hidden probe object
func (r *Runtime) setupGlobals() error {
	if err := r.vm.Set("print", r.print); err != nil {
		return err
	}
	if err := r.vm.Set("repr", r.repr); err != nil {
		return err
	}

	if r.config.EnableConsole {
		console := r.vm.NewObject()
		for _, name := range []string{"log", "info", "warn", "error", "debug"} {
			if err := console.Set(name, r.print); err != nil {
				return err
			}
		}
		if err := r.vm.Set("console", console); err != nil {
			return err
		}
	}

	// No event loop: timers never fire.
	noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
	for _, name := range []string{"setTimeout", "setInterval", "clearTimeout", "clearInterval"} {
		if err := r.vm.Set(name, noop); err != nil {
			return err
		}
	}

	hook := r.vm.NewObject()
	probes := map[string]func(goja.FunctionCall) goja.Value{
		"module":    r.hookModule,
		"line":      r.hookLine,
		"call":      r.hookCall,
		"ret":       r.hookReturn,
		"exception": r.hookException,
	}
	for name, fn := range probes {
		if err := hook.Set(name, fn); err != nil {
			return err
		}
	}
	return r.vm.GlobalObject().DefineDataProperty(hookName, hook, goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)
}

func (r *Runtime) print(call goja.FunctionCall) goja.Value {
	if r.out == nil {
		return goja.Undefined()
	}
	r.silently(func() {
		for i, arg := range call.Arguments {
			if i > 0 {
				r.out.WriteByte(' ')
			}
			if goja.IsString(arg) {
				r.out.WriteString(arg.String())
			} else {
				r.out.WriteString(r.render.Repr(arg))
			}
		}
		r.out.WriteByte('\n')
	})
	return goja.Undefined()
}

func (r *Runtime) repr(call goja.FunctionCall) goja.Value {
	var s string
	r.silently(func() {
		s = r.render.Repr(call.Argument(0))
	})
	return r.vm.ToValue(s)
}

// silently runs f with probes muted, so user code reached while rendering
// does not produce frames.
func (r *Runtime) silently(f func()) {
	rec := r.rec
	if rec == nil {
		f()
		return
	}
	prev := rec.muted
	rec.muted = true
	defer func() { rec.muted = prev }()
	f()
}

func (r *Runtime) active() *recorder {
	if r.rec == nil || r.rec.muted {
		return nil
	}
	return r.rec
}

func (r *Runtime) hookModule(call goja.FunctionCall) goja.Value {
	if rec := r.active(); rec != nil {
		rec.onModule(call.Argument(0))
	}
	return goja.Undefined()
}

func (r *Runtime) hookLine(call goja.FunctionCall) goja.Value {
	if rec := r.active(); rec != nil {
		rec.onLine(argInt(call, 0), argInt(call, 1), argInt(call, 2), call.Argument(3))
	}
	return goja.Undefined()
}

func (r *Runtime) hookCall(call goja.FunctionCall) goja.Value {
	if rec := r.active(); rec != nil {
		rec.onCall(argInt(call, 0), argInt(call, 1), call.Argument(2))
	}
	return goja.Undefined()
}

func (r *Runtime) hookReturn(call goja.FunctionCall) goja.Value {
	if rec := r.active(); rec != nil {
		rec.onReturn(argInt(call, 0))
	}
	return goja.Undefined()
}

func (r *Runtime) hookException(call goja.FunctionCall) goja.Value {
	if rec := r.active(); rec != nil {
		rec.onException(argInt(call, 0), call.Argument(1))
	}
	return goja.Undefined()
}

func argInt(call goja.FunctionCall, i int) int {
	return int(call.Argument(i).ToInteger())
}
