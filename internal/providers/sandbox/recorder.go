package sandbox

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dop251/goja"

	"github.com/GriffinCanCode/steptrace/internal/domain/trace"
)

// activation is one live function invocation as seen by the probes.
type activation struct {
	fn     int
	line   int
	scope  int
	getter goja.Callable
}

// recorder receives probe callbacks for a single run and accumulates frames.
// All methods run on the interpreter goroutine.
type recorder struct {
	vm       *goja.Runtime
	prog     *Program
	render   *Renderer
	baseline map[string]bool
	maxSteps int

	stack  []*activation
	frames []trace.Frame
	stdout strings.Builder

	module goja.Callable
	muted  bool

	thrown   goja.Value
	thrownAt []activation
	limitHit bool
}

func newRecorder(vm *goja.Runtime, prog *Program, render *Renderer, baseline map[string]bool, maxSteps int) *recorder {
	return &recorder{
		vm:       vm,
		prog:     prog,
		render:   render,
		baseline: baseline,
		maxSteps: maxSteps,
		stack:    []*activation{{fn: 0, line: 1, scope: -1}},
	}
}

func (rec *recorder) top() *activation {
	return rec.stack[len(rec.stack)-1]
}

// sync makes fn the innermost activation. Generators and async functions
// suspend without running their finally blocks, so the stack is repaired
// from whichever function a probe reports.
func (rec *recorder) sync(fn int) {
	if rec.top().fn == fn {
		return
	}
	for i := len(rec.stack) - 1; i >= 0; i-- {
		if rec.stack[i].fn == fn {
			rec.stack = rec.stack[:i+1]
			return
		}
	}
	rec.push(fn)
}

func (rec *recorder) push(fn int) *activation {
	a := &activation{fn: fn, line: rec.function(fn).Line, scope: -1}
	rec.stack = append(rec.stack, a)
	return a
}

func (rec *recorder) function(fn int) Function {
	if fn >= 0 && fn < len(rec.prog.Functions) {
		return rec.prog.Functions[fn]
	}
	return Function{Name: "<anonymous>"}
}

// ============================================================================
// Probe callbacks
// ============================================================================

func (rec *recorder) onModule(getter goja.Value) {
	if fn, ok := goja.AssertFunction(getter); ok {
		rec.module = fn
	}
}

func (rec *recorder) onLine(line, fn, scope int, getter goja.Value) {
	rec.sync(fn)
	a := rec.top()
	a.line = line
	a.scope = scope
	a.getter, _ = goja.AssertFunction(getter)
	rec.emit(trace.EventLine)
}

func (rec *recorder) onCall(fn, scope int, getter goja.Value) {
	a := rec.push(fn)
	a.scope = scope
	a.getter, _ = goja.AssertFunction(getter)
	rec.emit(trace.EventCall)
}

func (rec *recorder) onReturn(fn int) {
	rec.sync(fn)
	rec.emit(trace.EventReturn)
	if len(rec.stack) > 1 {
		rec.stack = rec.stack[:len(rec.stack)-1]
	}
}

func (rec *recorder) onException(fn int, thrown goja.Value) {
	rec.sync(fn)
	if rec.thrown == nil || !rec.thrown.SameAs(thrown) {
		rec.thrown = thrown
		rec.thrownAt = rec.snapshotStack()
	}
	rec.emit(trace.EventException)
}

// enter records the module's call frame before any user code runs. Nothing
// is bound yet, so it carries no variables.
func (rec *recorder) enter() {
	rec.emit(trace.EventCall)
}

// exit records the module's return frame after a normal completion, so the
// final frame holds everything the program printed. It is not subject to the
// step limit: the run is already over and at most one such frame exists.
func (rec *recorder) exit() {
	rec.stack = rec.stack[:1]
	mod := rec.stack[0]
	mod.scope = -1
	mod.getter = nil
	rec.append(rec.frame(trace.EventReturn))
}

// uncaught records a top level failure: the traceback goes to stdout and a
// final exception frame closes the trace.
func (rec *recorder) uncaught(thrown goja.Value, message string) {
	stack := rec.snapshotStack()
	if thrown != nil && rec.thrown != nil && rec.thrown.SameAs(thrown) {
		stack = rec.thrownAt
	}
	if message == "" {
		rec.muted = true
		message = rec.render.Repr(thrown)
		rec.muted = false
	}

	rec.stdout.WriteString("Uncaught ")
	rec.stdout.WriteString(message)
	rec.stdout.WriteByte('\n')
	floor := 0
	if len(stack) > maxTraceback {
		floor = len(stack) - maxTraceback
	}
	for i := len(stack) - 1; i >= floor; i-- {
		a := stack[i]
		rec.stdout.WriteString("    at ")
		rec.stdout.WriteString(rec.function(a.fn).Name)
		rec.stdout.WriteString(" (")
		rec.stdout.WriteString(trace.UserFile)
		rec.stdout.WriteByte(':')
		rec.stdout.WriteString(strconv.Itoa(a.line))
		rec.stdout.WriteString(")\n")
	}
	if floor > 0 {
		rec.stdout.WriteString("    ... " + strconv.Itoa(floor) + " more\n")
	}

	rec.stack = rec.stack[:1]
	if len(stack) > 0 {
		rec.stack[0].line = stack[0].line
	}
	rec.append(rec.frame(trace.EventException))
}

func (rec *recorder) snapshotStack() []activation {
	out := make([]activation, len(rec.stack))
	for i, a := range rec.stack {
		out[i] = *a
	}
	return out
}

// ============================================================================
// Frames
// ============================================================================

func (rec *recorder) emit(event trace.Event) {
	if rec.muted || rec.limitHit {
		return
	}
	if rec.maxSteps > 0 && len(rec.frames) >= rec.maxSteps {
		rec.limitHit = true
		rec.vm.Interrupt(ErrStepLimit)
		return
	}
	rec.append(rec.frame(event))
}

func (rec *recorder) append(f trace.Frame) {
	f.Step = len(rec.frames) + 1
	rec.frames = append(rec.frames, f)
}

// frame captures the current state. A failure inside the capture itself is
// recorded as an internal frame rather than aborting the user program.
func (rec *recorder) frame(event trace.Event) (f trace.Frame) {
	defer func() {
		if x := recover(); x != nil {
			rec.muted = false
			f = trace.Frame{
				Event:    trace.EventException,
				File:     trace.InternalFile,
				FuncName: trace.TracerFunc,
				Line:     -1,
				Locals:   []trace.Var{},
				Globals:  []trace.Var{},
				Stdout:   rec.stdout.String(),
				Error:    fmt.Sprint(x),
			}
		}
	}()

	rec.muted = true
	defer func() { rec.muted = false }()

	a := rec.top()
	globals := rec.globals()
	var locals []trace.Var
	if a.fn == 0 {
		block := rec.scopeVars(a)
		shadowed := make(map[string]bool, len(block))
		for _, v := range block {
			shadowed[v.Name] = true
		}
		for _, v := range globals {
			if !shadowed[v.Name] {
				locals = append(locals, v)
			}
		}
		locals = append(locals, block...)
	} else {
		locals = rec.scopeVars(a)
	}
	if locals == nil {
		locals = []trace.Var{}
	}

	return trace.Frame{
		Event:    event,
		File:     trace.UserFile,
		FuncName: rec.function(a.fn).Name,
		Line:     a.line,
		Locals:   locals,
		Globals:  globals,
		Stdout:   rec.stdout.String(),
	}
}

func (rec *recorder) scopeVars(a *activation) []trace.Var {
	if a.getter == nil || a.scope < 0 || a.scope >= len(rec.prog.Scopes) {
		return nil
	}
	names := rec.prog.Scopes[a.scope]
	return rec.read(names, a.getter)
}

// read calls getter for each index. Bindings that throw (not yet
// initialized) are left out.
func (rec *recorder) read(names []string, getter goja.Callable) []trace.Var {
	out := make([]trace.Var, 0, len(names))
	for i, name := range names {
		v, err := getter(goja.Undefined(), rec.vm.ToValue(i))
		if err != nil {
			continue
		}
		out = append(out, rec.variable(name, v))
	}
	return out
}

func (rec *recorder) variable(name string, v goja.Value) trace.Var {
	return trace.Var{Name: name, Value: rec.render.Repr(v), Type: rec.render.TypeOf(v)}
}

// globals lists declared top level bindings followed by properties user code
// added to the global object, skipping anything present after bootstrap.
func (rec *recorder) globals() []trace.Var {
	out := []trace.Var{}
	seen := make(map[string]bool, len(rec.prog.Globals))
	if rec.module != nil {
		for i, name := range rec.prog.Globals {
			seen[name] = true
			v, err := rec.module(goja.Undefined(), rec.vm.ToValue(i))
			if err != nil {
				continue
			}
			out = append(out, rec.variable(name, v))
		}
	}

	global := rec.vm.GlobalObject()
	for _, key := range global.Keys() {
		if seen[key] || rec.baseline[key] || internalName(key) {
			continue
		}
		var v goja.Value
		if ex := rec.vm.Try(func() { v = global.Get(key) }); ex != nil {
			continue
		}
		out = append(out, rec.variable(key, v))
	}
	return out
}

func internalName(name string) bool {
	return strings.HasPrefix(name, "__")
}
