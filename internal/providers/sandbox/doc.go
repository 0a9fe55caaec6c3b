/*
Package sandbox runs user JavaScript inside an isolated goja runtime and
records an execution trace.

# Overview

Each Runtime owns one goja VM. Before a run the submitted source is parsed
and probes are woven into it:

  - a line probe in front of every statement
  - a call probe at the top of every function with a block body
  - a try/catch/finally around each such body reporting exceptions and returns

Probes are inserted on the same source line as the statement they precede, so
line numbers reported by the engine match what the user wrote. Every probe
produces one trace.Frame holding the location, the rendered locals and
globals, and the cumulative output printed so far.

The module itself is an activation too: the trace opens with a call frame for
<module> and a normal run closes with its return frame, which holds the final
globals and everything the program printed.

# Errors

A program that throws is still a successful trace: the traceback is written
to the captured output and a final exception frame closes the trace. Run
returns an error only when no trace could be produced (bootstrap failure,
step limit, interrupt).

# Lifecycle

	pool, _ := sandbox.NewPool(sandbox.DefaultConfig(), 2)
	rt, _ := pool.Acquire(ctx)
	defer rt.Close()

	result, err := rt.Run(ctx, "x = 1\nprint(x)")

Runtimes taken from a Pool are already bootstrapped and are used once.
Interrupt may be called from any goroutine to abort a run that never ends.
*/
package sandbox
