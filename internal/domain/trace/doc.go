// Package trace defines the step-debugger trace protocol.
//
// A run submits source text and receives a Result: either the ordered list of
// Frames recorded while the program executed, or an error describing why the
// sandbox itself could not produce one.
//
// Components:
//   - Frame / Var: one observed execution event and its rendered bindings
//   - Request / Response: the envelope exchanged with a sandbox worker
//   - Result: the discriminated ok/error outcome handed to playback
//   - Codec: msgpack at the worker boundary, JSON/YAML/TOML for callers
//
// Invariants:
//   - Steps are numbered 1..N with no gaps
//   - Stdout is a cumulative snapshot and never shrinks between steps
//   - Exactly one of Steps or Error is meaningful, selected by OK
//
// Example Usage:
//
//	res := trace.Success(frames)
//	if err := res.Validate(); err != nil {
//	    res = trace.Failure(trace.ErrMalformed.Error())
//	}
package trace
