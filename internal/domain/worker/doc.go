// Package worker runs trace requests off the caller's goroutine.
//
// A Worker is an actor: it owns a private sandbox runtime and exchanges
// msgpack-encoded messages with its owner over channels. It accepts one
// request, posts at most one response, and exits. Workers are never reused;
// a new run always gets a new worker.
//
// Lifecycle:
//  1. Spawn starts the goroutine
//  2. Post sends the request
//  3. Await blocks for the response
//  4. Terminate interrupts the interpreter and abandons the worker
//
// Example Usage:
//
//	w := worker.Spawn(worker.SandboxFactory(sandbox.DefaultConfig()), logger)
//	_ = w.Post(trace.Request{ID: id.NewMessageID(), Code: src})
//	resp, err := w.Await(ctx)
package worker
