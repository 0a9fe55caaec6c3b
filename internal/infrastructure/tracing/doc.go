/*
Package tracing provides lightweight request tracing for debugging production issues.

# Overview

Spans follow OpenTelemetry concepts with a minimal implementation: each span
carries a trace ID, its own span ID and its parent, and completed spans are
written to the structured log by a background collector.

# Usage

	tracer := tracing.New("steptrace", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	// Manual span around a sandbox run
	span, ctx := tracer.StartSpan(ctx, "sandbox.run")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()
	span.SetTag("session", id)

# Trace Format

Traces use standard HTTP headers for propagation:
  - X-Trace-ID: Unique identifier for entire request flow
  - X-Span-ID: Identifier for current operation
*/
package tracing
