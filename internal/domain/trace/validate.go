package trace

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed is reported when a worker reply cannot be trusted.
	ErrMalformed = errors.New("malformed response from sandbox")
)

// Validate checks the structural invariants of a result.
func (r Result) Validate() error {
	if !r.OK {
		if r.Error == "" {
			return fmt.Errorf("%w: failure without error message", ErrMalformed)
		}
		if len(r.Steps) > 0 {
			return fmt.Errorf("%w: failure carries steps", ErrMalformed)
		}
		return nil
	}

	if r.Error != "" {
		return fmt.Errorf("%w: success carries error", ErrMalformed)
	}

	prevLen := 0
	for i, f := range r.Steps {
		if f.Step != i+1 {
			return fmt.Errorf("%w: step %d at index %d", ErrMalformed, f.Step, i)
		}
		if !f.Event.Valid() {
			return fmt.Errorf("%w: unknown event %q at step %d", ErrMalformed, f.Event, f.Step)
		}
		if len(f.Stdout) < prevLen {
			return fmt.Errorf("%w: stdout shrank at step %d", ErrMalformed, f.Step)
		}
		prevLen = len(f.Stdout)
	}
	return nil
}

// Link fills NextLine and Highlight from the frame that follows each step.
// The final frame has no next line.
func Link(frames []Frame) {
	for i := range frames {
		frames[i].Highlight = Highlight{Current: frames[i].Line}
		frames[i].NextLine = nil
		if i+1 < len(frames) {
			next := frames[i+1].Line
			frames[i].NextLine = &next
			frames[i].Highlight.Next = &next
		}
	}
}
