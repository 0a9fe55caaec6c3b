package playback

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/steptrace/internal/domain/trace"
)

// DefaultCadence is the auto-play interval between frames.
const DefaultCadence = 700 * time.Millisecond

// State is a point-in-time view of the controller.
type State struct {
	Cursor  int          `json:"cursor"`
	Playing bool         `json:"playing"`
	Total   int          `json:"total"`
	Frame   *trace.Frame `json:"frame,omitempty"`
}

// AtEnd reports whether the cursor sits on the last frame.
func (s State) AtEnd() bool {
	return s.Total == 0 || s.Cursor == s.Total-1
}

// Controller moves a cursor over an immutable frame sequence.
//
// At most one ticker goroutine exists per controller. Any operation that
// supersedes auto-play stops it and waits for it to exit before returning,
// so a late tick can never move a cursor that has been reset or reloaded.
type Controller struct {
	clock   Clock
	cadence time.Duration

	mu      sync.Mutex
	frames  []trace.Frame
	cursor  int
	playing bool
	stop    chan struct{} // closed to halt the ticker
	exited  chan struct{} // closed when the ticker goroutine returns

	obsMu     sync.RWMutex
	observers []func(State)
}

// NewController creates a controller. A nil clock uses the real clock and a
// non-positive cadence uses DefaultCadence.
func NewController(clock Clock, cadence time.Duration) *Controller {
	if clock == nil {
		clock = RealClock{}
	}
	if cadence <= 0 {
		cadence = DefaultCadence
	}
	return &Controller{clock: clock, cadence: cadence}
}

// OnChange registers fn to run after every cursor or playing change. fn runs
// on the goroutine that made the change and must not call back into the
// controller.
func (c *Controller) OnChange(fn func(State)) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.observers = append(c.observers, fn)
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Frames returns the loaded sequence. Callers must not modify it.
func (c *Controller) Frames() []trace.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

// Load replaces the sequence with frames from a new run.
func (c *Controller) Load(frames []trace.Frame) State {
	return c.apply(true, func() {
		c.frames = frames
		c.cursor = 0
		c.playing = false
	})
}

// Reset moves to the first frame and stops playback.
func (c *Controller) Reset() State {
	return c.apply(true, func() {
		c.cursor = 0
		c.playing = false
	})
}

// Pause stops playback. Pausing a stopped controller changes nothing.
func (c *Controller) Pause() State {
	return c.apply(true, func() {
		c.playing = false
	})
}

// StepForward advances one frame; at the last frame it does nothing.
func (c *Controller) StepForward() State {
	return c.apply(false, func() {
		if c.cursor < len(c.frames)-1 {
			c.cursor++
		}
	})
}

// StepBack moves back one frame; at the first frame it does nothing.
func (c *Controller) StepBack() State {
	return c.apply(false, func() {
		if c.cursor > 0 {
			c.cursor--
		}
	})
}

// Play starts advancing one frame per cadence until the last frame, where
// playback stops by itself. It does nothing on an empty sequence, at the
// last frame, or while already playing.
func (c *Controller) Play() State {
	c.mu.Lock()
	if st := c.stateLocked(); c.playing || st.AtEnd() {
		c.mu.Unlock()
		return st
	}
	// A ticker that stopped itself at the end may still be exiting.
	wait := c.haltLocked()
	c.mu.Unlock()
	wait()

	c.mu.Lock()
	if st := c.stateLocked(); c.playing || st.AtEnd() {
		c.mu.Unlock()
		return st
	}
	c.playing = true
	stop := make(chan struct{})
	exited := make(chan struct{})
	c.stop, c.exited = stop, exited
	ticker := c.clock.NewTicker(c.cadence)
	st := c.stateLocked()
	c.mu.Unlock()

	c.notify(st)
	go c.run(ticker, stop, exited)
	return st
}

// Close stops any ticker. The controller may still be used afterwards.
func (c *Controller) Close() {
	c.Pause()
}

// apply runs change under the lock. With halt set the ticker is stopped
// first and joined before apply returns.
func (c *Controller) apply(halt bool, change func()) State {
	c.mu.Lock()
	wait := func() {}
	if halt {
		wait = c.haltLocked()
	}
	before := c.stateLocked()
	change()
	st := c.stateLocked()
	c.mu.Unlock()

	wait()
	changed := st.Cursor != before.Cursor || st.Playing != before.Playing || st.Total != before.Total
	if halt && st.Frame != before.Frame {
		changed = true
	}
	if changed {
		c.notify(st)
	}
	return st
}

// haltLocked signals the ticker to stop and returns a func that waits for it.
func (c *Controller) haltLocked() func() {
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	exited := c.exited
	c.exited = nil
	return func() {
		if exited != nil {
			<-exited
		}
	}
}

func (c *Controller) run(ticker Ticker, stop <-chan struct{}, exited chan struct{}) {
	defer close(exited)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
		}

		st, more, ok := c.tick(stop)
		if ok {
			c.notify(st)
		}
		if !more {
			return
		}
	}
}

func (c *Controller) tick(stop <-chan struct{}) (State, bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-stop:
		return State{}, false, false
	default:
	}

	if c.cursor < len(c.frames)-1 {
		c.cursor++
	}
	if c.cursor >= len(c.frames)-1 {
		c.playing = false
		close(c.stop)
		c.stop = nil
		return c.stateLocked(), false, true
	}
	return c.stateLocked(), true, true
}

func (c *Controller) stateLocked() State {
	st := State{Cursor: c.cursor, Playing: c.playing, Total: len(c.frames)}
	if c.cursor >= 0 && c.cursor < len(c.frames) {
		st.Frame = &c.frames[c.cursor]
	}
	return st
}

func (c *Controller) notify(st State) {
	c.obsMu.RLock()
	observers := c.observers
	c.obsMu.RUnlock()
	for _, fn := range observers {
		fn(st)
	}
}
