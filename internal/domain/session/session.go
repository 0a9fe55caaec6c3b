package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/steptrace/internal/domain/playback"
	"github.com/GriffinCanCode/steptrace/internal/domain/trace"
	"github.com/GriffinCanCode/steptrace/internal/domain/worker"
	"github.com/GriffinCanCode/steptrace/internal/shared/id"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNoFrames        = errors.New("no trace loaded")
	ErrTerminated      = errors.New("run terminated")
	ErrClosed          = errors.New("session closed")
	ErrTooManySessions = errors.New("too many sessions")
)

// TimeoutMessage is the failure reported when a run exceeds RunTimeout.
const TimeoutMessage = "execution timed out"

// Observer receives run lifecycle events. The monitoring package implements
// it for Prometheus.
type Observer interface {
	RunStarted()
	RunFinished(outcome Outcome, duration time.Duration, frames int)
	SessionsActive(n int)
}

type nopObserver struct{}

func (nopObserver) RunStarted()                             {}
func (nopObserver) RunFinished(Outcome, time.Duration, int) {}
func (nopObserver) SessionsActive(int)                      {}

// Options configures sessions.
type Options struct {
	Factory    worker.Factory
	Logger     *zap.Logger
	Observer   Observer
	Clock      playback.Clock
	Cadence    time.Duration
	RunTimeout time.Duration // 0 disables the deadline
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	return o
}

// Snapshot is what a presentation surface renders.
type Snapshot struct {
	ID        id.SessionID `json:"id"`
	Status    Status       `json:"status"`
	RunID     id.RunID     `json:"runId,omitempty"`
	Cursor    int          `json:"cursor"`
	Step      int          `json:"step"`
	Total     int          `json:"total"`
	Playing   bool         `json:"playing"`
	Frame     *trace.Frame `json:"frame,omitempty"`
	Error     string       `json:"error,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// Session pairs one worker lifecycle with one playback controller.
//
// Two locks: runMu serializes Start, Terminate, Close and the settling of a
// run, and is held while calling into the worker and the controller. mu
// guards the fields below it and is never held across those calls, so
// controller observers can read a snapshot at any time.
type Session struct {
	id      id.SessionID
	opts    Options
	logger  *zap.Logger
	player  *playback.Controller
	created time.Time
	touched atomic.Int64

	runMu sync.Mutex

	mu     sync.RWMutex
	status Status
	runID  id.RunID
	reqID  string
	worker *worker.Worker
	result *trace.Result
	done   chan struct{}
	closed bool

	lisMu     sync.RWMutex
	listeners map[int]func(Snapshot)
	nextLis   int
}

// New creates an idle session.
func New(opts Options) *Session {
	opts = opts.withDefaults()
	s := &Session{
		id:        id.NewSessionID(),
		opts:      opts,
		player:    playback.NewController(opts.Clock, opts.Cadence),
		created:   time.Now(),
		status:    StatusIdle,
		listeners: make(map[int]func(Snapshot)),
	}
	s.logger = opts.Logger.With(zap.String("session", s.id.String()))
	s.touch()
	s.player.OnChange(func(playback.State) { s.emit() })
	return s
}

// ID returns the session identifier.
func (s *Session) ID() id.SessionID {
	return s.id
}

// Start tears down any outstanding run and starts a new one on a fresh
// worker. It returns once the request is posted; use Wait for the result.
func (s *Session) Start(code string) (id.RunID, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return "", ErrClosed
	}

	s.stopLocked()
	s.touch()

	runID := id.NewRunID()
	req := trace.Request{ID: id.NewMessageID(), Code: code}
	w := worker.Spawn(s.opts.Factory, s.logger.With(zap.String("run", runID.String())))
	if err := w.Post(req); err != nil {
		w.Terminate()
		return "", err
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.status = StatusLoading
	s.runID = runID
	s.reqID = req.ID
	s.worker = w
	s.result = nil
	s.done = done
	s.mu.Unlock()

	s.opts.Observer.RunStarted()
	s.logger.Info("Run started", zap.String("run", runID.String()), zap.Int("source_bytes", len(code)))
	go s.await(runID, req.ID, w)

	s.emit()
	return runID, nil
}

// Run starts a run and waits for its result.
func (s *Session) Run(ctx context.Context, code string) (trace.Result, error) {
	if _, err := s.Start(code); err != nil {
		return trace.Result{}, err
	}
	return s.Wait(ctx)
}

// Wait blocks until the current run settles. It returns ErrTerminated if the
// run is terminated or superseded first, and ErrNoFrames if nothing was
// ever started.
func (s *Session) Wait(ctx context.Context) (trace.Result, error) {
	s.mu.RLock()
	runID, done, result := s.runID, s.done, s.result
	s.mu.RUnlock()

	if done == nil {
		if result != nil {
			return *result, nil
		}
		return trace.Result{}, ErrNoFrames
	}

	select {
	case <-done:
	case <-ctx.Done():
		return trace.Result{}, ctx.Err()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.runID != runID || s.result == nil {
		return trace.Result{}, ErrTerminated
	}
	return *s.result, nil
}

// Terminate abandons the outstanding run, if any, and returns to idle.
// Calling it again does nothing.
func (s *Session) Terminate() {
	s.runMu.Lock()
	stopped := s.stopLocked()
	s.runMu.Unlock()

	if stopped {
		s.emit()
	}
}

// Close terminates the session for good.
func (s *Session) Close() {
	s.runMu.Lock()
	s.stopLocked()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.player.Close()
	s.runMu.Unlock()
	s.logger.Debug("Session closed")
}

// stopLocked terminates the current worker and clears the run. runMu must be
// held. It reports whether anything changed.
func (s *Session) stopLocked() bool {
	s.mu.Lock()
	w, done, status := s.worker, s.done, s.status
	changed := status != StatusIdle || s.result != nil
	s.worker = nil
	s.done = nil
	s.runID = ""
	s.reqID = ""
	s.result = nil
	s.status = StatusIdle
	s.mu.Unlock()

	if w != nil {
		w.Terminate()
		s.opts.Observer.RunFinished(OutcomeTerminated, 0, 0)
		s.logger.Info("Run terminated")
	}
	if done != nil {
		close(done)
	}
	s.player.Load(nil)
	return changed
}

// await waits for the worker and settles the run it belongs to.
func (s *Session) await(runID id.RunID, reqID string, w *worker.Worker) {
	ctx := context.Background()
	if s.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RunTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := w.Await(ctx)

	var res trace.Result
	outcome := OutcomeFailed
	switch {
	case errors.Is(err, worker.ErrTerminated):
		return
	case errors.Is(err, context.DeadlineExceeded):
		w.Terminate()
		res = trace.Failure(TimeoutMessage)
		outcome = OutcomeTimeout
	case err != nil:
		res = trace.Failure(err.Error())
	case resp.ID != reqID:
		s.logger.Warn("Response for another request", zap.String("want", reqID), zap.String("got", resp.ID))
		res = trace.Failure(trace.ErrMalformed.Error())
	default:
		res = resp.Result()
		if res.OK {
			res = trace.Success(res.Steps)
			outcome = OutcomeOK
			if last, ok := res.Last(); ok && last.Event == trace.EventException {
				outcome = OutcomeUncaught
			}
		}
	}

	s.settle(runID, res, outcome, time.Since(start))
}

func (s *Session) settle(runID id.RunID, res trace.Result, outcome Outcome, elapsed time.Duration) {
	s.runMu.Lock()

	s.mu.RLock()
	current, done := s.runID, s.done
	s.mu.RUnlock()
	if current != runID {
		s.runMu.Unlock()
		s.logger.Debug("Dropping stale response", zap.String("run", runID.String()))
		return
	}

	if res.OK {
		s.player.Load(res.Steps)
	}

	s.mu.Lock()
	s.result = &res
	s.worker = nil
	s.done = nil
	if res.OK {
		s.status = StatusReady
	} else {
		s.status = StatusError
	}
	s.mu.Unlock()
	s.runMu.Unlock()

	s.opts.Observer.RunFinished(outcome, elapsed, len(res.Steps))
	s.logger.Info("Run finished",
		zap.String("run", runID.String()),
		zap.String("outcome", string(outcome)),
		zap.Int("frames", len(res.Steps)),
		zap.Duration("duration", elapsed))
	s.emit()
	close(done)
}

// ============================================================================
// Playback
// ============================================================================

// Forward moves to the next frame.
func (s *Session) Forward() (Snapshot, error) { return s.control(s.player.StepForward) }

// Back moves to the previous frame.
func (s *Session) Back() (Snapshot, error) { return s.control(s.player.StepBack) }

// Play starts auto-play.
func (s *Session) Play() (Snapshot, error) { return s.control(s.player.Play) }

// Pause stops auto-play.
func (s *Session) Pause() (Snapshot, error) { return s.control(s.player.Pause) }

// Reset rewinds to the first frame.
func (s *Session) Reset() (Snapshot, error) { return s.control(s.player.Reset) }

func (s *Session) control(op func() playback.State) (Snapshot, error) {
	s.touch()
	if !s.Status().CanPlay() {
		return s.Snapshot(), ErrNoFrames
	}
	op()
	return s.Snapshot(), nil
}

// Frames returns the loaded trace.
func (s *Session) Frames() []trace.Frame {
	return s.player.Frames()
}

// ============================================================================
// State
// ============================================================================

// Status returns the current status. A ready session whose controller is
// auto-playing reports StatusPlaying.
func (s *Session) Status() Status {
	s.mu.RLock()
	status := s.status
	s.mu.RUnlock()
	if status == StatusReady && s.player.State().Playing {
		return StatusPlaying
	}
	return status
}

// Snapshot returns the session's current view.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	snap := Snapshot{
		ID:        s.id,
		Status:    s.status,
		RunID:     s.runID,
		CreatedAt: s.created,
		UpdatedAt: time.Unix(0, s.touched.Load()),
	}
	if s.result != nil && !s.result.OK {
		snap.Error = s.result.Error
	}
	s.mu.RUnlock()

	if snap.Status == StatusReady {
		st := s.player.State()
		snap.Cursor = st.Cursor
		snap.Total = st.Total
		snap.Playing = st.Playing
		snap.Frame = st.Frame
		if st.Total > 0 {
			snap.Step = st.Cursor + 1
		}
		if st.Playing {
			snap.Status = StatusPlaying
		}
	}
	return snap
}

// Subscribe registers fn to receive a snapshot after every change. fn must
// not block. The returned func removes it.
func (s *Session) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.lisMu.Lock()
	key := s.nextLis
	s.nextLis++
	s.listeners[key] = fn
	s.lisMu.Unlock()

	return func() {
		s.lisMu.Lock()
		delete(s.listeners, key)
		s.lisMu.Unlock()
	}
}

func (s *Session) emit() {
	s.lisMu.RLock()
	if len(s.listeners) == 0 {
		s.lisMu.RUnlock()
		return
	}
	fns := make([]func(Snapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.lisMu.RUnlock()

	snap := s.Snapshot()
	for _, fn := range fns {
		fn(snap)
	}
}

func (s *Session) touch() {
	s.touched.Store(time.Now().UnixNano())
}

// IdleSince reports when the session was last used.
func (s *Session) IdleSince() time.Time {
	return time.Unix(0, s.touched.Load())
}
