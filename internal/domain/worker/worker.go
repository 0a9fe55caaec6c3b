package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/steptrace/internal/domain/trace"
	"github.com/GriffinCanCode/steptrace/internal/providers/sandbox"
	"github.com/GriffinCanCode/steptrace/internal/shared/id"
)

var (
	ErrTerminated = errors.New("worker terminated")
	ErrBusy       = errors.New("worker already has a request")
)

// Runner executes one traced program. *sandbox.Runtime satisfies it.
type Runner interface {
	Run(ctx context.Context, code string) (*sandbox.Result, error)
	Interrupt(reason string)
	Close() error
}

// Factory provides a private runner for a new worker. It is called on the
// worker goroutine, so slow bootstrap never blocks the owner.
type Factory func(ctx context.Context) (Runner, error)

// Worker runs exactly one request on its own goroutine. The owner talks to
// it only through encoded messages: one request in, at most one response out.
type Worker struct {
	id      string
	factory Factory
	logger  *zap.Logger

	inbox  chan []byte
	outbox chan []byte
	exited chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	runner     Runner
	terminated bool

	posted atomic.Bool
}

// Spawn starts a worker goroutine that waits for its single request.
func Spawn(factory Factory, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		id:      id.NewMessageID(),
		factory: factory,
		inbox:   make(chan []byte, 1),
		outbox:  make(chan []byte, 1),
		exited:  make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	w.logger = logger.With(zap.String("worker", w.id))
	go w.loop()
	return w
}

// ID returns the worker's identifier.
func (w *Worker) ID() string {
	return w.id
}

// Post sends the request. A worker accepts one request in its lifetime.
func (w *Worker) Post(req trace.Request) error {
	if !w.posted.CompareAndSwap(false, true) {
		return ErrBusy
	}
	if w.ctx.Err() != nil {
		return ErrTerminated
	}
	b, err := trace.EncodeRequest(req)
	if err != nil {
		return err
	}
	select {
	case w.inbox <- b:
		return nil
	case <-w.ctx.Done():
		return ErrTerminated
	}
}

// Await blocks until the worker replies. A reply that cannot be decoded is
// turned into a failed response rather than an error; the error return is
// reserved for termination and ctx.
func (w *Worker) Await(ctx context.Context) (trace.Response, error) {
	select {
	case b := <-w.outbox:
		resp, err := trace.DecodeResponse(b)
		if err != nil {
			w.logger.Warn("Discarding malformed response", zap.Error(err))
			return trace.Response{ID: resp.ID, OK: false, Error: trace.ErrMalformed.Error()}, nil
		}
		return resp, nil
	case <-w.ctx.Done():
		return trace.Response{}, ErrTerminated
	case <-ctx.Done():
		return trace.Response{}, ctx.Err()
	}
}

// Terminate interrupts the interpreter and abandons the worker regardless of
// what it is doing. Nothing it produces afterwards is delivered. Safe to call
// more than once.
func (w *Worker) Terminate() {
	w.mu.Lock()
	if w.terminated {
		w.mu.Unlock()
		return
	}
	w.terminated = true
	runner := w.runner
	w.mu.Unlock()

	w.cancel()
	if runner != nil {
		runner.Interrupt("terminated")
	}
	w.logger.Debug("Worker terminated")
}

// Done is closed once the worker goroutine has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.exited
}

func (w *Worker) loop() {
	defer close(w.exited)

	var raw []byte
	select {
	case raw = <-w.inbox:
	case <-w.ctx.Done():
		return
	}

	req, err := trace.DecodeRequest(raw)
	if err != nil {
		w.reply(trace.Response{ID: "invalid", OK: false, Error: err.Error()})
		return
	}

	resp := w.handle(req)
	w.reply(resp)
}

// handle converts every sandbox side failure, panics included, into a
// failed response.
func (w *Worker) handle(req trace.Request) (resp trace.Response) {
	defer func() {
		if x := recover(); x != nil {
			w.logger.Error("Sandbox panic", zap.Any("panic", x))
			resp = trace.Response{ID: req.ID, OK: false, Error: fmt.Sprintf("sandbox panic: %v", x)}
		}
	}()

	start := time.Now()
	runner, err := w.factory(w.ctx)
	if err != nil {
		return trace.Response{ID: req.ID, OK: false, Error: err.Error()}
	}
	defer runner.Close()

	if !w.attach(runner) {
		return trace.Response{ID: req.ID, OK: false, Error: ErrTerminated.Error()}
	}

	result, err := runner.Run(w.ctx, req.Code)
	if err != nil {
		w.logger.Debug("Run failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return trace.Response{ID: req.ID, OK: false, Error: err.Error()}
	}

	w.logger.Debug("Run finished",
		zap.Int("frames", len(result.Frames)),
		zap.Bool("uncaught", result.Uncaught),
		zap.Duration("duration", time.Since(start)))

	steps := trace.Success(result.Frames).Steps
	return trace.Response{ID: req.ID, OK: true, Steps: steps}
}

// attach publishes the runner so Terminate can interrupt it. It reports false
// if the worker was terminated while the runner was being created.
func (w *Worker) attach(runner Runner) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.terminated {
		return false
	}
	w.runner = runner
	return true
}

func (w *Worker) reply(resp trace.Response) {
	if w.ctx.Err() != nil {
		return
	}
	b, err := trace.EncodeResponse(resp)
	if err != nil {
		w.logger.Error("Failed to encode response", zap.Error(err))
		b, err = trace.EncodeResponse(trace.Response{ID: resp.ID, OK: false, Error: err.Error()})
		if err != nil {
			return
		}
	}
	w.outbox <- b
}
