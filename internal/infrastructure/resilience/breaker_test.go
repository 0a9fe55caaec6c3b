package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errFailed = errors.New("failed")

func outcome(success bool) func(context.Context) error {
	return func(context.Context) error {
		if success {
			return nil
		}
		return errFailed
	}
}

func tripAfter(n uint32) func(Counts) bool {
	return func(counts Counts) bool { return counts.ConsecutiveFailures >= n }
}

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name          string
		settings      Settings
		requests      []bool // true = success, false = failure
		expectedState State
	}{
		{
			name:          "stays closed on successes",
			settings:      Settings{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute},
			requests:      []bool{true, true, true},
			expectedState: StateClosed,
		},
		{
			name:          "opens after consecutive failures",
			settings:      Settings{Timeout: time.Minute, ReadyToTrip: tripAfter(3)},
			requests:      []bool{false, false, false},
			expectedState: StateOpen,
		},
		{
			name:          "success resets the streak",
			settings:      Settings{Timeout: time.Minute, ReadyToTrip: tripAfter(3)},
			requests:      []bool{false, false, true, false, false},
			expectedState: StateClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			breaker := New("test", tt.settings)
			ctx := context.Background()

			for _, success := range tt.requests {
				_ = breaker.Execute(ctx, outcome(success))
			}

			assert.Equal(t, tt.expectedState, breaker.State())
		})
	}
}

func TestBreakerCounts(t *testing.T) {
	breaker := New("test", Settings{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute})
	ctx := context.Background()

	require.NoError(t, breaker.Execute(ctx, outcome(true)))

	counts := breaker.Counts()
	assert.Equal(t, uint32(1), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalSuccesses)
	assert.Equal(t, uint32(1), counts.ConsecutiveSuccesses)
	assert.Equal(t, uint32(0), counts.TotalFailures)

	assert.ErrorIs(t, breaker.Execute(ctx, outcome(false)), errFailed)

	counts = breaker.Counts()
	assert.Equal(t, uint32(2), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalFailures)
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures)
	assert.Equal(t, uint32(0), counts.ConsecutiveSuccesses)
}

func TestBreakerIntervalClearsCounts(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	breaker := New("test", Settings{Interval: time.Minute, ReadyToTrip: tripAfter(2), Now: clock.Now})
	ctx := context.Background()

	_ = breaker.Execute(ctx, outcome(false))
	clock.Advance(2 * time.Minute)
	_ = breaker.Execute(ctx, outcome(false))

	assert.Equal(t, StateClosed, breaker.State())
	assert.Equal(t, uint32(1), breaker.Counts().ConsecutiveFailures)
}

func TestBreakerOpenState(t *testing.T) {
	breaker := New("bundle", Settings{Timeout: time.Minute, ReadyToTrip: tripAfter(2)})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_ = breaker.Execute(ctx, outcome(false))
	}
	assert.Equal(t, StateOpen, breaker.State())

	called := false
	err := breaker.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Contains(t, err.Error(), "bundle")
	assert.False(t, called)
}

func TestBreakerHalfOpenState(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	breaker := New("test", Settings{
		MaxRequests: 2,
		Timeout:     time.Second,
		ReadyToTrip: tripAfter(2),
		Now:         clock.Now,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_ = breaker.Execute(ctx, outcome(false))
	}
	assert.Equal(t, StateOpen, breaker.State())

	clock.Advance(2 * time.Second)
	assert.Equal(t, StateHalfOpen, breaker.State())

	for i := 0; i < 2; i++ {
		require.NoError(t, breaker.Execute(ctx, outcome(true)))
	}
	assert.Equal(t, StateClosed, breaker.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	breaker := New("test", Settings{Timeout: time.Second, ReadyToTrip: tripAfter(1), Now: clock.Now})
	ctx := context.Background()

	_ = breaker.Execute(ctx, outcome(false))
	clock.Advance(2 * time.Second)
	require.Equal(t, StateHalfOpen, breaker.State())

	_ = breaker.Execute(ctx, outcome(false))
	assert.Equal(t, StateOpen, breaker.State())
}

func TestBreakerCancellationIsNotFailure(t *testing.T) {
	breaker := New("test", Settings{ReadyToTrip: tripAfter(1)})

	err := breaker.Execute(context.Background(), func(context.Context) error {
		return context.Canceled
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, breaker.State())
}

func TestBreakerPanicCountsAsFailure(t *testing.T) {
	breaker := New("test", Settings{ReadyToTrip: tripAfter(1)})

	assert.Panics(t, func() {
		_ = breaker.Execute(context.Background(), func(context.Context) error {
			panic("boom")
		})
	})
	assert.Equal(t, StateOpen, breaker.State())
}

func TestCall(t *testing.T) {
	breaker := New("test", Settings{})

	v, err := Call(context.Background(), breaker, func(context.Context) (string, error) {
		return "prelude", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "prelude", v)

	v, err = Call(context.Background(), breaker, func(context.Context) (string, error) {
		return "partial", errFailed
	})
	assert.ErrorIs(t, err, errFailed)
	assert.Empty(t, v)
}

func TestBreakerCallbacks(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	var transitions []string

	breaker := New("test", Settings{
		Timeout:     10 * time.Millisecond,
		ReadyToTrip: tripAfter(2),
		Now:         clock.Now,
		OnStateChange: func(name string, from State, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	for i := 0; i < 2; i++ {
		_ = breaker.Execute(context.Background(), outcome(false))
	}
	clock.Advance(20 * time.Millisecond)

	assert.Equal(t, StateHalfOpen, breaker.State())
	assert.Equal(t, []string{"closed->open", "open->half-open"}, transitions)
}
