package monitoring

import (
	"time"

	"github.com/GriffinCanCode/steptrace/internal/domain/session"
)

// Observer adapts Metrics to session.Observer.
type Observer struct {
	m *Metrics
}

var _ session.Observer = Observer{}

// SessionObserver returns the session lifecycle hook for these metrics.
func (m *Metrics) SessionObserver() Observer {
	return Observer{m: m}
}

func (o Observer) RunStarted() {
	o.m.RunsStarted.Inc()
	o.m.mu.Lock()
	o.m.snapshot.RunsStarted++
	o.m.mu.Unlock()
}

func (o Observer) RunFinished(outcome session.Outcome, duration time.Duration, frames int) {
	o.m.RunsFinished.WithLabelValues(string(outcome)).Inc()
	o.m.RunDuration.WithLabelValues(string(outcome)).Observe(duration.Seconds())
	if frames > 0 {
		o.m.TraceFrames.Observe(float64(frames))
	}
	o.m.mu.Lock()
	o.m.snapshot.RunsFinished++
	o.m.mu.Unlock()
}

func (o Observer) SessionsActive(n int) {
	o.m.SessionsActive.Set(float64(n))
	o.m.mu.Lock()
	o.m.snapshot.ActiveSessions = int64(n)
	o.m.mu.Unlock()
}
