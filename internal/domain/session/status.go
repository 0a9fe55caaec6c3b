package session

// Status is the lifecycle state a presentation surface shows.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusPlaying Status = "playing"
	StatusError   Status = "error"
)

// CanPlay reports whether playback operations make sense in this status.
func (s Status) CanPlay() bool {
	return s == StatusReady || s == StatusPlaying
}

// Outcome classifies a finished run for metrics and logs.
type Outcome string

const (
	OutcomeOK         Outcome = "ok"
	OutcomeUncaught   Outcome = "uncaught"
	OutcomeFailed     Outcome = "failed"
	OutcomeTimeout    Outcome = "timeout"
	OutcomeTerminated Outcome = "terminated"
)
