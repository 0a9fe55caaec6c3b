// Package id mints the identifiers used across steptrace.
//
// Session, run and request IDs are prefixed ULIDs (sess_*, run_*, req_*).
// They sort by creation time, so listing sessions by ID lists them oldest
// first, and the prefix makes a stray ID in a log line easy to place.
//
// Worker messages use random UUIDs instead; they only need to be unique
// and are never sorted.
package id

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// SessionID identifies a debugger session
type SessionID string

// RunID identifies one trace run within a session
type RunID string

// RequestID identifies an API request
type RequestID string

func (id SessionID) String() string { return string(id) }
func (id RunID) String() string     { return string(id) }
func (id RequestID) String() string { return string(id) }

const (
	SessionPrefix = "sess"
	RunPrefix     = "run"
	RequestPrefix = "req"
)

// Monotonic entropy keeps IDs minted in the same millisecond ordered.
var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func mint(prefix string, now time.Time) string {
	entropyMu.Lock()
	u := ulid.MustNew(ulid.Timestamp(now), entropy)
	entropyMu.Unlock()
	return prefix + "_" + u.String()
}

// NewSessionID generates a new session ID
func NewSessionID() SessionID { return SessionID(mint(SessionPrefix, time.Now())) }

// NewRunID generates a new run ID
func NewRunID() RunID { return RunID(mint(RunPrefix, time.Now())) }

// NewRequestID generates a new request ID
func NewRequestID() RequestID { return RequestID(mint(RequestPrefix, time.Now())) }

// NewMessageID generates a random ID for a worker message
func NewMessageID() string {
	return uuid.NewString()
}

// Split separates a prefixed ID into its prefix and ULID.
func Split(s string) (string, ulid.ULID, error) {
	prefix, raw, ok := strings.Cut(s, "_")
	if !ok || prefix == "" {
		return "", ulid.ULID{}, fmt.Errorf("id %q has no prefix", s)
	}
	u, err := ulid.ParseStrict(raw)
	if err != nil {
		return "", ulid.ULID{}, fmt.Errorf("id %q: %w", s, err)
	}
	return prefix, u, nil
}

// Time reports when a prefixed ID was minted, to the millisecond.
func Time(s string) (time.Time, error) {
	_, u, err := Split(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()), nil
}
