// Package session tracks the terminal connection behind each tab: whether it
// is connecting, live or failed, when to silently retry, and when the local
// server has gone quiet for long enough to give up.
package session

import (
	"time"

	"webterm/internal/identity"
)

// DefaultLoadTimeout is how long a navigation may stay outstanding before
// the session escalates a TimeoutError.
const DefaultLoadTimeout = 5 * time.Second

// Session is the per-tab record. All fields are owned by the Controller and
// guarded by its lock.
type Session struct {
	tabID     string
	state     State
	url       string
	title     string
	identity  *identity.Identity
	createdAt time.Time

	seq       uint64 // latest attempt
	retries   uint64
	committed bool

	deadline   time.Time
	timer      Timer
	timerToken uint64

	lastErr error
	closed  bool
}

// Snapshot is an immutable copy of a session for callers outside the lock.
type Snapshot struct {
	TabID     string
	State     State
	URL       string
	Title     string
	Attempt   uint64
	Retries   uint64
	Committed bool
	Armed     bool
	Deadline  time.Time
	CreatedAt time.Time
	LastError string
	// Fingerprint identifies the client certificate the session authenticates with.
	Fingerprint string
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		TabID:       s.tabID,
		State:       s.state,
		URL:         s.url,
		Title:       s.title,
		Attempt:     s.seq,
		Retries:     s.retries,
		Committed:   s.committed,
		Armed:       s.timer != nil,
		CreatedAt:   s.createdAt,
		Fingerprint: s.identity.Fingerprint(),
	}
	if snap.Armed {
		snap.Deadline = s.deadline
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	return snap
}
