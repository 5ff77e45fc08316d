package session

import (
	"errors"
	"fmt"
	"time"

	"webterm/internal/identity"
)

var (
	// ErrSessionTimeout matches every TimeoutError.
	ErrSessionTimeout = errors.New("terminal server did not respond before the load deadline")

	// ErrDuplicateTab matches every DuplicateTabError.
	ErrDuplicateTab = errors.New("tab already has a session")

	// ErrNavigation matches every NavigationError.
	ErrNavigation = errors.New("navigation failed")

	// ErrSessionClosed is returned by operations on a torn-down session.
	ErrSessionClosed = errors.New("session closed")

	// ErrNoURL is returned when reloading a session that never loaded anything.
	ErrNoURL = errors.New("session has no target url")
)

// ErrorKind classifies a navigation failure.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindConnectionRefused
	KindHostUnresolved
	KindTLSHandshakeFailed
	// KindTimeout is a timeout after the navigation already started,
	// not the session load deadline.
	KindTimeout
	KindBadResponse
	KindHTTPStatus
	KindIdentityUnavailable
	KindAborted
)

var kindNames = map[ErrorKind]string{
	KindUnknown:             "unknown",
	KindConnectionRefused:   "connection-refused",
	KindHostUnresolved:      "host-unresolved",
	KindTLSHandshakeFailed:  "tls-handshake-failed",
	KindTimeout:             "timeout-after-start",
	KindBadResponse:         "bad-response",
	KindHTTPStatus:          "http-status",
	KindIdentityUnavailable: "identity-unavailable",
	KindAborted:             "aborted",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Retryable reports whether the kind is one the local server produces while
// it is still starting up. Only these are retried.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindConnectionRefused, KindHostUnresolved, KindTLSHandshakeFailed, KindTimeout:
		return true
	}
	return false
}

// NavigationError is a failed navigation attempt.
type NavigationError struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *NavigationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("navigation to %s failed (%s): %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("navigation to %s failed (%s)", e.URL, e.Kind)
}

func (e *NavigationError) Unwrap() error { return e.Err }

func (e *NavigationError) Is(target error) bool { return target == ErrNavigation }

// Retryable mirrors Kind.Retryable.
func (e *NavigationError) Retryable() bool { return e.Kind.Retryable() }

// TimeoutError means the server neither committed nor painted before the
// load deadline. It is escalated, never retried.
type TimeoutError struct {
	TabID   string
	URL     string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("tab %s: %s did not load within %s", e.TabID, e.URL, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrSessionTimeout }

// DuplicateTabError is registry misuse: opening a tab id that is already open.
type DuplicateTabError struct {
	TabID string
}

func (e *DuplicateTabError) Error() string {
	return fmt.Sprintf("tab %s already has a session", e.TabID)
}

func (e *DuplicateTabError) Is(target error) bool { return target == ErrDuplicateTab }

// IsFatal reports whether err must escalate beyond the tab: a load deadline
// miss or anything wrapping an identity provisioning failure.
func IsFatal(err error) bool {
	if errors.Is(err, ErrSessionTimeout) || errors.Is(err, identity.ErrIdentityProvisioning) {
		return true
	}
	var nav *NavigationError
	if errors.As(err, &nav) && nav.Kind == KindIdentityUnavailable {
		return true
	}
	return false
}
