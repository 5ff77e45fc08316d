package surface

import (
	"errors"
	"fmt"
	"strings"

	"webterm/internal/session"
	"webterm/internal/trust"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// ReasonKind classifies a Chromium net error string such as
// "net::ERR_CONNECTION_REFUSED".
func ReasonKind(reason string) session.ErrorKind {
	code := strings.TrimPrefix(strings.TrimSpace(reason), "net::")
	switch {
	case code == "ERR_CONNECTION_REFUSED":
		return session.KindConnectionRefused
	case code == "ERR_NAME_NOT_RESOLVED", code == "ERR_NAME_RESOLUTION_FAILED":
		return session.KindHostUnresolved
	case strings.HasPrefix(code, "ERR_SSL_"),
		strings.HasPrefix(code, "ERR_CERT_"),
		code == "ERR_BAD_SSL_CLIENT_AUTH_CERT":
		return session.KindTLSHandshakeFailed
	case code == "ERR_TIMED_OUT", code == "ERR_CONNECTION_TIMED_OUT":
		return session.KindTimeout
	case code == "ERR_ABORTED":
		return session.KindAborted
	case code == "ERR_EMPTY_RESPONSE",
		code == "ERR_INVALID_RESPONSE",
		code == "ERR_INVALID_HTTP_RESPONSE",
		code == "ERR_CONNECTION_RESET",
		code == "ERR_CONNECTION_CLOSED":
		return session.KindBadResponse
	}
	return session.KindUnknown
}

// FailureReason picks the reason a hijacked request is failed with, so the
// page sees the same class of error the transport hit.
func FailureReason(kind session.ErrorKind) proto.NetworkErrorReason {
	switch kind {
	case session.KindConnectionRefused:
		return proto.NetworkErrorReasonConnectionRefused
	case session.KindHostUnresolved:
		return proto.NetworkErrorReasonNameNotResolved
	case session.KindTimeout:
		return proto.NetworkErrorReasonTimedOut
	case session.KindAborted:
		return proto.NetworkErrorReasonAborted
	case session.KindBadResponse:
		return proto.NetworkErrorReasonConnectionClosed
	case session.KindIdentityUnavailable:
		return proto.NetworkErrorReasonAccessDenied
	}
	return proto.NetworkErrorReasonFailed
}

// classifyNavigation prefers the transport error the hijack handler saw,
// since Chromium collapses several of them into one net error.
func classifyNavigation(err, transportErr error) session.ErrorKind {
	if transportErr != nil {
		return trust.Classify(transportErr)
	}
	var navErr *rod.NavigationError
	if errors.As(err, &navErr) {
		return ReasonKind(navErr.Reason)
	}
	return trust.Classify(err)
}

// isErrorPage reports whether a committed frame is Chromium's own error page.
func isErrorPage(frame *proto.PageFrame) bool {
	if frame == nil {
		return true
	}
	return frame.UnreachableURL != "" || strings.HasPrefix(frame.URL, "chrome-error://")
}

// StatusError is a navigation answered with an HTTP error status.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s answered HTTP %d", e.URL, e.Code)
}
