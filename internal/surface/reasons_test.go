package surface

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"webterm/internal/identity"
	"webterm/internal/session"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
)

func TestReasonKind(t *testing.T) {
	tests := map[string]session.ErrorKind{
		"net::ERR_CONNECTION_REFUSED":         session.KindConnectionRefused,
		"ERR_CONNECTION_REFUSED":              session.KindConnectionRefused,
		"net::ERR_NAME_NOT_RESOLVED":          session.KindHostUnresolved,
		"net::ERR_SSL_PROTOCOL_ERROR":         session.KindTLSHandshakeFailed,
		"net::ERR_CERT_AUTHORITY_INVALID":     session.KindTLSHandshakeFailed,
		"net::ERR_BAD_SSL_CLIENT_AUTH_CERT":   session.KindTLSHandshakeFailed,
		"net::ERR_TIMED_OUT":                  session.KindTimeout,
		"net::ERR_CONNECTION_TIMED_OUT":       session.KindTimeout,
		"net::ERR_ABORTED":                    session.KindAborted,
		"net::ERR_EMPTY_RESPONSE":             session.KindBadResponse,
		"net::ERR_CONNECTION_RESET":           session.KindBadResponse,
		"net::ERR_BLOCKED_BY_CLIENT":          session.KindUnknown,
		"":                                    session.KindUnknown,
		"  net::ERR_CONNECTION_CLOSED  ":      session.KindBadResponse,
		"net::ERR_INVALID_HTTP_RESPONSE":      session.KindBadResponse,
		"net::ERR_NAME_RESOLUTION_FAILED":     session.KindHostUnresolved,
		"net::ERR_SSL_VERSION_OR_CIPHER_MISM": session.KindTLSHandshakeFailed,
	}
	for reason, want := range tests {
		assert.Equal(t, want, ReasonKind(reason), reason)
	}
}

func TestFailureReason_RoundTripsThroughReasonKind(t *testing.T) {
	// Failing a hijacked request with FailureReason must surface in the page
	// as a net error that classifies back to the same kind.
	chromium := map[proto.NetworkErrorReason]string{
		proto.NetworkErrorReasonConnectionRefused: "net::ERR_CONNECTION_REFUSED",
		proto.NetworkErrorReasonNameNotResolved:   "net::ERR_NAME_NOT_RESOLVED",
		proto.NetworkErrorReasonTimedOut:          "net::ERR_TIMED_OUT",
		proto.NetworkErrorReasonAborted:           "net::ERR_ABORTED",
		proto.NetworkErrorReasonConnectionClosed:  "net::ERR_CONNECTION_CLOSED",
	}
	for _, kind := range []session.ErrorKind{
		session.KindConnectionRefused,
		session.KindHostUnresolved,
		session.KindTimeout,
		session.KindAborted,
		session.KindBadResponse,
	} {
		reason := FailureReason(kind)
		net, ok := chromium[reason]
		if assert.True(t, ok, "no chromium string for %s", reason) {
			assert.Equal(t, kind, ReasonKind(net), kind.String())
		}
	}

	assert.Equal(t, proto.NetworkErrorReasonAccessDenied, FailureReason(session.KindIdentityUnavailable))
	assert.Equal(t, proto.NetworkErrorReasonFailed, FailureReason(session.KindTLSHandshakeFailed))
	assert.Equal(t, proto.NetworkErrorReasonFailed, FailureReason(session.KindUnknown))
}

func TestClassifyNavigation(t *testing.T) {
	navErr := &rod.NavigationError{Reason: "net::ERR_CONNECTION_REFUSED"}

	t.Run("transport error wins", func(t *testing.T) {
		transport := &identity.ProvisioningError{Alias: "ttyd", Op: "generate", Err: errors.New("no entropy")}
		assert.Equal(t, session.KindIdentityUnavailable, classifyNavigation(navErr, transport))
	})
	t.Run("navigation reason", func(t *testing.T) {
		assert.Equal(t, session.KindConnectionRefused, classifyNavigation(navErr, nil))
		wrapped := fmt.Errorf("navigate: %w", navErr)
		assert.Equal(t, session.KindConnectionRefused, classifyNavigation(wrapped, nil))
	})
	t.Run("plain errors", func(t *testing.T) {
		assert.Equal(t, session.KindAborted, classifyNavigation(context.Canceled, nil))
		assert.Equal(t, session.KindConnectionRefused,
			classifyNavigation(fmt.Errorf("dial: %w", syscall.ECONNREFUSED), nil))
		assert.Equal(t, session.KindUnknown, classifyNavigation(errors.New("boom"), nil))
	})
}

func TestIsErrorPage(t *testing.T) {
	assert.True(t, isErrorPage(nil))
	assert.True(t, isErrorPage(&proto.PageFrame{URL: "chrome-error://chromewebdata/"}))
	assert.True(t, isErrorPage(&proto.PageFrame{
		URL:            "http://127.0.0.1:7681/",
		UnreachableURL: "http://127.0.0.1:7681/",
	}))
	assert.False(t, isErrorPage(&proto.PageFrame{URL: "http://127.0.0.1:7681/"}))
}

func TestStatusError(t *testing.T) {
	err := &StatusError{URL: "http://127.0.0.1:7681/", Code: 502}
	assert.Equal(t, "http://127.0.0.1:7681/ answered HTTP 502", err.Error())
	assert.False(t, session.KindHTTPStatus.Retryable())
}

func TestConfig_GetSlowLoadThreshold(t *testing.T) {
	assert.Equal(t, "2s", Config{}.GetSlowLoadThreshold().String())
	assert.Equal(t, "500ms", Config{SlowLoadThreshold: 500e6}.GetSlowLoadThreshold().String())
}

func TestManager_OpenPageRequiresPolicy(t *testing.T) {
	m := NewManager(Config{}, nil, nil)
	_, err := m.OpenPage(context.Background(), "tab-1", nil)
	assert.Error(t, err)
	assert.False(t, m.IsConnected())
	assert.Empty(t, m.ControlURL())
	assert.NoError(t, m.Shutdown(context.Background()))
}
