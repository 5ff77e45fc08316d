package trust

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"webterm/internal/identity"
	"webterm/internal/session"
)

// Classify maps a transport error onto a navigation error kind. Only the kinds
// a starting server produces land on the retry whitelist.
func Classify(err error) session.ErrorKind {
	if err == nil {
		return session.KindUnknown
	}

	if errors.Is(err, identity.ErrIdentityProvisioning) {
		return session.KindIdentityUnavailable
	}
	if errors.Is(err, ErrNotLoopback) || errors.Is(err, context.Canceled) {
		return session.KindAborted
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return session.KindConnectionRefused
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return session.KindHostUnresolved
	}

	if isTLSError(err) {
		return session.KindTLSHandshakeFailed
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return session.KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return session.KindTimeout
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return session.KindBadResponse
	}
	return session.KindUnknown
}

func isTLSError(err error) bool {
	var (
		recordErr tls.RecordHeaderError
		alertErr  tls.AlertError
		verifyErr *tls.CertificateVerificationError
		unknownCA x509.UnknownAuthorityError
		hostErr   x509.HostnameError
	)
	switch {
	case errors.As(err, &recordErr),
		errors.As(err, &alertErr),
		errors.As(err, &verifyErr),
		errors.As(err, &unknownCA),
		errors.As(err, &hostErr):
		return true
	}
	// Alerts received from the peer surface as plain "remote error: tls: ..." errors.
	return strings.Contains(err.Error(), "tls: ")
}
