// Package trust decides which TLS peers a terminal surface may talk to and
// with which client certificate.
//
// The local terminal server presents a certificate nobody can verify, so the
// server certificate is accepted as-is. That exception is confined to loopback:
// configs are only built for loopback hosts and the dialer refuses to connect
// anywhere else, whatever the name resolves to.
package trust

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"webterm/internal/identity"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// ErrNotLoopback is returned for any target outside the loopback interface.
var ErrNotLoopback = errors.New("trust: target is not a loopback address")

// CertificateSource supplies the client identity.
type CertificateSource interface {
	GetOrCreate(ctx context.Context) (*identity.Identity, error)
}

// Policy is the TLS trust policy for the local terminal server.
type Policy struct {
	identities  CertificateSource
	logger      *zap.Logger
	dialTimeout time.Duration
}

// NewPolicy creates a policy that authenticates with identities.
func NewPolicy(identities CertificateSource, logger *zap.Logger) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{
		identities:  identities,
		logger:      logger,
		dialTimeout: 3 * time.Second,
	}
}

// IsLoopbackHost reports whether host names the loopback interface. Only
// "localhost" and literal loopback IPs qualify; other names are not resolved.
func IsLoopbackHost(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}

// CheckTarget validates that rawURL points at the loopback interface over
// http or https.
func CheckTarget(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("trust: parse %q: %w", rawURL, err)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("trust: unsupported scheme %q", u.Scheme)
	}
	if !IsLoopbackHost(u.Hostname()) {
		return fmt.Errorf("%w: %s", ErrNotLoopback, u.Host)
	}
	return nil
}

// ClientTLSConfig returns the TLS config for a connection to serverName.
func (p *Policy) ClientTLSConfig(serverName string) (*tls.Config, error) {
	if !IsLoopbackHost(serverName) {
		return nil, fmt.Errorf("%w: %s", ErrNotLoopback, serverName)
	}
	return p.tlsConfig(), nil
}

func (p *Policy) tlsConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		// The server certificate is self-signed by the terminal server and
		// cannot be verified; the dialer pins every connection to loopback.
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return errors.New("trust: server presented no certificate")
			}
			return nil
		},
		GetClientCertificate: p.GetClientCertificate,
	}
}

// GetClientCertificate answers a server's certificate request with the
// current identity. A provisioning failure aborts the handshake.
func (p *Policy) GetClientCertificate(info *tls.CertificateRequestInfo) (*tls.Certificate, error) {
	ctx := context.Background()
	if info != nil && info.Context() != nil {
		ctx = info.Context()
	}
	if p.identities == nil {
		return nil, &identity.ProvisioningError{Alias: identity.DefaultAlias, Op: "load", Err: errors.New("no identity store")}
	}
	id, err := p.identities.GetOrCreate(ctx)
	if err != nil {
		p.logger.Error("Client certificate unavailable", zap.Error(err))
		return nil, err
	}
	cert := id.TLSCertificate()
	p.logger.Debug("Presenting client certificate", zap.String("fingerprint", id.Fingerprint()))
	return &cert, nil
}

// DialContext dials addr and refuses to complete any connection whose
// resolved peer is not a loopback address.
func (p *Policy) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	d := &net.Dialer{
		Timeout: p.dialTimeout,
		Control: func(_, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			ip := net.ParseIP(host)
			if ip == nil || !ip.IsLoopback() {
				return fmt.Errorf("%w: %s", ErrNotLoopback, address)
			}
			return nil
		},
	}
	return d.DialContext(ctx, network, addr)
}

// HTTPClient returns a client for the loopback terminal server. It speaks
// HTTP/2 when the server offers it and never follows a redirect off loopback.
func (p *Policy) HTTPClient() (*http.Client, error) {
	tr := &http.Transport{
		Proxy:                 nil,
		DialContext:           p.DialContext,
		TLSClientConfig:       p.tlsConfig(),
		TLSHandshakeTimeout:   p.dialTimeout,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if err := http2.ConfigureTransport(tr); err != nil {
		return nil, fmt.Errorf("trust: configure http2: %w", err)
	}
	return &http.Client{
		Transport: tr,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("trust: too many redirects")
			}
			if !IsLoopbackHost(req.URL.Hostname()) {
				return fmt.Errorf("%w: redirect to %s", ErrNotLoopback, req.URL.Host)
			}
			return nil
		},
	}, nil
}
