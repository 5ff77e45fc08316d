// Package identity provisions the client identity used for mutual TLS to the
// local terminal server: one ECDSA key pair plus a self-signed certificate,
// stored under a fixed alias and regenerated when missing, corrupt or expired.
package identity

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// DefaultAlias is the key store alias the terminal server identity lives under.
const DefaultAlias = "ttyd"

// ErrIdentityProvisioning is matched by every provisioning failure.
var ErrIdentityProvisioning = errors.New("identity provisioning failed")

// ProvisioningError reports why identity material could not be produced.
// It is fatal to the session that needed it and is never retried.
type ProvisioningError struct {
	Alias string
	Op    string
	Err   error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("identity %q: %s: %v", e.Alias, e.Op, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

func (e *ProvisioningError) Is(target error) bool { return target == ErrIdentityProvisioning }

// Identity is a private key and its self-signed certificate. Values handed out
// by the Store are shared and must be treated as read-only.
type Identity struct {
	Alias       string
	PrivateKey  crypto.Signer
	Certificate *x509.Certificate
	Chain       [][]byte
	NotBefore   time.Time
	NotAfter    time.Time
}

// ValidAt reports whether t falls inside the certificate validity window.
func (id *Identity) ValidAt(t time.Time) bool {
	if id == nil || id.Certificate == nil {
		return false
	}
	return !t.Before(id.NotBefore) && !t.After(id.NotAfter)
}

// TLSCertificate returns the identity in the form crypto/tls presents to a peer.
func (id *Identity) TLSCertificate() tls.Certificate {
	return tls.Certificate{
		Certificate: id.Chain,
		PrivateKey:  id.PrivateKey,
		Leaf:        id.Certificate,
	}
}

// Fingerprint is the hex SHA-256 of the certificate DER.
func (id *Identity) Fingerprint() string {
	if id == nil || id.Certificate == nil {
		return ""
	}
	sum := sha256.Sum256(id.Certificate.Raw)
	return hex.EncodeToString(sum[:])
}

// decode rebuilds an Identity from stored DER material, rejecting anything
// that is not an X.509 certificate matching an ECDSA private key.
func decode(alias string, keyDER, certDER []byte) (*Identity, error) {
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("certificate is not X.509: %w", err)
	}
	raw, err := x509.ParsePKCS8PrivateKey(keyDER)
	if err != nil {
		return nil, fmt.Errorf("private key unreadable: %w", err)
	}
	key, ok := raw.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, want ECDSA", raw)
	}
	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok || !key.PublicKey.Equal(pub) {
		return nil, errors.New("certificate does not match private key")
	}
	return &Identity{
		Alias:       alias,
		PrivateKey:  key,
		Certificate: cert,
		Chain:       [][]byte{cert.Raw},
		NotBefore:   cert.NotBefore,
		NotAfter:    cert.NotAfter,
	}, nil
}
