// Package keystore holds the key material behind a client identity.
// Entries are addressed by alias; Put replaces an alias atomically so readers
// never observe a half-written key pair.
package keystore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no entry exists for an alias.
	ErrNotFound = errors.New("keystore: alias not found")

	// ErrCorrupt marks an entry that exists but cannot be decoded or unsealed.
	// Callers are expected to replace it rather than give up.
	ErrCorrupt = errors.New("keystore: entry corrupt")

	// ErrClosed is returned by every operation on a closed store.
	ErrClosed = errors.New("keystore: closed")
)

// Entry is one stored key pair and its certificate.
type Entry struct {
	Alias       string    `cbor:"1,keyasint"`
	PrivateKey  []byte    `cbor:"2,keyasint"` // PKCS#8 DER
	Certificate []byte    `cbor:"3,keyasint"` // X.509 DER
	CreatedAt   time.Time `cbor:"4,keyasint"`
}

// Clone returns a deep copy so callers can't alias store internals.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	out := *e
	out.PrivateKey = append([]byte(nil), e.PrivateKey...)
	out.Certificate = append([]byte(nil), e.Certificate...)
	return &out
}

// KeyStore is the create/retrieve/list contract the identity store relies on.
type KeyStore interface {
	Get(ctx context.Context, alias string) (*Entry, error)
	Put(ctx context.Context, entry *Entry) error
	Delete(ctx context.Context, alias string) error
	List(ctx context.Context) ([]string, error)
	Close() error
}
