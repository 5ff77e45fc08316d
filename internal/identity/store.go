package identity

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"io"
	"math/big"
	"sync/atomic"
	"time"

	"webterm/internal/keystore"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultValidity is how long a generated certificate stays valid.
const DefaultValidity = 10 * 365 * 24 * time.Hour

// backdate keeps a freshly minted certificate valid under small clock skew
// between this process and the terminal server.
const backdate = 5 * time.Minute

// Options configures a Store.
type Options struct {
	Alias      string
	Validity   time.Duration
	ExportPath string // written on every provisioning when non-empty
	Now        func() time.Time
	Rand       io.Reader
	Logger     *zap.Logger
}

// Store hands out the installation identity, creating it on first use.
// Reads of a valid cached identity take no lock; generation is single-flight.
type Store struct {
	keys       keystore.KeyStore
	alias      string
	validity   time.Duration
	exportPath string
	now        func() time.Time
	rand       io.Reader
	logger     *zap.Logger

	group       singleflight.Group
	current     atomic.Pointer[Identity]
	generations atomic.Uint64
}

// NewStore creates a Store backed by keys.
func NewStore(keys keystore.KeyStore, opts Options) *Store {
	s := &Store{
		keys:       keys,
		alias:      opts.Alias,
		validity:   opts.Validity,
		exportPath: opts.ExportPath,
		now:        opts.Now,
		rand:       opts.Rand,
		logger:     opts.Logger,
	}
	if s.alias == "" {
		s.alias = DefaultAlias
	}
	if s.validity <= 0 {
		s.validity = DefaultValidity
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.rand == nil {
		s.rand = rand.Reader
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Alias returns the key store alias this store manages.
func (s *Store) Alias() string {
	return s.alias
}

// Generations counts key pairs generated by this Store.
func (s *Store) Generations() uint64 {
	return s.generations.Load()
}

// GetOrCreate returns the persisted identity if it is present and currently
// valid, otherwise replaces it with a newly generated one.
//
// Generation is shared by concurrent callers and is not tied to any one of
// them: a caller whose ctx ends stops waiting with ctx.Err(), while the
// generation completes for everyone else.
func (s *Store) GetOrCreate(ctx context.Context) (*Identity, error) {
	if id := s.current.Load(); id.ValidAt(s.now()) {
		return id, nil
	}

	flightCtx := context.WithoutCancel(ctx)
	return s.await(ctx, func() (*Identity, error) {
		// Another caller may have finished while we waited for the flight.
		if id := s.current.Load(); id.ValidAt(s.now()) {
			return id, nil
		}
		return s.loadOrGenerate(flightCtx)
	})
}

// Rotate discards the current identity and generates a new one.
func (s *Store) Rotate(ctx context.Context) (*Identity, error) {
	flightCtx := context.WithoutCancel(ctx)
	return s.await(ctx, func() (*Identity, error) {
		return s.generate(flightCtx)
	})
}

// await joins the alias flight running fn, caching its result.
func (s *Store) await(ctx context.Context, fn func() (*Identity, error)) (*Identity, error) {
	ch := s.group.DoChan(s.alias, func() (interface{}, error) {
		id, err := fn()
		if err != nil {
			return nil, err
		}
		s.current.Store(id)
		return id, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Identity), nil
	}
}

// fail wraps err as a ProvisioningError. Context errors pass through unwrapped.
func (s *Store) fail(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &ProvisioningError{Alias: s.alias, Op: op, Err: err}
}

func (s *Store) loadOrGenerate(ctx context.Context) (*Identity, error) {
	entry, err := s.keys.Get(ctx, s.alias)
	switch {
	case errors.Is(err, keystore.ErrNotFound):
		s.logger.Info("No key pair stored, generating", zap.String("alias", s.alias))
		return s.generate(ctx)
	case errors.Is(err, keystore.ErrCorrupt):
		s.logger.Warn("Stored key pair is corrupt, regenerating", zap.String("alias", s.alias), zap.Error(err))
		return s.generate(ctx)
	case err != nil:
		return nil, s.fail("load", err)
	}

	id, err := decode(s.alias, entry.PrivateKey, entry.Certificate)
	if err != nil {
		s.logger.Warn("Stored identity is invalid, regenerating", zap.String("alias", s.alias), zap.Error(err))
		return s.generate(ctx)
	}
	if now := s.now(); !id.ValidAt(now) {
		s.logger.Info("Stored certificate outside its validity window, regenerating",
			zap.String("alias", s.alias),
			zap.Time("not_before", id.NotBefore),
			zap.Time("not_after", id.NotAfter))
		return s.generate(ctx)
	}
	if err := s.export(id); err != nil {
		return nil, err
	}
	return id, nil
}

func (s *Store) generate(ctx context.Context) (*Identity, error) {
	now := s.now()
	key, err := ecdsa.GenerateKey(elliptic.P256(), s.rand)
	if err != nil {
		return nil, s.fail("generate key", err)
	}
	serial, err := rand.Int(s.rand, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, s.fail("generate serial", err)
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: s.alias},
		NotBefore:             now.Add(-backdate),
		NotAfter:              now.Add(s.validity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	certDER, err := x509.CreateCertificate(s.rand, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, s.fail("self-sign", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, s.fail("encode key", err)
	}

	if err := s.keys.Put(ctx, &keystore.Entry{
		Alias:       s.alias,
		PrivateKey:  keyDER,
		Certificate: certDER,
		CreatedAt:   now,
	}); err != nil {
		return nil, s.fail("store", err)
	}

	id, err := decode(s.alias, keyDER, certDER)
	if err != nil {
		return nil, s.fail("decode", err)
	}
	s.generations.Add(1)
	s.logger.Info("Generated client identity",
		zap.String("alias", s.alias),
		zap.String("fingerprint", id.Fingerprint()),
		zap.Time("not_after", id.NotAfter))

	if err := s.export(id); err != nil {
		return nil, err
	}
	return id, nil
}

func (s *Store) export(id *Identity) error {
	if s.exportPath == "" {
		return nil
	}
	if err := WriteCertificateFile(id, s.exportPath); err != nil {
		return s.fail("export certificate", err)
	}
	s.logger.Debug("Exported client certificate", zap.String("path", s.exportPath))
	return nil
}
