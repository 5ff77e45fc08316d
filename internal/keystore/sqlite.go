package keystore

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"filippo.io/age"
	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// sealedEntry is the on-disk form of an Entry. The private key never touches
// the database in the clear.
type sealedEntry struct {
	Alias       string    `cbor:"1,keyasint"`
	SealedKey   []byte    `cbor:"2,keyasint"` // age ciphertext of the PKCS#8 DER
	Certificate []byte    `cbor:"3,keyasint"`
	CreatedAt   time.Time `cbor:"4,keyasint"`
}

// SQLiteStore persists entries in a SQLite database. Private keys are sealed
// with age to an installation-local X25519 key kept beside the database.
type SQLiteStore struct {
	db      *sql.DB
	dbPath  string
	sealing *age.X25519Identity
	logger  *zap.Logger
	encMode cbor.EncMode

	// mu is held shared by every operation and exclusively by Close.
	mu     sync.RWMutex
	closed bool
}

// OpenSQLite opens (creating if needed) the key database at dbPath. The
// sealing key lives at dbPath + ".age" with 0600 permissions.
func OpenSQLite(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create keystore directory: %w", err)
	}

	sealing, err := loadOrCreateSealingKey(dbPath+".age", logger)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open keystore database: %w", err)
	}
	// One writer at a time; SQLite serializes anyway and this keeps
	// busy errors out of the replace path.
	db.SetMaxOpenConns(1)

	encMode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to build cbor encoder: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		dbPath:  dbPath,
		sealing: sealing,
		logger:  logger,
		encMode: encMode,
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize keystore schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS key_entries (
		alias TEXT PRIMARY KEY,
		entry BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);`
	_, err := s.db.Exec(schema)
	return err
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// acquire takes the shared lock for one operation. The caller must call
// s.mu.RUnlock when it returns nil.
func (s *SQLiteStore) acquire() error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, alias string) (*Entry, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()

	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT entry FROM key_entries WHERE alias = ?`, alias).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("keystore: read %q: %w", alias, err)
	}

	var sealed sealedEntry
	if err := cbor.Unmarshal(blob, &sealed); err != nil {
		return nil, fmt.Errorf("%w: decode %q: %v", ErrCorrupt, alias, err)
	}
	key, err := s.unseal(sealed.SealedKey)
	if err != nil {
		return nil, fmt.Errorf("%w: unseal %q: %v", ErrCorrupt, alias, err)
	}
	return &Entry{
		Alias:       sealed.Alias,
		PrivateKey:  key,
		Certificate: sealed.Certificate,
		CreatedAt:   sealed.CreatedAt,
	}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, entry *Entry) error {
	if entry == nil || entry.Alias == "" {
		return fmt.Errorf("keystore: entry alias required")
	}
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.mu.RUnlock()

	sealedKey, err := s.seal(entry.PrivateKey)
	if err != nil {
		return fmt.Errorf("keystore: seal %q: %w", entry.Alias, err)
	}
	blob, err := s.encMode.Marshal(sealedEntry{
		Alias:       entry.Alias,
		SealedKey:   sealedKey,
		Certificate: entry.Certificate,
		CreatedAt:   entry.CreatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("keystore: encode %q: %w", entry.Alias, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO key_entries (alias, entry, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(alias) DO UPDATE SET entry = excluded.entry, updated_at = excluded.updated_at`,
		entry.Alias, blob, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("keystore: write %q: %w", entry.Alias, err)
	}
	s.logger.Debug("Stored key entry", zap.String("alias", entry.Alias))
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, alias string) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.mu.RUnlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM key_entries WHERE alias = ?`, alias)
	if err != nil {
		return fmt.Errorf("keystore: delete %q: %w", alias, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT alias FROM key_entries ORDER BY alias`)
	if err != nil {
		return nil, fmt.Errorf("keystore: list: %w", err)
	}
	defer rows.Close()

	var aliases []string
	for rows.Next() {
		var alias string
		if err := rows.Scan(&alias); err != nil {
			return nil, fmt.Errorf("keystore: list: %w", err)
		}
		aliases = append(aliases, alias)
	}
	return aliases, rows.Err()
}

func (s *SQLiteStore) seal(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.sealing.Recipient())
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *SQLiteStore) unseal(ciphertext []byte) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(ciphertext), s.sealing)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

// loadOrCreateSealingKey reads the age identity at path, generating and
// writing a fresh one when the file does not exist yet.
func loadOrCreateSealingKey(path string, logger *zap.Logger) (*age.X25519Identity, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		id, err := age.ParseX25519Identity(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("keystore: sealing key %s unreadable: %w", path, err)
		}
		return id, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("keystore: read sealing key: %w", err)
	}

	id, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("keystore: generate sealing key: %w", err)
	}
	if err := os.WriteFile(path, []byte(id.String()+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("keystore: write sealing key: %w", err)
	}
	logger.Info("Generated keystore sealing key", zap.String("path", path))
	return id, nil
}
