package keystore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testEntry(alias string) *Entry {
	return &Entry{
		Alias:       alias,
		PrivateKey:  []byte("pkcs8-" + alias),
		Certificate: []byte("der-" + alias),
		CreatedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

// storeContract runs the behaviour every KeyStore backend must share.
func storeContract(t *testing.T, ks KeyStore) {
	ctx := context.Background()

	_, err := ks.Get(ctx, "ttyd")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, ks.Put(ctx, testEntry("ttyd")))
	got, err := ks.Get(ctx, "ttyd")
	require.NoError(t, err)
	assert.Equal(t, []byte("pkcs8-ttyd"), got.PrivateKey)
	assert.Equal(t, []byte("der-ttyd"), got.Certificate)
	assert.True(t, got.CreatedAt.Equal(testEntry("ttyd").CreatedAt))

	// Replace keeps a single entry for the alias.
	replacement := testEntry("ttyd")
	replacement.PrivateKey = []byte("rotated")
	require.NoError(t, ks.Put(ctx, replacement))
	got, err = ks.Get(ctx, "ttyd")
	require.NoError(t, err)
	assert.Equal(t, []byte("rotated"), got.PrivateKey)

	require.NoError(t, ks.Put(ctx, testEntry("alpha")))
	aliases, err := ks.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "ttyd"}, aliases)

	require.NoError(t, ks.Delete(ctx, "alpha"))
	require.ErrorIs(t, ks.Delete(ctx, "alpha"), ErrNotFound)

	require.Error(t, ks.Put(ctx, &Entry{}))
}

func TestMemoryStore_Contract(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	require.NoError(t, ms.Put(ctx, testEntry("ttyd")))

	got, err := ms.Get(ctx, "ttyd")
	require.NoError(t, err)
	got.PrivateKey[0] = 'X'

	again, err := ms.Get(ctx, "ttyd")
	require.NoError(t, err)
	assert.Equal(t, []byte("pkcs8-ttyd"), again.PrivateKey)
}

func TestSQLiteStore_Contract(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "keys", "keystore.db")
	s, err := OpenSQLite(dbPath, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	storeContract(t, s)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "keystore.db")

	s, err := OpenSQLite(dbPath, nil)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, testEntry("ttyd")))
	require.NoError(t, s.Close())

	info, err := os.Stat(dbPath + ".age")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reopened, err := OpenSQLite(dbPath, nil)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Get(ctx, "ttyd")
	require.NoError(t, err)
	assert.Equal(t, []byte("pkcs8-ttyd"), got.PrivateKey)
}

func TestSQLiteStore_KeyIsSealedAtRest(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "keystore.db")

	s, err := OpenSQLite(dbPath, nil)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Put(ctx, testEntry("ttyd")))

	var blob []byte
	require.NoError(t, s.db.QueryRow(`SELECT entry FROM key_entries WHERE alias = 'ttyd'`).Scan(&blob))
	assert.NotContains(t, string(blob), "pkcs8-ttyd")
}

func TestSQLiteStore_WrongSealingKeyIsCorrupt(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "keystore.db")

	s, err := OpenSQLite(dbPath, nil)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, testEntry("ttyd")))
	require.NoError(t, s.Close())

	// Losing the sealing key leaves the row unreadable.
	require.NoError(t, os.Remove(dbPath+".age"))
	reopened, err := OpenSQLite(dbPath, nil)
	require.NoError(t, err)
	defer reopened.Close()

	_, err = reopened.Get(ctx, "ttyd")
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestSQLiteStore_OperationsAfterClose(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "keystore.db"), nil)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, testEntry("ttyd")))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Get(ctx, "ttyd")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Put(ctx, testEntry("ttyd")), ErrClosed)
	assert.ErrorIs(t, s.Delete(ctx, "ttyd"), ErrClosed)
	_, err = s.List(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}
