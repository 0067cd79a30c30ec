package auth

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.json")
	store := NewFileStore(path)

	// Nothing saved yet.
	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)

	expires := time.Now().Add(time.Hour).Truncate(time.Second)
	token := &Token{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		TokenType:    "bearer",
		CreatedAt:    time.Now().Truncate(time.Second),
		ExpiresAt:    &expires,
	}
	require.NoError(t, store.Save(token))

	loaded, err = store.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, token.AccessToken, loaded.AccessToken)
	assert.Equal(t, token.RefreshToken, loaded.RefreshToken)
	require.NotNil(t, loaded.ExpiresAt)
	assert.True(t, expires.Equal(*loaded.ExpiresAt))

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
	}

	require.NoError(t, store.Delete())
	loaded, err = store.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)

	// Deleting again is a no-op.
	require.NoError(t, store.Delete())
}

func TestMemoryStoreIsolation(t *testing.T) {
	store := NewMemoryStore()
	token := &Token{AccessToken: "a"}
	require.NoError(t, store.Save(token))

	// Mutating the caller's copy must not affect the stored record.
	token.AccessToken = "mutated"
	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "a", loaded.AccessToken)

	require.NoError(t, store.Delete())
	loaded, err = store.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}
