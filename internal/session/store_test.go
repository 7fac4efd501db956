package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	store, err := NewFileStore(path)
	require.NoError(t, err)

	_, ok := store.Get(KeyAccessToken)
	assert.False(t, ok)

	require.NoError(t, store.Set(KeyAccessToken, "tok-1"))
	require.NoError(t, store.Set(KeyUser, `{"id":"u-1"}`))

	v, ok := store.Get(KeyAccessToken)
	require.True(t, ok)
	assert.Equal(t, "tok-1", v)
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	store, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Set(KeyAccessToken, "tok-1"))
	require.NoError(t, store.Set(KeyRefreshToken, "tok-2"))

	reopened, err := NewFileStore(path)
	require.NoError(t, err)

	v, ok := reopened.Get(KeyAccessToken)
	require.True(t, ok)
	assert.Equal(t, "tok-1", v)
	v, ok = reopened.Get(KeyRefreshToken)
	require.True(t, ok)
	assert.Equal(t, "tok-2", v)
}

func TestFileStoreCorruptFileTreatedAsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{{{not json"), 0o600))

	store, err := NewFileStore(path)
	require.NoError(t, err)

	_, ok := store.Get(KeyAccessToken)
	assert.False(t, ok)
}

func TestFileStoreDeleteAndClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	store, err := NewFileStore(path)
	require.NoError(t, err)

	require.NoError(t, store.Set(KeyAccessToken, "a"))
	require.NoError(t, store.Set(KeyRefreshToken, "b"))

	require.NoError(t, store.Delete(KeyAccessToken))
	_, ok := store.Get(KeyAccessToken)
	assert.False(t, ok)

	// Deleting an absent key is a no-op
	require.NoError(t, store.Delete("never-set"))

	require.NoError(t, store.Clear())
	_, ok = store.Get(KeyRefreshToken)
	assert.False(t, ok)

	// Clearing persists too
	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	_, ok = reopened.Get(KeyRefreshToken)
	assert.False(t, ok)
}
