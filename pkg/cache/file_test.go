package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStorePersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")

	first, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, first.Set(KeyResolveHandle+"alice.bsky.social", "did:plc:alice", 0))
	require.NoError(t, first.Set(KeyRefreshToken+"alice.bsky.social", "refresh-1", time.Hour))

	second, err := NewFileStore(path)
	require.NoError(t, err)

	did, ok := second.Get(KeyResolveHandle + "alice.bsky.social")
	require.True(t, ok)
	assert.Equal(t, "did:plc:alice", did)

	token, ok := second.Get(KeyRefreshToken + "alice.bsky.social")
	require.True(t, ok)
	assert.Equal(t, "refresh-1", token)
}

func TestFileStoreDropsExpiredOnLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")

	first, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, first.Set("soon", "v", time.Millisecond))
	require.NoError(t, first.Set("keep", "v", 0))

	time.Sleep(10 * time.Millisecond)

	second, err := NewFileStore(path)
	require.NoError(t, err)
	_, ok := second.Get("soon")
	assert.False(t, ok)
	_, ok = second.Get("keep")
	assert.True(t, ok)
}

func TestFileStoreCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	require.NoError(t, os.WriteFile(path, []byte("{ not json"), 0600))

	s, err := NewFileStore(path)
	require.NoError(t, err)
	_, ok := s.Get("anything")
	assert.False(t, ok)

	// A write replaces the corrupt file with a valid one
	require.NoError(t, s.Set("k", "v", 0))
	again, err := NewFileStore(path)
	require.NoError(t, err)
	v, ok := again.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestFileStoreCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "cache.json")
	s, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Set("k", "v", 0))

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestFileStoreDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	s, err := NewFileStore(path)
	require.NoError(t, err)

	require.NoError(t, s.Set("k", "v", 0))
	require.NoError(t, s.Delete("k"))
	require.NoError(t, s.Delete("k"), "deleting an absent key is not an error")

	again, err := NewFileStore(path)
	require.NoError(t, err)
	_, ok := again.Get("k")
	assert.False(t, ok)
}

func TestDefaultPath(t *testing.T) {
	path, err := DefaultPath()
	require.NoError(t, err)
	assert.Contains(t, path, "bskygrab")
	assert.Equal(t, "cache.json", filepath.Base(path))
}
