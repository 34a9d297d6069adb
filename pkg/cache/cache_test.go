package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreBasics(t *testing.T) {
	s := NewMemoryStore()

	_, ok := s.Get("missing")
	assert.False(t, ok)

	require.NoError(t, s.Set("k", "v", 0))
	v, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	require.NoError(t, s.Delete("k"))
	_, ok = s.Get("k")
	assert.False(t, ok)
}

func TestMemoryStoreExpiry(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Set("short", "v", 10*time.Millisecond))
	require.NoError(t, s.Set("forever", "v", 0))

	_, ok := s.Get("short")
	assert.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = s.Get("short")
	assert.False(t, ok, "expired entry reads as absent")

	_, ok = s.Get("forever")
	assert.True(t, ok, "zero max age never expires")
}

func TestMemoryStoreOverwrite(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Set("k", "old", 0))
	require.NoError(t, s.Set("k", "new", 0))

	v, _ := s.Get("k")
	assert.Equal(t, "new", v)
}

func TestMemo(t *testing.T) {
	m := NewMemo[string, string]()

	_, ok := m.Get("handle")
	assert.False(t, ok)

	m.Put("handle", "did:plc:x")
	v, ok := m.Get("handle")
	require.True(t, ok)
	assert.Equal(t, "did:plc:x", v)
	assert.Equal(t, 1, m.Len())
}
