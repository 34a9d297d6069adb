// Package cache provides the durable key/value caches backing token and
// identity lookups. A Store holds string entries with a per-entry max age;
// an expired entry is indistinguishable from an absent one. Memo is a
// process-lifetime memoization map without expiry.
package cache

import (
	"sync"
	"time"
)

// Key families used by the bluesky client.
const (
	KeyAccessToken   = "authenticate:"
	KeyRefreshToken  = "refresh_token:"
	KeyResolveHandle = "resolve_handle:"
)

// Store is an expiry-aware key/value store. Get treats an expired entry
// as absent. A maxAge <= 0 means the entry never expires. Implementations
// must be safe for concurrent use; each key's read-check-write is atomic
// at key granularity, and concurrent writers follow last-write-wins.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string, maxAge time.Duration) error
	Delete(key string) error
}

type entry struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at,omitempty"` // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// MemoryStore is an in-process Store. It satisfies the durable-cache
// contract for a single run; use FileStore to persist across runs.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]entry)}
}

// Get returns the live value for key, or false if absent or expired
func (s *MemoryStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.expired(time.Now()) {
		delete(s.entries, key)
		return "", false
	}
	return e.Value, true
}

// Set stores value under key with the given max age
func (s *MemoryStore) Set(key, value string, maxAge time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := entry{Value: value}
	if maxAge > 0 {
		e.ExpiresAt = time.Now().Add(maxAge)
	}
	s.entries[key] = e
	return nil
}

// Delete removes key from the store
func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// Memo memoizes resolved values for the remaining process lifetime.
// Entries never expire and are never evicted.
type Memo[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]V
}

// NewMemo creates an empty memoization map
func NewMemo[K comparable, V any]() *Memo[K, V] {
	return &Memo[K, V]{m: make(map[K]V)}
}

// Get returns the memoized value for k, if any
func (m *Memo[K, V]) Get(k K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.m[k]
	return v, ok
}

// Put memoizes v under k
func (m *Memo[K, V]) Put(k K, v V) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.m[k] = v
}

// Len returns the number of memoized entries
func (m *Memo[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.m)
}
