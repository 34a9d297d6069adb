package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// FileStore is a Store persisted as a JSON file so that tokens and
// resolved handles survive across runs. The whole file is rewritten on
// every Set through a temp-file rename, which keeps it intact if the
// process dies mid-write.
type FileStore struct {
	path    string
	mu      sync.Mutex
	entries map[string]entry
}

// NewFileStore opens (or creates) the cache file at path. A missing or
// unreadable file starts the store empty rather than failing the run.
func NewFileStore(path string) (*FileStore, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	s := &FileStore{
		path:    path,
		entries: make(map[string]entry),
	}
	s.load()
	return s, nil
}

// DefaultPath returns the platform cache file location for bskygrab
func DefaultPath() (string, error) {
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("LOCALAPPDATA")
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, "Library", "Caches")
	default:
		base = os.Getenv("XDG_CACHE_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			base = filepath.Join(home, ".cache")
		}
	}
	return filepath.Join(base, "bskygrab", "cache.json"), nil
}

// Get returns the live value for key, or false if absent or expired
func (s *FileStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.expired(time.Now()) {
		return "", false
	}
	return e.Value, true
}

// Set stores value under key and persists the store
func (s *FileStore) Set(key, value string, maxAge time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := entry{Value: value}
	if maxAge > 0 {
		e.ExpiresAt = time.Now().Add(maxAge)
	}
	s.entries[key] = e
	return s.save()
}

// Delete removes key and persists the store
func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return nil
	}
	delete(s.entries, key)
	return s.save()
}

func (s *FileStore) load() {
	content, err := os.ReadFile(s.path)
	if err != nil {
		return
	}

	var entries map[string]entry
	if err := json.Unmarshal(content, &entries); err != nil {
		return
	}

	// Drop entries that expired while the process was not running.
	now := time.Now()
	for k, e := range entries {
		if !e.expired(now) {
			s.entries[k] = e
		}
	}
}

func (s *FileStore) save() error {
	content, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache: %w", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, content, 0600); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename cache file: %w", err)
	}

	return nil
}
