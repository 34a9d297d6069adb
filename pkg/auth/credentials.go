package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrCredentialsNotFound indicates no stored credentials exist
	ErrCredentialsNotFound = errors.New("credentials not found")

	// ErrInvalidCredentials indicates the credentials are malformed
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrStoreUnavailable indicates the backing store cannot be used
	// on this system
	ErrStoreUnavailable = errors.New("credential store unavailable")
)

// Account holds the credentials for one Bluesky account
type Account struct {
	// Identifier is the handle or email used to log in
	Identifier string `json:"identifier"`

	// AppPassword is an app password from Bluesky settings
	AppPassword string `json:"app_password"`

	// UserAgent optionally overrides the request user agent
	UserAgent string `json:"user_agent,omitempty"`

	// LastModified tracks when the credentials were stored
	LastModified time.Time `json:"last_modified"`
}

// Validate checks the account fields for obvious problems
func (a *Account) Validate() error {
	if a.Identifier == "" {
		return fmt.Errorf("%w: identifier is required", ErrInvalidCredentials)
	}
	if a.AppPassword == "" {
		return fmt.Errorf("%w: app password is required", ErrInvalidCredentials)
	}
	// App passwords are issued as four dash-separated groups. A main
	// account password pasted here is the most common user mistake.
	if !looksLikeAppPassword(a.AppPassword) {
		return fmt.Errorf("%w: expected an app password (xxxx-xxxx-xxxx-xxxx), not the account password", ErrInvalidCredentials)
	}
	return nil
}

func looksLikeAppPassword(password string) bool {
	parts := strings.Split(password, "-")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if len(p) != 4 {
			return false
		}
	}
	return true
}

// Sanitized returns a copy safe for logging, with the password redacted
func (a *Account) Sanitized() Account {
	clean := *a
	if clean.AppPassword != "" {
		clean.AppPassword = "****"
	}
	return clean
}

// CredentialStore persists accounts keyed by identifier
type CredentialStore interface {
	// Save stores an account, overwriting any existing entry
	Save(account *Account) error

	// Get retrieves an account by identifier
	Get(identifier string) (*Account, error)

	// Delete removes an account
	Delete(identifier string) error

	// List returns the identifiers of all stored accounts
	List() ([]string, error)

	// IsAvailable reports whether this store works on this system
	IsAvailable() bool
}

// Manager wraps a chain of credential stores, using the first one
// available
type Manager struct {
	stores []CredentialStore
}

// NewManager creates a manager trying stores in order: environment,
// system keyring, encrypted file
func NewManager() *Manager {
	return &Manager{
		stores: []CredentialStore{
			NewEnvironmentStore(),
			NewKeyringStore(),
			NewEncryptedFileStore(""),
		},
	}
}

// NewManagerWithStores creates a manager with an explicit store chain
func NewManagerWithStores(stores ...CredentialStore) *Manager {
	return &Manager{stores: stores}
}

// activeStore returns the first available store
func (m *Manager) activeStore() (CredentialStore, error) {
	for _, store := range m.stores {
		if store.IsAvailable() {
			return store, nil
		}
	}
	return nil, ErrStoreUnavailable
}

// Save validates and stores an account in the first writable store.
// The environment store is read-only and is skipped.
func (m *Manager) Save(account *Account) error {
	if err := account.Validate(); err != nil {
		return err
	}
	account.LastModified = time.Now()

	for _, store := range m.stores {
		if !store.IsAvailable() {
			continue
		}
		if _, readonly := store.(*EnvironmentStore); readonly {
			continue
		}
		return store.Save(account)
	}
	return ErrStoreUnavailable
}

// Get retrieves an account, consulting every available store in order
func (m *Manager) Get(identifier string) (*Account, error) {
	var lastErr error = ErrCredentialsNotFound
	for _, store := range m.stores {
		if !store.IsAvailable() {
			continue
		}
		account, err := store.Get(identifier)
		if err == nil {
			return account, nil
		}
		if !errors.Is(err, ErrCredentialsNotFound) {
			lastErr = err
		}
	}
	return nil, lastErr
}

// Delete removes an account from every store holding it
func (m *Manager) Delete(identifier string) error {
	deleted := false
	for _, store := range m.stores {
		if !store.IsAvailable() {
			continue
		}
		if _, readonly := store.(*EnvironmentStore); readonly {
			continue
		}
		if err := store.Delete(identifier); err == nil {
			deleted = true
		}
	}
	if !deleted {
		return ErrCredentialsNotFound
	}
	return nil
}

// List returns the union of identifiers across all available stores
func (m *Manager) List() ([]string, error) {
	seen := make(map[string]bool)
	var identifiers []string
	for _, store := range m.stores {
		if !store.IsAvailable() {
			continue
		}
		ids, err := store.List()
		if err != nil {
			continue
		}
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				identifiers = append(identifiers, id)
			}
		}
	}
	return identifiers, nil
}

// StoreName describes the first available store, for display
func (m *Manager) StoreName() string {
	store, err := m.activeStore()
	if err != nil {
		return "none"
	}
	switch store.(type) {
	case *EnvironmentStore:
		return "environment"
	case *KeyringStore:
		return "system keyring"
	case *EncryptedFileStore:
		return "encrypted file"
	default:
		return "unknown"
	}
}

// configDir returns the directory for bskygrab's stored files
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	dir := filepath.Join(home, ".config", "bskygrab")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return dir, nil
}
