package auth

import "os"

const (
	envIdentifier  = "BSKYGRAB_IDENTIFIER"
	envAppPassword = "BSKYGRAB_APP_PASSWORD"
	envUserAgent   = "BSKYGRAB_USER_AGENT"
)

// EnvironmentStore reads credentials from environment variables. It is
// read-only and holds at most one account.
type EnvironmentStore struct{}

// NewEnvironmentStore creates an environment-backed credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// IsAvailable reports whether both credential variables are set
func (s *EnvironmentStore) IsAvailable() bool {
	return os.Getenv(envIdentifier) != "" && os.Getenv(envAppPassword) != ""
}

// Save is not supported for the environment store
func (s *EnvironmentStore) Save(account *Account) error {
	return ErrStoreUnavailable
}

// Get returns the environment account. An empty identifier or the
// matching one both select it.
func (s *EnvironmentStore) Get(identifier string) (*Account, error) {
	id := os.Getenv(envIdentifier)
	if id == "" {
		return nil, ErrCredentialsNotFound
	}
	if identifier != "" && identifier != id {
		return nil, ErrCredentialsNotFound
	}
	return &Account{
		Identifier:  id,
		AppPassword: os.Getenv(envAppPassword),
		UserAgent:   os.Getenv(envUserAgent),
	}, nil
}

// Delete is not supported for the environment store
func (s *EnvironmentStore) Delete(identifier string) error {
	return ErrStoreUnavailable
}

// List returns the environment identifier, if set
func (s *EnvironmentStore) List() ([]string, error) {
	if id := os.Getenv(envIdentifier); id != "" {
		return []string{id}, nil
	}
	return nil, nil
}
