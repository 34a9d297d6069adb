package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "bskygrab"
	keyringPrefix  = "bluesky_"
	keyringIndex   = "bluesky_accounts"
)

// KeyringStore persists accounts in the operating system keyring
type KeyringStore struct{}

// NewKeyringStore creates a keyring-backed credential store
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{}
}

// IsAvailable probes the keyring with a throwaway entry
func (s *KeyringStore) IsAvailable() bool {
	const probe = "bskygrab_probe"
	if err := keyring.Set(keyringService, probe, "1"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, probe)
	return true
}

// Save stores an account under its identifier
func (s *KeyringStore) Save(account *Account) error {
	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to encode account: %w", err)
	}

	if err := keyring.Set(keyringService, keyringPrefix+account.Identifier, string(data)); err != nil {
		return fmt.Errorf("failed to write to keyring: %w", err)
	}
	return s.addToIndex(account.Identifier)
}

// Get retrieves an account by identifier
func (s *KeyringStore) Get(identifier string) (*Account, error) {
	data, err := keyring.Get(keyringService, keyringPrefix+identifier)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrCredentialsNotFound
		}
		return nil, fmt.Errorf("failed to read from keyring: %w", err)
	}

	var account Account
	if err := json.Unmarshal([]byte(data), &account); err != nil {
		return nil, fmt.Errorf("failed to decode account: %w", err)
	}
	return &account, nil
}

// Delete removes an account
func (s *KeyringStore) Delete(identifier string) error {
	if err := keyring.Delete(keyringService, keyringPrefix+identifier); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrCredentialsNotFound
		}
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}
	return s.removeFromIndex(identifier)
}

// List returns all stored identifiers.
// The keyring API has no enumeration, so a separate index entry tracks
// the stored identifiers.
func (s *KeyringStore) List() ([]string, error) {
	data, err := keyring.Get(keyringService, keyringIndex)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read keyring index: %w", err)
	}
	if data == "" {
		return nil, nil
	}
	return strings.Split(data, "\n"), nil
}

func (s *KeyringStore) addToIndex(identifier string) error {
	ids, err := s.List()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == identifier {
			return nil
		}
	}
	ids = append(ids, identifier)
	return keyring.Set(keyringService, keyringIndex, strings.Join(ids, "\n"))
}

func (s *KeyringStore) removeFromIndex(identifier string) error {
	ids, err := s.List()
	if err != nil {
		return err
	}
	kept := ids[:0]
	for _, id := range ids {
		if id != identifier {
			kept = append(kept, id)
		}
	}
	if len(kept) == 0 {
		err := keyring.Delete(keyringService, keyringIndex)
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return err
	}
	return keyring.Set(keyringService, keyringIndex, strings.Join(kept, "\n"))
}
