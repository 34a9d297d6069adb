package auth

import "sync"

// MockStore is an in-memory credential store for tests
type MockStore struct {
	mu        sync.Mutex
	accounts  map[string]*Account
	available bool

	SaveErr   error
	GetErr    error
	DeleteErr error
}

// NewMockStore creates an available in-memory store
func NewMockStore() *MockStore {
	return &MockStore{
		accounts:  make(map[string]*Account),
		available: true,
	}
}

// SetAvailable toggles the store's availability
func (s *MockStore) SetAvailable(available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.available = available
}

// IsAvailable reports the configured availability
func (s *MockStore) IsAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

// Save stores an account
func (s *MockStore) Save(account *Account) error {
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *account
	s.accounts[account.Identifier] = &copied
	return nil
}

// Get retrieves an account
func (s *MockStore) Get(identifier string) (*Account, error) {
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[identifier]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	copied := *account
	return &copied, nil
}

// Delete removes an account
func (s *MockStore) Delete(identifier string) error {
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[identifier]; !ok {
		return ErrCredentialsNotFound
	}
	delete(s.accounts, identifier)
	return nil
}

// List returns all stored identifiers
func (s *MockStore) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.accounts))
	for id := range s.accounts {
		ids = append(ids, id)
	}
	return ids, nil
}
