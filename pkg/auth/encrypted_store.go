package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"
)

const (
	encryptedFileName = "credentials.enc"
	pbkdf2Iterations  = 100000
	saltSize          = 32
)

// EncryptedFileStore persists accounts in an AES-GCM encrypted file.
// The encryption passphrase comes from BSKYGRAB_PASSPHRASE, falling
// back to a machine-local default when unset.
type EncryptedFileStore struct {
	path string
}

// NewEncryptedFileStore creates a file-backed store. An empty path
// selects ~/.config/bskygrab/credentials.enc.
func NewEncryptedFileStore(path string) *EncryptedFileStore {
	return &EncryptedFileStore{path: path}
}

// IsAvailable reports whether the store's directory is writable
func (s *EncryptedFileStore) IsAvailable() bool {
	path, err := s.filePath()
	if err != nil {
		return false
	}
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

func (s *EncryptedFileStore) filePath() (string, error) {
	if s.path != "" {
		return s.path, nil
	}
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, encryptedFileName), nil
}

func (s *EncryptedFileStore) passphrase() string {
	if pass := os.Getenv("BSKYGRAB_PASSPHRASE"); pass != "" {
		return pass
	}
	// Weak fallback tied to the local user. Real protection requires
	// setting BSKYGRAB_PASSPHRASE.
	host, _ := os.Hostname()
	return "bskygrab:" + host + ":" + os.Getenv("USER")
}

// load reads and decrypts the account map, returning an empty map for
// a missing file
func (s *EncryptedFileStore) load() (map[string]*Account, error) {
	path, err := s.filePath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]*Account), nil
		}
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}

	plaintext, err := s.decrypt(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credentials: %w", err)
	}

	accounts := make(map[string]*Account)
	if err := json.Unmarshal(plaintext, &accounts); err != nil {
		return nil, fmt.Errorf("failed to decode credentials: %w", err)
	}
	return accounts, nil
}

// save encrypts and atomically writes the account map
func (s *EncryptedFileStore) save(accounts map[string]*Account) error {
	path, err := s.filePath()
	if err != nil {
		return err
	}

	plaintext, err := json.Marshal(accounts)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}

	ciphertext, err := s.encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt credentials: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, ciphertext, 0600); err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace credential file: %w", err)
	}
	return nil
}

// encrypt seals plaintext as salt || nonce || ciphertext
func (s *EncryptedFileStore) encrypt(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}

	gcm, err := s.aead(salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(salt)+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

// decrypt opens data produced by encrypt
func (s *EncryptedFileStore) decrypt(data []byte) ([]byte, error) {
	if len(data) < saltSize {
		return nil, fmt.Errorf("credential file too short")
	}
	salt, rest := data[:saltSize], data[saltSize:]

	gcm, err := s.aead(salt)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(rest) < nonceSize {
		return nil, fmt.Errorf("credential file too short")
	}
	nonce, ciphertext := rest[:nonceSize], rest[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func (s *EncryptedFileStore) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(s.passphrase()), salt, pbkdf2Iterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Save stores an account
func (s *EncryptedFileStore) Save(account *Account) error {
	accounts, err := s.load()
	if err != nil {
		return err
	}
	accounts[account.Identifier] = account
	return s.save(accounts)
}

// Get retrieves an account by identifier
func (s *EncryptedFileStore) Get(identifier string) (*Account, error) {
	accounts, err := s.load()
	if err != nil {
		return nil, err
	}
	account, ok := accounts[identifier]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return account, nil
}

// Delete removes an account
func (s *EncryptedFileStore) Delete(identifier string) error {
	accounts, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := accounts[identifier]; !ok {
		return ErrCredentialsNotFound
	}
	delete(accounts, identifier)
	return s.save(accounts)
}

// List returns all stored identifiers
func (s *EncryptedFileStore) List() ([]string, error) {
	accounts, err := s.load()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(accounts))
	for id := range accounts {
		ids = append(ids, id)
	}
	return ids, nil
}
