// Package keychain stores credentials in the operating system's secret
// store (macOS Keychain, Secret Service, KWallet, Windows Credential
// Manager) or, where none exists, an encrypted file.
package keychain

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"

	"github.com/aussiebroadwan/hostedauth/internal/store"
)

var _ store.Credentials = (*Store)(nil)

// Config selects and configures the keyring backend.
type Config struct {
	// ServiceName namespaces the items, normally the application bundle id.
	ServiceName string

	// Backend forces one backend ("keychain", "secret-service", "kwallet",
	// "wincred", "file"). Empty lets the keyring pick.
	Backend string

	// FileDir and FilePassword configure the "file" backend.
	FileDir      string
	FilePassword string
}

// Store is a store.Credentials over a keyring.Keyring.
type Store struct {
	ring keyring.Keyring
}

// Open opens the configured keyring backend.
func Open(cfg Config) (*Store, error) {
	kc := keyring.Config{
		ServiceName:              cfg.ServiceName,
		KeychainName:             "login",
		KeychainTrustApplication: true,
		FileDir:                  cfg.FileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(cfg.FilePassword),
	}
	if cfg.Backend != "" {
		kc.AllowedBackends = []keyring.BackendType{keyring.BackendType(cfg.Backend)}
	}

	ring, err := keyring.Open(kc)
	if err != nil {
		return nil, fmt.Errorf("%w: open keyring: %w", store.ErrUnavailable, err)
	}
	return New(ring), nil
}

// New wraps an already opened keyring.
func New(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

func (s *Store) Save(key, value string) error {
	err := s.ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: key,
	})
	if err != nil {
		return fmt.Errorf("%w: save %q: %w", store.ErrUnavailable, key, err)
	}
	return nil
}

func (s *Store) Get(key string) (string, bool, error) {
	item, err := s.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: get %q: %w", store.ErrUnavailable, key, err)
	}
	return string(item.Data), true, nil
}

func (s *Store) Delete(key string) error {
	err := s.ring.Remove(key)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("%w: delete %q: %w", store.ErrUnavailable, key, err)
	}
	return nil
}

// Clear removes every item under the service name. It keeps going past
// individual failures and reports them together.
func (s *Store) Clear() error {
	keys, err := s.ring.Keys()
	if err != nil {
		return fmt.Errorf("%w: list keys: %w", store.ErrUnavailable, err)
	}

	var errs []error
	for _, key := range keys {
		if err := s.Delete(key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
