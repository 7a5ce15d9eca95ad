package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/hkdf"
)

// MasterKeyEnv is consulted when no key file is configured.
const MasterKeyEnv = "HOSTEDAUTH_MASTER_KEY"

// masterKeySize is the length of generated key material written to disk.
const masterKeySize = 32

// ErrCiphertextTooShort is returned by Open for input shorter than a nonce.
var ErrCiphertextTooShort = errors.New("cryptox: ciphertext too short")

// Sealer performs authenticated encryption with AES-256-GCM. The output
// format is [12-byte nonce][ciphertext][16-byte tag].
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives an AES-256 key from master using HKDF-SHA256. The info
// string domain-separates keys so one master secret can serve several stores.
func NewSealer(master []byte, info string) (*Sealer, error) {
	if len(master) == 0 {
		return nil, errors.New("cryptox: empty master key")
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext with a random nonce. additional is authenticated
// but not encrypted; callers bind the storage key here so a sealed value
// cannot be moved to another key.
func (s *Sealer) Seal(plaintext, additional []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return s.aead.Seal(nonce, nonce, plaintext, additional), nil
}

// Open decrypts data produced by Seal with the same additional data.
func (s *Sealer) Open(sealed, additional []byte) ([]byte, error) {
	nonceSize := s.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, ErrCiphertextTooShort
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, additional)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}

	return plaintext, nil
}

// LoadMasterKey returns key material for NewSealer from, in order:
//  1. the file at path, creating it with fresh random bytes (0600) when missing
//  2. the HOSTEDAUTH_MASTER_KEY environment variable
//
// An empty path with no environment variable set is an error; an ephemeral
// key would make every stored credential unreadable after restart.
func LoadMasterKey(path string) ([]byte, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read master key file: %w", err)
		}

		material := make([]byte, masterKeySize)
		if _, err := rand.Read(material); err != nil {
			return nil, fmt.Errorf("failed to generate master key: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create master key directory: %w", err)
		}
		if err := os.WriteFile(path, material, 0o600); err != nil {
			return nil, fmt.Errorf("failed to write master key file: %w", err)
		}
		return material, nil
	}

	if env := os.Getenv(MasterKeyEnv); env != "" {
		return []byte(env), nil
	}

	return nil, fmt.Errorf("cryptox: no master key file configured and %s unset", MasterKeyEnv)
}
