package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// Token size constants (in bytes before encoding).
const (
	// TokenSize128 provides 128 bits of entropy (22 chars base64url).
	TokenSize128 = 16
	// TokenSize256 provides 256 bits of entropy (43 chars base64url).
	TokenSize256 = 32
	// TokenSize512 provides 512 bits of entropy (86 chars base64url).
	TokenSize512 = 64
)

// GenerateToken creates a cryptographically secure random token of the specified byte length.
// The token is returned as a base64url-encoded string (URL-safe, no padding).
func GenerateToken(size int) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("token size must be positive, got %d", size)
	}

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// GenerateVerifier returns a fresh PKCE code verifier. 256 bits of entropy
// encode to 43 characters, the minimum length RFC 7636 allows, and the
// base64url alphabet is a subset of the unreserved characters it permits.
func GenerateVerifier() (string, error) {
	v, err := GenerateToken(TokenSize256)
	if err != nil {
		return "", fmt.Errorf("failed to generate code verifier: %w", err)
	}
	return v, nil
}

// GenerateNonce returns a fresh OIDC nonce.
func GenerateNonce() (string, error) {
	n, err := GenerateToken(TokenSize128)
	if err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return n, nil
}

// FingerprintToken returns a deterministic SHA-256 fingerprint of a token.
// Used wherever a token needs to be identified (logs, cache keys) without
// exposing its value.
//
// The fingerprint is returned as a base64url-encoded string (43 chars).
func FingerprintToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
