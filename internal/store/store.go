package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound    = errors.New("store: not found")
	ErrUnavailable = errors.New("store: unavailable")
	ErrEncoding    = errors.New("store: encoding failed")
)

// Well-known keys. Token keys live in a Credentials store, everything else
// in Settings.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"

	KeySelectedRegion = "selected_region"
	KeyCodeVerifier   = "code_verifier"
)

// TenantAccessTokenKey is the credential key for a tenant-scoped access token.
func TenantAccessTokenKey(tenantID string) string {
	return KeyAccessToken + ":" + tenantID
}

// TenantRefreshTokenKey is the credential key for a tenant-scoped refresh token.
func TenantRefreshTokenKey(tenantID string) string {
	return KeyRefreshToken + ":" + tenantID
}

// FeatureFlagsKey is the settings key of the persisted flag snapshot.
func FeatureFlagsKey(clientID string) string {
	return "featureflags:" + clientID
}

// Credentials is a secure key/value store for secrets. A missing key is not
// an error: Get reports it with ok=false. Saving an existing key replaces it.
type Credentials interface {
	Save(key, value string) error
	Get(key string) (value string, ok bool, err error)
	Delete(key string) error

	// Clear removes every credential owned by this store.
	Clear() error
}

// Settings is the lightweight store for non-secret values that must survive
// a restart (selected region, pending PKCE verifier, flag snapshot).
type Settings interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
