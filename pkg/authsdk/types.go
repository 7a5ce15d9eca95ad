package authsdk

import (
	"encoding/json"
	"maps"
	"slices"
)

// ============================================================================
// Internal Response Types (used for JSON unmarshaling)
// ============================================================================

// ErrorResponse represents a standard OAuth2 error response per RFC 6749.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// ErrorListResponse is the identity service's own error envelope.
type ErrorListResponse struct {
	Errors []string `json:"errors"`
}

// cookieTokenResponse is returned by the cookie-authenticated endpoints
// (tenant refresh, passkey login) which use camelCase field names.
type cookieTokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	IDToken      string `json:"idToken"`
	TokenType    string `json:"tokenType"`
}

// ============================================================================
// Token Types
// ============================================================================

// AuthResponse is the result of a code exchange or refresh.
// It is a comparable value; two responses are equal when all fields match.
type AuthResponse struct {
	TokenType    string `json:"token_type"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token,omitempty"`
}

// ============================================================================
// User Profile
// ============================================================================

// Tenant is one account the user belongs to.
type Tenant struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenantId"`
	Name       string `json:"name"`
	Website    string `json:"website,omitempty"`
	LogoURL    string `json:"logoUrl,omitempty"`
	CreatorID  string `json:"creatorId,omitempty"`
	IsReseller bool   `json:"isReseller"`
}

// Role is a named set of permission keys granted in a tenant.
type Role struct {
	ID            string   `json:"id"`
	Key           string   `json:"key"`
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	IsDefault     bool     `json:"isDefault"`
	PermissionIDs []string `json:"permissions,omitempty"`
}

// Permission is a single capability key.
type Permission struct {
	ID          string `json:"id"`
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// UserProfile is the merged result of the profile and tenant list calls.
// Absent booleans decode as false.
type UserProfile struct {
	ID                 string       `json:"id"`
	Email              string       `json:"email"`
	Name               string       `json:"name"`
	TenantID           string       `json:"tenantId"`
	TenantIDs          []string     `json:"tenantIds"`
	Tenants            []Tenant     `json:"tenants"`
	ActiveTenant       Tenant       `json:"activeTenant"`
	Roles              []Role       `json:"roles"`
	Permissions        []Permission `json:"permissions"`
	Verified           bool         `json:"verified"`
	SuperUser          bool         `json:"superUser"`
	MFAEnrolled        bool         `json:"mfaEnrolled"`
	ActivatedForTenant bool         `json:"activatedForTenant"`

	PhoneNumber  *string         `json:"phoneNumber,omitempty"`
	ProfileImage *string         `json:"profilePictureUrl,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}

// Equal reports structural equality. Session state uses it to skip
// notifications when a refresh returns an unchanged profile.
func (u *UserProfile) Equal(o *UserProfile) bool {
	if u == nil || o == nil {
		return u == o
	}

	return u.ID == o.ID &&
		u.Email == o.Email &&
		u.Name == o.Name &&
		u.TenantID == o.TenantID &&
		slices.Equal(u.TenantIDs, o.TenantIDs) &&
		slices.Equal(u.Tenants, o.Tenants) &&
		u.ActiveTenant == o.ActiveTenant &&
		slices.EqualFunc(u.Roles, o.Roles, func(a, b Role) bool {
			return a.ID == b.ID && a.Key == b.Key && a.Name == b.Name &&
				a.Description == b.Description && a.IsDefault == b.IsDefault &&
				slices.Equal(a.PermissionIDs, b.PermissionIDs)
		}) &&
		slices.Equal(u.Permissions, o.Permissions) &&
		u.Verified == o.Verified &&
		u.SuperUser == o.SuperUser &&
		u.MFAEnrolled == o.MFAEnrolled &&
		u.ActivatedForTenant == o.ActivatedForTenant &&
		equalPtr(u.PhoneNumber, o.PhoneNumber) &&
		equalPtr(u.ProfileImage, o.ProfileImage) &&
		string(u.Metadata) == string(o.Metadata)
}

// RoleKeys returns the role keys, useful for quick membership checks.
func (u *UserProfile) RoleKeys() []string {
	keys := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		keys = append(keys, r.Key)
	}
	return keys
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// mergeProfile overlays the tenant list response onto the profile response
// before decoding, so UserProfile is decoded from a single object.
func mergeProfile(profile, tenants []byte) (map[string]json.RawMessage, error) {
	merged := make(map[string]json.RawMessage)
	if err := json.Unmarshal(profile, &merged); err != nil {
		return nil, err
	}

	var extra struct {
		Tenants      json.RawMessage `json:"tenants"`
		ActiveTenant json.RawMessage `json:"activeTenant"`
	}
	if err := json.Unmarshal(tenants, &extra); err != nil {
		return nil, err
	}

	overlay := map[string]json.RawMessage{}
	if len(extra.Tenants) > 0 {
		overlay["tenants"] = extra.Tenants
	}
	if len(extra.ActiveTenant) > 0 {
		overlay["activeTenant"] = extra.ActiveTenant
	}
	maps.Copy(merged, overlay)

	return merged, nil
}

// ============================================================================
// Passkeys
// ============================================================================

// PasskeyChallenge is the WebAuthn assertion request produced by prelogin.
// Options is passed verbatim to the platform authenticator.
type PasskeyChallenge struct {
	Options json.RawMessage `json:"options"`
}

// PasskeyAssertion is the platform authenticator's signed response.
type PasskeyAssertion struct {
	ID       string          `json:"id"`
	RawID    string          `json:"rawId"`
	Type     string          `json:"type"`
	Response json.RawMessage `json:"response"`
}
