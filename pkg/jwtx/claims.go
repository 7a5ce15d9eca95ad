package jwtx

import (
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformed  = errors.New("jwtx: malformed token")
	ErrMissingExp = errors.New("jwtx: token has no exp claim")
)

// MFA method markers carried in the amr claim.
const (
	AMRMFA      = "mfa"
	AMROTP      = "otp"
	AMRSMS      = "sms"
	AMRHardware = "hwk"
)

// stepUpMethods are the concrete second factors that satisfy step-up.
var stepUpMethods = []string{AMROTP, AMRSMS, AMRHardware}

// Claims are the access-token claims the client inspects. Tokens are issued
// and verified by the identity service; the client only reads them to plan
// refresh and gate step-up, so no signature check happens here.
type Claims struct {
	jwt.RegisteredClaims

	// Authentication Context Class Reference, compared against the
	// configured step-up value.
	ACR string `json:"acr,omitempty"`

	// Authentication Methods Reference ["pwd","mfa","otp"]
	AMR []string `json:"amr,omitempty"`

	// AuthTime is when the user last actively authenticated.
	AuthTime *jwt.NumericDate `json:"auth_time,omitempty"`

	SID      string `json:"sid,omitempty"`
	TenantID string `json:"tenantId,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Decode parses a JWT without verifying its signature.
func Decode(token string) (*Claims, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, errors.Join(ErrMalformed, err)
	}
	return &claims, nil
}

// ExpiresAt decodes token and returns its exp claim.
func ExpiresAt(token string) (time.Time, error) {
	c, err := Decode(token)
	if err != nil {
		return time.Time{}, err
	}
	if c.ExpiresAt == nil {
		return time.Time{}, ErrMissingExp
	}
	return c.ExpiresAt.Time, nil
}

// SteppedUp reports whether the claims prove a recent step-up
// authentication: acr must equal acr, amr must carry the mfa marker plus one
// concrete second factor and, when maxAge is positive and auth_time is
// present, the authentication must be no older than maxAge.
func (c *Claims) SteppedUp(acr string, maxAge time.Duration, now time.Time) bool {
	if acr == "" || c.ACR != acr {
		return false
	}

	if !slices.Contains(c.AMR, AMRMFA) {
		return false
	}

	if !slices.ContainsFunc(c.AMR, func(m string) bool { return slices.Contains(stepUpMethods, m) }) {
		return false
	}

	if maxAge > 0 && c.AuthTime != nil {
		if now.Sub(c.AuthTime.Time) > maxAge {
			return false
		}
	}

	return true
}
