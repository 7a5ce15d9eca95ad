package authsdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/pquerna/otp"
)

// ============================================================================
// OAuth2 Error Codes (RFC 6749)
// ============================================================================

const (
	ErrorCodeInvalidRequest = "invalid_request"
	ErrorCodeInvalidClient  = "invalid_client"
	ErrorCodeInvalidGrant   = "invalid_grant"
	ErrorCodeServerError    = "server_error"
	ErrorCodeInvalidToken   = "invalid_token"
	ErrorCodeMFARequired    = "mfa_required"
	ErrorCodeAccessDenied   = "access_denied"
)

// ============================================================================
// Sentinel Errors
// ============================================================================

var (
	// ErrRefreshTokenInvalid is returned when the identity service rejects a
	// refresh token with 401. It is not retryable; the user must log in again.
	ErrRefreshTokenInvalid = errors.New("authsdk: refresh token invalid")

	// ErrNoEnrollment is returned by MFARequiredError.Enrollment when the
	// challenge does not carry an authenticator enrollment URL.
	ErrNoEnrollment = errors.New("authsdk: mfa challenge has no enrollment url")
)

// ============================================================================
// OAuth2Error - HTTP-level failure
// ============================================================================

// OAuth2Error represents a non-2xx response from the identity service. The
// service answers with either an RFC 6749 body or its own {"errors": [...]}
// shape; both are folded into Code and Description.
type OAuth2Error struct {
	// StatusCode is the HTTP status code of the response
	StatusCode int `json:"-"`

	// Code is the OAuth2 error code (e.g., "invalid_request", "invalid_grant")
	Code string `json:"error"`

	// Description is a human-readable description of the error
	Description string `json:"error_description"`
}

// Error implements the error interface.
func (e *OAuth2Error) Error() string {
	return fmt.Sprintf("http %d: %s: %s", e.StatusCode, e.Code, e.Description)
}

// IsStatus reports whether err is an OAuth2Error with the given status code.
func IsStatus(err error, status int) bool {
	var oe *OAuth2Error
	return errors.As(err, &oe) && oe.StatusCode == status
}

// ============================================================================
// TransportError / DecodeError
// ============================================================================

// TransportError wraps a failure to get any response at all: timeout, DNS,
// TLS, connection reset. These are the only retryable failures.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("failed to send request %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is, or wraps, a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// DecodeError reports a 2xx response whose body did not match the expected
// schema. This is a contract bug, not a condition to retry.
type DecodeError struct {
	StatusCode int
	Err        error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode response (http %d): %v", e.StatusCode, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ============================================================================
// MFA Challenge
// ============================================================================

// MFARequiredError is returned when the identity service needs a second
// factor before it will issue tokens. It carries everything the MFA
// continuation needs so the user does not start over.
type MFARequiredError struct {
	// MFAToken identifies the pending challenge.
	MFAToken string `json:"mfaToken"`

	// Methods lists the factors the user may answer with (e.g. ["totp","sms"]).
	Methods []string `json:"mfaMethods,omitempty"`

	// Enrolled is false when the user must first register an authenticator.
	Enrolled bool `json:"mfaEnrolled"`

	// OTPAuthURL is the otpauth:// enrollment URL for unenrolled users.
	OTPAuthURL string `json:"otpauthUrl,omitempty"`

	// RefreshCookie is the refresh token the service set alongside the
	// challenge, when present.
	RefreshCookie string `json:"-"`

	// Payload is the raw challenge body.
	Payload json.RawMessage `json:"-"`
}

// Error implements the error interface.
func (e *MFARequiredError) Error() string {
	return fmt.Sprintf("MFA required: available methods=%v", e.Methods)
}

// Enrollment decodes the authenticator enrollment URL carried by the challenge.
func (e *MFARequiredError) Enrollment() (*otp.Key, error) {
	if e.OTPAuthURL == "" {
		return nil, ErrNoEnrollment
	}

	key, err := otp.NewKeyFromURL(e.OTPAuthURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse enrollment url: %w", err)
	}
	return key, nil
}

// ============================================================================
// Error Parsing Helpers
// ============================================================================

// mfaChallenge extracts an MFA challenge from a response body. Both the
// hosted shape {"mfaRequired":true,"mfaToken":...} and the RFC-style
// {"error":"mfa_required","mfa_token":...} are recognised.
func mfaChallenge(resp *http.Response, body []byte) *MFARequiredError {
	var wire struct {
		MFARequired bool     `json:"mfaRequired"`
		MFAToken    string   `json:"mfaToken"`
		MFAMethods  []string `json:"mfaMethods"`
		MFAEnrolled bool     `json:"mfaEnrolled"`
		OTPAuthURL  string   `json:"otpauthUrl"`

		Error       string   `json:"error"`
		MFATokenAlt string   `json:"mfa_token"`
		MethodsAlt  []string `json:"mfa_methods"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil
	}

	var mfa *MFARequiredError
	switch {
	case wire.MFARequired && wire.MFAToken != "":
		mfa = &MFARequiredError{
			MFAToken:   wire.MFAToken,
			Methods:    wire.MFAMethods,
			Enrolled:   wire.MFAEnrolled,
			OTPAuthURL: wire.OTPAuthURL,
		}
	case wire.Error == ErrorCodeMFARequired && wire.MFATokenAlt != "":
		mfa = &MFARequiredError{
			MFAToken: wire.MFATokenAlt,
			Methods:  wire.MethodsAlt,
			Enrolled: true,
		}
	default:
		return nil
	}

	mfa.Payload = append(json.RawMessage(nil), body...)
	for _, ck := range resp.Cookies() {
		if strings.HasPrefix(ck.Name, "fe_refresh_") {
			mfa.RefreshCookie = ck.Value
		}
	}

	return mfa
}

// parseErrorResponse turns a non-2xx response into a typed error: an MFA
// challenge, an OAuth2 error body, the service's {"errors":[...]} shape, or
// a bare status.
func parseErrorResponse(resp *http.Response, body []byte) error {
	if mfa := mfaChallenge(resp, body); mfa != nil {
		return mfa
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return &OAuth2Error{
			StatusCode:  resp.StatusCode,
			Code:        errResp.Error,
			Description: errResp.ErrorDescription,
		}
	}

	var listResp ErrorListResponse
	if err := json.Unmarshal(body, &listResp); err == nil && len(listResp.Errors) > 0 {
		return &OAuth2Error{
			StatusCode:  resp.StatusCode,
			Code:        codeForStatus(resp.StatusCode),
			Description: strings.Join(listResp.Errors, "; "),
		}
	}

	return &OAuth2Error{
		StatusCode:  resp.StatusCode,
		Code:        codeForStatus(resp.StatusCode),
		Description: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return ErrorCodeInvalidRequest
	case http.StatusUnauthorized:
		return ErrorCodeInvalidToken
	case http.StatusForbidden:
		return ErrorCodeAccessDenied
	default:
		return ErrorCodeServerError
	}
}
