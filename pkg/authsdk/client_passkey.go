package authsdk

import (
	"context"
	"errors"
	"net/http"
)

const (
	preloginPath  = "/identity/resources/auth/v1/webauthn/prelogin"
	postloginPath = "/identity/resources/auth/v1/webauthn/postlogin"
)

// PasskeyChallenge starts a passkey login and returns the WebAuthn options
// to hand to the platform authenticator.
func (c *Client) PasskeyChallenge(ctx context.Context) (*PasskeyChallenge, error) {
	var out PasskeyChallenge
	if _, err := c.doJSON(ctx, request{
		method: http.MethodPost,
		path:   preloginPath,
		body:   map[string]string{},
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PasskeyVerify submits the authenticator's assertion. The service may still
// answer with an MFA challenge (as a 200 body) when the tenant enforces MFA
// on top of passkeys; that is returned as *MFARequiredError.
func (c *Client) PasskeyVerify(ctx context.Context, assertion PasskeyAssertion) (*AuthResponse, error) {
	resp, cancel, err := c.do(ctx, request{
		method:     http.MethodPost,
		path:       postloginPath,
		body:       assertion,
		noRedirect: true,
	})
	if err != nil {
		return nil, err
	}
	defer cancel()

	raw, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	if mfa := mfaChallenge(resp, raw); mfa != nil {
		return nil, mfa
	}

	var body cookieTokenResponse
	if err := decodeBytes(resp.StatusCode, raw, &body); err != nil {
		return nil, err
	}

	out, err := c.tokensFromCookieResponse(resp, body, "")
	if err != nil {
		return nil, err
	}
	if out.RefreshToken == "" {
		return nil, &DecodeError{StatusCode: resp.StatusCode, Err: errors.New("passkey login returned no refresh token")}
	}

	return out, nil
}
