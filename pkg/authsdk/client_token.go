package authsdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

const (
	tokenPath         = "/oauth/token"
	tenantRefreshPath = "/identity/resources/auth/v1/user/token/refresh"
)

// ExchangeCode trades an authorization code for tokens. codeVerifier is the
// PKCE verifier from the matching authorize URL; pass "" for flows that were
// started by the identity service itself (magic link, invite, unlock) where
// no verifier exists.
func (c *Client) ExchangeCode(
	ctx context.Context,
	code, redirectURI, codeVerifier string,
) (*AuthResponse, error) {
	body := map[string]string{
		"grant_type":   "authorization_code",
		"code":         code,
		"redirect_uri": redirectURI,
	}
	if codeVerifier != "" {
		body["code_verifier"] = codeVerifier
	}

	var out AuthResponse
	if _, err := c.doJSON(ctx, request{
		method: http.MethodPost,
		path:   tokenPath,
		body:   body,
	}, &out); err != nil {
		return nil, err
	}

	if out.AccessToken == "" || out.RefreshToken == "" {
		return nil, &DecodeError{StatusCode: http.StatusOK, Err: errors.New("token response missing tokens")}
	}

	return &out, nil
}

// RefreshToken rotates the primary token pair. A 401 is reported as
// ErrRefreshTokenInvalid.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	var out AuthResponse
	_, err := c.doJSON(ctx, request{
		method: http.MethodPost,
		path:   tokenPath,
		body: map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": refreshToken,
		},
		timeout: c.RefreshTimeout,
	}, &out)
	if err != nil {
		return nil, classifyRefreshError(err)
	}

	if out.AccessToken == "" {
		return nil, &DecodeError{StatusCode: http.StatusOK, Err: errors.New("refresh response missing access token")}
	}
	if out.RefreshToken == "" {
		out.RefreshToken = refreshToken
	}

	return &out, nil
}

// RefreshTenantToken obtains a token pair scoped to tenantID. The endpoint
// authenticates with the refresh cookie but rejects the call unless the
// current access token is also sent as a bearer token.
func (c *Client) RefreshTenantToken(
	ctx context.Context,
	accessToken, refreshToken, tenantID string,
) (*AuthResponse, error) {
	var body cookieTokenResponse
	resp, err := c.doJSON(ctx, request{
		method:     http.MethodPost,
		path:       tenantRefreshPath,
		body:       map[string]string{"tenantId": tenantID},
		bearer:     accessToken,
		cookies:    []*http.Cookie{{Name: c.refreshCookieName(), Value: refreshToken}},
		timeout:    c.RefreshTimeout,
		noRedirect: true,
	}, &body)
	if err != nil {
		return nil, classifyRefreshError(err)
	}

	return c.tokensFromCookieResponse(resp, body, refreshToken)
}

// tokensFromCookieResponse builds an AuthResponse from a cookie-authenticated
// endpoint. The rotated refresh token arrives in the body or, on older
// deployments, only as a Set-Cookie; fallback is kept when neither has one.
func (c *Client) tokensFromCookieResponse(
	resp *http.Response,
	body cookieTokenResponse,
	fallback string,
) (*AuthResponse, error) {
	out := &AuthResponse{
		TokenType:    body.TokenType,
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		IDToken:      body.IDToken,
	}
	if out.TokenType == "" {
		out.TokenType = "Bearer"
	}

	if out.RefreshToken == "" {
		name := c.refreshCookieName()
		for _, ck := range resp.Cookies() {
			if ck.Name == name && ck.Value != "" {
				out.RefreshToken = ck.Value
			}
		}
	}
	if out.RefreshToken == "" {
		out.RefreshToken = fallback
	}

	if out.AccessToken == "" {
		return nil, &DecodeError{StatusCode: resp.StatusCode, Err: errors.New("response missing access token")}
	}

	return out, nil
}

func classifyRefreshError(err error) error {
	if IsStatus(err, http.StatusUnauthorized) {
		return fmt.Errorf("%w: %w", ErrRefreshTokenInvalid, err)
	}
	return err
}
