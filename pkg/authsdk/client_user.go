package authsdk

import (
	"context"
	"encoding/json"
	"net/http"
)

const (
	profilePath      = "/identity/resources/users/v2/me"
	tenantsPath      = "/identity/resources/users/v3/me/tenants"
	switchTenantPath = "/identity/resources/users/v1/tenant"
	logoutPath       = "/identity/resources/auth/v1/logout"
)

// GetUserProfile fetches the profile and the tenant list and decodes them as
// one object. Either call failing fails the whole fetch.
func (c *Client) GetUserProfile(ctx context.Context, accessToken string) (*UserProfile, error) {
	profile, err := c.getRaw(ctx, profilePath, accessToken)
	if err != nil {
		return nil, err
	}

	tenants, err := c.getRaw(ctx, tenantsPath, accessToken)
	if err != nil {
		return nil, err
	}

	merged, err := mergeProfile(profile, tenants)
	if err != nil {
		return nil, &DecodeError{StatusCode: http.StatusOK, Err: err}
	}

	// Round trip through the merged map so field decoding stays in one place.
	buf, err := json.Marshal(merged)
	if err != nil {
		return nil, &DecodeError{StatusCode: http.StatusOK, Err: err}
	}

	var user UserProfile
	if err := json.Unmarshal(buf, &user); err != nil {
		return nil, &DecodeError{StatusCode: http.StatusOK, Err: err}
	}

	return &user, nil
}

// SwitchTenant makes tenantID the user's active tenant. Tokens issued before
// the switch still carry the old tenant; callers refresh afterwards.
func (c *Client) SwitchTenant(ctx context.Context, accessToken, tenantID string) error {
	_, err := c.doJSON(ctx, request{
		method: http.MethodPut,
		path:   switchTenantPath,
		body:   map[string]string{"tenantId": tenantID},
		bearer: accessToken,
	}, nil)
	return err
}

// Logout revokes the session server-side. A 401 means the session was
// already gone and is not an error.
func (c *Client) Logout(ctx context.Context, accessToken, refreshToken string) error {
	req := request{
		method: http.MethodPost,
		path:   logoutPath,
		body:   map[string]string{},
		bearer: accessToken,
	}
	if refreshToken != "" {
		req.cookies = []*http.Cookie{{Name: c.refreshCookieName(), Value: refreshToken}}
	}

	_, err := c.doJSON(ctx, req, nil)
	if IsStatus(err, http.StatusUnauthorized) {
		return nil
	}
	return err
}

func (c *Client) getRaw(ctx context.Context, path, accessToken string) ([]byte, error) {
	resp, cancel, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   path,
		bearer: accessToken,
	})
	if err != nil {
		return nil, err
	}
	defer cancel()

	return readBody(resp)
}
