/*
Package authsdk is the HTTP client for the hosted identity service.

# Overview

A Client wraps the identity service endpoints an embedded-login application
needs once the hosted login page has produced an authorization code:

  - ExchangeCode: trade an authorization code (plus optional PKCE verifier) for tokens
  - RefreshToken / RefreshTenantToken: rotate the primary or a tenant-scoped token pair
  - GetUserProfile: fetch the profile and tenant list, merged into one UserProfile
  - SwitchTenant: change the user's active tenant
  - Logout: revoke the session server-side (401 means already logged out)
  - GetFeatureFlags: fetch the raw flag document
  - PasskeyChallenge / PasskeyVerify: WebAuthn login

The client holds no tokens. Callers pass the access or refresh token each call
needs, which keeps token ownership (storage, rotation, publication) with the
session controller.

	client := authsdk.NewClient("https://auth.example.com", clientID, nil)

	tokens, err := client.ExchangeCode(ctx, code, redirectURI, verifier)
	if err != nil {
		return err
	}

	user, err := client.GetUserProfile(ctx, tokens.AccessToken)

# Regions

Multi-region deployments repoint a live client with SetEndpoint. Calls
already in flight finish against the old region.

# Timeouts

Every call runs under its own context deadline: Timeout (10s default) for
ordinary calls, RefreshTimeout (5s default) for refreshes. The underlying
http.Client also carries a session-level ceiling. Calls that must inspect
Set-Cookie on a redirect disable redirect following for that call only.

# Error Handling

Errors fall into three distinguishable kinds so callers can decide between
retrying, failing fast and reporting a bug:

  - *TransportError: no response at all (timeout, DNS, TLS, reset). Retryable.
  - *OAuth2Error: a non-2xx response. Check StatusCode; IsStatus helps.
  - *DecodeError: a 2xx response with an unexpected body.

Two conditions get dedicated values:

  - ErrRefreshTokenInvalid wraps a 401 from either refresh endpoint.
  - *MFARequiredError carries an MFA challenge, including the refresh cookie
    set alongside it and, for unenrolled users, the authenticator enrollment
    URL (decode with Enrollment).

Example:

	_, err := client.RefreshToken(ctx, refreshToken)
	switch {
	case errors.Is(err, authsdk.ErrRefreshTokenInvalid):
		// log in again
	case authsdk.IsTransport(err):
		// keep tokens, retry later
	}

# Thread Safety

A Client is safe for concurrent use.
*/
package authsdk
