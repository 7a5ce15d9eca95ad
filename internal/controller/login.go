package controller

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/hostedauth/internal/authorize"
	"github.com/aussiebroadwan/hostedauth/internal/state"
	"github.com/aussiebroadwan/hostedauth/internal/store"
	"github.com/aussiebroadwan/hostedauth/internal/urlclass"
	"github.com/aussiebroadwan/hostedauth/pkg/authsdk"
	"github.com/aussiebroadwan/hostedauth/pkg/idx"
	"github.com/aussiebroadwan/hostedauth/pkg/jwtx"
	"github.com/aussiebroadwan/hostedauth/pkg/slogx"
)

// mfaPagePath is the hosted page that resumes a pending MFA challenge.
const mfaPagePath = "/oauth/account/mfa-mobile-authenticator"

// SetCredentials completes a login with a token pair obtained elsewhere.
// On failure the session is rolled back to logged out.
func (c *Controller) SetCredentials(ctx context.Context, accessToken, refreshToken string) error {
	t := c.ticket()
	c.session.SetLoading(true)
	return c.commit(ctx, t, accessToken, refreshToken)
}

// commit is the login completion path shared by every way of obtaining
// tokens: store them, fetch the profile, then publish in one update and arm
// the refresh timer. Loading flags are cleared on every outcome.
func (c *Controller) commit(ctx context.Context, t uint64, accessToken, refreshToken string) error {
	logger := slogx.FromContext(ctx)

	if err := c.persist(t, accessToken, refreshToken); err != nil {
		if !errors.Is(err, ErrSuperseded) {
			logger.Error("failed to store credentials", "error", err)
			c.rollback(t)
		}
		return err
	}

	expiresAt, err := jwtx.ExpiresAt(accessToken)
	if err != nil {
		logger.Error("failed to decode access token", "error", err)
		c.rollback(t)
		return fmt.Errorf("failed to decode access token: %w", err)
	}

	user, err := c.api.GetUserProfile(ctx, accessToken)
	if err != nil {
		logger.Error("failed to load user profile", "error", err)
		c.rollback(t)
		return fmt.Errorf("failed to load user profile: %w", err)
	}

	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	if !c.current(t) {
		return ErrSuperseded
	}

	c.session.Update(func(s *state.Snapshot) {
		s.AccessToken = accessToken
		s.RefreshToken = refreshToken
		s.User = user
		s.IsAuthenticated = true
		s.IsLoading = false
		s.Initializing = false
		s.RefreshingToken = false
		s.IsStepUpAuthorization = false
	})
	c.setAppLink("")
	c.armTimer(expiresAt)

	logger.Info("session established",
		"user_id", user.ID,
		"tenant_id", user.TenantID,
		"expires_at", expiresAt,
		slogx.Token("access_token", accessToken),
	)
	return nil
}

// persist writes the token pair unless a newer operation has started.
func (c *Controller) persist(t uint64, accessToken, refreshToken string) error {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	if !c.current(t) {
		return ErrSuperseded
	}
	if err := c.creds.Save(store.KeyAccessToken, accessToken); err != nil {
		return fmt.Errorf("failed to store access token: %w", err)
	}
	if err := c.creds.Save(store.KeyRefreshToken, refreshToken); err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}
	return nil
}

// rollback resets the session to logged out if t is still current.
func (c *Controller) rollback(t uint64) {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	if !c.current(t) {
		return
	}
	c.session.Update(func(s *state.Snapshot) { *s = s.LoggedOut() })
	c.stopTimer()
}

// endFlow clears the flags of an interactive flow that produced no tokens,
// leaving any existing session in place.
func (c *Controller) endFlow(t uint64) {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	if !c.current(t) {
		return
	}
	c.session.Update(func(s *state.Snapshot) {
		s.IsLoading = false
		s.Initializing = false
		s.WebLoading = false
		s.IsStepUpAuthorization = false
	})
}

// abandon ends a flow that failed before it had tokens. It takes no ticket,
// so a refresh or login already in flight still commits. A signed-in session
// is kept; otherwise the session is reset to logged out.
func (c *Controller) abandon(wasAuthenticated bool) {
	if wasAuthenticated {
		c.endFlow(c.gen.Load())
		return
	}
	c.rollback(c.gen.Load())
}

// HandleURL routes a web view navigation or deep link.
func (c *Controller) HandleURL(ctx context.Context, rawURL string) (Decision, error) {
	region := c.Region()
	res := urlclass.Inspect(rawURL, region.BaseURL, c.redirectURIFor(region))

	ctx = slogx.WithFlowID(slogx.WithContext(ctx, c.logger), idx.New().String())
	logger := slogx.FromContext(ctx)
	logger.Debug("navigation classified", "category", res.Category, "intermediate", res.Intermediate)

	switch res.Category {
	case urlclass.HostedLoginCallback:
		return Intercept, c.handleCallback(ctx, rawURL, res)
	case urlclass.SocialOauthPreLogin:
		c.session.SetWebLoading(true)
		return Allow, nil
	case urlclass.LoginRoutes:
		c.session.SetWebLoading(false)
		return Allow, nil
	case urlclass.InternalRoutes:
		c.session.SetWebLoading(true)
		return Allow, nil
	default:
		return OpenExternal, nil
	}
}

func (c *Controller) handleCallback(ctx context.Context, rawURL string, res urlclass.Result) error {
	logger := slogx.FromContext(ctx)

	if !res.HasCode() {
		_, _, err := authsdk.ParseAuthorizationCallback(rawURL)

		var cbErr *authsdk.CallbackError
		if errors.As(err, &cbErr) {
			c.endFlow(c.gen.Load())
			_ = c.settings.Delete(ctx, store.KeyCodeVerifier)
			logger.Info("login flow ended with error", "code", cbErr.Code)
			if cbErr.Code == authsdk.ErrorCodeAccessDenied {
				return fmt.Errorf("%w: %w", ErrCanceled, cbErr)
			}
			return fmt.Errorf("%w: %w", ErrFailedToExchangeCode, cbErr)
		}

		// Magic link, unlock and invite pages finish here without a code.
		// Nothing to exchange; drop any state left by the flow.
		c.setAppLink("")
		c.session.Update(func(s *state.Snapshot) {
			s.WebLoading = false
			if !s.Initializing {
				s.IsLoading = false
			}
		})
		logger.Info("login flow completed without code", "intermediate", res.Intermediate)
		return nil
	}

	return c.exchange(ctx, rawURL, res)
}

func (c *Controller) exchange(ctx context.Context, rawURL string, res urlclass.Result) error {
	logger := slogx.FromContext(ctx)

	wasAuthenticated := c.session.Get().IsAuthenticated
	c.setAppLink(rawURL)
	c.session.Update(func(s *state.Snapshot) {
		s.IsLoading = true
		s.WebLoading = false
	})

	// Intermediate flows were started by the identity service, not by an
	// authorize URL from this app, so there is no verifier to send.
	var verifier string
	if !res.Intermediate {
		v, ok, err := c.settings.Get(ctx, store.KeyCodeVerifier)
		if err != nil {
			logger.Warn("failed to read code verifier", "error", err)
		} else if ok {
			verifier = v
		}
	}

	resp, err := c.api.ExchangeCode(ctx, res.Code, c.RedirectURI(), verifier)
	if err != nil {
		logger.Warn("code exchange failed", "error", err)
		c.abandon(wasAuthenticated)
		return fmt.Errorf("%w: %w", ErrFailedToExchangeCode, err)
	}

	if err := c.settings.Delete(ctx, store.KeyCodeVerifier); err != nil {
		logger.Warn("failed to clear code verifier", "error", err)
	}

	return c.commit(ctx, c.ticket(), resp.AccessToken, resp.RefreshToken)
}

// LoginURL returns a hosted login URL with a fresh PKCE verifier, which is
// persisted until the callback arrives.
func (c *Controller) LoginURL(ctx context.Context, loginHint string) (string, error) {
	return c.authorizeURL(ctx, authorize.Options{LoginHint: loginHint})
}

// ReloadLoginURL rebuilds the login URL around the verifier already pending,
// so a callback for the earlier URL can still be exchanged. Without a pending
// verifier it behaves like LoginURL.
func (c *Controller) ReloadLoginURL(ctx context.Context) (string, error) {
	v, ok, err := c.settings.Get(ctx, store.KeyCodeVerifier)
	if err != nil {
		return "", err
	}
	opts := authorize.Options{}
	if ok {
		opts.CodeVerifier = v
	}
	return c.authorizeURL(ctx, opts)
}

// ContinueMFA returns a login URL that resumes the challenge carried by
// mfaErr on the hosted MFA page instead of starting over.
func (c *Controller) ContinueMFA(ctx context.Context, mfaErr *authsdk.MFARequiredError) (string, error) {
	if mfaErr == nil || mfaErr.MFAToken == "" {
		return "", fmt.Errorf("%w: no mfa challenge", ErrFailedToExchangeCode)
	}

	fields := map[string]json.RawMessage{}
	if len(mfaErr.Payload) > 0 {
		if err := json.Unmarshal(mfaErr.Payload, &fields); err != nil {
			return "", fmt.Errorf("failed to decode mfa challenge: %w", err)
		}
	}
	token, _ := json.Marshal(mfaErr.MFAToken)
	fields["mfaToken"] = token
	if mfaErr.RefreshCookie != "" {
		cookie, _ := json.Marshal(mfaErr.RefreshCookie)
		fields["refreshToken"] = cookie
	}

	payload, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to encode mfa state: %w", err)
	}

	action, err := authorize.DirectAction{
		Type:                  "direct",
		Data:                  c.Region().BaseURL + mfaPagePath + "?state=" + base64.RawURLEncoding.EncodeToString(payload),
		AdditionalQueryParams: map[string]string{"prompt": "consent"},
	}.Encode()
	if err != nil {
		return "", err
	}

	return c.authorizeURL(ctx, authorize.Options{DirectAction: action})
}

// StepUp marks a step-up in progress and returns the authorize URL that
// requests it. maxAge bounds how old the resulting authentication may be.
func (c *Controller) StepUp(ctx context.Context, maxAge time.Duration) (string, error) {
	if !c.session.Get().IsAuthenticated {
		return "", ErrNotAuthenticated
	}
	if c.cfg.StepUpACR == "" {
		return "", fmt.Errorf("%w: no step-up acr configured", authorize.ErrInvalidConfiguration)
	}

	u, err := c.authorizeURL(ctx, authorize.Options{StepUp: true, ACR: c.cfg.StepUpACR, MaxAge: maxAge})
	if err != nil {
		return "", err
	}

	c.session.SetStepUpAuthorization(true)
	return u, nil
}

// RequireStepUp returns ErrStepUpRequired unless the current token proves a
// step-up no older than maxAge.
func (c *Controller) RequireStepUp(maxAge time.Duration) error {
	if !c.session.Get().IsAuthenticated {
		return ErrNotAuthenticated
	}
	if !c.IsSteppedUp(maxAge) {
		return ErrStepUpRequired
	}
	return nil
}

// IsSteppedUp reports whether the current access token proves a step-up
// authentication. Any decoding problem reads as false.
func (c *Controller) IsSteppedUp(maxAge time.Duration) bool {
	token := c.session.Get().AccessToken
	if token == "" {
		return false
	}

	claims, err := jwtx.Decode(token)
	if err != nil {
		return false
	}
	return claims.SteppedUp(c.cfg.StepUpACR, maxAge, c.cfg.Now())
}

// Cancel abandons the interactive flow in progress: loaders and the step-up
// marker are cleared and the pending verifier is dropped, so a late callback
// for the abandoned URL fails its exchange.
func (c *Controller) Cancel(ctx context.Context) error {
	c.endFlow(c.gen.Load())
	return c.settings.Delete(ctx, store.KeyCodeVerifier)
}

// LoginWithPasskey signs in with a platform passkey. An MFA challenge is
// returned as *authsdk.MFARequiredError for ContinueMFA.
func (c *Controller) LoginWithPasskey(ctx context.Context, auth Authenticator) error {
	ctx = slogx.WithFlowID(slogx.WithContext(ctx, c.logger), idx.New().String())
	logger := slogx.FromContext(ctx)

	wasAuthenticated := c.session.Get().IsAuthenticated
	c.session.SetLoading(true)

	challenge, err := c.api.PasskeyChallenge(ctx)
	if err != nil {
		logger.Warn("passkey challenge failed", "error", err)
		c.abandon(wasAuthenticated)
		return err
	}

	assertion, err := auth.Assert(ctx, challenge)
	if err != nil {
		c.endFlow(c.gen.Load())
		if errors.Is(err, context.Canceled) || errors.Is(err, ErrCanceled) {
			return fmt.Errorf("%w: %w", ErrCanceled, err)
		}
		return fmt.Errorf("passkey assertion failed: %w", err)
	}

	resp, err := c.api.PasskeyVerify(ctx, assertion)
	if err != nil {
		logger.Warn("passkey verification failed", "error", err)
		c.abandon(wasAuthenticated)
		return err
	}

	return c.commit(ctx, c.ticket(), resp.AccessToken, resp.RefreshToken)
}

func (c *Controller) authorizeURL(ctx context.Context, opts authorize.Options) (string, error) {
	region := c.Region()
	opts.BaseURL = region.BaseURL
	opts.ClientID = region.ClientID
	opts.RedirectURI = c.redirectURIFor(region)
	opts.Scopes = c.cfg.Scopes

	u, verifier, err := authorize.Generate(opts)
	if err != nil {
		return "", err
	}

	if err := c.settings.Put(ctx, store.KeyCodeVerifier, verifier); err != nil {
		return "", fmt.Errorf("failed to persist code verifier: %w", err)
	}
	return u, nil
}
