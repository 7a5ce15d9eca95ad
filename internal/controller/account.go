package controller

import (
	"context"
	"fmt"

	"github.com/aussiebroadwan/hostedauth/internal/domain"
	"github.com/aussiebroadwan/hostedauth/internal/state"
	"github.com/aussiebroadwan/hostedauth/internal/store"
	"github.com/aussiebroadwan/hostedauth/pkg/idx"
	"github.com/aussiebroadwan/hostedauth/pkg/slogx"
)

// Logout ends the session. Web cookies and the server session are cleared
// best-effort, then local credentials and state are reset unless a login
// completed in the meantime. Only a failure to clear the credential store is
// returned.
func (c *Controller) Logout(ctx context.Context) error {
	ctx = slogx.WithFlowID(slogx.WithContext(ctx, c.logger), idx.New().String())
	logger := slogx.FromContext(ctx)

	accessToken, refreshToken := c.currentTokens()

	t := c.ticket()
	c.stopTimer()
	c.cancelOfflineRetry()

	if c.web != nil {
		if err := c.web.ClearCookies(ctx); err != nil {
			logger.Warn("failed to clear web cookies", "error", err)
		}
	}

	if accessToken != "" {
		if err := c.api.Logout(ctx, accessToken, refreshToken); err != nil {
			logger.Warn("remote logout failed", "error", err)
		}
	}

	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	// A login that got its tokens while the remote call was running has
	// already stored them; it wins over this logout.
	if !c.current(t) {
		logger.Info("logout superseded by a newer login")
		return nil
	}

	err := c.clearCredentials()
	if derr := c.settings.Delete(ctx, store.KeyCodeVerifier); derr != nil {
		logger.Warn("failed to clear code verifier", "error", derr)
	}
	c.session.Update(func(s *state.Snapshot) { *s = s.LoggedOut() })
	c.setAppLink("")

	if err != nil {
		logger.Error("failed to clear credentials", "error", err)
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	logger.Info("logged out")
	return nil
}

// SwitchTenant makes tenantID the active tenant and refreshes into a token
// pair scoped to it. A rejected switch leaves the session untouched.
func (c *Controller) SwitchTenant(ctx context.Context, tenantID string) error {
	snap := c.session.Get()
	if !snap.IsAuthenticated || snap.AccessToken == "" {
		return ErrNotAuthenticated
	}

	logger := c.logger.With("tenant_id", tenantID)

	if err := c.api.SwitchTenant(ctx, snap.AccessToken, tenantID); err != nil {
		logger.Warn("tenant switch rejected", "error", err)
		return fmt.Errorf("%w: %w", ErrFailedToSwitchTenant, err)
	}

	if err := c.RefreshTenantToken(ctx, tenantID); err != nil {
		return err
	}
	logger.Info("tenant switched")
	return nil
}

// SelectRegion points the controller at another region. The choice is
// persisted; credentials issued by the previous region are discarded and the
// session is reset to logged out.
func (c *Controller) SelectRegion(ctx context.Context, key string) error {
	region, err := c.cfg.Regions.Find(key)
	if err != nil {
		return err
	}

	if err := c.settings.Put(ctx, store.KeySelectedRegion, region.Key); err != nil {
		return fmt.Errorf("failed to persist region: %w", err)
	}

	t := c.ticket()
	c.stopTimer()
	c.cancelOfflineRetry()
	c.useRegion(region)

	var cerr error
	c.commitMu.Lock()
	if c.current(t) {
		cerr = c.clearCredentials()
		c.session.Update(func(s *state.Snapshot) {
			*s = s.LoggedOut()
			s.SelectedRegion = &region
		})
		c.setAppLink("")
	}
	c.commitMu.Unlock()

	if c.flags != nil {
		go c.flags.FetchFeatureFlags(context.WithoutCancel(ctx))
	}

	c.logger.Info("region selected", "region", region.Key)
	if cerr != nil {
		return fmt.Errorf("failed to clear credentials: %w", cerr)
	}
	return nil
}

// restoreRegion applies the persisted region choice. An unknown or missing
// choice falls back to the first configured region.
func (c *Controller) restoreRegion(ctx context.Context) error {
	region := c.cfg.Regions[0]

	key, ok, err := c.settings.Get(ctx, store.KeySelectedRegion)
	if err != nil {
		return fmt.Errorf("failed to read region: %w", err)
	}
	if ok {
		found, err := c.cfg.Regions.Find(key)
		if err != nil {
			c.logger.Warn("stored region no longer configured", "region", key)
		} else {
			region = found
		}
	}

	c.useRegion(region)
	c.session.SetSelectedRegion(&region)
	return nil
}

func (c *Controller) useRegion(region domain.RegionConfig) {
	c.regionMu.Lock()
	c.region = region
	c.regionMu.Unlock()

	c.api.SetEndpoint(region.BaseURL, region.ClientID)
	if c.flags != nil {
		c.flags.SetClientID(region.ClientID)
	}
}

// clearCredentials deletes every stored credential. Callers hold commitMu.
func (c *Controller) clearCredentials() error {
	return c.creds.Clear()
}
