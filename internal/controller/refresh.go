package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/hostedauth/internal/state"
	"github.com/aussiebroadwan/hostedauth/internal/store"
	"github.com/aussiebroadwan/hostedauth/pkg/authsdk"
	"github.com/aussiebroadwan/hostedauth/pkg/cryptox"
	"github.com/aussiebroadwan/hostedauth/pkg/idx"
	"github.com/aussiebroadwan/hostedauth/pkg/slogx"
)

// RefreshTokenIfNeeded exchanges the refresh token for a new pair and
// re-enters login completion with it. Concurrent calls for the same refresh
// token share one exchange.
//
// A rejected refresh token (authsdk.ErrRefreshTokenInvalid) ends the session
// and deletes the stored pair. Any other failure leaves the session
// unauthenticated but keeps the stored pair for a later retry.
func (c *Controller) RefreshTokenIfNeeded(ctx context.Context) error {
	_, refreshToken := c.currentTokens()
	if refreshToken == "" {
		c.session.Update(func(s *state.Snapshot) {
			s.IsLoading = false
			s.Initializing = false
		})
		return ErrNotAuthenticated
	}

	key := "primary:" + cryptox.FingerprintToken(refreshToken)
	ctx = context.WithoutCancel(ctx)

	_, err, shared := c.inflight.Do(key, func() (any, error) {
		return nil, c.refreshPrimary(ctx, refreshToken)
	})
	if shared {
		c.logger.Debug("refresh joined in-flight exchange")
	}
	return err
}

func (c *Controller) refreshPrimary(ctx context.Context, refreshToken string) error {
	ctx = slogx.WithFlowID(slogx.WithContext(ctx, c.logger), idx.New().String())
	logger := slogx.FromContext(ctx)

	t := c.ticket()
	c.beginRefresh()
	defer c.endRefresh()

	resp, err := c.api.RefreshToken(ctx, refreshToken)
	if err != nil {
		if !c.refreshFailed(ctx, t, err) {
			return ErrSuperseded
		}
		if authsdk.IsTransport(err) {
			c.retryWhenOnline(ctx)
		}
		return fmt.Errorf("%w: %w", ErrFailedToRefresh, err)
	}

	logger.Debug("token refreshed", slogx.Token("refresh_token", resp.RefreshToken))
	return c.commit(ctx, t, resp.AccessToken, resp.RefreshToken)
}

// refreshFailed publishes an unauthenticated session after a failed refresh
// and reports whether t was still current.
func (c *Controller) refreshFailed(ctx context.Context, t uint64, err error) bool {
	logger := slogx.FromContext(ctx)

	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	if !c.current(t) {
		return false
	}

	invalid := errors.Is(err, authsdk.ErrRefreshTokenInvalid)
	if invalid {
		logger.Info("refresh token rejected, ending session")
		if cerr := c.clearCredentials(); cerr != nil {
			logger.Warn("failed to clear credentials", "error", cerr)
		}
	} else {
		logger.Warn("token refresh failed", "error", err, "transport", authsdk.IsTransport(err))
	}

	c.session.Update(func(s *state.Snapshot) {
		s.IsAuthenticated = false
		s.IsLoading = false
		s.Initializing = false
		s.RefreshingToken = false
		if invalid {
			s.AccessToken = ""
			s.RefreshToken = ""
		}
	})
	c.stopTimer()
	return true
}

// RefreshTenantToken obtains a token pair scoped to tenantID, stores it as
// that tenant's set and makes it the active session. The active pair is also
// the primary pair, so a restart resumes in the tenant last switched to. A
// stored refresh token for the tenant is preferred over the primary one.
func (c *Controller) RefreshTenantToken(ctx context.Context, tenantID string) error {
	accessToken, refreshToken := c.currentTokens()
	if accessToken == "" || refreshToken == "" {
		return ErrNotAuthenticated
	}

	if v, ok, err := c.creds.Get(store.TenantRefreshTokenKey(tenantID)); err == nil && ok {
		refreshToken = v
	}

	key := "tenant:" + tenantID + ":" + cryptox.FingerprintToken(refreshToken)
	ctx = context.WithoutCancel(ctx)

	_, err, _ := c.inflight.Do(key, func() (any, error) {
		return nil, c.refreshTenant(ctx, tenantID, accessToken, refreshToken)
	})
	return err
}

func (c *Controller) refreshTenant(ctx context.Context, tenantID, accessToken, refreshToken string) error {
	ctx = slogx.WithFlowID(slogx.WithContext(ctx, c.logger), idx.New().String())
	logger := slogx.FromContext(ctx).With("tenant_id", tenantID)

	t := c.ticket()
	c.beginRefresh()
	defer c.endRefresh()

	resp, err := c.api.RefreshTenantToken(ctx, accessToken, refreshToken, tenantID)
	if err != nil {
		logger.Warn("tenant token refresh failed", "error", err)
		return fmt.Errorf("%w: %w", ErrFailedToRefresh, err)
	}

	if err := c.creds.Save(store.TenantAccessTokenKey(tenantID), resp.AccessToken); err != nil {
		logger.Warn("failed to store tenant access token", "error", err)
	}
	if err := c.creds.Save(store.TenantRefreshTokenKey(tenantID), resp.RefreshToken); err != nil {
		logger.Warn("failed to store tenant refresh token", "error", err)
	}

	return c.commit(ctx, t, resp.AccessToken, resp.RefreshToken)
}

// beginRefresh raises RefreshingToken for the duration of one exchange.
// Every call is paired with endRefresh, whatever the exchange's outcome.
func (c *Controller) beginRefresh() {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	c.refreshes++
	c.session.SetRefreshingToken(true)
}

// endRefresh lowers RefreshingToken once no exchange is left running.
func (c *Controller) endRefresh() {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	c.refreshes--
	if c.refreshes == 0 {
		c.session.SetRefreshingToken(false)
	}
}

// OnForeground is called when the app returns to the foreground. Timers do
// not fire while suspended, so a refresh that came due is run now and any
// other is re-armed.
func (c *Controller) OnForeground(ctx context.Context) {
	snap := c.session.Get()
	if snap.RefreshToken == "" {
		return
	}

	c.timerMu.Lock()
	due := c.refreshAt
	c.timerMu.Unlock()

	if !snap.IsAuthenticated || due.IsZero() || !c.cfg.Now().Before(due) {
		go func() {
			if err := c.RefreshTokenIfNeeded(ctx); err != nil {
				c.logger.Warn("foreground refresh failed", "error", err)
			}
		}()
		return
	}

	c.timerMu.Lock()
	c.scheduleLocked(due.Sub(c.cfg.Now()))
	c.timerMu.Unlock()
}

// armTimer schedules the next refresh at refreshRatio of the remaining
// token lifetime.
func (c *Controller) armTimer(expiresAt time.Time) {
	now := c.cfg.Now()
	delay := time.Duration(refreshRatio * float64(expiresAt.Sub(now)))

	c.timerMu.Lock()
	defer c.timerMu.Unlock()

	c.refreshAt = now.Add(delay)
	c.scheduleLocked(delay)
}

func (c *Controller) scheduleLocked(delay time.Duration) {
	if c.timer != nil {
		c.timer.Stop()
	}
	if c.closed.Load() {
		c.timer = nil
		return
	}
	delay = max(delay, minRefreshDelay)

	c.timer = time.AfterFunc(delay, func() {
		if c.closed.Load() {
			return
		}
		if err := c.RefreshTokenIfNeeded(context.Background()); err != nil {
			c.logger.Warn("scheduled refresh failed", "error", err)
		}
	})
	c.logger.Debug("refresh scheduled", "in", delay)
}

func (c *Controller) stopTimer() {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.refreshAt = time.Time{}
}

// retryWhenOnline refreshes again once the reachability monitor reports
// the network back. At most one retry is pending.
func (c *Controller) retryWhenOnline(ctx context.Context) {
	if c.reach == nil || c.reach.IsReachable(ctx) {
		return
	}

	c.offlineMu.Lock()
	defer c.offlineMu.Unlock()

	if !c.offlineRetry.IsZero() {
		return
	}

	c.offlineRetry, _ = c.reach.AddHandler(func(reachable bool) {
		if !reachable {
			return
		}
		c.cancelOfflineRetry()
		go func() {
			if err := c.RefreshTokenIfNeeded(context.Background()); err != nil {
				c.logger.Warn("refresh after reconnect failed", "error", err)
			}
		}()
	})
	slogx.FromContext(ctx).Info("offline, refresh will retry on reconnect")
}

func (c *Controller) cancelOfflineRetry() {
	c.offlineMu.Lock()
	defer c.offlineMu.Unlock()

	if c.offlineRetry.IsZero() || c.reach == nil {
		return
	}
	c.reach.RemoveHandler(c.offlineRetry)
	c.offlineRetry = idx.Zero
}
