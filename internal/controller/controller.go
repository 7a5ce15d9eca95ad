// Package controller is the authentication state machine. It turns login
// callbacks, timers, foreground events and user actions into token
// exchanges and refreshes, persists the results and publishes them to the
// session state.
//
// Every operation that replaces or clears credentials takes a ticket from a
// generation counter: refreshes and logout when they start, interactive logins
// once the server has handed over tokens. Results are only committed while
// their ticket is the newest, so a slow response can never overwrite the
// outcome of an operation that started after it. Flows that end without
// tokens take no ticket and leave in-flight work alone.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aussiebroadwan/hostedauth/internal/authorize"
	"github.com/aussiebroadwan/hostedauth/internal/domain"
	"github.com/aussiebroadwan/hostedauth/internal/reachability"
	"github.com/aussiebroadwan/hostedauth/internal/state"
	"github.com/aussiebroadwan/hostedauth/internal/store"
	"github.com/aussiebroadwan/hostedauth/pkg/authsdk"
	"github.com/aussiebroadwan/hostedauth/pkg/idx"
)

// API is the identity service. *authsdk.Client implements it.
type API interface {
	ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (*authsdk.AuthResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (*authsdk.AuthResponse, error)
	RefreshTenantToken(ctx context.Context, accessToken, refreshToken, tenantID string) (*authsdk.AuthResponse, error)
	GetUserProfile(ctx context.Context, accessToken string) (*authsdk.UserProfile, error)
	Logout(ctx context.Context, accessToken, refreshToken string) error
	SwitchTenant(ctx context.Context, accessToken, tenantID string) error
	PasskeyChallenge(ctx context.Context) (*authsdk.PasskeyChallenge, error)
	PasskeyVerify(ctx context.Context, assertion authsdk.PasskeyAssertion) (*authsdk.AuthResponse, error)
	SetEndpoint(baseURL, clientID string)
}

// WebSession is the embedded web view's cookie jar.
type WebSession interface {
	ClearCookies(ctx context.Context) error
}

// Authenticator is the platform passkey authenticator.
type Authenticator interface {
	Assert(ctx context.Context, challenge *authsdk.PasskeyChallenge) (authsdk.PasskeyAssertion, error)
}

// Reachability is the subset of *reachability.Monitor the controller uses.
type Reachability interface {
	IsReachable(ctx context.Context) bool
	AddHandler(h reachability.Handler) (idx.ID, int)
	RemoveHandler(token idx.ID) bool
}

// Flags is the subset of *flags.Cache the controller uses on region change.
type Flags interface {
	SetClientID(clientID string)
	FetchFeatureFlags(ctx context.Context) bool
}

const (
	// refreshRatio is the share of a token's remaining lifetime after which
	// it is refreshed.
	refreshRatio = 0.9

	// minRefreshDelay stops a server handing out already expired tokens from
	// turning the timer into a busy loop.
	minRefreshDelay = time.Second

	defaultPlatform = "ios"
)

// Config describes the app the controller signs in for. Regions must hold
// at least one region; the first is used until another is selected.
type Config struct {
	Regions domain.Regions

	// BundleID identifies the app in intermediate redirect URLs.
	BundleID string

	// CallbackScheme is the redirect URI scheme. Defaults to the lowercased
	// bundle id.
	CallbackScheme string

	// Platform is the callback path segment. Defaults to "ios".
	Platform string

	// StepUpACR is the acr value that proves step-up authentication.
	StepUpACR string

	// Scopes overrides the default authorize scopes.
	Scopes []string

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Deps are the controller's collaborators. Web, Reachability and Flags are
// optional.
type Deps struct {
	API          API
	Credentials  store.Credentials
	Settings     store.Settings
	Session      *state.Session
	Web          WebSession
	Reachability Reachability
	Flags        Flags
	Logger       *slog.Logger
}

// Decision tells the web view what to do with a navigation.
type Decision int

const (
	// Allow lets the web view load the URL.
	Allow Decision = iota

	// Intercept means the controller consumed the URL; do not load it.
	Intercept

	// OpenExternal hands the URL to the system.
	OpenExternal
)

func (d Decision) String() string {
	switch d {
	case Intercept:
		return "intercept"
	case OpenExternal:
		return "open_external"
	default:
		return "allow"
	}
}

// Controller drives the session through login, refresh and logout. It is
// safe for concurrent use; results of superseded operations are dropped.
type Controller struct {
	cfg      Config
	api      API
	creds    store.Credentials
	settings store.Settings
	session  *state.Session
	web      WebSession
	reach    Reachability
	flags    Flags
	logger   *slog.Logger

	started atomic.Bool
	closed  atomic.Bool

	// gen is bumped by every operation that replaces credentials.
	gen      atomic.Uint64
	commitMu sync.Mutex
	inflight singleflight.Group

	refreshMu sync.Mutex
	refreshes int

	regionMu sync.RWMutex
	region   domain.RegionConfig

	timerMu   sync.Mutex
	timer     *time.Timer
	refreshAt time.Time

	offlineMu    sync.Mutex
	offlineRetry idx.ID

	linkMu  sync.Mutex
	appLink string
}

// New validates cfg and returns a controller for the first configured
// region. Call Start to restore a persisted session.
func New(cfg Config, deps Deps) (*Controller, error) {
	if err := cfg.Regions.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", authorize.ErrInvalidConfiguration, err)
	}
	if deps.API == nil || deps.Credentials == nil || deps.Settings == nil || deps.Session == nil {
		return nil, fmt.Errorf("%w: missing collaborator", authorize.ErrInvalidConfiguration)
	}

	if cfg.Platform == "" {
		cfg.Platform = defaultPlatform
	}
	if cfg.CallbackScheme == "" {
		cfg.CallbackScheme = strings.ToLower(cfg.BundleID)
	}
	if cfg.CallbackScheme == "" {
		return nil, fmt.Errorf("%w: missing bundle id or callback scheme", authorize.ErrInvalidConfiguration)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Controller{
		cfg:      cfg,
		api:      deps.API,
		creds:    deps.Credentials,
		settings: deps.Settings,
		session:  deps.Session,
		web:      deps.Web,
		reach:    deps.Reachability,
		flags:    deps.Flags,
		logger:   logger,
		region:   cfg.Regions[0],
	}
	c.api.SetEndpoint(c.region.BaseURL, c.region.ClientID)

	return c, nil
}

// Start restores the selected region and any persisted session. Without
// stored tokens the session becomes unauthenticated at once; with them it
// stays initializing while a refresh validates them in the background.
// Calling Start again does nothing.
func (c *Controller) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return nil
	}

	if err := c.restoreRegion(ctx); err != nil {
		return err
	}

	access, refresh := c.storedTokens()
	if access == "" || refresh == "" {
		c.session.Update(func(s *state.Snapshot) {
			s.Initializing = false
			s.IsLoading = false
		})
		c.logger.Info("no stored session")
		return nil
	}

	c.session.Update(func(s *state.Snapshot) {
		s.AccessToken = access
		s.RefreshToken = refresh
		s.IsLoading = true
	})

	go func() {
		if err := c.RefreshTokenIfNeeded(context.WithoutCancel(ctx)); err != nil {
			c.logger.Warn("stored session could not be restored", "error", err)
		}
	}()
	return nil
}

// Close stops the refresh timer and any pending offline retry.
func (c *Controller) Close() {
	c.closed.Store(true)
	c.stopTimer()
	c.cancelOfflineRetry()
}

// Region returns the active region.
func (c *Controller) Region() domain.RegionConfig {
	c.regionMu.RLock()
	defer c.regionMu.RUnlock()
	return c.region
}

// RedirectURI is the app callback for the active region.
func (c *Controller) RedirectURI() string {
	return c.redirectURIFor(c.Region())
}

func (c *Controller) redirectURIFor(r domain.RegionConfig) string {
	host := r.BaseURL
	if u, err := url.Parse(r.BaseURL); err == nil && u.Host != "" {
		host = u.Host
	}
	return fmt.Sprintf("%s://%s/%s/oauth/callback", c.cfg.CallbackScheme, host, c.cfg.Platform)
}

// PendingAppLink returns the callback URL being processed, if any.
func (c *Controller) PendingAppLink() string {
	c.linkMu.Lock()
	defer c.linkMu.Unlock()
	return c.appLink
}

func (c *Controller) setAppLink(link string) {
	c.linkMu.Lock()
	defer c.linkMu.Unlock()
	c.appLink = link
}

func (c *Controller) storedTokens() (string, string) {
	access, _, err := c.creds.Get(store.KeyAccessToken)
	if err != nil {
		c.logger.Warn("failed to read stored access token", "error", err)
		return "", ""
	}
	refresh, _, err := c.creds.Get(store.KeyRefreshToken)
	if err != nil {
		c.logger.Warn("failed to read stored refresh token", "error", err)
		return "", ""
	}
	return access, refresh
}

// currentTokens prefers the published tokens and falls back to the store.
func (c *Controller) currentTokens() (string, string) {
	snap := c.session.Get()
	if snap.AccessToken != "" && snap.RefreshToken != "" {
		return snap.AccessToken, snap.RefreshToken
	}
	return c.storedTokens()
}

// ticket starts a credential-replacing operation.
func (c *Controller) ticket() uint64 {
	return c.gen.Add(1)
}

// current reports whether no newer operation has started since t.
func (c *Controller) current(t uint64) bool {
	return c.gen.Load() == t
}
