package authsdk

import (
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultTimeout bounds every call that does not set its own budget.
	DefaultTimeout = 10 * time.Second

	// DefaultRefreshTimeout is tighter: a refresh sits on the critical path
	// of app launch and foreground return.
	DefaultRefreshTimeout = 5 * time.Second

	// sessionTimeout is the http.Client level ceiling, above any per-call budget.
	sessionTimeout = 30 * time.Second
)

// Client talks to a hosted identity service on behalf of one application.
// Base URL and client id can be swapped at runtime when the user picks a
// different region; all methods read them under a lock.
type Client struct {
	HTTPClient *http.Client

	// Timeout is the per-call budget for non-refresh calls.
	Timeout time.Duration

	// RefreshTimeout is the per-call budget for token refresh calls.
	RefreshTimeout time.Duration

	mu       sync.RWMutex
	baseURL  string
	clientID string
}

// NewClient creates a client for the identity service at baseURL. A nil
// transport uses http.DefaultTransport.
func NewClient(baseURL, clientID string, transport http.RoundTripper) *Client {
	return &Client{
		HTTPClient: &http.Client{
			Timeout:   sessionTimeout,
			Transport: transport,
		},
		Timeout:        DefaultTimeout,
		RefreshTimeout: DefaultRefreshTimeout,
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		clientID:       clientID,
	}
}

// SetEndpoint repoints the client at another region.
func (c *Client) SetEndpoint(baseURL, clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.baseURL = strings.TrimSuffix(baseURL, "/")
	c.clientID = clientID
}

// BaseURL returns the current identity service origin.
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// ClientID returns the current OAuth2 client id.
func (c *Client) ClientID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientID
}

// refreshCookieName is the cookie the identity service reads the refresh
// token from on cookie-authenticated endpoints.
func (c *Client) refreshCookieName() string {
	return "fe_refresh_" + strings.ReplaceAll(c.ClientID(), "-", "")
}
