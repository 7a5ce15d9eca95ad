// Package authorize builds hosted-login authorization URLs.
//
// Every URL carries a fresh nonce and a PKCE S256 challenge. The verifier is
// returned to the caller, which must keep it until the callback arrives and
// send it with the code exchange.
package authorize

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/aussiebroadwan/hostedauth/pkg/cryptox"
)

// AuthorizePath is the hosted authorization endpoint under the base URL.
const AuthorizePath = "/oauth/authorize"

// DefaultScopes are requested when Options.Scopes is empty.
var DefaultScopes = []string{"openid", "email", "profile"}

var (
	// ErrInvalidConfiguration means no URL can be built from the configured
	// base URL or client. Callers cannot recover from it at runtime.
	ErrInvalidConfiguration = errors.New("authorize: invalid configuration")

	ErrMissingACR = errors.New("authorize: step-up requires an acr value")
)

// Options describe one authorization request.
type Options struct {
	BaseURL     string
	ClientID    string
	RedirectURI string
	Scopes      []string

	// LoginHint pre-fills the email field.
	LoginHint string

	// StepUp requests elevated authentication: acr_values is sent instead
	// of prompt=login, plus max_age when MaxAge is positive.
	StepUp bool
	ACR    string
	MaxAge time.Duration

	// DirectAction is an encoded login_direct_action payload (see
	// DirectAction.Encode). When set no login hint is attached.
	DirectAction string

	// CodeVerifier reuses a persisted verifier instead of generating one.
	CodeVerifier string
}

// Generate returns the authorization URL and the PKCE verifier it commits to.
func Generate(opts Options) (string, string, error) {
	endpoint, err := endpointURL(opts.BaseURL)
	if err != nil {
		return "", "", err
	}
	if opts.ClientID == "" {
		return "", "", fmt.Errorf("%w: missing client id", ErrInvalidConfiguration)
	}
	if opts.StepUp && opts.ACR == "" {
		return "", "", ErrMissingACR
	}

	verifier := opts.CodeVerifier
	if verifier == "" {
		if verifier, err = cryptox.GenerateVerifier(); err != nil {
			return "", "", err
		}
	}

	nonce, err := cryptox.GenerateNonce()
	if err != nil {
		return "", "", err
	}

	scopes := opts.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	cfg := oauth2.Config{
		ClientID:    opts.ClientID,
		RedirectURL: opts.RedirectURI,
		Scopes:      scopes,
		Endpoint:    oauth2.Endpoint{AuthURL: endpoint},
	}

	params := []oauth2.AuthCodeOption{
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("nonce", nonce),
	}

	if opts.StepUp {
		params = append(params, oauth2.SetAuthURLParam("acr_values", opts.ACR))
		if opts.MaxAge > 0 {
			params = append(params, oauth2.SetAuthURLParam("max_age", strconv.FormatInt(int64(opts.MaxAge/time.Second), 10)))
		}
	} else {
		params = append(params, oauth2.SetAuthURLParam("prompt", "login"))
	}

	if opts.DirectAction != "" {
		params = append(params, oauth2.SetAuthURLParam("login_direct_action", opts.DirectAction))
		return cfg.AuthCodeURL("", params...), verifier, nil
	}

	if opts.LoginHint != "" {
		params = append(params, oauth2.SetAuthURLParam("login_hint", opts.LoginHint))
	}

	return escapePlus(cfg.AuthCodeURL("", params...)), verifier, nil
}

// escapePlus rewrites form-encoded spaces in the query to %20, so the only
// plus the hosted login sees in login_hint is the %2B of a literal '+'.
func escapePlus(raw string) string {
	base, query, ok := strings.Cut(raw, "?")
	if !ok {
		return raw
	}
	return base + "?" + strings.ReplaceAll(query, "+", "%20")
}

func endpointURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(base, "/"))
	if err != nil {
		return "", fmt.Errorf("%w: base url: %w", ErrInvalidConfiguration, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: base url %q is not absolute", ErrInvalidConfiguration, base)
	}
	return u.JoinPath(AuthorizePath).String(), nil
}

// DirectAction asks the hosted login to skip its landing page and act
// immediately, e.g. resume an MFA challenge.
type DirectAction struct {
	Type                  string            `json:"type"`
	Data                  string            `json:"data"`
	AdditionalQueryParams map[string]string `json:"additionalQueryParams,omitempty"`
}

// Encode returns the login_direct_action parameter value.
func (d DirectAction) Encode() (string, error) {
	if d.Type == "" {
		d.Type = "direct"
	}
	buf, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to encode direct action: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
