// Package urlclass decides what a URL observed by the embedded login web
// view (or delivered as a deep link) means to the session controller.
//
// Matching is done on the string form of the URL. Callers must hand in URLs
// percent-encoded the same way the configured base URL and redirect URI are.
package urlclass

import (
	"net/url"
	"regexp"
	"strings"
)

// Category is the semantic kind of a URL.
type Category int

const (
	// Unknown URLs belong to neither the identity service nor the app; the
	// web view should hand them to the system.
	Unknown Category = iota

	// HostedLoginCallback is the OAuth redirect back into the app, including
	// the intermediate account-redirect shape used by magic link, unlock
	// and invite flows.
	HostedLoginCallback

	// SocialOauthPreLogin starts a social or SSO provider login.
	SocialOauthPreLogin

	// LoginRoutes are the hosted login pages themselves.
	LoginRoutes

	// InternalRoutes are other same-origin pages, including flow success pages.
	InternalRoutes
)

func (c Category) String() string {
	switch c {
	case HostedLoginCallback:
		return "hosted_login_callback"
	case SocialOauthPreLogin:
		return "social_oauth_prelogin"
	case LoginRoutes:
		return "login_routes"
	case InternalRoutes:
		return "internal_routes"
	default:
		return "unknown"
	}
}

type rule struct {
	name     string
	match    func(path string) bool
	category Category
}

var (
	intermediateRedirect = regexp.MustCompile(`^/oauth/account/redirect/[^/]+/[^/]+/?$`)

	socialPreLogin = []*regexp.Regexp{
		regexp.MustCompile(`^/identity/resources/auth/v[0-9]+/user/sso/default/[^/]+/prelogin$`),
		regexp.MustCompile(`^/identity/resources/auth/v[0-9]+/user/oauth/[^/]+/prelogin$`),
	}

	successPrefixes = []string{
		"/oauth/account/social/success",
		"/oauth/account/activate",
		"/oauth/account/invitation/accept",
		"/oauth/account/magic-link",
		"/oauth/account/unlock",
	}

	loginPrefixes = []string{
		"/oauth/account/",
		"/oauth/authorize",
	}
)

// sameOriginRules are evaluated in order against the path of a URL under the
// identity service base URL. The first match wins.
var sameOriginRules = []rule{
	{"intermediate_redirect", intermediateRedirect.MatchString, HostedLoginCallback},
	{"social_prelogin", matchAny(socialPreLogin), SocialOauthPreLogin},
	{"success", hasAnyPrefix(successPrefixes), InternalRoutes},
	{"account", hasAnyPrefix(loginPrefixes), LoginRoutes},
}

func matchAny(patterns []*regexp.Regexp) func(string) bool {
	return func(path string) bool {
		for _, re := range patterns {
			if re.MatchString(path) {
				return true
			}
		}
		return false
	}
}

func hasAnyPrefix(prefixes []string) func(string) bool {
	return func(path string) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(path, p) {
				return true
			}
		}
		return false
	}
}

// Result is a classification with the details the controller needs to act
// on a callback.
type Result struct {
	Category Category

	// Intermediate is set for the account-redirect callback shape. Those
	// flows were not started by the app and never carry a PKCE verifier.
	Intermediate bool

	// Code is the authorization code query parameter, if any. A callback
	// with a code means token exchange; one without means the flow finished
	// and no tokens are coming.
	Code string
}

// HasCode reports whether the URL carried an authorization code.
func (r Result) HasCode() bool { return r.Code != "" }

// Classify maps rawURL to a Category for the given identity service base URL
// and app redirect URI.
func Classify(rawURL, baseURL, redirectURI string) Category {
	return Inspect(rawURL, baseURL, redirectURI).Category
}

// Inspect classifies rawURL and extracts the callback details.
func Inspect(rawURL, baseURL, redirectURI string) Result {
	var res Result

	if rest, ok := cutOrigin(rawURL, baseURL); ok {
		path := pathOf(rest)
		res.Category = InternalRoutes
		for _, r := range sameOriginRules {
			if r.match(path) {
				res.Category = r.category
				res.Intermediate = r.name == "intermediate_redirect"
				break
			}
		}
	} else if _, ok := cutOrigin(rawURL, redirectURI); ok {
		res.Category = HostedLoginCallback
	}

	if res.Category == HostedLoginCallback {
		res.Code = codeParam(rawURL)
	}

	return res
}

// cutOrigin reports whether raw starts with prefix at a URL boundary and
// returns the remainder. "https://a.com" matches "https://a.com/x" and
// "https://a.com?q" but not "https://a.com.evil.net".
func cutOrigin(raw, prefix string) (string, bool) {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return "", false
	}

	rest, ok := strings.CutPrefix(raw, prefix)
	if !ok {
		return "", false
	}
	if rest != "" && !strings.ContainsRune("/?#", rune(rest[0])) {
		return "", false
	}
	return rest, true
}

func pathOf(rest string) string {
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		return rest[:i]
	}
	return rest
}

func codeParam(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Query().Get("code")
}
