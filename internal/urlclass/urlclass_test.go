package urlclass_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/hostedauth/internal/urlclass"
)

const (
	baseURL     = "https://auth.example.com"
	redirectURI = "com.app://auth.example.com/ios/oauth/callback"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url  string
		want urlclass.Category
	}{
		{"https://auth.example.com/oauth/account/social/success?x=1", urlclass.InternalRoutes},
		{"https://auth.example.com/oauth/account/mfa", urlclass.LoginRoutes},
		{"https://auth.example.com/identity/resources/auth/v1/user/sso/default/google/prelogin", urlclass.SocialOauthPreLogin},
		{"https://auth.example.com/identity/resources/auth/v2/user/oauth/github/prelogin", urlclass.SocialOauthPreLogin},
		{"com.app://auth.example.com/ios/oauth/callback?code=abc", urlclass.HostedLoginCallback},
		{"https://evil.example.com/", urlclass.Unknown},

		{"https://auth.example.com/oauth/authorize?client_id=x", urlclass.LoginRoutes},
		{"https://auth.example.com/oauth/account/activate?token=t", urlclass.InternalRoutes},
		{"https://auth.example.com/oauth/account/redirect/ios/com.app?code=abc", urlclass.HostedLoginCallback},
		{"https://auth.example.com/oauth/account/redirect/ios/com.app", urlclass.HostedLoginCallback},
		{"https://auth.example.com/", urlclass.InternalRoutes},
		{"https://auth.example.com", urlclass.InternalRoutes},
		{"https://auth.example.com/some/page", urlclass.InternalRoutes},
		{"https://auth.example.com.evil.net/oauth/account/login", urlclass.Unknown},
		{"com.app://auth.example.com/ios/oauth/callbackx", urlclass.Unknown},
		{"", urlclass.Unknown},
	}

	for _, tc := range tests {
		t.Run(tc.url, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, urlclass.Classify(tc.url, baseURL, redirectURI))
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	t.Parallel()

	u := "https://auth.example.com/oauth/account/mfa"
	first := urlclass.Classify(u, baseURL, redirectURI)
	for range 10 {
		require.Equal(t, first, urlclass.Classify(u, baseURL, redirectURI))
	}
}

func TestInspect(t *testing.T) {
	t.Parallel()

	t.Run("callback with code", func(t *testing.T) {
		r := urlclass.Inspect(redirectURI+"?code=abc&state=s", baseURL, redirectURI)
		require.Equal(t, urlclass.HostedLoginCallback, r.Category)
		require.False(t, r.Intermediate)
		require.True(t, r.HasCode())
		require.Equal(t, "abc", r.Code)
	})

	t.Run("intermediate with code", func(t *testing.T) {
		r := urlclass.Inspect(baseURL+"/oauth/account/redirect/ios/com.app?code=xyz", baseURL, redirectURI)
		require.Equal(t, urlclass.HostedLoginCallback, r.Category)
		require.True(t, r.Intermediate)
		require.Equal(t, "xyz", r.Code)
	})

	t.Run("intermediate without code", func(t *testing.T) {
		r := urlclass.Inspect(baseURL+"/oauth/account/redirect/ios/com.app", baseURL, redirectURI)
		require.True(t, r.Intermediate)
		require.False(t, r.HasCode())
	})

	t.Run("code ignored outside callbacks", func(t *testing.T) {
		r := urlclass.Inspect(baseURL+"/oauth/account/login?code=abc", baseURL, redirectURI)
		require.Equal(t, urlclass.LoginRoutes, r.Category)
		require.False(t, r.HasCode())
	})
}

func TestCategory_String(t *testing.T) {
	t.Parallel()

	require.Equal(t, "hosted_login_callback", urlclass.HostedLoginCallback.String())
	require.Equal(t, "unknown", urlclass.Category(99).String())
}
