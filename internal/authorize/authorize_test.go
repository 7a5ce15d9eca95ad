package authorize_test

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/hostedauth/internal/authorize"
)

func baseOptions() authorize.Options {
	return authorize.Options{
		BaseURL:     "https://auth.example.com",
		ClientID:    "client-1",
		RedirectURI: "com.app://auth.example.com/ios/oauth/callback",
	}
}

func parse(t *testing.T, raw string) url.Values {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "/oauth/authorize", u.Path)
	return u.Query()
}

func TestGenerate_ChallengeRoundTrip(t *testing.T) {
	t.Parallel()

	raw, verifier, err := authorize.Generate(baseOptions())
	require.NoError(t, err)
	require.Len(t, verifier, 43)

	q := parse(t, raw)
	sum := sha256.Sum256([]byte(verifier))
	require.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), q.Get("code_challenge"))
	require.NotContains(t, q.Get("code_challenge"), "=")
}

func TestGenerate_RequiredParams(t *testing.T) {
	t.Parallel()

	raw, _, err := authorize.Generate(baseOptions())
	require.NoError(t, err)

	q := parse(t, raw)
	require.Equal(t, "com.app://auth.example.com/ios/oauth/callback", q.Get("redirect_uri"))
	require.Equal(t, "code", q.Get("response_type"))
	require.Equal(t, "client-1", q.Get("client_id"))
	require.Equal(t, "openid email profile", q.Get("scope"))
	require.Equal(t, "S256", q.Get("code_challenge_method"))
	require.NotEmpty(t, q.Get("nonce"))
	require.Equal(t, "login", q.Get("prompt"))
	require.False(t, q.Has("acr_values"))
}

func TestGenerate_FreshNonceAndVerifier(t *testing.T) {
	t.Parallel()

	a, va, err := authorize.Generate(baseOptions())
	require.NoError(t, err)
	b, vb, err := authorize.Generate(baseOptions())
	require.NoError(t, err)

	require.NotEqual(t, va, vb)
	require.NotEqual(t, parse(t, a).Get("nonce"), parse(t, b).Get("nonce"))
}

func TestGenerate_ReusesVerifier(t *testing.T) {
	t.Parallel()

	opts := baseOptions()
	opts.CodeVerifier = "persisted-verifier-persisted-verifier-12345"

	a, v, err := authorize.Generate(opts)
	require.NoError(t, err)
	require.Equal(t, opts.CodeVerifier, v)

	b, _, err := authorize.Generate(opts)
	require.NoError(t, err)
	require.Equal(t, parse(t, a).Get("code_challenge"), parse(t, b).Get("code_challenge"))
	require.NotEqual(t, parse(t, a).Get("nonce"), parse(t, b).Get("nonce"))
}

func TestGenerate_StepUp(t *testing.T) {
	t.Parallel()

	opts := baseOptions()
	opts.StepUp = true
	opts.ACR = "http://schemas.openid.net/pape/policies/2007/06/multi-factor"

	t.Run("without max age", func(t *testing.T) {
		raw, _, err := authorize.Generate(opts)
		require.NoError(t, err)
		q := parse(t, raw)
		require.Equal(t, opts.ACR, q.Get("acr_values"))
		require.False(t, q.Has("max_age"))
		require.False(t, q.Has("prompt"))
	})

	t.Run("with max age", func(t *testing.T) {
		o := opts
		o.MaxAge = 5 * time.Minute
		raw, _, err := authorize.Generate(o)
		require.NoError(t, err)
		require.Equal(t, "300", parse(t, raw).Get("max_age"))
	})

	t.Run("missing acr", func(t *testing.T) {
		o := opts
		o.ACR = ""
		_, _, err := authorize.Generate(o)
		require.ErrorIs(t, err, authorize.ErrMissingACR)
	})
}

func TestGenerate_LoginHintPlus(t *testing.T) {
	t.Parallel()

	opts := baseOptions()
	opts.LoginHint = "alice+test@example.com"

	raw, _, err := authorize.Generate(opts)
	require.NoError(t, err)

	_, query, _ := strings.Cut(raw, "?")
	require.NotContains(t, query, "+")
	require.Contains(t, query, "login_hint=alice%2Btest%40example.com")
	require.Equal(t, "alice+test@example.com", parse(t, raw).Get("login_hint"))
}

func TestGenerate_DirectAction(t *testing.T) {
	t.Parallel()

	action, err := authorize.DirectAction{
		Data:                  "https://auth.example.com/oauth/account/mfa?mfa_token=m1",
		AdditionalQueryParams: map[string]string{"prompt": "consent"},
	}.Encode()
	require.NoError(t, err)

	opts := baseOptions()
	opts.DirectAction = action
	opts.LoginHint = "ignored@example.com"

	raw, _, err := authorize.Generate(opts)
	require.NoError(t, err)

	q := parse(t, raw)
	require.False(t, q.Has("login_hint"))

	decoded, err := base64.StdEncoding.DecodeString(q.Get("login_direct_action"))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(decoded, &got))
	require.Equal(t, "direct", got["type"])
	require.Equal(t, "https://auth.example.com/oauth/account/mfa?mfa_token=m1", got["data"])
}

func TestGenerate_InvalidConfiguration(t *testing.T) {
	t.Parallel()

	for _, base := range []string{"", "auth.example.com", "://bad", "https://"} {
		opts := baseOptions()
		opts.BaseURL = base
		_, _, err := authorize.Generate(opts)
		require.ErrorIs(t, err, authorize.ErrInvalidConfiguration, "base %q", base)
	}

	opts := baseOptions()
	opts.ClientID = ""
	_, _, err := authorize.Generate(opts)
	require.ErrorIs(t, err, authorize.ErrInvalidConfiguration)
}
