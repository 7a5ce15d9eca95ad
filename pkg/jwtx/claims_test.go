package jwtx_test

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/hostedauth/pkg/jwtx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const stepUpACR = "http://schemas.openid.net/pape/policies/2007/06/multi-factor"

// sign produces an HS256 token; the signature is irrelevant to Decode.
func sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestDecode(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := sign(t, jwt.MapClaims{
		"sub":       "user-1",
		"exp":       exp.Unix(),
		"acr":       stepUpACR,
		"amr":       []string{"pwd", "mfa", "otp"},
		"auth_time": exp.Add(-time.Hour).Unix(),
		"tenantId":  "tenant-a",
	})

	c, err := jwtx.Decode(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", c.Subject)
	require.Equal(t, stepUpACR, c.ACR)
	require.Equal(t, []string{"pwd", "mfa", "otp"}, c.AMR)
	require.Equal(t, "tenant-a", c.TenantID)
	require.True(t, exp.Equal(c.ExpiresAt.Time))

	t.Run("expired tokens still decode", func(t *testing.T) {
		expired := sign(t, jwt.MapClaims{"exp": time.Now().Add(-time.Hour).Unix()})
		_, err := jwtx.Decode(expired)
		require.NoError(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := jwtx.Decode("not-a-jwt")
		require.ErrorIs(t, err, jwtx.ErrMalformed)
	})
}

func TestExpiresAt(t *testing.T) {
	t.Parallel()

	exp := time.Unix(1900000000, 0)
	got, err := jwtx.ExpiresAt(sign(t, jwt.MapClaims{"exp": exp.Unix()}))
	require.NoError(t, err)
	require.True(t, exp.Equal(got))

	_, err = jwtx.ExpiresAt(sign(t, jwt.MapClaims{"sub": "x"}))
	require.ErrorIs(t, err, jwtx.ErrMissingExp)
}

func TestSteppedUp(t *testing.T) {
	t.Parallel()

	now := time.Now()

	tests := []struct {
		name   string
		claims jwt.MapClaims
		maxAge time.Duration
		want   bool
	}{
		{
			name:   "mfa and otp without max age",
			claims: jwt.MapClaims{"acr": stepUpACR, "amr": []string{"mfa", "otp"}},
			want:   true,
		},
		{
			name:   "missing mfa marker",
			claims: jwt.MapClaims{"acr": stepUpACR, "amr": []string{"otp"}},
			want:   false,
		},
		{
			name:   "mfa without concrete method",
			claims: jwt.MapClaims{"acr": stepUpACR, "amr": []string{"mfa", "pwd"}},
			want:   false,
		},
		{
			name:   "hardware key",
			claims: jwt.MapClaims{"acr": stepUpACR, "amr": []string{"mfa", "hwk"}},
			want:   true,
		},
		{
			name:   "wrong acr",
			claims: jwt.MapClaims{"acr": "urn:basic", "amr": []string{"mfa", "otp"}},
			want:   false,
		},
		{
			name: "auth too old",
			claims: jwt.MapClaims{
				"acr": stepUpACR, "amr": []string{"mfa", "otp"},
				"auth_time": now.Add(-600 * time.Second).Unix(),
			},
			maxAge: 300 * time.Second,
			want:   false,
		},
		{
			name: "auth recent enough",
			claims: jwt.MapClaims{
				"acr": stepUpACR, "amr": []string{"mfa", "otp"},
				"auth_time": now.Add(-60 * time.Second).Unix(),
			},
			maxAge: 300 * time.Second,
			want:   true,
		},
		{
			name:   "max age without auth_time",
			claims: jwt.MapClaims{"acr": stepUpACR, "amr": []string{"mfa", "sms"}},
			maxAge: 300 * time.Second,
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := jwtx.Decode(sign(t, tt.claims))
			require.NoError(t, err)
			require.Equal(t, tt.want, c.SteppedUp(stepUpACR, tt.maxAge, now))
		})
	}
}
