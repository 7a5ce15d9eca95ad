package authsdk

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAuthorizationCallback(t *testing.T) {
	t.Parallel()

	t.Run("success with code and state", func(t *testing.T) {
		code, state, err := ParseAuthorizationCallback("com.app://auth.example.com/ios/oauth/callback?code=auth-code-123&state=random-state")
		require.NoError(t, err)
		require.Equal(t, "auth-code-123", code)
		require.Equal(t, "random-state", state)
	})

	t.Run("success with code only", func(t *testing.T) {
		code, state, err := ParseAuthorizationCallback("com.app://auth.example.com/ios/oauth/callback?code=auth-code-456")
		require.NoError(t, err)
		require.Equal(t, "auth-code-456", code)
		require.Empty(t, state)
	})

	t.Run("error response", func(t *testing.T) {
		_, _, err := ParseAuthorizationCallback("com.app://auth.example.com/ios/oauth/callback?error=access_denied&error_description=User+denied+access")

		var cbErr *CallbackError
		require.ErrorAs(t, err, &cbErr)
		require.Equal(t, "access_denied", cbErr.Code)
		require.Equal(t, "User denied access", cbErr.Description)
	})

	t.Run("missing code", func(t *testing.T) {
		_, _, err := ParseAuthorizationCallback("com.app://auth.example.com/ios/oauth/callback?state=random-state")
		require.ErrorIs(t, err, ErrMissingCode)
	})

	t.Run("invalid URL", func(t *testing.T) {
		_, _, err := ParseAuthorizationCallback("://invalid-url")
		require.Error(t, err)
	})
}
