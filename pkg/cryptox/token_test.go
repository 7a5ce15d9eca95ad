package cryptox

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	tests := []struct {
		name string
		size int
		want int
	}{
		{"128-bit token", TokenSize128, 22},
		{"256-bit token", TokenSize256, 43},
		{"512-bit token", TokenSize512, 86},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := GenerateToken(tt.size)
			require.NoError(t, err)
			require.Len(t, token, tt.want)

			token2, err := GenerateToken(tt.size)
			require.NoError(t, err)
			require.NotEqual(t, token, token2, "tokens should be unique")
		})
	}
}

func TestGenerateToken_InvalidSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		token, err := GenerateToken(size)
		require.Error(t, err)
		require.Empty(t, token)
	}
}

func TestGenerateVerifier(t *testing.T) {
	t.Parallel()

	// RFC 7636: 43-128 chars from [A-Z a-z 0-9 - . _ ~]
	unreserved := regexp.MustCompile(`^[A-Za-z0-9\-._~]{43,128}$`)

	v, err := GenerateVerifier()
	require.NoError(t, err)
	require.Regexp(t, unreserved, v)

	other, err := GenerateVerifier()
	require.NoError(t, err)
	require.NotEqual(t, v, other)
}

func TestGenerateNonce(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool, 50)
	for range 50 {
		n, err := GenerateNonce()
		require.NoError(t, err)
		require.NotContains(t, seen, n, "duplicate nonce generated")
		seen[n] = true
	}
}

func TestFingerprintToken(t *testing.T) {
	fp1a := FingerprintToken("test-token-1")
	fp1b := FingerprintToken("test-token-1")
	fp2 := FingerprintToken("test-token-2")

	require.Equal(t, fp1a, fp1b, "fingerprint should be deterministic")
	require.NotEqual(t, fp1a, fp2)
	require.Len(t, fp1a, 43, "SHA-256 base64url should be 43 chars")
}
