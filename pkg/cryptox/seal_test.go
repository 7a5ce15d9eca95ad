package cryptox_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aussiebroadwan/hostedauth/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	t.Parallel()

	s, err := cryptox.NewSealer([]byte("test-master-key-for-sealing-12345"), "credentials")
	require.NoError(t, err)

	plaintext := []byte("eyJhbGciOiJSUzI1NiJ9.refresh")
	sealed, err := s.Seal(plaintext, []byte("refresh_token"))
	require.NoError(t, err)
	require.NotEqual(t, plaintext, sealed)

	opened, err := s.Open(sealed, []byte("refresh_token"))
	require.NoError(t, err)
	require.Equal(t, plaintext, opened)

	t.Run("random nonce per seal", func(t *testing.T) {
		again, err := s.Seal(plaintext, []byte("refresh_token"))
		require.NoError(t, err)
		require.NotEqual(t, sealed, again)
	})

	t.Run("additional data is bound", func(t *testing.T) {
		_, err := s.Open(sealed, []byte("access_token"))
		require.Error(t, err)
	})

	t.Run("tampered ciphertext", func(t *testing.T) {
		tampered := append([]byte(nil), sealed...)
		tampered[len(tampered)-1] ^= 0xff
		_, err := s.Open(tampered, []byte("refresh_token"))
		require.Error(t, err)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := s.Open([]byte("short"), nil)
		require.ErrorIs(t, err, cryptox.ErrCiphertextTooShort)
	})
}

func TestSealer_InfoSeparatesKeys(t *testing.T) {
	t.Parallel()

	master := []byte("shared-master")
	a, err := cryptox.NewSealer(master, "credentials")
	require.NoError(t, err)
	b, err := cryptox.NewSealer(master, "settings")
	require.NoError(t, err)

	sealed, err := a.Seal([]byte("value"), nil)
	require.NoError(t, err)

	_, err = b.Open(sealed, nil)
	require.Error(t, err, "different info strings must derive different keys")
}

func TestNewSealer_EmptyMaster(t *testing.T) {
	_, err := cryptox.NewSealer(nil, "credentials")
	require.Error(t, err)
}

func TestLoadMasterKey(t *testing.T) {
	t.Run("creates key file when missing", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "keys", "master.key")

		first, err := cryptox.LoadMasterKey(path)
		require.NoError(t, err)
		require.Len(t, first, 32)

		info, err := os.Stat(path)
		require.NoError(t, err)
		require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

		second, err := cryptox.LoadMasterKey(path)
		require.NoError(t, err)
		require.Equal(t, first, second, "key file must be reused")
	})

	t.Run("falls back to environment", func(t *testing.T) {
		t.Setenv(cryptox.MasterKeyEnv, "from-env")

		key, err := cryptox.LoadMasterKey("")
		require.NoError(t, err)
		require.Equal(t, []byte("from-env"), key)
	})

	t.Run("no source configured", func(t *testing.T) {
		t.Setenv(cryptox.MasterKeyEnv, "")

		_, err := cryptox.LoadMasterKey("")
		require.Error(t, err)
	})
}
