package keychain_test

import (
	"errors"
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/hostedauth/internal/store"
	"github.com/aussiebroadwan/hostedauth/internal/store/keychain"
)

func TestStore_RoundTrip(t *testing.T) {
	t.Parallel()

	s := keychain.New(keyring.NewArrayKeyring(nil))

	_, ok, err := s.Get("access_token")
	require.NoError(t, err)
	require.False(t, ok, "missing key is not an error")

	require.NoError(t, s.Save("access_token", "a1"))
	require.NoError(t, s.Save("access_token", "a2"))

	v, ok, err := s.Get("access_token")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a2", v)

	require.NoError(t, s.Delete("access_token"))
	require.NoError(t, s.Delete("access_token"), "deleting a missing key is a no-op")
}

func TestStore_Clear(t *testing.T) {
	t.Parallel()

	ring := keyring.NewArrayKeyring([]keyring.Item{
		{Key: "access_token", Data: []byte("a")},
		{Key: "refresh_token", Data: []byte("r")},
		{Key: "access_token:tenant-b", Data: []byte("ta")},
	})
	s := keychain.New(ring)

	require.NoError(t, s.Clear())

	keys, err := ring.Keys()
	require.NoError(t, err)
	require.Empty(t, keys)
}

type brokenRing struct {
	keyring.Keyring
}

func (brokenRing) Set(keyring.Item) error { return errors.New("user interaction not allowed") }
func (brokenRing) Get(string) (keyring.Item, error) {
	return keyring.Item{}, errors.New("user interaction not allowed")
}

func TestStore_BackendFailure(t *testing.T) {
	t.Parallel()

	s := keychain.New(brokenRing{})

	require.ErrorIs(t, s.Save("k", "v"), store.ErrUnavailable)

	_, _, err := s.Get("k")
	require.ErrorIs(t, err, store.ErrUnavailable)
}
