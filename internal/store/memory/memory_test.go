package memory_test

import (
	"context"
	"testing"

	"github.com/aussiebroadwan/hostedauth/internal/store/memory"
	"github.com/stretchr/testify/require"
)

func TestCredentials(t *testing.T) {
	t.Parallel()

	c := memory.NewCredentials()

	_, ok, err := c.Get("missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Save("a", "1"))
	require.NoError(t, c.Save("a", "2"))
	v, ok, err := c.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2", v)

	require.NoError(t, c.Save("b", "3"))
	require.NoError(t, c.Delete("b"))
	require.Equal(t, map[string]string{"a": "2"}, c.Snapshot())

	require.NoError(t, c.Clear())
	require.Empty(t, c.Snapshot())
}

func TestSettings(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.NewSettings()

	require.NoError(t, s.Put(ctx, "selected_region", "eu"))
	v, ok, err := s.Get(ctx, "selected_region")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "eu", v)

	require.NoError(t, s.Delete(ctx, "selected_region"))
	_, ok, _ = s.Get(ctx, "selected_region")
	require.False(t, ok)
}
