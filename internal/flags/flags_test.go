package flags_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/hostedauth/internal/flags"
	"github.com/aussiebroadwan/hostedauth/internal/store"
	"github.com/aussiebroadwan/hostedauth/internal/store/memory"
)

// fakeFetcher serves scripted responses, repeating the last one.
type fakeFetcher struct {
	mu        sync.Mutex
	responses []response
	calls     atomic.Int32
}

type response struct {
	raw string
	err error
}

func (f *fakeFetcher) GetFeatureFlags(context.Context) (string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()

	r := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return r.raw, r.err
}

func fastBackOff() backoff.BackOff {
	return backoff.NewConstantBackOff(time.Millisecond)
}

func TestParse(t *testing.T) {
	t.Parallel()

	got, err := flags.Parse(`{"a":"on","b":"off","c":"maybe","d":" TRUE ","e":"False","f":true,"g":1}`)
	require.NoError(t, err)
	require.Equal(t, map[string]bool{"a": true, "b": false, "d": true, "e": false, "f": true}, got)

	_, err = flags.Parse(`not json`)
	require.Error(t, err)
}

func TestCache_Lookups(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{responses: []response{{raw: `{"a":"on","b":"off","c":"maybe"}`}}}
	c := flags.New(f, memory.NewSettings(), "client-1", nil)

	require.True(t, c.FetchFeatureFlags(context.Background()))

	require.True(t, c.HasFlag("a"))
	require.True(t, c.IsOn("a"))
	require.True(t, c.HasFlag("b"))
	require.False(t, c.IsOn("b"))
	require.False(t, c.HasFlag("c"))
	require.False(t, c.IsOn("missing"))
}

func TestCache_FetchOverwritesAndPersists(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	settings := memory.NewSettings()
	f := &fakeFetcher{responses: []response{{raw: `{"a":"on","b":"on"}`}, {raw: `{"b":"off"}`}}}
	c := flags.New(f, settings, "client-1", nil)

	require.True(t, c.FetchFeatureFlags(ctx))
	require.True(t, c.FetchFeatureFlags(ctx))

	require.False(t, c.HasFlag("a"), "no partial merge")
	require.Equal(t, map[string]bool{"b": false}, c.Flags())

	raw, ok, err := settings.Get(ctx, store.FeatureFlagsKey("client-1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"b":false}`, raw)
}

func TestCache_FetchFailureKeepsFlags(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{responses: []response{{raw: `{"a":"on"}`}, {err: errors.New("offline")}}}
	c := flags.New(f, memory.NewSettings(), "client-1", nil)

	require.True(t, c.FetchFeatureFlags(context.Background()))
	require.False(t, c.FetchFeatureFlags(context.Background()))
	require.True(t, c.IsOn("a"))
}

func TestStart_WithSnapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	settings := memory.NewSettings()
	require.NoError(t, settings.Put(ctx, store.FeatureFlagsKey("client-1"), `{"cached":true}`))

	f := &fakeFetcher{responses: []response{{err: errors.New("offline")}}}
	c := flags.New(f, settings, "client-1", nil)

	require.NoError(t, c.Start(ctx))
	require.True(t, c.IsOn("cached"), "snapshot served immediately")

	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.EqualValues(t, 1, f.calls.Load(), "background refresh does not retry")
	require.True(t, c.IsOn("cached"))
}

func TestStart_RetriesUntilFetchSucceeds(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{responses: []response{
		{err: errors.New("offline")},
		{err: errors.New("offline")},
		{raw: `{"a":"on"}`},
	}}
	c := flags.New(f, memory.NewSettings(), "client-1", nil)
	c.NewBackOff = fastBackOff

	require.NoError(t, c.Start(context.Background()))
	require.EqualValues(t, 3, f.calls.Load())
	require.True(t, c.IsOn("a"))
}

func TestStart_StopsWhenSnapshotAppears(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	settings := memory.NewSettings()
	f := &fakeFetcher{responses: []response{{err: errors.New("offline")}}}
	c := flags.New(f, settings, "client-1", nil)
	c.NewBackOff = fastBackOff

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = settings.Put(ctx, store.FeatureFlagsKey("client-1"), `{"raced":true}`)
	}()

	require.NoError(t, c.Start(ctx))
	require.True(t, c.IsOn("raced"))
}

func TestStart_ContextEnds(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{responses: []response{{err: errors.New("offline")}}}
	c := flags.New(f, memory.NewSettings(), "client-1", nil)
	c.NewBackOff = fastBackOff

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, c.Start(ctx), context.DeadlineExceeded)
	require.False(t, c.Loaded())
}

func TestNewBackOff_Schedule(t *testing.T) {
	t.Parallel()

	b := flags.NewBackOff()

	first := b.NextBackOff()
	require.GreaterOrEqual(t, first, 400*time.Millisecond)
	require.LessOrEqual(t, first, 600*time.Millisecond)

	second := b.NextBackOff()
	require.GreaterOrEqual(t, second, 800*time.Millisecond)
	require.LessOrEqual(t, second, 1200*time.Millisecond)

	var last time.Duration
	for range 20 {
		last = b.NextBackOff()
	}
	require.NotEqual(t, backoff.Stop, last, "retries forever")
	require.LessOrEqual(t, last, 36*time.Second)
}
