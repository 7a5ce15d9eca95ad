package reachability_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/hostedauth/internal/reachability"
)

func always(v bool) func() bool { return func() bool { return v } }

// events records handler calls.
type events struct {
	mu  sync.Mutex
	got []bool
	ch  chan bool
}

func newEvents() *events { return &events{ch: make(chan bool, 16)} }

func (e *events) handle(v bool) {
	e.mu.Lock()
	e.got = append(e.got, v)
	e.mu.Unlock()
	e.ch <- v
}

func (e *events) next(t *testing.T) bool {
	t.Helper()
	select {
	case v := <-e.ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("no reachability event")
		return false
	}
}

func TestHandlerIndexStability(t *testing.T) {
	t.Parallel()

	m := reachability.New(reachability.Config{Routes: always(true)})

	var calls []string
	var mu sync.Mutex
	record := func(name string) reachability.Handler {
		return func(bool) {
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, name)
		}
	}

	_, a := m.AddHandler(record("A"))
	_, b := m.AddHandler(record("B"))
	_, c := m.AddHandler(record("C"))
	require.Equal(t, []int{0, 1, 2}, []int{a, b, c})

	require.True(t, m.RemoveHandlerAt(b))
	require.True(t, m.RemoveHandlerAt(0))
	require.False(t, m.RemoveHandlerAt(0), "already removed")
	require.False(t, m.RemoveHandlerAt(7))

	m.Start()
	t.Cleanup(m.Stop)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	require.Equal(t, []string{"C"}, calls, "removing index 0 removed A, not C")
	mu.Unlock()

	_, d := m.AddHandler(record("D"))
	require.Equal(t, 3, d, "indices are not reused")
}

func TestRemoveHandlerByToken(t *testing.T) {
	t.Parallel()

	m := reachability.New(reachability.Config{Routes: always(true)})
	token, _ := m.AddHandler(func(bool) {})

	require.True(t, m.RemoveHandler(token))
	require.False(t, m.RemoveHandler(token))
}

func TestProbeStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		head int
		get  int
		want bool
	}{
		{"ok", http.StatusOK, 0, true},
		{"no content", http.StatusNoContent, 0, true},
		{"not found still reachable", http.StatusNotFound, 0, true},
		{"redirect", http.StatusFound, 0, false},
		{"request timeout", http.StatusRequestTimeout, 0, false},
		{"head refused, ranged get", http.StatusMethodNotAllowed, http.StatusPartialContent, true},
		{"head refused, get redirects", http.StatusMethodNotAllowed, http.StatusMovedPermanently, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				switch r.Method {
				case http.MethodHead:
					if tc.head >= 300 && tc.head < 400 {
						w.Header().Set("Location", "https://portal.example.com/")
					}
					w.WriteHeader(tc.head)
				case http.MethodGet:
					require.Equal(t, "bytes=0-0", r.Header.Get("Range"))
					if tc.get >= 300 && tc.get < 400 {
						w.Header().Set("Location", "https://portal.example.com/")
					}
					w.WriteHeader(tc.get)
				}
			}))
			t.Cleanup(srv.Close)

			m := reachability.New(reachability.Config{ProbeURL: srv.URL, Routes: always(true)})
			require.Equal(t, tc.want, m.IsReachable(context.Background()))
		})
	}
}

func TestNoRouteSkipsProbe(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	t.Cleanup(srv.Close)

	m := reachability.New(reachability.Config{ProbeURL: srv.URL, Routes: always(false)})
	require.False(t, m.IsReachable(context.Background()))
	require.Zero(t, hits.Load())
}

func TestProbeTransportErrorIsUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	m := reachability.New(reachability.Config{ProbeURL: url, Routes: always(true)})
	require.False(t, m.IsReachable(context.Background()))
}

func TestIsReachable_FreshWhenIdle(t *testing.T) {
	t.Parallel()

	var online atomic.Bool
	online.Store(true)

	m := reachability.New(reachability.Config{Routes: online.Load})
	require.True(t, m.IsReachable(context.Background()))

	online.Store(false)
	require.False(t, m.IsReachable(context.Background()), "idle monitor checks again")
}

func TestIsReachable_CachedWhilePolling(t *testing.T) {
	t.Parallel()

	var checks atomic.Int32
	m := reachability.New(reachability.Config{
		Interval: time.Hour,
		Routes: func() bool {
			checks.Add(1)
			return true
		},
	})

	ev := newEvents()
	m.AddHandler(ev.handle)
	m.Start()
	t.Cleanup(m.Stop)
	require.True(t, ev.next(t))

	before := checks.Load()
	for range 5 {
		require.True(t, m.IsReachable(context.Background()))
	}
	require.Equal(t, before, checks.Load())
}

func TestPolling_EmitsChanges(t *testing.T) {
	t.Parallel()

	var online atomic.Bool
	online.Store(true)

	m := reachability.New(reachability.Config{
		Interval: 10 * time.Millisecond,
		Debounce: -1,
		Routes:   online.Load,
	})
	ev := newEvents()
	m.AddHandler(ev.handle)

	m.Start()
	t.Cleanup(m.Stop)

	require.True(t, ev.next(t), "first determination is always emitted")

	online.Store(false)
	require.False(t, ev.next(t))

	online.Store(true)
	require.True(t, ev.next(t))
}

func TestPolling_DebounceDropsBlips(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	// Reads go: true (first), false (blip), true (debounce re-check), true...
	routes := func() bool {
		return calls.Add(1) != 2
	}

	m := reachability.New(reachability.Config{
		Interval: 10 * time.Millisecond,
		Debounce: 20 * time.Millisecond,
		Routes:   routes,
	})
	ev := newEvents()
	m.AddHandler(ev.handle)

	m.Start()
	t.Cleanup(m.Stop)
	require.True(t, ev.next(t))

	require.Eventually(t, func() bool { return calls.Load() > 5 }, 2*time.Second, 5*time.Millisecond)
	select {
	case v := <-ev.ch:
		t.Fatalf("unexpected event %v", v)
	default:
	}
}

func TestStartStopIdempotent(t *testing.T) {
	t.Parallel()

	m := reachability.New(reachability.Config{Interval: time.Hour, Routes: always(true)})
	ev := newEvents()
	m.AddHandler(ev.handle)

	m.Stop()
	m.Start()
	m.Start()
	require.True(t, m.Running())
	require.True(t, ev.next(t))

	select {
	case <-ev.ch:
		t.Fatal("second Start must not start a second worker")
	case <-time.After(50 * time.Millisecond):
	}

	m.Stop()
	m.Stop()
	require.False(t, m.Running())

	m.Start()
	t.Cleanup(m.Stop)
	require.True(t, ev.next(t), "restart reports the first determination again")
}
