// Package reachability tracks whether the identity service can be reached.
//
// Two signals are combined: whether the host has any usable network route,
// and optionally an HTTPS probe of a configured URL. The monitor can poll in
// the background, notifying handlers on change, or answer on demand.
package reachability

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/aussiebroadwan/hostedauth/pkg/idx"
)

const (
	DefaultInterval     = 10 * time.Second
	DefaultProbeTimeout = 5 * time.Second
	DefaultDebounce     = 500 * time.Millisecond
)

// Handler is told the new reachability. It runs on the monitor goroutine
// and must not block.
type Handler func(reachable bool)

// Config controls how often and where the monitor probes.
type Config struct {
	// ProbeURL is fetched to confirm reachability. Empty means the route
	// signal alone decides.
	ProbeURL string

	Interval     time.Duration
	ProbeTimeout time.Duration

	// Debounce is how long a changed reading must persist before handlers
	// hear about it. Negative disables debouncing.
	Debounce time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger

	// Routes reports whether any network route exists. Defaults to checking
	// the host's interfaces.
	Routes func() bool
}

type handlerSlot struct {
	token idx.ID
	fn    Handler
}

// Monitor is a reachability source shared by the components of one
// application.
type Monitor struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger

	mu        sync.Mutex
	slots     []handlerSlot // removed slots are zeroed, never compacted
	reachable bool
	known     bool
	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// New returns a stopped monitor.
func New(cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Routes == nil {
		cfg.Routes = HasRoute
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	// A redirect means a captive portal or misrouted proxy, so the probe
	// must see it rather than follow it.
	probeClient := &http.Client{
		Transport: client.Transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{cfg: cfg, client: probeClient, logger: logger}
}

// AddHandler registers h and returns both its token and its legacy index.
// Indices are never reused or shifted by removals.
func (m *Monitor) AddHandler(h Handler) (idx.ID, int) {
	token := idx.New()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.slots = append(m.slots, handlerSlot{token: token, fn: h})
	return token, len(m.slots) - 1
}

// RemoveHandler removes the handler registered under token.
func (m *Monitor) RemoveHandler(token idx.ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, s := range m.slots {
		if s.token == token && s.fn != nil {
			m.slots[i] = handlerSlot{}
			return true
		}
	}
	return false
}

// RemoveHandlerAt removes the handler registered at index.
func (m *Monitor) RemoveHandlerAt(index int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if index < 0 || index >= len(m.slots) || m.slots[index].fn == nil {
		return false
	}
	m.slots[index] = handlerSlot{}
	return true
}

// Start begins background polling. The first reading is taken immediately
// and always reported. Calling Start on a running monitor does nothing.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true
	m.known = false
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})

	go m.run(m.stopCh, m.doneCh)
	m.logger.Info("reachability monitor started", "interval", m.cfg.Interval, "probe", m.cfg.ProbeURL != "")
}

// Stop ends polling and waits for the worker to exit. Safe to call when
// stopped.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stopCh, doneCh := m.stopCh, m.doneCh
	m.mu.Unlock()

	close(stopCh)
	<-doneCh
	m.logger.Info("reachability monitor stopped")
}

// Running reports whether background polling is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// IsReachable returns the cached reading while polling, and checks afresh
// otherwise.
func (m *Monitor) IsReachable(ctx context.Context) bool {
	m.mu.Lock()
	if m.running && m.known {
		v := m.reachable
		m.mu.Unlock()
		return v
	}
	m.mu.Unlock()

	v := m.check(ctx)

	m.mu.Lock()
	if !m.running {
		m.reachable, m.known = v, true
	}
	m.mu.Unlock()
	return v
}

func (m *Monitor) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stopCh
		cancel()
	}()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.poll(ctx, stopCh)

	for {
		select {
		case <-ticker.C:
			m.poll(ctx, stopCh)
		case <-stopCh:
			return
		}
	}
}

func (m *Monitor) poll(ctx context.Context, stopCh chan struct{}) {
	v := m.check(ctx)

	m.mu.Lock()
	first := !m.known
	changed := first || v != m.reachable
	m.mu.Unlock()

	if !changed {
		return
	}

	if !first && m.cfg.Debounce > 0 {
		select {
		case <-time.After(m.cfg.Debounce):
		case <-stopCh:
			return
		}
		if m.check(ctx) != v {
			return
		}
	}

	m.mu.Lock()
	m.reachable, m.known = v, true
	handlers := make([]Handler, 0, len(m.slots))
	for _, s := range m.slots {
		if s.fn != nil {
			handlers = append(handlers, s.fn)
		}
	}
	m.mu.Unlock()

	m.logger.Info("reachability changed", "reachable", v)
	for _, h := range handlers {
		h(v)
	}
}

func (m *Monitor) check(ctx context.Context) bool {
	if !m.cfg.Routes() {
		return false
	}
	if m.cfg.ProbeURL == "" {
		return true
	}

	ok, err := m.probe(ctx)
	if err != nil {
		m.logger.Debug("reachability probe failed", "error", err, "kind", classify(err))
		return false
	}
	return ok
}

// probe sends HEAD, falling back to a one-byte ranged GET for servers that
// refuse HEAD.
func (m *Monitor) probe(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	status, err := m.send(ctx, http.MethodHead)
	if err != nil {
		return false, err
	}
	if status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented {
		if status, err = m.send(ctx, http.MethodGet); err != nil {
			return false, err
		}
	}

	return reachableStatus(status), nil
}

func (m *Monitor) send(ctx context.Context, method string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, m.cfg.ProbeURL, nil)
	if err != nil {
		return 0, err
	}
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

// reachableStatus treats any answer from the origin as reachable except
// redirects (captive portals) and 408.
func reachableStatus(status int) bool {
	if status >= 300 && status < 400 {
		return false
	}
	return status != http.StatusRequestTimeout
}

// HasRoute reports whether any interface other than loopback is up and has
// an address.
func HasRoute() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err == nil && len(addrs) > 0 {
			return true
		}
	}
	return false
}
