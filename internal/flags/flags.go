// Package flags caches the feature flags published by the identity service.
//
// Flags are persisted after every successful fetch so a later start can
// serve them immediately and refresh in the background.
package flags

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/aussiebroadwan/hostedauth/internal/store"
)

// Fetcher returns the raw flag document. *authsdk.Client implements it.
type Fetcher interface {
	GetFeatureFlags(ctx context.Context) (string, error)
}

// Retry schedule for the first load.
const (
	retryInitial    = 500 * time.Millisecond
	retryMultiplier = 2
	retryMax        = 30 * time.Second
	retryJitter     = 0.2
)

// NewBackOff returns the schedule used while no flags are available:
// 0.5s doubling to a 30s cap, ±20% jitter, no overall limit.
func NewBackOff() backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     retryInitial,
		RandomizationFactor: retryJitter,
		Multiplier:          retryMultiplier,
		MaxInterval:         retryMax,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// Cache holds the flag set for one client id. Reads never block on the
// network; fetches replace the whole set.
type Cache struct {
	fetcher  Fetcher
	settings store.Settings
	logger   *slog.Logger

	// NewBackOff builds the retry schedule for Start. Tests shorten it.
	NewBackOff func() backoff.BackOff

	mu       sync.RWMutex
	clientID string
	flags    map[string]bool
	loaded   bool
}

// New returns an empty cache for clientID. Call Start to load it.
func New(fetcher Fetcher, settings store.Settings, clientID string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		fetcher:    fetcher,
		settings:   settings,
		logger:     logger,
		NewBackOff: NewBackOff,
		clientID:   clientID,
		flags:      map[string]bool{},
	}
}

// Start makes the flags usable. A persisted snapshot is served at once and
// refreshed once in the background. Without one Start blocks, retrying the
// fetch until it succeeds, a snapshot appears, or ctx ends.
func (c *Cache) Start(ctx context.Context) error {
	if c.loadPersisted(ctx) {
		go c.FetchFeatureFlags(context.WithoutCancel(ctx))
		return nil
	}

	op := func() error {
		if c.FetchFeatureFlags(ctx) {
			return nil
		}
		if c.Loaded() || c.loadPersisted(ctx) {
			return nil
		}
		return fmt.Errorf("flags: no flags available")
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("feature flags unavailable, retrying", "error", err, "wait", wait)
	}

	return backoff.RetryNotify(op, backoff.WithContext(c.NewBackOff(), ctx), notify)
}

// IsOn reports whether key is present and on.
func (c *Cache) IsOn(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.flags[key]
}

// HasFlag reports whether key has a recognised value.
func (c *Cache) HasFlag(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.flags[key]
	return ok
}

// Loaded reports whether any flag set has been loaded or fetched.
func (c *Cache) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// Flags returns a copy of the current flag set.
func (c *Cache) Flags() map[string]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.flags)
}

// SetClientID points the cache at another client's flags, e.g. after a
// region switch. The current set is kept until the next fetch.
func (c *Cache) SetClientID(clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clientID = clientID
}

// FetchFeatureFlags fetches and replaces the whole flag set, then persists
// it. It reports success; failures are logged, not returned.
func (c *Cache) FetchFeatureFlags(ctx context.Context) bool {
	raw, err := c.fetcher.GetFeatureFlags(ctx)
	if err != nil {
		c.logger.Warn("failed to fetch feature flags", "error", err)
		return false
	}

	parsed, err := Parse(raw)
	if err != nil {
		c.logger.Warn("failed to parse feature flags", "error", err)
		return false
	}

	c.mu.Lock()
	c.flags = parsed
	c.loaded = true
	key := store.FeatureFlagsKey(c.clientID)
	c.mu.Unlock()

	buf, err := json.Marshal(parsed)
	if err == nil {
		err = c.settings.Put(ctx, key, string(buf))
	}
	if err != nil {
		c.logger.Warn("failed to persist feature flags", "error", err)
	}

	c.logger.Debug("feature flags updated", "count", len(parsed))
	return true
}

func (c *Cache) loadPersisted(ctx context.Context) bool {
	c.mu.RLock()
	key := store.FeatureFlagsKey(c.clientID)
	c.mu.RUnlock()

	raw, ok, err := c.settings.Get(ctx, key)
	if err != nil {
		c.logger.Warn("failed to read persisted feature flags", "error", err)
		return false
	}
	if !ok {
		return false
	}

	var snapshot map[string]bool
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		c.logger.Warn("discarding unreadable feature flag snapshot", "error", err)
		return false
	}

	c.mu.Lock()
	if !c.loaded {
		c.flags = snapshot
		c.loaded = true
	}
	c.mu.Unlock()
	return true
}

// Parse decodes a flat JSON object of flag values. "on"/"true" and
// "off"/"false" (any case, surrounding space ignored) are recognised; any
// other value leaves that flag absent.
func Parse(raw string) (map[string]bool, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("flags: decode: %w", err)
	}

	out := make(map[string]bool, len(doc))
	for name, value := range doc {
		if v, ok := parseValue(value); ok {
			out[name] = v
		}
	}
	return out, nil
}

func parseValue(value json.RawMessage) (bool, bool) {
	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		s = string(value)
	}

	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true":
		return true, true
	case "off", "false":
		return false, true
	default:
		return false, false
	}
}
