package httpx

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig defines the rate limiting parameters.
type RateLimitConfig struct {
	// RequestsPerWindow is the number of requests allowed in the time window
	RequestsPerWindow int
	// Window is the time window for rate limiting
	Window time.Duration
	// Burst allows for temporary bursts above the rate limit
	Burst int
}

// DefaultLimit keeps a misbehaving host loop (a refresh storm, a stuck flag
// retry) from hammering the identity service.
// Override with: RATELIMIT_CLIENT_REQUESTS, RATELIMIT_CLIENT_WINDOW_SEC, RATELIMIT_CLIENT_BURST
var DefaultLimit = RateLimitConfig{
	RequestsPerWindow: 60,
	Window:            time.Minute,
	Burst:             20,
}

// ParseRateLimitFromEnv reads rate limit configuration from environment variables.
// Environment variables follow the pattern: RATELIMIT_{prefix}_{field}
// For example: RATELIMIT_CLIENT_REQUESTS, RATELIMIT_CLIENT_WINDOW_SEC, RATELIMIT_CLIENT_BURST
func ParseRateLimitFromEnv(prefix string, defaultConfig RateLimitConfig) RateLimitConfig {
	config := defaultConfig

	if val := os.Getenv("RATELIMIT_" + prefix + "_REQUESTS"); val != "" {
		if requests, err := strconv.Atoi(val); err == nil && requests > 0 {
			config.RequestsPerWindow = requests
		}
	}

	if val := os.Getenv("RATELIMIT_" + prefix + "_WINDOW_SEC"); val != "" {
		if windowSec, err := strconv.Atoi(val); err == nil && windowSec > 0 {
			config.Window = time.Duration(windowSec) * time.Second
		}
	}

	if val := os.Getenv("RATELIMIT_" + prefix + "_BURST"); val != "" {
		if burst, err := strconv.Atoi(val); err == nil && burst > 0 {
			config.Burst = burst
		}
	}

	return config
}

// RateLimitedTransport is an http.RoundTripper that waits for a token from a
// per-host limiter before sending. When the server answers 429 with a
// Retry-After header, further requests to that host are held back until the
// advertised time.
type RateLimitedTransport struct {
	Next http.RoundTripper

	limit rate.Limit
	burst int

	limiters sync.Map // map[string]*hostLimiter
}

type hostLimiter struct {
	limiter *rate.Limiter

	mu           sync.Mutex
	blockedUntil time.Time
}

// NewRateLimitedTransport wraps next (http.DefaultTransport when nil).
func NewRateLimitedTransport(config RateLimitConfig, next http.RoundTripper) *RateLimitedTransport {
	if next == nil {
		next = http.DefaultTransport
	}

	ratePerSecond := float64(config.RequestsPerWindow) / config.Window.Seconds()

	return &RateLimitedTransport{
		Next:  next,
		limit: rate.Limit(ratePerSecond),
		burst: config.Burst,
	}
}

// getLimiter retrieves or creates the limiter for host.
func (t *RateLimitedTransport) getLimiter(host string) *hostLimiter {
	if hl, ok := t.limiters.Load(host); ok {
		return hl.(*hostLimiter)
	}

	hl := &hostLimiter{limiter: rate.NewLimiter(t.limit, t.burst)}
	actual, _ := t.limiters.LoadOrStore(host, hl)
	return actual.(*hostLimiter)
}

func (t *RateLimitedTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	ctx := r.Context()
	hl := t.getLimiter(r.URL.Host)

	hl.mu.Lock()
	wait := time.Until(hl.blockedUntil)
	hl.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if err := hl.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	resp, err := t.Next.RoundTrip(r)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		if d := parseRetryAfter(resp.Header.Get("Retry-After")); d > 0 {
			hl.mu.Lock()
			hl.blockedUntil = time.Now().Add(d)
			hl.mu.Unlock()
		}
	}

	return resp, nil
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		return time.Until(at)
	}
	return 0
}
