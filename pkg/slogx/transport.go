package slogx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/hostedauth/pkg/idx"
)

// Transport is an http.RoundTripper that tags outgoing requests with an
// X-Request-ID and logs their outcome. It uses the logger carried by the
// request context when present, falling back to Base.
type Transport struct {
	Base *slog.Logger
	Next http.RoundTripper
}

// NewTransport wraps next (http.DefaultTransport when nil).
func NewTransport(base *slog.Logger, next http.RoundTripper) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Transport{Base: base, Next: next}
}

func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	start := time.Now()

	reqID := r.Header.Get("X-Request-ID")
	if reqID == "" {
		reqID = idx.New().String()
		// RoundTrippers must not mutate the caller's request.
		r = r.Clone(r.Context())
		r.Header.Set("X-Request-ID", reqID)
	}

	logger := t.Base
	if l, ok := r.Context().Value(ctxKey{}).(*slog.Logger); ok {
		logger = l
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(
		"req_id", reqID,
		"method", r.Method,
		"path", r.URL.Path,
	)

	resp, err := t.Next.RoundTrip(r)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		logger.Warn("http_request_failed", "duration_ms", duration, "error", err)
		return nil, err
	}

	logger.Debug("http_request",
		"status", resp.StatusCode,
		"duration_ms", duration,
	)
	return resp, nil
}
