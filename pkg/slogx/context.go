package slogx

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

func FromContext(ctx context.Context) *slog.Logger {
	l, ok := ctx.Value(ctxKey{}).(*slog.Logger)
	if !ok {
		return slog.Default()
	}
	return l
}

// WithFlowID tags every log line of one login or refresh flow so the
// interleaved output of concurrent triggers can be told apart.
func WithFlowID(ctx context.Context, flowID string) context.Context {
	l := FromContext(ctx)
	return WithContext(ctx, l.With("flow_id", flowID))
}
