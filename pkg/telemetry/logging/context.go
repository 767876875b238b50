package logging

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	featureKey   contextKey = "feature"
	teamKey      contextKey = "team"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	return value(ctx, requestIDKey)
}

// WithFeature adds the governed feature to the context.
func WithFeature(ctx context.Context, feature string) context.Context {
	return context.WithValue(ctx, featureKey, feature)
}

// Feature retrieves the governed feature from the context.
func Feature(ctx context.Context) string {
	return value(ctx, featureKey)
}

// WithTeam adds a team identifier to the context.
func WithTeam(ctx context.Context, team string) context.Context {
	return context.WithValue(ctx, teamKey, team)
}

// Team retrieves the team identifier from the context.
func Team(ctx context.Context) string {
	return value(ctx, teamKey)
}

func value(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(key).(string)
	return s
}

// contextAttrs returns the non-empty request fields held by ctx.
func contextAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	for _, key := range []contextKey{requestIDKey, featureKey, teamKey} {
		if v := value(ctx, key); v != "" {
			attrs = append(attrs, slog.String(string(key), v))
		}
	}
	return attrs
}
