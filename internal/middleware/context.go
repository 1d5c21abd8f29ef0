// Package middleware provides the HTTP middleware in front of the storefront
// API: caller identity, request tracing, CORS and rate limiting.
package middleware

import "context"

type contextKey string

const (
	userIDKey  contextKey = "user_id"
	traceIDKey contextKey = "trace_id"
)

// WithUserID returns a context carrying the caller's user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetUserID extracts the caller's user id, or "" for anonymous requests.
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}

// WithTraceID returns a context carrying the request trace id.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// GetTraceID extracts the request trace id.
func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(traceIDKey).(string)
	return v
}
