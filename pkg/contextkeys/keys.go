// Package contextkeys defines the context keys shared across packages.
//
// All context keys used by decisionlens are declared here so that values set
// by one package can be read by another without key collisions.
//
//	ctx = context.WithValue(ctx, contextkeys.RequestIDKey, id)
//	id, _ := ctx.Value(contextkeys.RequestIDKey).(string)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RequestIDKey contains the request id string.
	// Set by: httputil.RequestIDMiddleware
	// Used by: httputil.LoggingMiddleware
	RequestIDKey Key = "request_id"
)

// String returns the string representation of the key
func (k Key) String() string {
	return string(k)
}

// WithRequestID returns a copy of ctx carrying the request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// RequestID returns the request id stored in ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}
