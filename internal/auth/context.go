// ABOUTME: Context helpers for carrying the authenticated client ID.
// ABOUTME: Used by the HTTP middleware and handlers that need the caller identity.

package auth

import "context"

type contextKey string

const clientContextKey contextKey = "auth.client"

// WithClient returns a context carrying the authenticated client ID.
func WithClient(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientContextKey, clientID)
}

// ClientFromContext extracts the authenticated client ID from the context.
func ClientFromContext(ctx context.Context) (string, bool) {
	clientID, ok := ctx.Value(clientContextKey).(string)
	return clientID, ok
}
