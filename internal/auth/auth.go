// Package auth carries the authenticated caller through request contexts.
// The platform gateway authenticates requests upstream and forwards the
// user id in the Authorization header.
package auth

import "context"

type contextKey struct{}

// WithUser attaches the caller's user id to the context.
func WithUser(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserFromContext extracts the caller's user id.
func UserFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(contextKey{}).(int64)
	return id, ok
}
