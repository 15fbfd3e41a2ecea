// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating the user ID via context

package auth

import (
	"context"
)

// AuthContext holds the authenticated identity extracted from a request
type AuthContext struct {
	UserID string
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	auth, ok := ctx.Value(authContextKey{}).(*AuthContext)
	if !ok {
		return nil
	}
	return auth
}

// MustFromContext retrieves the AuthContext from the context, panicking if not present.
func MustFromContext(ctx context.Context) *AuthContext {
	auth := FromContext(ctx)
	if auth == nil {
		panic("auth: AuthContext not found in context")
	}
	return auth
}
