// ABOUTME: Caller identity carried through request handlers
// ABOUTME: Provides WithIdentity/FromContext for propagating auth info via context

package auth

import (
	"context"
)

// Identity describes how a request authenticated.
type Identity struct {
	Tenant string // resolved tenant for API key callers
	// QueryKey is set when the key arrived as ?api_key, so links handed back
	// to a browser can carry it.
	QueryKey string
	Subject  string // admin token subject
	Admin    bool
}

type identityContextKey struct{}

// WithIdentity returns a new context with id attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// FromContext returns the request identity, or nil.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityContextKey{}).(*Identity)
	return id
}
