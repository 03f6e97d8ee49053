// ABOUTME: Tenant identifier normalization and context propagation
// ABOUTME: Every per-tenant map and table key goes through NormalizeID

package tenant

import (
	"context"
	"strings"
)

// DefaultID is used when a caller supplies an empty or fully invalid tenant.
const DefaultID = "default"

// NormalizeID reduces s to [a-z0-9_-]. Characters outside [a-zA-Z0-9_-] are
// dropped, the rest lowercased. An empty result maps to DefaultID.
func NormalizeID(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		}
	}
	if b.Len() == 0 {
		return DefaultID
	}
	return b.String()
}

type tenantContextKey struct{}

// WithTenant attaches a normalized tenant ID to ctx.
func WithTenant(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, NormalizeID(id))
}

// FromContext returns the tenant attached by WithTenant, or "" if none.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(tenantContextKey{}).(string)
	return id
}
