package auth

import "context"

// Principal represents an authenticated principal from a gateway JWT.
// This is added to the request context after successful verification.
// Principal identity is deliberately separate from tenant resolution: who
// you are and which tenant you are acting in are resolved independently.
type Principal struct {
	ID    string // subject claim
	Email string
}

type contextKey int

const (
	principalContextKey contextKey = iota
)

// NewContext returns a copy of ctx carrying the principal.
func NewContext(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext extracts the authenticated principal from the request context.
// Returns nil if no principal is present (unauthenticated request).
func PrincipalFromContext(ctx context.Context) *Principal {
	principal, _ := ctx.Value(principalContextKey).(*Principal)
	return principal
}
