package tenant

import (
	"context"

	"github.com/avaliahq/tenancy/internal/models"
	"github.com/google/uuid"
)

// Source records which request signal named the tenant.
type Source string

const (
	SourcePath      Source = "path"
	SourceHeader    Source = "header"
	SourceSubdomain Source = "subdomain"

	// SourceBootstrap marks the enumerated bootstrap operations (invite
	// acceptance, provisioning) that run without a membership.
	SourceBootstrap Source = "bootstrap"

	// SourceMaintenance marks units of work on the maintenance credential.
	SourceMaintenance Source = "maintenance"
)

// Context is the immutable, request-scoped tenant identity for one unit of
// work. It is constructed once by the resolver and passed explicitly; no
// package-level state ever carries it, so nothing can leak between
// concurrent units of work.
type Context struct {
	OrganizationID uuid.UUID
	Slug           string
	Role           models.Role
	Source         Source
}

// BootstrapContext builds the context for a bootstrap unit of work: the
// tenant is known (from an invite row or a provisioning request) but the
// principal has no membership yet, so the role is none.
func BootstrapContext(orgID uuid.UUID, slug string) *Context {
	return &Context{
		OrganizationID: orgID,
		Slug:           slug,
		Role:           models.RoleNone,
		Source:         SourceBootstrap,
	}
}

type contextKey int

const tenantContextKey contextKey = iota

// NewContext returns a copy of ctx carrying tctx. The request context is
// created and discarded per unit of work, which is what makes this safe.
func NewContext(ctx context.Context, tctx *Context) context.Context {
	return context.WithValue(ctx, tenantContextKey, tctx)
}

// FromContext extracts the tenant context, or nil if resolution has not run.
func FromContext(ctx context.Context) *Context {
	tctx, _ := ctx.Value(tenantContextKey).(*Context)
	return tctx
}
