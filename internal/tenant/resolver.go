package tenant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avaliahq/tenancy/internal/models"
	"github.com/avaliahq/tenancy/internal/store"
	"github.com/avaliahq/tenancy/internal/telemetry"
	"github.com/rs/zerolog/log"
)

// OrganizationLookup is the slug lookup the resolver depends on. It is
// satisfied by store.OrganizationStore directly and by Cache when a Redis
// cache is configured in front of it.
type OrganizationLookup interface {
	GetBySlug(ctx context.Context, slug string) (*models.Organization, error)
}

// Resolver turns request signals into a tenant context. Resolution never
// picks between disagreeing signals and never falls back to an unscoped
// view: every failure is a typed ResolutionError raised before any
// tenant-scoped query can run.
type Resolver struct {
	orgs        OrganizationLookup
	memberships store.MembershipStore
}

// NewResolver creates a resolver over the given lookups.
func NewResolver(orgs OrganizationLookup, memberships store.MembershipStore) *Resolver {
	return &Resolver{
		orgs:        orgs,
		memberships: memberships,
	}
}

// Resolve determines the tenant for a unit of work and attaches the
// principal's role from its membership. Signals are considered in the order
// path, header, subdomain: the first present signal names the tenant, and
// any other present signal must agree with it.
func (r *Resolver) Resolve(ctx context.Context, sig Signals, principalID string) (*Context, error) {
	tctx, err := r.resolveOrg(ctx, sig)
	if err != nil {
		return nil, err
	}

	m, err := r.memberships.Get(ctx, tctx.OrganizationID, principalID)
	if err != nil {
		if errors.Is(err, store.ErrMembershipNotFound) {
			r.fail(ctx, ReasonNoMembership)
			return nil, &ResolutionError{Reason: ReasonNoMembership, Slug: tctx.Slug}
		}
		return nil, fmt.Errorf("membership lookup: %w", err)
	}
	if !m.Active {
		r.fail(ctx, ReasonNoMembership)
		return nil, &ResolutionError{Reason: ReasonNoMembership, Slug: tctx.Slug}
	}

	tctx.Role = m.Role
	return tctx, nil
}

// ResolveBootstrap resolves the tenant without requiring a membership. Only
// the enumerated bootstrap operations (invite acceptance, provisioning) may
// use it; the resulting role is none, which authorizes nothing beyond the
// bootstrap operation itself.
func (r *Resolver) ResolveBootstrap(ctx context.Context, sig Signals) (*Context, error) {
	tctx, err := r.resolveOrg(ctx, sig)
	if err != nil {
		return nil, err
	}
	tctx.Role = models.RoleNone
	tctx.Source = SourceBootstrap
	return tctx, nil
}

// resolveOrg picks the primary signal, rejects disagreement, and looks the
// slug up against active organizations. A deactivated match is not-found.
func (r *Resolver) resolveOrg(ctx context.Context, sig Signals) (*Context, error) {
	started := time.Now()
	defer func() {
		telemetry.GetMetrics().ResolveDuration.Record(ctx, float64(time.Since(started).Milliseconds()))
	}()

	slug, source, err := primarySignal(sig)
	if err != nil {
		r.fail(ctx, ReasonAmbiguous)
		return nil, err
	}
	if slug == "" {
		r.fail(ctx, ReasonNotFound)
		return nil, &ResolutionError{Reason: ReasonNotFound}
	}

	org, err := r.orgs.GetBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, store.ErrOrganizationNotFound) {
			r.fail(ctx, ReasonNotFound)
			return nil, &ResolutionError{Reason: ReasonNotFound, Slug: slug}
		}
		return nil, fmt.Errorf("organization lookup: %w", err)
	}
	if !org.Active {
		r.fail(ctx, ReasonNotFound)
		return nil, &ResolutionError{Reason: ReasonNotFound, Slug: slug}
	}

	return &Context{
		OrganizationID: org.ID,
		Slug:           org.Slug,
		Source:         source,
	}, nil
}

func (r *Resolver) fail(ctx context.Context, reason Reason) {
	telemetry.GetMetrics().ResolveFailuresTotal.Add(ctx, 1)
	log.Debug().Str("reason", string(reason)).Msg("Tenant resolution failed")
}

// primarySignal selects the first present signal and checks that every other
// present signal agrees with it.
func primarySignal(sig Signals) (string, Source, error) {
	type candidate struct {
		slug   string
		source Source
	}

	var present []candidate
	if sig.PathSlug != "" {
		present = append(present, candidate{sig.PathSlug, SourcePath})
	}
	if sig.HeaderSlug != "" {
		present = append(present, candidate{sig.HeaderSlug, SourceHeader})
	}
	if sig.Subdomain != "" {
		present = append(present, candidate{sig.Subdomain, SourceSubdomain})
	}

	if len(present) == 0 {
		return "", "", nil
	}

	first := present[0]
	for _, c := range present[1:] {
		if c.slug != first.slug {
			return "", "", &ResolutionError{Reason: ReasonAmbiguous, Slug: first.slug}
		}
	}

	return first.slug, first.source, nil
}
