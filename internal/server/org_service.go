package server

import (
	"context"
	"fmt"

	"github.com/avaliahq/tenancy/internal/meter"
	"github.com/avaliahq/tenancy/internal/models"
	"github.com/avaliahq/tenancy/internal/store"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// SlugInvalidator drops a slug from the resolver cache. Nil-safe no-op when
// no cache is configured.
type SlugInvalidator interface {
	Invalidate(ctx context.Context, slug string) error
}

// ProvisionRequest is the input to Provision.
type ProvisionRequest struct {
	Kind        models.OrgKind  `json:"kind"`
	Name        string          `json:"name"`
	Slug        string          `json:"slug"`
	Locale      models.Locale   `json:"locale"`
	Plan        models.PlanCode `json:"plan"`
	PrincipalID string          `json:"principal_id"`
}

// Validate applies defaults and rejects malformed requests before any
// storage work happens.
func (r *ProvisionRequest) Validate() error {
	if r.Locale == "" {
		r.Locale = models.LocaleEN
	}
	if r.Plan == "" {
		r.Plan = models.PlanBasic
	}
	r.Slug = models.NormalizeSlug(r.Slug)

	switch {
	case !r.Kind.Valid():
		return fmt.Errorf("invalid kind %q", r.Kind)
	case r.Name == "":
		return fmt.Errorf("name is required")
	case r.Slug == "":
		return fmt.Errorf("slug is required")
	case !r.Locale.Valid():
		return fmt.Errorf("invalid locale %q", r.Locale)
	case r.PrincipalID == "":
		return fmt.Errorf("principal_id is required")
	}
	return nil
}

// Provisioner creates and deactivates tenants. It runs on the maintenance
// surface only; nothing on the tenant-scoped routes can reach it.
type Provisioner struct {
	binder      store.SessionBinder
	orgs        store.OrganizationStore
	memberships store.MembershipStore
	subs        store.SubscriptionStore
	meters      *meter.Service
	clock       clock.Clock
	audits      auditRecorder
	cache       SlugInvalidator
}

// NewProvisioner creates a provisioner. cache may be nil.
func NewProvisioner(binder store.SessionBinder, orgs store.OrganizationStore, memberships store.MembershipStore, subs store.SubscriptionStore, meters *meter.Service, clk clock.Clock, audits auditRecorder, cache SlugInvalidator) *Provisioner {
	return &Provisioner{
		binder:      binder,
		orgs:        orgs,
		memberships: memberships,
		subs:        subs,
		meters:      meters,
		clock:       clk,
		audits:      audits,
		cache:       cache,
	}
}

// Provision creates the organization, the creating principal's org_admin
// membership, the initial subscription, and the current period's meters, all
// in one bound unit of work. The tenant ID is generated first so the session
// can bind to it before any row exists; either everything lands or nothing
// does.
func (p *Provisioner) Provision(ctx context.Context, req *ProvisionRequest) (*models.Organization, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := p.clock.Now().UTC()
	org := &models.Organization{
		ID:        uuid.New(),
		Kind:      req.Kind,
		Name:      req.Name,
		Slug:      req.Slug,
		Locale:    req.Locale,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	sess, err := p.binder.Bind(ctx, org.ID)
	if err != nil {
		return nil, err
	}
	defer sess.Close(ctx)

	if err := p.orgs.Create(ctx, sess, org); err != nil {
		return nil, err
	}

	err = p.memberships.Create(ctx, sess, &models.Membership{
		ID:             uuid.New(),
		OrganizationID: org.ID,
		PrincipalID:    req.PrincipalID,
		Role:           models.RoleOrgAdmin,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return nil, err
	}

	sub := &models.Subscription{
		ID:                 uuid.New(),
		OrganizationID:     org.ID,
		Plan:               req.Plan,
		Status:             models.SubscriptionActive,
		Interval:           models.IntervalMonthly,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := p.subs.Create(ctx, sess, sub); err != nil {
		return nil, err
	}

	if err := p.meters.SeedMeters(ctx, sess, sub); err != nil {
		return nil, err
	}

	if err := sess.Commit(ctx); err != nil {
		return nil, err
	}

	log.Info().
		Str("organization_id", org.ID.String()).
		Str("slug", org.Slug).
		Str("plan", string(req.Plan)).
		Msg("Provisioned organization")

	p.audits.Record(ctx, &models.AuditEntry{
		OrganizationID: &org.ID,
		Principal:      req.PrincipalID,
		Action:         models.AuditActionProvision,
		Source:         "maintenance",
		Outcome:        models.AuditOutcomeSuccess,
		Metadata: map[string]string{
			"slug": org.Slug,
			"plan": string(req.Plan),
		},
	})

	return org, nil
}

// SetActive flips the active flag and invalidates the resolver cache, so a
// deactivated tenant stops resolving as soon as the cache entry dies.
// Deactivation is the only "delete": rows stay behind for reactivation and
// audit.
func (p *Provisioner) SetActive(ctx context.Context, slug string, active bool) (*models.Organization, error) {
	org, err := p.orgs.GetBySlug(ctx, models.NormalizeSlug(slug))
	if err != nil {
		return nil, err
	}

	if err := p.orgs.SetActive(ctx, org.ID, active); err != nil {
		return nil, err
	}
	org.Active = active

	if p.cache != nil {
		if err := p.cache.Invalidate(ctx, org.Slug); err != nil {
			log.Warn().Err(err).Str("slug", org.Slug).Msg("Failed to invalidate slug cache")
		}
	}

	p.audits.Record(ctx, &models.AuditEntry{
		OrganizationID: &org.ID,
		Action:         models.AuditActionDeactivate,
		Source:         "maintenance",
		Outcome:        models.AuditOutcomeSuccess,
		Metadata: map[string]string{
			"slug":   org.Slug,
			"active": fmt.Sprintf("%t", active),
		},
	})

	return org, nil
}

// List returns all organizations. Maintenance surface only.
func (p *Provisioner) List(ctx context.Context) ([]*models.Organization, error) {
	return p.orgs.List(ctx)
}
