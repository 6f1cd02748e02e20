package meter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avaliahq/tenancy/internal/audit"
	"github.com/avaliahq/tenancy/internal/models"
	"github.com/avaliahq/tenancy/internal/store"
	"github.com/avaliahq/tenancy/internal/telemetry"
	"github.com/avaliahq/tenancy/internal/tenant"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// ErrSubscriptionInactive is returned when the tenant's subscription does
// not permit metered operations (cancelled, unpaid, paused).
var ErrSubscriptionInactive = errors.New("subscription does not permit metered operations")

// reservationTTL bounds how long a reservation may sit uncommitted before
// the sweeper treats its unit of work as crashed.
const reservationTTL = 5 * time.Minute

// LimitError reports a refused usage claim. Hard refusals must reject the
// operation; soft refusals may take a degraded path instead.
type LimitError struct {
	Metric models.Metric
	Kind   models.LimitKind
	Used   int64
	Limit  int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s limit exceeded for %s: used=%d limit=%d", e.Kind, e.Metric, e.Used, e.Limit)
}

// IsHard reports whether the refusal came from a hard limit.
func (e *LimitError) IsHard() bool {
	return e.Kind == models.LimitHard
}

// Service enforces usage limits through the reserve/commit/release protocol.
// Each operation runs in its own bound session: meter state must survive the
// business transaction rolling back, and a reservation left behind by a
// crash is the sweeper's problem, never a phantom count.
type Service struct {
	binder  store.SessionBinder
	subs    store.SubscriptionStore
	usage   store.UsageStore
	catalog *Catalog
	clock   clock.Clock
	audits  *audit.Logger
}

// NewService creates a usage meter service.
func NewService(binder store.SessionBinder, subs store.SubscriptionStore, usage store.UsageStore, catalog *Catalog, clk clock.Clock, audits *audit.Logger) *Service {
	return &Service{
		binder:  binder,
		subs:    subs,
		usage:   usage,
		catalog: catalog,
		clock:   clk,
		audits:  audits,
	}
}

// auditBind records a successful session bind. Meter operations open their
// own sessions rather than borrowing the request's, so their binds are
// recorded here, not by the HTTP layer.
func (s *Service) auditBind(ctx context.Context, orgID uuid.UUID, source string) {
	s.audits.Record(ctx, &models.AuditEntry{
		OrganizationID: &orgID,
		Action:         models.AuditActionBind,
		Source:         source,
		Outcome:        models.AuditOutcomeSuccess,
	})
}

// CheckAndReserve atomically claims amount against the tenant's meter for
// metric in the current billing period. On success the caller owns a
// reservation and must either Commit it after the business operation
// durably succeeds or Release it; an unreleased reservation expires and is
// swept. A refusal is a *LimitError.
func (s *Service) CheckAndReserve(ctx context.Context, tctx *tenant.Context, metric models.Metric, amount int64) (*models.Reservation, error) {
	sess, err := s.binder.Bind(ctx, tctx.OrganizationID)
	if err != nil {
		return nil, err
	}
	defer sess.Close(ctx)
	s.auditBind(ctx, tctx.OrganizationID, string(tctx.Source))

	sub, err := s.subs.Current(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	if !sub.Usable() {
		return nil, ErrSubscriptionInactive
	}

	now := s.clock.Now().UTC()
	period := PeriodFor(sub, now)
	spec := s.catalog.LimitFor(sub.Plan, metric)

	meterRow, err := s.usage.EnsureMeter(ctx, sess, &models.UsageMeter{
		OrganizationID: tctx.OrganizationID,
		Metric:         metric,
		PeriodStart:    period.Start,
		PeriodEnd:      period.End,
		LimitValue:     spec.Limit,
		LimitKind:      spec.Kind,
		OverageAllowed: spec.OverageAllowed,
	})
	if err != nil {
		return nil, err
	}

	res := &models.Reservation{
		ID:             uuid.New(),
		MeterID:        meterRow.ID,
		OrganizationID: tctx.OrganizationID,
		Metric:         metric,
		Amount:         amount,
		CreatedAt:      now,
		ExpiresAt:      now.Add(reservationTTL),
	}

	if err := s.usage.Reserve(ctx, sess, res); err != nil {
		var qerr *store.QuotaError
		if errors.As(err, &qerr) {
			return nil, s.refused(ctx, tctx, qerr)
		}
		return nil, err
	}

	if err := sess.Commit(ctx); err != nil {
		return nil, err
	}

	return res, nil
}

// refused converts a storage-level quota refusal into a LimitError, audits
// it, and counts it.
func (s *Service) refused(ctx context.Context, tctx *tenant.Context, qerr *store.QuotaError) error {
	m := qerr.Meter

	telemetry.GetMetrics().UsageDeniedTotal.Add(ctx, 1,
		otelmetric.WithAttributes(attribute.String("metric", string(m.Metric))))

	s.audits.Record(ctx, &models.AuditEntry{
		OrganizationID: &tctx.OrganizationID,
		Action:         models.AuditActionLimitExceeded,
		Source:         string(tctx.Source),
		Outcome:        models.AuditOutcomeDenied,
		Metadata: map[string]string{
			"metric": string(m.Metric),
			"kind":   string(m.LimitKind),
			"used":   fmt.Sprintf("%d", m.Used),
			"limit":  fmt.Sprintf("%d", m.LimitValue),
		},
	})

	return &LimitError{
		Metric: m.Metric,
		Kind:   m.LimitKind,
		Used:   m.Used,
		Limit:  m.LimitValue,
	}
}

// Commit finalizes a reservation after the business operation durably
// succeeded, moving its amount into the used counters.
func (s *Service) Commit(ctx context.Context, tctx *tenant.Context, res *models.Reservation) error {
	sess, err := s.binder.Bind(ctx, tctx.OrganizationID)
	if err != nil {
		return err
	}
	defer sess.Close(ctx)
	s.auditBind(ctx, tctx.OrganizationID, string(tctx.Source))

	if err := s.usage.CommitReservation(ctx, sess, res.ID); err != nil {
		return err
	}
	if err := sess.Commit(ctx); err != nil {
		return err
	}

	telemetry.GetMetrics().UsageCommittedTotal.Add(ctx, 1,
		otelmetric.WithAttributes(attribute.String("metric", string(res.Metric))))

	s.audits.Record(ctx, &models.AuditEntry{
		OrganizationID: &tctx.OrganizationID,
		Action:         models.AuditActionUsageCommit,
		Source:         string(tctx.Source),
		Outcome:        models.AuditOutcomeSuccess,
		Metadata: map[string]string{
			"metric": string(res.Metric),
			"amount": fmt.Sprintf("%d", res.Amount),
		},
	})

	return nil
}

// Release returns a reservation's amount to the available quota, leaving
// used untouched. Releasing a reservation that was already committed,
// released, or swept is a no-op: Release runs in deferred cleanup paths
// that must not fail the unit of work twice.
func (s *Service) Release(ctx context.Context, tctx *tenant.Context, res *models.Reservation) error {
	sess, err := s.binder.Bind(ctx, tctx.OrganizationID)
	if err != nil {
		return err
	}
	defer sess.Close(ctx)
	s.auditBind(ctx, tctx.OrganizationID, string(tctx.Source))

	err = s.usage.ReleaseReservation(ctx, sess, res.ID)
	if errors.Is(err, store.ErrReservationNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := sess.Commit(ctx); err != nil {
		return err
	}

	telemetry.GetMetrics().UsageReleasedTotal.Add(ctx, 1,
		otelmetric.WithAttributes(attribute.String("metric", string(res.Metric))))

	return nil
}

// Snapshot returns the tenant's meters for the current billing period.
func (s *Service) Snapshot(ctx context.Context, tctx *tenant.Context) ([]*models.UsageMeter, error) {
	sess, err := s.binder.Bind(ctx, tctx.OrganizationID)
	if err != nil {
		return nil, err
	}
	defer sess.Close(ctx)
	s.auditBind(ctx, tctx.OrganizationID, string(tctx.Source))

	sub, err := s.subs.Current(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}

	period := PeriodFor(sub, s.clock.Now().UTC())
	return s.usage.ListMeters(ctx, sess, period.Start)
}

// SeedMeters creates the current period's meter rows for a freshly
// provisioned tenant inside the provisioning unit of work, so the first
// metered request does not race meter creation against plan lookup.
func (s *Service) SeedMeters(ctx context.Context, sess store.BoundSession, sub *models.Subscription) error {
	period := PeriodFor(sub, s.clock.Now().UTC())

	for metric, spec := range s.catalog.Limits(sub.Plan) {
		_, err := s.usage.EnsureMeter(ctx, sess, &models.UsageMeter{
			OrganizationID: sub.OrganizationID,
			Metric:         metric,
			PeriodStart:    period.Start,
			PeriodEnd:      period.End,
			LimitValue:     spec.Limit,
			LimitKind:      spec.Kind,
			OverageAllowed: spec.OverageAllowed,
		})
		if err != nil {
			return fmt.Errorf("failed to seed meter %s: %w", metric, err)
		}
	}

	return nil
}

// ApplyPlanChange applies a plan change from the billing feed: the
// subscription row is updated and the current period's meter limits are
// rewritten in place, without touching counts. The limit updates run on the
// same rows CheckAndReserve locks, so the change serializes with in-flight
// reservations.
func (s *Service) ApplyPlanChange(ctx context.Context, orgID uuid.UUID, plan models.PlanCode, status models.SubscriptionStatus) error {
	sess, err := s.binder.Bind(ctx, orgID)
	if err != nil {
		return err
	}
	defer sess.Close(ctx)
	s.auditBind(ctx, orgID, "maintenance")

	sub, err := s.subs.Current(ctx, sess)
	if err != nil {
		return fmt.Errorf("failed to load subscription: %w", err)
	}

	if err := s.subs.UpdatePlan(ctx, sess, plan, status); err != nil {
		return err
	}

	period := PeriodFor(sub, s.clock.Now().UTC())
	for metric, spec := range s.catalog.Limits(plan) {
		if err := s.usage.UpdateLimits(ctx, sess, metric, period.Start, spec.Limit, spec.Kind, spec.OverageAllowed); err != nil {
			return fmt.Errorf("failed to update limits for %s: %w", metric, err)
		}
	}

	if err := sess.Commit(ctx); err != nil {
		return err
	}

	log.Info().
		Str("organization_id", orgID.String()).
		Str("plan", string(plan)).
		Str("status", string(status)).
		Msg("Applied plan change")

	s.audits.Record(ctx, &models.AuditEntry{
		OrganizationID: &orgID,
		Action:         models.AuditActionPlanChange,
		Source:         "maintenance",
		Outcome:        models.AuditOutcomeSuccess,
		Metadata: map[string]string{
			"plan":   string(plan),
			"status": string(status),
		},
	})

	return nil
}

// ApplySubscriptionPeriod moves the billing anchor, e.g. on renewal. The
// next metered operation lands on a fresh meter row for the new period;
// rows from the old period stay behind for billing reconciliation.
func (s *Service) ApplySubscriptionPeriod(ctx context.Context, orgID uuid.UUID, start, end time.Time) error {
	sess, err := s.binder.Bind(ctx, orgID)
	if err != nil {
		return err
	}
	defer sess.Close(ctx)
	s.auditBind(ctx, orgID, "maintenance")

	if err := s.subs.UpdatePeriod(ctx, sess, start, end); err != nil {
		return err
	}

	return sess.Commit(ctx)
}
