package meter

import (
	"context"
	"testing"
	"time"

	"github.com/avaliahq/tenancy/internal/audit"
	"github.com/avaliahq/tenancy/internal/models"
	"github.com/avaliahq/tenancy/internal/store/memory"
	"github.com/avaliahq/tenancy/internal/tenant"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type meterFixture struct {
	service *Service
	binder  *memory.Binder
	usage   *memory.UsageStore
	audits  *memory.AuditStore
	logger  *audit.Logger
	clock   *clock.Mock
	tctx    *tenant.Context
}

func newMeterFixture(t *testing.T, plan models.PlanCode) *meterFixture {
	t.Helper()

	ctx := context.Background()
	binder := memory.NewBinder()
	subs := memory.NewSubscriptionStore()
	usage := memory.NewUsageStore()

	mock := clock.NewMock()
	mock.Set(time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC))

	orgID := uuid.New()

	sess, err := binder.Bind(ctx, orgID)
	require.NoError(t, err)
	err = subs.Create(ctx, sess, &models.Subscription{
		ID:                 uuid.New(),
		OrganizationID:     orgID,
		Plan:               plan,
		Status:             models.SubscriptionActive,
		Interval:           models.IntervalMonthly,
		CurrentPeriodStart: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		CurrentPeriodEnd:   time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NoError(t, sess.Commit(ctx))

	audits := memory.NewAuditStore()
	logger := audit.NewLogger(audit.NewStoreSink(audits))
	t.Cleanup(func() { _ = logger.Close() })

	catalog := &Catalog{
		Plans: map[models.PlanCode]map[models.Metric]LimitSpec{
			models.PlanBasic: {
				models.MetricAssessmentsStarted: {Limit: 3, Kind: models.LimitHard},
			},
			models.PlanProfessional: {
				models.MetricAssessmentsStarted: {Limit: 3, Kind: models.LimitSoft, OverageAllowed: true},
				models.MetricStorageGB:          {Limit: 3, Kind: models.LimitSoft},
			},
		},
	}

	return &meterFixture{
		service: NewService(binder, subs, usage, catalog, mock, logger),
		binder:  binder,
		usage:   usage,
		audits:  audits,
		logger:  logger,
		clock:   mock,
		tctx: &tenant.Context{
			OrganizationID: orgID,
			Slug:           "acme",
			Role:           models.RoleMember,
			Source:         tenant.SourcePath,
		},
	}
}

func (f *meterFixture) meter(t *testing.T, metric models.Metric) *models.UsageMeter {
	t.Helper()

	ctx := context.Background()
	sess, err := f.binder.Bind(ctx, f.tctx.OrganizationID)
	require.NoError(t, err)
	defer sess.Close(ctx)

	m, err := f.usage.GetMeter(ctx, sess, metric, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return m
}

func TestCheckAndReserveCommit(t *testing.T) {
	ctx := context.Background()
	f := newMeterFixture(t, models.PlanBasic)

	res, err := f.service.CheckAndReserve(ctx, f.tctx, models.MetricAssessmentsStarted, 1)
	require.NoError(t, err)
	require.False(t, res.Overage)

	m := f.meter(t, models.MetricAssessmentsStarted)
	require.EqualValues(t, 0, m.Used)
	require.EqualValues(t, 1, m.Reserved)

	require.NoError(t, f.service.Commit(ctx, f.tctx, res))

	m = f.meter(t, models.MetricAssessmentsStarted)
	require.EqualValues(t, 1, m.Used)
	require.EqualValues(t, 0, m.Reserved)
}

func TestCheckAndReserveHardLimit(t *testing.T) {
	ctx := context.Background()
	f := newMeterFixture(t, models.PlanBasic)

	for i := 0; i < 3; i++ {
		res, err := f.service.CheckAndReserve(ctx, f.tctx, models.MetricAssessmentsStarted, 1)
		require.NoError(t, err)
		require.NoError(t, f.service.Commit(ctx, f.tctx, res))
	}

	_, err := f.service.CheckAndReserve(ctx, f.tctx, models.MetricAssessmentsStarted, 1)
	var lerr *LimitError
	require.ErrorAs(t, err, &lerr)
	require.True(t, lerr.IsHard())
	require.Equal(t, models.MetricAssessmentsStarted, lerr.Metric)
	require.EqualValues(t, 3, lerr.Used)
	require.EqualValues(t, 3, lerr.Limit)
}

func TestCheckAndReserveSoftOverage(t *testing.T) {
	ctx := context.Background()
	f := newMeterFixture(t, models.PlanProfessional)

	for i := 0; i < 3; i++ {
		res, err := f.service.CheckAndReserve(ctx, f.tctx, models.MetricAssessmentsStarted, 1)
		require.NoError(t, err)
		require.NoError(t, f.service.Commit(ctx, f.tctx, res))
	}

	// Past the soft limit with overage allowed: admitted, flagged, and
	// committed into overage_used.
	res, err := f.service.CheckAndReserve(ctx, f.tctx, models.MetricAssessmentsStarted, 1)
	require.NoError(t, err)
	require.True(t, res.Overage)
	require.NoError(t, f.service.Commit(ctx, f.tctx, res))

	m := f.meter(t, models.MetricAssessmentsStarted)
	require.EqualValues(t, 3, m.Used)
	require.EqualValues(t, 1, m.OverageUsed)
}

func TestCheckAndReserveSoftWithoutOverage(t *testing.T) {
	ctx := context.Background()
	f := newMeterFixture(t, models.PlanProfessional)

	for i := 0; i < 3; i++ {
		res, err := f.service.CheckAndReserve(ctx, f.tctx, models.MetricStorageGB, 1)
		require.NoError(t, err)
		require.NoError(t, f.service.Commit(ctx, f.tctx, res))
	}

	_, err := f.service.CheckAndReserve(ctx, f.tctx, models.MetricStorageGB, 1)
	var lerr *LimitError
	require.ErrorAs(t, err, &lerr)
	require.False(t, lerr.IsHard(), "soft refusal lets callers degrade instead of reject")
}

func TestUncataloguedMetricIsUnlimited(t *testing.T) {
	ctx := context.Background()
	f := newMeterFixture(t, models.PlanBasic)

	for i := 0; i < 50; i++ {
		res, err := f.service.CheckAndReserve(ctx, f.tctx, models.MetricAPICalls, 1)
		require.NoError(t, err)
		require.False(t, res.Overage)
		require.NoError(t, f.service.Commit(ctx, f.tctx, res))
	}
}

func TestReleaseLeavesUsedUntouched(t *testing.T) {
	ctx := context.Background()
	f := newMeterFixture(t, models.PlanBasic)

	res, err := f.service.CheckAndReserve(ctx, f.tctx, models.MetricAssessmentsStarted, 2)
	require.NoError(t, err)
	require.NoError(t, f.service.Release(ctx, f.tctx, res))

	m := f.meter(t, models.MetricAssessmentsStarted)
	require.EqualValues(t, 0, m.Used)
	require.EqualValues(t, 0, m.Reserved)

	// Releasing again is a no-op: Release runs in deferred cleanup.
	require.NoError(t, f.service.Release(ctx, f.tctx, res))
}

func TestInactiveSubscriptionFailsClosed(t *testing.T) {
	ctx := context.Background()
	f := newMeterFixture(t, models.PlanBasic)

	require.NoError(t, f.service.ApplyPlanChange(ctx, f.tctx.OrganizationID, models.PlanBasic, models.SubscriptionCancelled))

	_, err := f.service.CheckAndReserve(ctx, f.tctx, models.MetricAssessmentsStarted, 1)
	require.ErrorIs(t, err, ErrSubscriptionInactive)
}

func TestApplyPlanChangeRewritesLimits(t *testing.T) {
	ctx := context.Background()
	f := newMeterFixture(t, models.PlanBasic)

	// Use the meter once so the current period's row exists.
	res, err := f.service.CheckAndReserve(ctx, f.tctx, models.MetricAssessmentsStarted, 1)
	require.NoError(t, err)
	require.NoError(t, f.service.Commit(ctx, f.tctx, res))

	require.NoError(t, f.service.ApplyPlanChange(ctx, f.tctx.OrganizationID, models.PlanProfessional, models.SubscriptionActive))

	m := f.meter(t, models.MetricAssessmentsStarted)
	require.Equal(t, models.LimitSoft, m.LimitKind)
	require.True(t, m.OverageAllowed)
	require.EqualValues(t, 1, m.Used, "plan changes never touch counts")
}

func TestSeedMeters(t *testing.T) {
	ctx := context.Background()
	f := newMeterFixture(t, models.PlanProfessional)

	sess, err := f.binder.Bind(ctx, f.tctx.OrganizationID)
	require.NoError(t, err)
	defer sess.Close(ctx)

	err = f.service.SeedMeters(ctx, sess, &models.Subscription{
		OrganizationID:     f.tctx.OrganizationID,
		Plan:               models.PlanProfessional,
		Interval:           models.IntervalMonthly,
		CurrentPeriodStart: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NoError(t, sess.Commit(ctx))

	sess2, err := f.binder.Bind(ctx, f.tctx.OrganizationID)
	require.NoError(t, err)
	defer sess2.Close(ctx)

	meters, err := f.usage.ListMeters(ctx, sess2, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, meters, 2)
}

func TestMeterOperationsAuditBinds(t *testing.T) {
	ctx := context.Background()
	f := newMeterFixture(t, models.PlanBasic)

	res, err := f.service.CheckAndReserve(ctx, f.tctx, models.MetricAssessmentsStarted, 1)
	require.NoError(t, err)
	require.NoError(t, f.service.Commit(ctx, f.tctx, res))
	_, err = f.service.Snapshot(ctx, f.tctx)
	require.NoError(t, err)

	// Close drains the async buffer before reading the trail back.
	require.NoError(t, f.logger.Close())

	entries, err := f.audits.List(ctx, &f.tctx.OrganizationID, 100)
	require.NoError(t, err)

	binds := 0
	for _, e := range entries {
		if e.Action != models.AuditActionBind {
			continue
		}
		binds++
		require.Equal(t, string(tenant.SourcePath), e.Source)
		require.Equal(t, models.AuditOutcomeSuccess, e.Outcome)
	}
	require.Equal(t, 3, binds, "each meter operation binds its own session")
}

func TestMeterStateSurvivesBusinessRollback(t *testing.T) {
	ctx := context.Background()
	f := newMeterFixture(t, models.PlanBasic)

	// The reservation lives in its own unit of work; a business transaction
	// rolling back afterwards does not undo it. The caller's cleanup (or the
	// sweeper) releases it explicitly.
	res, err := f.service.CheckAndReserve(ctx, f.tctx, models.MetricAssessmentsStarted, 1)
	require.NoError(t, err)

	bizSess, err := f.binder.Bind(ctx, f.tctx.OrganizationID)
	require.NoError(t, err)
	require.NoError(t, bizSess.Close(ctx)) // rollback

	m := f.meter(t, models.MetricAssessmentsStarted)
	require.EqualValues(t, 1, m.Reserved)

	require.NoError(t, f.service.Release(ctx, f.tctx, res))
	m = f.meter(t, models.MetricAssessmentsStarted)
	require.EqualValues(t, 0, m.Reserved)
}
