package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/avaliahq/tenancy/internal/audit"
	"github.com/avaliahq/tenancy/internal/models"
	"github.com/avaliahq/tenancy/internal/store"
	"github.com/avaliahq/tenancy/internal/store/memory"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRunScoped(t *testing.T) {
	ctx := context.Background()
	binder := memory.NewBinder()
	orgs := memory.NewOrganizationStore()
	orgID := uuid.New()

	t.Run("commits on success", func(t *testing.T) {
		err := RunScoped(ctx, binder, orgID, func(ctx context.Context, sess store.BoundSession) error {
			return orgs.Create(ctx, sess, &models.Organization{
				ID:     orgID,
				Kind:   models.OrgKindCompany,
				Name:   "Acme",
				Slug:   "acme",
				Locale: models.LocaleEN,
				Active: true,
			})
		})
		require.NoError(t, err)
		require.Zero(t, binder.OpenSessions())

		_, err = orgs.GetBySlug(ctx, "acme")
		require.NoError(t, err)
	})

	t.Run("closes the session on failure", func(t *testing.T) {
		boom := errors.New("boom")
		err := RunScoped(ctx, binder, orgID, func(context.Context, store.BoundSession) error {
			return boom
		})
		require.ErrorIs(t, err, boom)
		require.Zero(t, binder.OpenSessions())
	})
}

func TestSweeperReleasesExpired(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	binder := memory.NewBinder()
	usage := memory.NewUsageStore()
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC))

	logger := audit.NewLogger()
	t.Cleanup(func() { _ = logger.Close() })

	orgID := uuid.New()
	periodStart := mock.Now()

	// Leave a reservation behind as a crashed unit of work would.
	var meterID uuid.UUID
	err := RunScoped(ctx, binder, orgID, func(ctx context.Context, sess store.BoundSession) error {
		m, err := usage.EnsureMeter(ctx, sess, &models.UsageMeter{
			OrganizationID: orgID,
			Metric:         models.MetricAssessmentsStarted,
			PeriodStart:    periodStart,
			PeriodEnd:      periodStart.AddDate(0, 1, 0),
			LimitValue:     10,
			LimitKind:      models.LimitHard,
		})
		if err != nil {
			return err
		}
		meterID = m.ID

		return usage.Reserve(ctx, sess, &models.Reservation{
			ID:             uuid.New(),
			MeterID:        meterID,
			OrganizationID: orgID,
			Metric:         models.MetricAssessmentsStarted,
			Amount:         4,
			CreatedAt:      mock.Now(),
			ExpiresAt:      mock.Now().Add(5 * time.Minute),
		})
	})
	require.NoError(t, err)

	sweeper := NewSweeper(usage, mock, logger)
	done := make(chan error, 1)
	go func() {
		done <- sweeper.Run(ctx)
	}()

	// Let the goroutine install its ticker before moving the clock.
	time.Sleep(50 * time.Millisecond)

	// First tick: nothing expired yet.
	mock.Add(sweeper.interval)
	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 4, meterReserved(t, binder, usage, orgID, periodStart))

	// Advance past the reservation's expiry; the next tick sweeps it.
	mock.Add(10 * time.Minute)
	require.Eventually(t, func() bool {
		return meterReserved(t, binder, usage, orgID, periodStart) == 0
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func meterReserved(t *testing.T, binder *memory.Binder, usage *memory.UsageStore, orgID uuid.UUID, periodStart time.Time) int64 {
	t.Helper()

	var reserved int64
	err := RunScoped(context.Background(), binder, orgID, func(ctx context.Context, sess store.BoundSession) error {
		m, err := usage.GetMeter(ctx, sess, models.MetricAssessmentsStarted, periodStart)
		if err != nil {
			return err
		}
		reserved = m.Reserved
		return nil
	})
	require.NoError(t, err)
	return reserved
}
