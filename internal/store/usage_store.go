package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avaliahq/tenancy/internal/models"
	"github.com/google/uuid"
)

// Sentinel errors for usage store operations
var (
	ErrMeterNotFound       = errors.New("usage meter not found")
	ErrReservationNotFound = errors.New("reservation not found")
)

// QuotaError is returned by Reserve when the meter cannot admit the requested
// amount. It carries the meter state at the moment of refusal so callers can
// distinguish hard and soft limits without a second read.
type QuotaError struct {
	Meter *models.UsageMeter
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota exceeded for %s: used=%d reserved=%d limit=%d",
		e.Meter.Metric, e.Meter.Used, e.Meter.Reserved, e.Meter.LimitValue)
}

// UsageStore manages per-tenant usage meters and reservations. Meters and
// reservations are tenant-scoped tables; all operations run through a bound
// session. Reserve, CommitReservation, and ReleaseReservation are the only
// ways counters move; there is no read-then-write path.
type UsageStore interface {
	// EnsureMeter creates the meter row for (tenant, metric, period start)
	// if it does not exist and returns the current row either way. The
	// limit fields of meter seed a new row and are ignored for an existing
	// one; limit changes go through UpdateLimits.
	EnsureMeter(ctx context.Context, sess BoundSession, meter *models.UsageMeter) (*models.UsageMeter, error)

	// GetMeter returns the meter for a metric and period start.
	// Returns ErrMeterNotFound if it has never been used this period.
	GetMeter(ctx context.Context, sess BoundSession, metric models.Metric, periodStart time.Time) (*models.UsageMeter, error)

	// ListMeters returns the bound tenant's meters for a period.
	ListMeters(ctx context.Context, sess BoundSession, periodStart time.Time) ([]*models.UsageMeter, error)

	// Reserve atomically claims res.Amount against the meter: it succeeds
	// only if used+reserved+amount fits the limit, the meter is unlimited,
	// or the limit is soft with overage allowed. On success the reservation
	// row is persisted and res.Overage records whether the claim ran past
	// the limit. On refusal it returns a *QuotaError. Two concurrent calls
	// can never both claim the last unit.
	Reserve(ctx context.Context, sess BoundSession, res *models.Reservation) error

	// CommitReservation moves a held reservation's amount into used (or
	// overage_used) and deletes the reservation row.
	// Returns ErrReservationNotFound if it was already committed, released,
	// or swept.
	CommitReservation(ctx context.Context, sess BoundSession, id uuid.UUID) error

	// ReleaseReservation deletes a held reservation and returns its amount
	// to the available quota, leaving used untouched.
	// Returns ErrReservationNotFound if there is nothing to release.
	ReleaseReservation(ctx context.Context, sess BoundSession, id uuid.UUID) error

	// UpdateLimits rewrites the limit columns of the current period's meter
	// row when the billing feed reports a plan change. Counts are not
	// touched. The update serializes against in-flight Reserve calls on the
	// same row. Missing meters are not an error; they will be seeded with
	// the new plan's limits on first use.
	UpdateLimits(ctx context.Context, sess BoundSession, metric models.Metric, periodStart time.Time, limit int64, kind models.LimitKind, overageAllowed bool) error
}

// UsageSweeper releases expired reservations left behind by crashed units of
// work. It runs cross-tenant on the maintenance credential, outside any bound
// session.
type UsageSweeper interface {
	// SweepExpired releases up to limit reservations that expired before
	// cutoff and returns how many were released.
	SweepExpired(ctx context.Context, cutoff time.Time, limit int) (int, error)
}
