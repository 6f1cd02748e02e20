package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avaliahq/tenancy/internal/models"
	"github.com/avaliahq/tenancy/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// UsageStore implements store.UsageStore using PostgreSQL. The admission
// check and the reserved-counter increment are one UPDATE statement, so row
// locking serializes concurrent reservations on the same meter: two units of
// work can never both claim the last unit of quota. Counters only ever move
// through Reserve, CommitReservation, and ReleaseReservation.
type UsageStore struct {
	pool *pgxpool.Pool
}

// NewUsageStore creates a new PostgreSQL-backed usage store.
func NewUsageStore(pool *pgxpool.Pool) *UsageStore {
	return &UsageStore{
		pool: pool,
	}
}

const meterColumns = `
	id, organization_id, metric, period_start, period_end,
	used, reserved, limit_value, limit_kind, overage_allowed, overage_used,
	created_at, updated_at
`

// EnsureMeter creates the meter row for (tenant, metric, period start) if it
// does not exist and returns the current row either way. ON CONFLICT keeps
// concurrent first-use races harmless; the limit fields only seed new rows.
func (s *UsageStore) EnsureMeter(ctx context.Context, sess store.BoundSession, meter *models.UsageMeter) (*models.UsageMeter, error) {
	tx, err := sessionTx(sess)
	if err != nil {
		return nil, err
	}
	if err := checkTenant(sess, meter.OrganizationID); err != nil {
		return nil, err
	}

	id := meter.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	query := `
		INSERT INTO usage_meters (
			id, organization_id, metric, period_start, period_end,
			limit_value, limit_kind, overage_allowed
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
		ON CONFLICT (organization_id, metric, period_start) DO UPDATE
			SET updated_at = usage_meters.updated_at
		RETURNING ` + meterColumns

	row := tx.QueryRow(ctx, query,
		id,
		meter.OrganizationID,
		meter.Metric,
		meter.PeriodStart,
		meter.PeriodEnd,
		meter.LimitValue,
		meter.LimitKind,
		meter.OverageAllowed,
	)

	out, err := scanMeter(row)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure meter: %w", mapPostgresError(err))
	}
	if err := checkTenant(sess, out.OrganizationID); err != nil {
		return nil, err
	}

	return out, nil
}

// GetMeter returns the meter for a metric and period start.
func (s *UsageStore) GetMeter(ctx context.Context, sess store.BoundSession, metric models.Metric, periodStart time.Time) (*models.UsageMeter, error) {
	tx, err := sessionTx(sess)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + meterColumns + `
		FROM usage_meters
		WHERE metric = $1 AND period_start = $2
	`

	meter, err := scanMeter(tx.QueryRow(ctx, query, metric, periodStart))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrMeterNotFound
		}
		return nil, fmt.Errorf("failed to get meter: %w", mapPostgresError(err))
	}
	if err := checkTenant(sess, meter.OrganizationID); err != nil {
		return nil, err
	}

	return meter, nil
}

// ListMeters returns the bound tenant's meters for a period.
func (s *UsageStore) ListMeters(ctx context.Context, sess store.BoundSession, periodStart time.Time) ([]*models.UsageMeter, error) {
	tx, err := sessionTx(sess)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + meterColumns + `
		FROM usage_meters
		WHERE period_start = $1
		ORDER BY metric
	`

	rows, err := tx.Query(ctx, query, periodStart)
	if err != nil {
		return nil, fmt.Errorf("failed to list meters: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var meters []*models.UsageMeter
	for rows.Next() {
		meter, err := scanMeter(rows)
		if err != nil {
			return nil, err
		}
		if err := checkTenant(sess, meter.OrganizationID); err != nil {
			return nil, err
		}
		meters = append(meters, meter)
	}

	return meters, rows.Err()
}

// Reserve atomically claims res.Amount against the meter. The WHERE clause
// admits the claim only when it fits the limit, the meter is unlimited, or
// the limit is soft with overage allowed; the row lock taken by the UPDATE
// serializes concurrent claims.
func (s *UsageStore) Reserve(ctx context.Context, sess store.BoundSession, res *models.Reservation) error {
	tx, err := sessionTx(sess)
	if err != nil {
		return err
	}
	if err := checkTenant(sess, res.OrganizationID); err != nil {
		return err
	}

	query := `
		UPDATE usage_meters SET
			reserved = reserved + $2,
			updated_at = now()
		WHERE id = $1
		  AND (
			limit_value = -1
			OR used + reserved + $2 <= limit_value
			OR (limit_kind = 'soft' AND overage_allowed)
		  )
		RETURNING limit_value, limit_kind, used, reserved
	`

	var (
		limitValue     int64
		limitKind      models.LimitKind
		used, reserved int64
	)
	err = tx.QueryRow(ctx, query, res.MeterID, res.Amount).Scan(&limitValue, &limitKind, &used, &reserved)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.refuse(ctx, tx, res.MeterID)
		}
		return fmt.Errorf("failed to reserve: %w", mapPostgresError(err))
	}

	// reserved already includes this claim.
	res.Overage = limitValue != models.UnlimitedLimit && used+reserved > limitValue

	_, err = tx.Exec(ctx, `
		INSERT INTO usage_reservations (
			id, meter_id, organization_id, metric, amount, overage, created_at, expires_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
	`,
		res.ID,
		res.MeterID,
		res.OrganizationID,
		res.Metric,
		res.Amount,
		res.Overage,
		res.CreatedAt,
		res.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to persist reservation: %w", mapPostgresError(err))
	}

	return nil
}

// refuse distinguishes a meter that refused the claim from a meter the bound
// tenant cannot see, and returns the refusal with the meter state attached.
func (s *UsageStore) refuse(ctx context.Context, tx pgx.Tx, meterID uuid.UUID) error {
	meter, err := scanMeter(tx.QueryRow(ctx, `SELECT `+meterColumns+` FROM usage_meters WHERE id = $1`, meterID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrMeterNotFound
		}
		return fmt.Errorf("failed to read refused meter: %w", mapPostgresError(err))
	}
	return &store.QuotaError{Meter: meter}
}

// CommitReservation moves a held reservation's amount into used (or
// overage_used) and deletes the reservation row, all in the bound
// transaction.
func (s *UsageStore) CommitReservation(ctx context.Context, sess store.BoundSession, id uuid.UUID) error {
	tx, err := sessionTx(sess)
	if err != nil {
		return err
	}

	var (
		meterID uuid.UUID
		amount  int64
		overage bool
	)
	err = tx.QueryRow(ctx, `
		DELETE FROM usage_reservations
		WHERE id = $1
		RETURNING meter_id, amount, overage
	`, id).Scan(&meterID, &amount, &overage)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrReservationNotFound
		}
		return fmt.Errorf("failed to take reservation: %w", mapPostgresError(err))
	}

	query := `
		UPDATE usage_meters SET
			reserved = greatest(reserved - $2, 0),
			used = used + CASE WHEN $3 THEN 0 ELSE $2 END,
			overage_used = overage_used + CASE WHEN $3 THEN $2 ELSE 0 END,
			updated_at = now()
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, query, meterID, amount, overage); err != nil {
		return fmt.Errorf("failed to commit reservation: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("reservation_id", id.String()).
		Int64("amount", amount).
		Bool("overage", overage).
		Msg("Committed reservation")

	return nil
}

// ReleaseReservation deletes a held reservation and returns its amount to
// the available quota, leaving used untouched.
func (s *UsageStore) ReleaseReservation(ctx context.Context, sess store.BoundSession, id uuid.UUID) error {
	tx, err := sessionTx(sess)
	if err != nil {
		return err
	}

	var (
		meterID uuid.UUID
		amount  int64
	)
	err = tx.QueryRow(ctx, `
		DELETE FROM usage_reservations
		WHERE id = $1
		RETURNING meter_id, amount
	`, id).Scan(&meterID, &amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrReservationNotFound
		}
		return fmt.Errorf("failed to release reservation: %w", mapPostgresError(err))
	}

	_, err = tx.Exec(ctx, `
		UPDATE usage_meters SET
			reserved = greatest(reserved - $2, 0),
			updated_at = now()
		WHERE id = $1
	`, meterID, amount)
	if err != nil {
		return fmt.Errorf("failed to return reserved quota: %w", mapPostgresError(err))
	}

	return nil
}

// UpdateLimits rewrites the limit columns of the current period's meter row.
// The UPDATE takes the same row lock Reserve takes, so plan changes
// serialize with in-flight reservations instead of racing them. A missing
// meter is not an error; it will be seeded with the new plan's limits on
// first use.
func (s *UsageStore) UpdateLimits(ctx context.Context, sess store.BoundSession, metric models.Metric, periodStart time.Time, limit int64, kind models.LimitKind, overageAllowed bool) error {
	tx, err := sessionTx(sess)
	if err != nil {
		return err
	}

	query := `
		UPDATE usage_meters SET
			limit_value = $3,
			limit_kind = $4,
			overage_allowed = $5,
			updated_at = now()
		WHERE metric = $1 AND period_start = $2
	`

	if _, err := tx.Exec(ctx, query, metric, periodStart, limit, kind, overageAllowed); err != nil {
		return fmt.Errorf("failed to update limits: %w", mapPostgresError(err))
	}

	return nil
}

func scanMeter(row pgx.Row) (*models.UsageMeter, error) {
	var m models.UsageMeter
	err := row.Scan(
		&m.ID,
		&m.OrganizationID,
		&m.Metric,
		&m.PeriodStart,
		&m.PeriodEnd,
		&m.Used,
		&m.Reserved,
		&m.LimitValue,
		&m.LimitKind,
		&m.OverageAllowed,
		&m.OverageUsed,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
