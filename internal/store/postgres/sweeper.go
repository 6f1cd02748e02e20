package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Sweeper releases expired usage reservations across all tenants. It runs on
// the maintenance pool, whose role is not subject to the tenant row
// policies, so it can see reservations left behind by units of work that
// never committed or released.
type Sweeper struct {
	pool *pgxpool.Pool
}

// NewSweeper creates a sweeper on the maintenance pool.
func NewSweeper(pool *pgxpool.Pool) *Sweeper {
	return &Sweeper{
		pool: pool,
	}
}

// SweepExpired deletes up to limit reservations that expired before cutoff
// and returns their amounts to the owning meters. SKIP LOCKED keeps
// concurrent sweepers, and reservations being committed or released right
// now, out of each other's way.
func (s *Sweeper) SweepExpired(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	query := `
		WITH expired AS (
			SELECT id, meter_id, amount
			FROM usage_reservations
			WHERE expires_at < $1
			ORDER BY expires_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		), removed AS (
			DELETE FROM usage_reservations
			WHERE id IN (SELECT id FROM expired)
		), returned AS (
			UPDATE usage_meters m SET
				reserved = greatest(m.reserved - e.total, 0),
				updated_at = now()
			FROM (
				SELECT meter_id, sum(amount) AS total
				FROM expired
				GROUP BY meter_id
			) e
			WHERE m.id = e.meter_id
		)
		SELECT count(*) FROM expired
	`

	var swept int
	if err := s.pool.QueryRow(ctx, query, cutoff, limit).Scan(&swept); err != nil {
		return 0, fmt.Errorf("failed to sweep expired reservations: %w", mapPostgresError(err))
	}

	if swept > 0 {
		log.Info().
			Int("swept", swept).
			Time("cutoff", cutoff).
			Msg("Released expired reservations")
	}

	return swept, nil
}
