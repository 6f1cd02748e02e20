package worker

import (
	"context"
	"strconv"
	"time"

	"github.com/avaliahq/tenancy/internal/audit"
	"github.com/avaliahq/tenancy/internal/models"
	"github.com/avaliahq/tenancy/internal/store"
	"github.com/avaliahq/tenancy/internal/telemetry"
	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
)

const (
	defaultSweepInterval = 30 * time.Second
	defaultSweepBatch    = 500
)

// Sweeper periodically releases expired usage reservations left behind by
// crashed units of work. It is the reason `used` never counts work that did
// not happen: a reservation that was neither committed nor released expires
// and comes back here.
type Sweeper struct {
	store    store.UsageSweeper
	clock    clock.Clock
	audits   *audit.Logger
	interval time.Duration
	batch    int

	failures int
}

// NewSweeper creates a sweeper on the given store. The store must run on the
// maintenance credential; on the application credential the row policies
// hide every reservation and the sweep silently does nothing.
func NewSweeper(s store.UsageSweeper, clk clock.Clock, audits *audit.Logger) *Sweeper {
	return &Sweeper{
		store:    s,
		clock:    clk,
		audits:   audits,
		interval: defaultSweepInterval,
		batch:    defaultSweepBatch,
	}
}

// Run sweeps on a ticker until ctx is cancelled. Consecutive failures
// stretch the ticker with exponential backoff; a successful sweep resets it.
func (s *Sweeper) Run(ctx context.Context) error {
	log.Info().
		Dur("interval", s.interval).
		Int("batch", s.batch).
		Msg("Starting reservation sweeper")

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.interval
	bo.MaxInterval = 10 * s.interval

	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Reservation sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.sweepOnce(ctx); err != nil {
				s.failures++
				ticker.Reset(bo.NextBackOff())
				log.Error().
					Err(err).
					Int("consecutive_failures", s.failures).
					Msg("Sweep failed")
				continue
			}
			if s.failures > 0 {
				s.failures = 0
				bo.Reset()
				ticker.Reset(s.interval)
			}
		}
	}
}

// sweepOnce drains expired reservations in batches until a batch comes back
// short.
func (s *Sweeper) sweepOnce(ctx context.Context) error {
	total := 0

	for {
		swept, err := s.store.SweepExpired(ctx, s.clock.Now().UTC(), s.batch)
		if err != nil {
			return err
		}
		total += swept
		if swept < s.batch {
			break
		}
	}

	if total > 0 {
		telemetry.GetMetrics().ReservationsSwept.Add(ctx, int64(total))
		s.audits.Record(ctx, &models.AuditEntry{
			Action:  models.AuditActionSweep,
			Source:  "maintenance",
			Outcome: models.AuditOutcomeSuccess,
			Metadata: map[string]string{
				"released": strconv.Itoa(total),
			},
		})
	}

	return nil
}
