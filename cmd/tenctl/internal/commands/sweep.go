package commands

import (
	"context"
	"fmt"
	"time"

	postgresstore "github.com/avaliahq/tenancy/internal/store/postgres"
)

// SweepCmd releases expired reservations once and exits. The server runs the
// same sweep on a ticker; this is for operators reconciling after an
// incident. It needs the maintenance credential: on the application
// credential the row policies hide every reservation and nothing is swept.
type SweepCmd struct {
	Batch int `help:"Reservations per batch" default:"500"`

	Postgres PostgresFlags `embed:"" prefix:"postgres-"`
}

func (s *SweepCmd) Run(ctx context.Context, globals *Globals) error {
	pool, err := s.Postgres.connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	sweeper := postgresstore.NewSweeper(pool)

	total := 0
	for {
		n, err := sweeper.SweepExpired(ctx, time.Now().UTC(), s.Batch)
		if err != nil {
			return fmt.Errorf("sweep failed after %d released: %w", total, err)
		}
		total += n
		if n < s.Batch {
			break
		}
	}

	fmt.Printf("Released %d expired reservations.\n", total)
	return nil
}
