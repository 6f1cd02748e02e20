package commands

import (
	"context"
	"fmt"

	postgresstore "github.com/avaliahq/tenancy/internal/store/postgres"
)

// VerifyCmd runs the same schema-level verification the server runs at
// startup. Run it on the application credential: part of what it checks is
// that the connected role cannot bypass the row policies.
type VerifyCmd struct {
	Postgres PostgresFlags `embed:"" prefix:"postgres-"`
}

func (v *VerifyCmd) Run(ctx context.Context, globals *Globals) error {
	pool, err := v.Postgres.connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := postgresstore.NewPolicyVerifier(pool).Verify(ctx); err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}

	fmt.Println("All isolation policies verified.")
	return nil
}
