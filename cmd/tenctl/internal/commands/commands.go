package commands

import (
	"context"
	"fmt"

	postgresstore "github.com/avaliahq/tenancy/internal/store/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Globals struct {
	Debug   bool
	Version string
}

// PostgresFlags is the connection every command shares. The CLI is an
// operator tool: it talks to the database directly, on whichever credential
// the operation calls for.
type PostgresFlags struct {
	ConnString string `help:"PostgreSQL connection string" required:"" env:"POSTGRES_CONNECTION_STRING"`
}

func (f *PostgresFlags) connect(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := postgresstore.NewPool(ctx, &postgresstore.PoolConfig{
		ConnString: f.ConnString,
		MaxConns:   2,
		MinConns:   1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return pool, nil
}
