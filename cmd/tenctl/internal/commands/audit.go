package commands

import (
	"context"
	"fmt"
	"strings"

	postgresstore "github.com/avaliahq/tenancy/internal/store/postgres"
	"github.com/google/uuid"
)

type AuditCmd struct {
	Org   string `help:"Filter by organization ID" default:""`
	Limit int    `help:"Number of entries" default:"50"`

	Postgres PostgresFlags `embed:"" prefix:"postgres-"`
}

func (a *AuditCmd) Run(ctx context.Context, globals *Globals) error {
	pool, err := a.Postgres.connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	var orgID *uuid.UUID
	if a.Org != "" {
		id, err := uuid.Parse(a.Org)
		if err != nil {
			return fmt.Errorf("invalid organization ID %q: %w", a.Org, err)
		}
		orgID = &id
	}

	entries, err := postgresstore.NewAuditStore(pool).List(ctx, orgID, a.Limit)
	if err != nil {
		return fmt.Errorf("failed to list audit entries: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("No audit entries found.")
		return nil
	}

	fmt.Printf("%-20s %-36s %-28s %-20s %-8s\n", "Time", "Organization", "Action", "Principal", "Outcome")
	fmt.Println(strings.Repeat("─", 116))
	for _, e := range entries {
		org := "-"
		if e.OrganizationID != nil {
			org = e.OrganizationID.String()
		}
		principal := e.Principal
		if principal == "" {
			principal = "-"
		}
		fmt.Printf("%-20s %-36s %-28s %-20s %-8s\n",
			e.Time.Format("2006-01-02 15:04:05"), org, e.Action, principal, e.Outcome)
	}
	return nil
}
