package commands

import (
	"context"
	"fmt"
	"strings"

	postgresstore "github.com/avaliahq/tenancy/internal/store/postgres"
)

type OrgsCmd struct {
	Postgres PostgresFlags `embed:"" prefix:"postgres-"`
}

func (o *OrgsCmd) Run(ctx context.Context, globals *Globals) error {
	pool, err := o.Postgres.connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	orgs, err := postgresstore.NewOrganizationStore(pool).List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list organizations: %w", err)
	}

	if len(orgs) == 0 {
		fmt.Println("No organizations found.")
		return nil
	}

	fmt.Printf("%-36s %-24s %-10s %-8s %-20s\n", "ID", "Slug", "Kind", "Active", "Created At")
	fmt.Println(strings.Repeat("─", 102))
	for _, org := range orgs {
		fmt.Printf("%-36s %-24s %-10s %-8t %-20s\n",
			org.ID, org.Slug, org.Kind, org.Active,
			org.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

type DeactivateCmd struct {
	Slug string `help:"Organization slug" required:""`

	Postgres PostgresFlags `embed:"" prefix:"postgres-"`
}

func (d *DeactivateCmd) Run(ctx context.Context, globals *Globals) error {
	return setActive(ctx, &d.Postgres, d.Slug, false)
}

type ReactivateCmd struct {
	Slug string `help:"Organization slug" required:""`

	Postgres PostgresFlags `embed:"" prefix:"postgres-"`
}

func (r *ReactivateCmd) Run(ctx context.Context, globals *Globals) error {
	return setActive(ctx, &r.Postgres, r.Slug, true)
}

func setActive(ctx context.Context, flags *PostgresFlags, slug string, active bool) error {
	pool, err := flags.connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	orgs := postgresstore.NewOrganizationStore(pool)
	org, err := orgs.GetBySlug(ctx, slug)
	if err != nil {
		return fmt.Errorf("failed to look up %q: %w", slug, err)
	}
	if err := orgs.SetActive(ctx, org.ID, active); err != nil {
		return fmt.Errorf("failed to update %q: %w", slug, err)
	}

	state := "deactivated"
	if active {
		state = "reactivated"
	}
	fmt.Printf("Organization %s %s. Resolution caches may serve the old state until their TTL passes.\n", slug, state)
	return nil
}
