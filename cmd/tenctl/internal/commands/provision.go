package commands

import (
	"context"
	"fmt"

	"github.com/avaliahq/tenancy/internal/audit"
	"github.com/avaliahq/tenancy/internal/meter"
	"github.com/avaliahq/tenancy/internal/models"
	"github.com/avaliahq/tenancy/internal/server"
	postgresstore "github.com/avaliahq/tenancy/internal/store/postgres"
	"github.com/benbjohnson/clock"
)

type ProvisionCmd struct {
	Kind      string `help:"Organization kind (company or recruiter)" default:"company"`
	Name      string `help:"Display name" required:""`
	Slug      string `help:"URL slug" required:""`
	Locale    string `help:"Default locale" default:"en"`
	Plan      string `help:"Subscription plan" default:"basic"`
	Principal string `help:"Principal to make org_admin" required:""`
	Catalog   string `help:"path to the plan catalog YAML (empty uses the built-in catalog)" default:""`

	Postgres PostgresFlags `embed:"" prefix:"postgres-"`
}

func (p *ProvisionCmd) Run(ctx context.Context, globals *Globals) error {
	pool, err := p.Postgres.connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	catalog := meter.DefaultCatalog()
	if p.Catalog != "" {
		if catalog, err = meter.LoadCatalogFile(p.Catalog); err != nil {
			return fmt.Errorf("failed to load plan catalog: %w", err)
		}
	}

	binder := postgresstore.NewBinder(pool)
	orgs := postgresstore.NewOrganizationStore(pool)
	memberships := postgresstore.NewMembershipStore(pool)
	subs := postgresstore.NewSubscriptionStore(pool)
	usage := postgresstore.NewUsageStore(pool)

	audits := audit.NewLogger(audit.NewStoreSink(postgresstore.NewAuditStore(pool)))
	defer audits.Close()

	clk := clock.New()
	meters := meter.NewService(binder, subs, usage, catalog, clk, audits)
	provisioner := server.NewProvisioner(binder, orgs, memberships, subs, meters, clk, audits, nil)

	org, err := provisioner.Provision(ctx, &server.ProvisionRequest{
		Kind:        models.OrgKind(p.Kind),
		Name:        p.Name,
		Slug:        p.Slug,
		Locale:      models.Locale(p.Locale),
		Plan:        models.PlanCode(p.Plan),
		PrincipalID: p.Principal,
	})
	if err != nil {
		return fmt.Errorf("failed to provision: %w", err)
	}

	fmt.Printf("Provisioned %s (%s) on plan %s\n", org.Slug, org.ID, p.Plan)
	return nil
}
