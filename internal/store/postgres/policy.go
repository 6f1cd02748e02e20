package postgres

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// tenantScopedTables are the tables the row-security policies must cover.
// Adding a tenant-scoped table to the schema without adding it here means
// the verifier will not assert its policies, so keep the two in sync.
var tenantScopedTables = []string{
	"subscriptions",
	"usage_meters",
	"usage_reservations",
	"assessments",
	"assessment_responses",
}

// requiredPolicies are the policy names each tenant-scoped table must carry.
var requiredPolicies = []string{
	"tenant_iso_select",
	"tenant_iso_write",
}

// PolicyVerifier asserts at startup that the schema-level isolation rules
// are installed and that the runtime credential cannot sidestep them. All
// findings are collected before reporting so a broken deployment surfaces
// every problem at once.
type PolicyVerifier struct {
	pool *pgxpool.Pool
}

// NewPolicyVerifier creates a verifier on the application pool. It must run
// on the application credential, not the maintenance one: the point is to
// assert what the credential serving traffic can and cannot do.
func NewPolicyVerifier(pool *pgxpool.Pool) *PolicyVerifier {
	return &PolicyVerifier{
		pool: pool,
	}
}

// Verify checks that every tenant-scoped table has row security enabled and
// forced with both policies present, and that the current role is neither a
// superuser nor BYPASSRLS. Any failure means the process must not serve
// traffic.
func (v *PolicyVerifier) Verify(ctx context.Context) error {
	var result *multierror.Error

	for _, table := range tenantScopedTables {
		if err := v.verifyTable(ctx, table); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if err := v.verifyRole(ctx); err != nil {
		result = multierror.Append(result, err)
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("row security verification failed: %w", err)
	}

	log.Info().
		Int("tables", len(tenantScopedTables)).
		Msg("Verified row security policies")

	return nil
}

func (v *PolicyVerifier) verifyTable(ctx context.Context, table string) error {
	var result *multierror.Error

	var enabled, forced bool
	err := v.pool.QueryRow(ctx, `
		SELECT relrowsecurity, relforcerowsecurity
		FROM pg_class
		WHERE oid = to_regclass($1)
	`, table).Scan(&enabled, &forced)
	if err != nil {
		return fmt.Errorf("table %s: %w", table, mapPostgresError(err))
	}

	if !enabled {
		result = multierror.Append(result, fmt.Errorf("table %s: row security not enabled", table))
	}
	if !forced {
		result = multierror.Append(result, fmt.Errorf("table %s: row security not forced", table))
	}

	for _, policy := range requiredPolicies {
		var exists bool
		err := v.pool.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM pg_policies
				WHERE schemaname = current_schema() AND tablename = $1 AND policyname = $2
			)
		`, table, policy).Scan(&exists)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("table %s: %w", table, mapPostgresError(err)))
			continue
		}
		if !exists {
			result = multierror.Append(result, fmt.Errorf("table %s: policy %s missing", table, policy))
		}
	}

	return result.ErrorOrNil()
}

// verifyRole asserts the runtime credential is subject to the policies.
// FORCE ROW LEVEL SECURITY binds the table owner, but superusers and
// BYPASSRLS roles still skip policy evaluation entirely.
func (v *PolicyVerifier) verifyRole(ctx context.Context) error {
	var role string
	var super, bypass bool
	err := v.pool.QueryRow(ctx, `
		SELECT rolname, rolsuper, rolbypassrls
		FROM pg_roles
		WHERE rolname = current_user
	`).Scan(&role, &super, &bypass)
	if err != nil {
		return fmt.Errorf("role check: %w", mapPostgresError(err))
	}

	var result *multierror.Error
	if super {
		result = multierror.Append(result, fmt.Errorf("role %s is a superuser", role))
	}
	if bypass {
		result = multierror.Append(result, fmt.Errorf("role %s has BYPASSRLS", role))
	}

	return result.ErrorOrNil()
}
