package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/avaliahq/tenancy/internal/models"
	"github.com/avaliahq/tenancy/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// OrganizationStore implements store.OrganizationStore using PostgreSQL.
// The organizations table is outside row-security scope: slug lookups run
// during resolution, before any session is bound, directly on the pool.
// Creation happens inside the provisioning unit of work so the organization,
// its admin membership, and its subscription land atomically.
type OrganizationStore struct {
	pool *pgxpool.Pool
}

// NewOrganizationStore creates a new PostgreSQL-backed organization store.
// It shares the connection pool with other stores.
func NewOrganizationStore(pool *pgxpool.Pool) *OrganizationStore {
	return &OrganizationStore{
		pool: pool,
	}
}

// Create creates a new organization inside the provisioning unit of work.
func (s *OrganizationStore) Create(ctx context.Context, sess store.BoundSession, org *models.Organization) error {
	tx, err := sessionTx(sess)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO organizations (
			id, kind, name, slug, locale, active, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
	`

	_, err = tx.Exec(ctx, query,
		org.ID,
		org.Kind,
		org.Name,
		models.NormalizeSlug(org.Slug),
		org.Locale,
		org.Active,
		org.CreatedAt,
		org.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrOrganizationExists
		}
		return fmt.Errorf("failed to create organization: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("org_id", org.ID.String()).
		Str("slug", org.Slug).
		Msg("Created organization")

	return nil
}

// GetByID retrieves an organization by ID.
func (s *OrganizationStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	query := `
		SELECT id, kind, name, slug, locale, active, created_at, updated_at
		FROM organizations
		WHERE id = $1
	`
	return s.scanOne(ctx, query, id)
}

// GetBySlug retrieves an organization by slug, case-insensitively.
func (s *OrganizationStore) GetBySlug(ctx context.Context, slug string) (*models.Organization, error) {
	query := `
		SELECT id, kind, name, slug, locale, active, created_at, updated_at
		FROM organizations
		WHERE lower(slug) = $1
	`
	return s.scanOne(ctx, query, models.NormalizeSlug(slug))
}

// SetActive flips the active flag. Deactivation is the only "delete": an
// inactive organization cannot be resolved, but its data stays.
func (s *OrganizationStore) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	query := `
		UPDATE organizations SET
			active = $2,
			updated_at = now()
		WHERE id = $1
	`

	result, err := s.pool.Exec(ctx, query, id, active)
	if err != nil {
		return fmt.Errorf("failed to update organization: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return store.ErrOrganizationNotFound
	}

	log.Debug().
		Str("org_id", id.String()).
		Bool("active", active).
		Msg("Updated organization active flag")

	return nil
}

// List returns all organizations ordered by creation time. Cross-tenant read
// for the maintenance path only.
func (s *OrganizationStore) List(ctx context.Context) ([]*models.Organization, error) {
	query := `
		SELECT id, kind, name, slug, locale, active, created_at, updated_at
		FROM organizations
		ORDER BY created_at
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var orgs []*models.Organization
	for rows.Next() {
		var org models.Organization
		if err := scanOrganization(rows, &org); err != nil {
			return nil, err
		}
		orgs = append(orgs, &org)
	}

	return orgs, rows.Err()
}

func (s *OrganizationStore) scanOne(ctx context.Context, query string, arg any) (*models.Organization, error) {
	var org models.Organization
	err := scanOrganization(s.pool.QueryRow(ctx, query, arg), &org)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("failed to get organization: %w", mapPostgresError(err))
	}
	return &org, nil
}

func scanOrganization(row pgx.Row, org *models.Organization) error {
	return row.Scan(
		&org.ID,
		&org.Kind,
		&org.Name,
		&org.Slug,
		&org.Locale,
		&org.Active,
		&org.CreatedAt,
		&org.UpdatedAt,
	)
}
