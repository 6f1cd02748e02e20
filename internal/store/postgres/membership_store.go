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

// MembershipStore implements store.MembershipStore using PostgreSQL. Reads
// run on the pool: role attachment happens during resolution, before a
// session exists for the unit of work. Creation runs inside a bound unit of
// work (provisioning, invite acceptance).
type MembershipStore struct {
	pool *pgxpool.Pool
}

// NewMembershipStore creates a new PostgreSQL-backed membership store.
func NewMembershipStore(pool *pgxpool.Pool) *MembershipStore {
	return &MembershipStore{
		pool: pool,
	}
}

// Create adds a principal to an organization.
func (s *MembershipStore) Create(ctx context.Context, sess store.BoundSession, m *models.Membership) error {
	tx, err := sessionTx(sess)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO memberships (
			id, organization_id, principal_id, role, active, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
	`

	_, err = tx.Exec(ctx, query,
		m.ID,
		m.OrganizationID,
		m.PrincipalID,
		m.Role,
		m.Active,
		m.CreatedAt,
		m.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrMembershipExists
		}
		return fmt.Errorf("failed to create membership: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("org_id", m.OrganizationID.String()).
		Str("principal_id", m.PrincipalID).
		Str("role", string(m.Role)).
		Msg("Created membership")

	return nil
}

// Get returns the membership of a principal in an organization.
func (s *MembershipStore) Get(ctx context.Context, orgID uuid.UUID, principalID string) (*models.Membership, error) {
	query := `
		SELECT id, organization_id, principal_id, role, active, created_at, updated_at
		FROM memberships
		WHERE organization_id = $1 AND principal_id = $2
	`

	var m models.Membership
	err := s.pool.QueryRow(ctx, query, orgID, principalID).Scan(
		&m.ID,
		&m.OrganizationID,
		&m.PrincipalID,
		&m.Role,
		&m.Active,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrMembershipNotFound
		}
		return nil, fmt.Errorf("failed to get membership: %w", mapPostgresError(err))
	}

	return &m, nil
}

// ListByOrganization returns all memberships of an organization ordered by
// creation time.
func (s *MembershipStore) ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]*models.Membership, error) {
	query := `
		SELECT id, organization_id, principal_id, role, active, created_at, updated_at
		FROM memberships
		WHERE organization_id = $1
		ORDER BY created_at
	`

	rows, err := s.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var memberships []*models.Membership
	for rows.Next() {
		var m models.Membership
		if err := rows.Scan(
			&m.ID,
			&m.OrganizationID,
			&m.PrincipalID,
			&m.Role,
			&m.Active,
			&m.CreatedAt,
			&m.UpdatedAt,
		); err != nil {
			return nil, err
		}
		memberships = append(memberships, &m)
	}

	return memberships, rows.Err()
}

// SetActive flips a membership's active flag.
func (s *MembershipStore) SetActive(ctx context.Context, orgID uuid.UUID, principalID string, active bool) error {
	query := `
		UPDATE memberships SET
			active = $3,
			updated_at = now()
		WHERE organization_id = $1 AND principal_id = $2
	`

	result, err := s.pool.Exec(ctx, query, orgID, principalID, active)
	if err != nil {
		return fmt.Errorf("failed to update membership: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return store.ErrMembershipNotFound
	}

	return nil
}
