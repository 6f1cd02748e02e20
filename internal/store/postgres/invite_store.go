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
)

// InviteStore implements store.InviteStore using PostgreSQL. The table is
// outside row-security scope because the token lookup happens before the
// bootstrap unit of work can bind; the invite row itself names the tenant.
type InviteStore struct {
	pool *pgxpool.Pool
}

// NewInviteStore creates a new PostgreSQL-backed invite store.
func NewInviteStore(pool *pgxpool.Pool) *InviteStore {
	return &InviteStore{
		pool: pool,
	}
}

// Create persists an invite inside the inviting tenant's unit of work.
func (s *InviteStore) Create(ctx context.Context, sess store.BoundSession, inv *models.OrganizationInvite) error {
	tx, err := sessionTx(sess)
	if err != nil {
		return err
	}
	if err := checkTenant(sess, inv.OrganizationID); err != nil {
		return err
	}

	query := `
		INSERT INTO organization_invites (
			id, organization_id, email, role, token, created_by, created_at, expires_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
	`

	_, err = tx.Exec(ctx, query,
		inv.ID,
		inv.OrganizationID,
		inv.Email,
		inv.Role,
		inv.Token,
		inv.CreatedBy,
		inv.CreatedAt,
		inv.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create invite: %w", mapPostgresError(err))
	}

	return nil
}

// GetByToken returns the invite for a token.
func (s *InviteStore) GetByToken(ctx context.Context, token string) (*models.OrganizationInvite, error) {
	query := `
		SELECT id, organization_id, email, role, token, created_by, created_at,
		       expires_at, accepted_at, accepted_by
		FROM organization_invites
		WHERE token = $1
	`

	var inv models.OrganizationInvite
	err := s.pool.QueryRow(ctx, query, token).Scan(
		&inv.ID,
		&inv.OrganizationID,
		&inv.Email,
		&inv.Role,
		&inv.Token,
		&inv.CreatedBy,
		&inv.CreatedAt,
		&inv.ExpiresAt,
		&inv.AcceptedAt,
		&inv.AcceptedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrInviteNotFound
		}
		return nil, fmt.Errorf("failed to get invite: %w", mapPostgresError(err))
	}

	return &inv, nil
}

// MarkAccepted records acceptance inside the accepting unit of work. The
// accepted_at guard makes the invite single-use even under concurrent
// acceptance attempts.
func (s *InviteStore) MarkAccepted(ctx context.Context, sess store.BoundSession, id uuid.UUID, principalID string) error {
	tx, err := sessionTx(sess)
	if err != nil {
		return err
	}

	query := `
		UPDATE organization_invites SET
			accepted_at = now(),
			accepted_by = $2
		WHERE id = $1 AND accepted_at IS NULL
	`

	result, err := tx.Exec(ctx, query, id, principalID)
	if err != nil {
		return fmt.Errorf("failed to mark invite accepted: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return store.ErrInviteUsed
	}

	return nil
}

// ListByOrganization returns an organization's invites, newest first.
func (s *InviteStore) ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]*models.OrganizationInvite, error) {
	query := `
		SELECT id, organization_id, email, role, token, created_by, created_at,
		       expires_at, accepted_at, accepted_by
		FROM organization_invites
		WHERE organization_id = $1
		ORDER BY created_at DESC
	`

	rows, err := s.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invites: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var invites []*models.OrganizationInvite
	for rows.Next() {
		var inv models.OrganizationInvite
		if err := rows.Scan(
			&inv.ID,
			&inv.OrganizationID,
			&inv.Email,
			&inv.Role,
			&inv.Token,
			&inv.CreatedBy,
			&inv.CreatedAt,
			&inv.ExpiresAt,
			&inv.AcceptedAt,
			&inv.AcceptedBy,
		); err != nil {
			return nil, err
		}
		invites = append(invites, &inv)
	}

	return invites, rows.Err()
}
