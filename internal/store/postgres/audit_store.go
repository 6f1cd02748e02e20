package postgres

import (
	"context"
	"fmt"

	"github.com/avaliahq/tenancy/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditStore implements store.AuditStore using PostgreSQL. The table is
// outside row-security scope: entries must be writable for failures that
// happened before a tenant resolved, and the async writer has no bound
// session to run under.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new PostgreSQL-backed audit store.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{
		pool: pool,
	}
}

// Append writes one entry.
func (s *AuditStore) Append(ctx context.Context, entry *models.AuditEntry) error {
	query := `
		INSERT INTO audit_log (
			id, occurred_at, organization_id, principal, action, source, outcome,
			client_ip, user_agent, metadata
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
	`

	_, err := s.pool.Exec(ctx, query,
		entry.ID,
		entry.Time,
		entry.OrganizationID,
		entry.Principal,
		entry.Action,
		entry.Source,
		entry.Outcome,
		entry.ClientIP,
		entry.UserAgent,
		entry.Metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", mapPostgresError(err))
	}

	return nil
}

// List returns recent entries, newest first, optionally filtered by
// organization.
func (s *AuditStore) List(ctx context.Context, orgID *uuid.UUID, limit int) ([]*models.AuditEntry, error) {
	query := `
		SELECT id, occurred_at, organization_id, principal, action, source, outcome,
			client_ip, user_agent, metadata
		FROM audit_log
		WHERE $1::uuid IS NULL OR organization_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		err := rows.Scan(
			&e.ID,
			&e.Time,
			&e.OrganizationID,
			&e.Principal,
			&e.Action,
			&e.Source,
			&e.Outcome,
			&e.ClientIP,
			&e.UserAgent,
			&e.Metadata,
		)
		if err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}
