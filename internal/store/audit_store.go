package store

import (
	"context"

	"github.com/avaliahq/tenancy/internal/models"
	"github.com/google/uuid"
)

// AuditStore persists audit entries. The table is append-only and outside
// row-security scope: it must accept entries for failures that happened
// before a tenant was resolved, and the async writer runs without a bound
// session.
type AuditStore interface {
	// Append writes one entry. Entries are never updated or deleted here;
	// retention is an external policy.
	Append(ctx context.Context, entry *models.AuditEntry) error

	// List returns recent entries, newest first, optionally filtered by
	// organization. Maintenance/support tooling only.
	List(ctx context.Context, orgID *uuid.UUID, limit int) ([]*models.AuditEntry, error)
}
