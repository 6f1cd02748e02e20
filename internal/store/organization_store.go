package store

import (
	"context"
	"errors"

	"github.com/avaliahq/tenancy/internal/models"
	"github.com/google/uuid"
)

// Sentinel errors for organization store operations
var (
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrOrganizationExists   = errors.New("organization already exists")
)

// OrganizationStore defines the interface for organization storage.
// Organizations are the tenant roots; the table is deliberately outside
// row-security scope because it is read during resolution, before any
// session is bound.
type OrganizationStore interface {
	// Create creates a new organization inside the provisioning unit of
	// work. Returns ErrOrganizationExists if the slug is already taken
	// (case-insensitive).
	Create(ctx context.Context, sess BoundSession, org *models.Organization) error

	// GetByID retrieves an organization by ID.
	// Returns ErrOrganizationNotFound if it doesn't exist.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Organization, error)

	// GetBySlug retrieves an organization by slug, case-insensitively.
	// Deactivated organizations are still returned; resolution decides what
	// to do with them. Returns ErrOrganizationNotFound if no slug matches.
	GetBySlug(ctx context.Context, slug string) (*models.Organization, error)

	// SetActive flips the active flag. Deactivation is the only "delete":
	// an inactive organization cannot be resolved, but its data stays.
	// Returns ErrOrganizationNotFound if the organization doesn't exist.
	SetActive(ctx context.Context, id uuid.UUID, active bool) error

	// List returns all organizations ordered by creation time. This is a
	// cross-tenant read for the maintenance path only.
	List(ctx context.Context) ([]*models.Organization, error)
}
