package store

import (
	"context"
	"errors"

	"github.com/avaliahq/tenancy/internal/models"
	"github.com/google/uuid"
)

// Sentinel errors for membership store operations
var (
	ErrMembershipNotFound = errors.New("membership not found")
	ErrMembershipExists   = errors.New("membership already exists")
)

// MembershipStore defines the interface for membership storage. The table is
// outside row-security scope: role attachment happens during resolution,
// before a session exists for the unit of work.
type MembershipStore interface {
	// Create adds a principal to an organization inside a bound unit of
	// work (provisioning or invite acceptance). Returns ErrMembershipExists
	// if the principal already has a membership there.
	Create(ctx context.Context, sess BoundSession, m *models.Membership) error

	// Get returns the membership of a principal in an organization.
	// Returns ErrMembershipNotFound if there is none.
	Get(ctx context.Context, orgID uuid.UUID, principalID string) (*models.Membership, error)

	// ListByOrganization returns all memberships of an organization ordered
	// by creation time.
	ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]*models.Membership, error)

	// SetActive flips a membership's active flag. An inactive membership
	// fails role attachment the same way a missing one does.
	SetActive(ctx context.Context, orgID uuid.UUID, principalID string, active bool) error
}
