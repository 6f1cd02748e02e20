package store

import (
	"context"
	"errors"

	"github.com/avaliahq/tenancy/internal/models"
	"github.com/google/uuid"
)

// Sentinel errors for invite store operations
var (
	ErrInviteNotFound = errors.New("invite not found")
	ErrInviteUsed     = errors.New("invite already accepted")
)

// InviteStore manages organization invites. The table is outside
// row-security scope because the token lookup happens before the bootstrap
// unit of work can bind; the invite itself is what names the tenant.
type InviteStore interface {
	// Create persists an invite inside the inviting tenant's unit of work.
	Create(ctx context.Context, sess BoundSession, inv *models.OrganizationInvite) error

	// GetByToken returns the invite for a token.
	// Returns ErrInviteNotFound if the token is unknown.
	GetByToken(ctx context.Context, token string) (*models.OrganizationInvite, error)

	// MarkAccepted records acceptance inside the accepting unit of work.
	// Returns ErrInviteUsed if the invite was already accepted.
	MarkAccepted(ctx context.Context, sess BoundSession, id uuid.UUID, principalID string) error

	// ListByOrganization returns an organization's invites, newest first.
	ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]*models.OrganizationInvite, error)
}
