package models

import (
	"time"

	"github.com/google/uuid"
)

// OrganizationInvite lets a principal without a membership join an
// organization. Accepting an invite is one of the two bootstrap operations
// that run without an existing membership.
type OrganizationInvite struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Email          string
	Role           Role
	Token          string // opaque, URL-safe, single use
	CreatedBy      string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	AcceptedAt     *time.Time
	AcceptedBy     string
}

// Expired reports whether the invite can no longer be accepted at now.
func (i *OrganizationInvite) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// Accepted reports whether the invite has already been used.
func (i *OrganizationInvite) Accepted() bool {
	return i.AcceptedAt != nil
}
