package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is a principal's role within one organization. Roles form a closed
// ordered set from least to most privileged; authorization decisions compare
// levels rather than matching individual roles.
type Role string

const (
	// RoleNone is the role of a principal with no membership in the resolved
	// organization. It is only valid for the enumerated bootstrap operations
	// (invite acceptance, provisioning).
	RoleNone Role = "none"

	RoleViewer     Role = "viewer"
	RoleMember     Role = "member"
	RoleRecruiter  Role = "recruiter"
	RoleHR         Role = "hr"
	RoleManager    Role = "manager"
	RoleOrgAdmin   Role = "org_admin"
	RoleSuperAdmin Role = "super_admin"
)

var roleLevels = map[Role]int{
	RoleViewer:     0,
	RoleMember:     1,
	RoleRecruiter:  2,
	RoleHR:         3,
	RoleManager:    4,
	RoleOrgAdmin:   5,
	RoleSuperAdmin: 6,
}

// Level returns the privilege level of the role. RoleNone and unknown roles
// return -1, which is below every real role.
func (r Role) Level() int {
	level, ok := roleLevels[r]
	if !ok {
		return -1
	}
	return level
}

// Valid reports whether the role is a real membership role. RoleNone is not a
// membership role.
func (r Role) Valid() bool {
	_, ok := roleLevels[r]
	return ok
}

// AtLeast reports whether the role has at least the privilege of min.
func (r Role) AtLeast(min Role) bool {
	if min == RoleNone {
		return true
	}
	return r.Level() >= min.Level()
}

// Membership links a principal to exactly one organization with a role. A
// principal may hold memberships in many organizations, but a single unit of
// work always operates under exactly one of them.
type Membership struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	PrincipalID    string // subject from the gateway token
	Role           Role
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
