package auth

import (
	"errors"
	"fmt"

	"github.com/avaliahq/tenancy/internal/models"
)

// Permission represents an authorized action
type Permission string

const (
	PermAssessmentStart  Permission = "assessments:start"
	PermAssessmentList   Permission = "assessments:list"
	PermResponseSubmit   Permission = "assessments:respond"
	PermUsageRead        Permission = "usage:read"
	PermInviteCreate     Permission = "invites:create"
	PermInviteAccept     Permission = "invites:accept"
	PermMemberList       Permission = "members:list"
	PermMemberDeactivate Permission = "members:deactivate"
)

// permissionMinRole maps every permission to the least-privileged role that
// holds it. Roles are ordered, so one table plus one comparison replaces
// scattered role conditionals; this is the single place tenant-scoped
// authorization is decided.
var permissionMinRole = map[Permission]models.Role{
	PermAssessmentStart:  models.RoleMember,
	PermAssessmentList:   models.RoleViewer,
	PermResponseSubmit:   models.RoleMember,
	PermUsageRead:        models.RoleViewer,
	PermInviteCreate:     models.RoleManager,
	PermInviteAccept:     models.RoleNone,
	PermMemberList:       models.RoleViewer,
	PermMemberDeactivate: models.RoleOrgAdmin,
}

// ErrPermissionDenied is returned when a role does not hold a permission.
var ErrPermissionDenied = errors.New("permission denied")

// Authorize checks whether role holds perm. Unknown permissions are denied.
func Authorize(role models.Role, perm Permission) error {
	min, ok := permissionMinRole[perm]
	if !ok {
		return fmt.Errorf("%w: unknown permission %s", ErrPermissionDenied, perm)
	}
	if min == models.RoleNone {
		return nil
	}
	if !role.AtLeast(min) {
		return fmt.Errorf("%w: %s requires %s", ErrPermissionDenied, perm, min)
	}
	return nil
}
