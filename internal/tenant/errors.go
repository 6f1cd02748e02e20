package tenant

import (
	"errors"
	"fmt"
)

// Reason classifies why tenant resolution failed.
type Reason string

const (
	// ReasonNotFound means no signal matched an active organization.
	ReasonNotFound Reason = "not_found"

	// ReasonAmbiguous means two present signals named different tenants.
	// Ambiguity is always a hard failure, never a silent pick.
	ReasonAmbiguous Reason = "ambiguous"

	// ReasonNoMembership means the tenant resolved but the principal has no
	// active membership in it.
	ReasonNoMembership Reason = "no_membership"
)

// ResolutionError is the typed failure of tenant resolution. It always fails
// the unit of work before any tenant-scoped query runs; callers must never
// fall back to an unscoped or all-tenants view.
type ResolutionError struct {
	Reason Reason
	Slug   string
}

func (e *ResolutionError) Error() string {
	if e.Slug == "" {
		return fmt.Sprintf("tenant resolution failed: %s", e.Reason)
	}
	return fmt.Sprintf("tenant resolution failed: %s (slug %q)", e.Reason, e.Slug)
}

// IsResolutionError reports whether err is (or wraps) a ResolutionError,
// optionally matching a specific reason. An empty reason matches any.
func IsResolutionError(err error, reason Reason) bool {
	var re *ResolutionError
	if !errors.As(err, &re) {
		return false
	}
	return reason == "" || re.Reason == reason
}
