package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors shared by session implementations.
var (
	// ErrSessionClosed is returned when a bound session is used after Close
	// or Commit.
	ErrSessionClosed = errors.New("session already closed")

	// ErrInvalidSession is returned when a store receives a bound session
	// produced by a different backend.
	ErrInvalidSession = errors.New("session does not belong to this store")

	// ErrPolicyViolation is returned when a row outside the bound tenant's
	// scope is observed through a bound session. This should be unreachable
	// while the schema-level rules hold; callers treat it as a critical
	// security fault, not a normal error.
	ErrPolicyViolation = errors.New("row outside bound tenant scope")
)

// BoundSession is one unit of work's storage session with the active-tenant
// marker set. All tenant-scoped store operations require one; the marker is
// what the row-security policies evaluate against.
//
// Lifecycle: exactly one Bind per unit of work, then either Commit (persist)
// or nothing, and always Close. Close rolls back unless Commit already ran
// and is safe to call any number of times, so `defer sess.Close(ctx)` on the
// line after Bind is the required usage pattern. The marker cannot outlive
// the session: it dies with the underlying transaction on either path.
type BoundSession interface {
	// Tenant returns the organization this session is bound to.
	Tenant() uuid.UUID

	// Commit persists the unit of work and releases the session.
	Commit(ctx context.Context) error

	// Close releases the session, rolling back if Commit has not run.
	Close(ctx context.Context) error
}

// SessionBinder creates bound sessions. Binding is all-or-nothing: on any
// failure the caller gets a BindError and no session, never a session with a
// partial or missing marker.
type SessionBinder interface {
	Bind(ctx context.Context, tenantID uuid.UUID) (BoundSession, error)
}

// BindError wraps a storage-layer failure to establish the active-tenant
// marker. It is fatal for the unit of work that observed it.
type BindError struct {
	TenantID uuid.UUID
	Err      error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind tenant %s: %v", e.TenantID, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// IsBindError reports whether err is (or wraps) a BindError.
func IsBindError(err error) bool {
	var be *BindError
	return errors.As(err, &be)
}

// PolicyVerifier confirms the schema-level isolation rules are installed and
// enforceable. Verification failures mean the process must refuse to serve
// traffic.
type PolicyVerifier interface {
	Verify(ctx context.Context) error
}
