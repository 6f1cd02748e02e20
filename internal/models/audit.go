package models

import (
	"time"

	"github.com/google/uuid"
)

// Audit actions recorded by the engine.
const (
	AuditActionBind            = "tenant.bind"
	AuditActionResolveDenied   = "tenant.resolve.denied"
	AuditActionAccessDenied    = "access.denied"
	AuditActionLimitExceeded   = "usage.limit_exceeded"
	AuditActionUsageCommit     = "usage.commit"
	AuditActionProvision       = "org.provision"
	AuditActionDeactivate      = "org.deactivate"
	AuditActionInviteCreate    = "invite.create"
	AuditActionInviteAccept    = "invite.accept"
	AuditActionPlanChange      = "billing.plan_change"
	AuditActionMaintenance     = "maintenance.query"
	AuditActionSweep           = "maintenance.sweep"
	AuditActionPolicyViolation = "policy.violation"
)

// AuditOutcome is the result of an audited action.
type AuditOutcome string

const (
	AuditOutcomeSuccess AuditOutcome = "success"
	AuditOutcomeDenied  AuditOutcome = "denied"
	AuditOutcomeError   AuditOutcome = "error"
)

// AuditEntry is one immutable, append-only audit record. OrganizationID is
// nil when the action failed before a tenant could be resolved. Entries are
// never updated or deleted by application code; retention is an external
// policy.
type AuditEntry struct {
	ID             uuid.UUID
	Time           time.Time
	OrganizationID *uuid.UUID // nil = unresolved
	Principal      string
	Action         string
	Source         string // resolution source, or "system"/"maintenance"
	Outcome        AuditOutcome
	ClientIP       string
	UserAgent      string
	Metadata       map[string]string
}
