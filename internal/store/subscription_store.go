package store

import (
	"context"
	"errors"
	"time"

	"github.com/avaliahq/tenancy/internal/models"
)

// ErrSubscriptionNotFound is returned when the bound tenant has no
// subscription row. A tenant without one is misprovisioned; metered
// operations fail closed rather than guessing a plan.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// SubscriptionStore manages per-tenant subscriptions. The table is
// tenant-scoped, so every operation runs through a bound session and the
// row-security rules pin it to the session's tenant.
type SubscriptionStore interface {
	// Create inserts the tenant's subscription during provisioning.
	Create(ctx context.Context, sess BoundSession, sub *models.Subscription) error

	// Current returns the bound tenant's subscription.
	// Returns ErrSubscriptionNotFound if there is none.
	Current(ctx context.Context, sess BoundSession) (*models.Subscription, error)

	// UpdatePlan applies a plan/status change from the billing feed.
	UpdatePlan(ctx context.Context, sess BoundSession, plan models.PlanCode, status models.SubscriptionStatus) error

	// UpdatePeriod moves the billing-period anchor, e.g. on renewal.
	UpdatePeriod(ctx context.Context, sess BoundSession, start, end time.Time) error
}
