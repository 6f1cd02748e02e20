package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avaliahq/tenancy/internal/models"
	"github.com/avaliahq/tenancy/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SubscriptionStore implements store.SubscriptionStore using PostgreSQL.
// The subscriptions table is tenant-scoped: every statement runs inside a
// bound session and carries no tenant filter of its own: the row-security
// policies evaluate the session marker. Queries that "miss" a row another
// tenant owns are indistinguishable from the row not existing.
type SubscriptionStore struct {
	pool *pgxpool.Pool
}

// NewSubscriptionStore creates a new PostgreSQL-backed subscription store.
func NewSubscriptionStore(pool *pgxpool.Pool) *SubscriptionStore {
	return &SubscriptionStore{
		pool: pool,
	}
}

// Create inserts the tenant's subscription during provisioning.
func (s *SubscriptionStore) Create(ctx context.Context, sess store.BoundSession, sub *models.Subscription) error {
	tx, err := sessionTx(sess)
	if err != nil {
		return err
	}
	if err := checkTenant(sess, sub.OrganizationID); err != nil {
		return err
	}

	query := `
		INSERT INTO subscriptions (
			id, organization_id, plan, status, billing_interval,
			current_period_start, current_period_end, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
	`

	_, err = tx.Exec(ctx, query,
		sub.ID,
		sub.OrganizationID,
		sub.Plan,
		sub.Status,
		sub.Interval,
		sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd,
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", mapPostgresError(err))
	}

	return nil
}

// Current returns the bound tenant's subscription.
func (s *SubscriptionStore) Current(ctx context.Context, sess store.BoundSession) (*models.Subscription, error) {
	tx, err := sessionTx(sess)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, organization_id, plan, status, billing_interval,
		       current_period_start, current_period_end, created_at, updated_at
		FROM subscriptions
	`

	var sub models.Subscription
	err = tx.QueryRow(ctx, query).Scan(
		&sub.ID,
		&sub.OrganizationID,
		&sub.Plan,
		&sub.Status,
		&sub.Interval,
		&sub.CurrentPeriodStart,
		&sub.CurrentPeriodEnd,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", mapPostgresError(err))
	}

	// Secondary defense behind the row-security policy.
	if err := checkTenant(sess, sub.OrganizationID); err != nil {
		return nil, err
	}

	return &sub, nil
}

// UpdatePlan applies a plan/status change from the billing feed.
func (s *SubscriptionStore) UpdatePlan(ctx context.Context, sess store.BoundSession, plan models.PlanCode, status models.SubscriptionStatus) error {
	tx, err := sessionTx(sess)
	if err != nil {
		return err
	}

	result, err := tx.Exec(ctx, `
		UPDATE subscriptions SET
			plan = $1,
			status = $2,
			updated_at = now()
	`, plan, status)
	if err != nil {
		return fmt.Errorf("failed to update subscription plan: %w", mapPostgresError(err))
	}
	if result.RowsAffected() == 0 {
		return store.ErrSubscriptionNotFound
	}

	return nil
}

// UpdatePeriod moves the billing-period anchor, e.g. on renewal.
func (s *SubscriptionStore) UpdatePeriod(ctx context.Context, sess store.BoundSession, start, end time.Time) error {
	tx, err := sessionTx(sess)
	if err != nil {
		return err
	}

	result, err := tx.Exec(ctx, `
		UPDATE subscriptions SET
			current_period_start = $1,
			current_period_end = $2,
			updated_at = now()
	`, start, end)
	if err != nil {
		return fmt.Errorf("failed to update subscription period: %w", mapPostgresError(err))
	}
	if result.RowsAffected() == 0 {
		return store.ErrSubscriptionNotFound
	}

	return nil
}
