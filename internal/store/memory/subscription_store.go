package memory

import (
	"context"
	"sync"
	"time"

	"github.com/avaliahq/tenancy/internal/models"
	"github.com/avaliahq/tenancy/internal/store"
	"github.com/google/uuid"
)

// SubscriptionStore implements store.SubscriptionStore using in-memory storage.
// This implementation is for testing only - data is lost on restart. Like its
// postgres counterpart, visibility is pinned to the bound session's tenant.
type SubscriptionStore struct {
	mu sync.RWMutex

	subscriptions map[uuid.UUID]*models.Subscription // org id -> Subscription
}

// NewSubscriptionStore creates a new in-memory subscription store.
func NewSubscriptionStore() *SubscriptionStore {
	return &SubscriptionStore{
		subscriptions: make(map[uuid.UUID]*models.Subscription),
	}
}

// Create inserts the tenant's subscription during provisioning.
func (s *SubscriptionStore) Create(ctx context.Context, sess store.BoundSession, sub *models.Subscription) error {
	tenant, err := sessionTenant(sess)
	if err != nil {
		return err
	}
	if sub.OrganizationID != tenant {
		return store.ErrPolicyViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *sub
	s.subscriptions[sub.OrganizationID] = &clone
	return nil
}

// Current returns the bound tenant's subscription.
func (s *SubscriptionStore) Current(ctx context.Context, sess store.BoundSession) (*models.Subscription, error) {
	tenant, err := sessionTenant(sess)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, exists := s.subscriptions[tenant]
	if !exists {
		return nil, store.ErrSubscriptionNotFound
	}

	clone := *sub
	return &clone, nil
}

// UpdatePlan applies a plan/status change from the billing feed.
func (s *SubscriptionStore) UpdatePlan(ctx context.Context, sess store.BoundSession, plan models.PlanCode, status models.SubscriptionStatus) error {
	tenant, err := sessionTenant(sess)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sub, exists := s.subscriptions[tenant]
	if !exists {
		return store.ErrSubscriptionNotFound
	}

	sub.Plan = plan
	sub.Status = status
	sub.UpdatedAt = time.Now()
	return nil
}

// UpdatePeriod moves the billing-period anchor.
func (s *SubscriptionStore) UpdatePeriod(ctx context.Context, sess store.BoundSession, start, end time.Time) error {
	tenant, err := sessionTenant(sess)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sub, exists := s.subscriptions[tenant]
	if !exists {
		return store.ErrSubscriptionNotFound
	}

	sub.CurrentPeriodStart = start
	sub.CurrentPeriodEnd = end
	sub.UpdatedAt = time.Now()
	return nil
}
