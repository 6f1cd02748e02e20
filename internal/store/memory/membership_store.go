package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/avaliahq/tenancy/internal/models"
	"github.com/avaliahq/tenancy/internal/store"
	"github.com/google/uuid"
)

type membershipKey struct {
	orgID       uuid.UUID
	principalID string
}

// MembershipStore implements store.MembershipStore using in-memory storage.
// This implementation is for testing only - data is lost on restart.
type MembershipStore struct {
	mu sync.RWMutex

	memberships map[membershipKey]*models.Membership
}

// NewMembershipStore creates a new in-memory membership store.
func NewMembershipStore() *MembershipStore {
	return &MembershipStore{
		memberships: make(map[membershipKey]*models.Membership),
	}
}

// Create adds a principal to an organization.
func (s *MembershipStore) Create(ctx context.Context, sess store.BoundSession, m *models.Membership) error {
	if _, err := sessionTenant(sess); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := membershipKey{m.OrganizationID, m.PrincipalID}
	if _, exists := s.memberships[key]; exists {
		return store.ErrMembershipExists
	}

	clone := *m
	s.memberships[key] = &clone
	return nil
}

// Get returns the membership of a principal in an organization.
func (s *MembershipStore) Get(ctx context.Context, orgID uuid.UUID, principalID string) (*models.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, exists := s.memberships[membershipKey{orgID, principalID}]
	if !exists {
		return nil, store.ErrMembershipNotFound
	}

	clone := *m
	return &clone, nil
}

// ListByOrganization returns all memberships of an organization ordered by creation time.
func (s *MembershipStore) ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]*models.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Membership
	for _, m := range s.memberships {
		if m.OrganizationID == orgID {
			clone := *m
			result = append(result, &clone)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

// SetActive flips a membership's active flag.
func (s *MembershipStore) SetActive(ctx context.Context, orgID uuid.UUID, principalID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, exists := s.memberships[membershipKey{orgID, principalID}]
	if !exists {
		return store.ErrMembershipNotFound
	}

	m.Active = active
	m.UpdatedAt = time.Now()
	return nil
}
