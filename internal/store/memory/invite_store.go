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

// InviteStore implements store.InviteStore using in-memory storage.
// This implementation is for testing only - data is lost on restart.
type InviteStore struct {
	mu sync.RWMutex

	invites map[uuid.UUID]*models.OrganizationInvite
	byToken map[string]uuid.UUID
}

// NewInviteStore creates a new in-memory invite store.
func NewInviteStore() *InviteStore {
	return &InviteStore{
		invites: make(map[uuid.UUID]*models.OrganizationInvite),
		byToken: make(map[string]uuid.UUID),
	}
}

// Create persists an invite inside the inviting tenant's unit of work.
func (s *InviteStore) Create(ctx context.Context, sess store.BoundSession, inv *models.OrganizationInvite) error {
	tenant, err := sessionTenant(sess)
	if err != nil {
		return err
	}
	if inv.OrganizationID != tenant {
		return store.ErrPolicyViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *inv
	s.invites[inv.ID] = &clone
	s.byToken[inv.Token] = inv.ID
	return nil
}

// GetByToken returns the invite for a token.
func (s *InviteStore) GetByToken(ctx context.Context, token string) (*models.OrganizationInvite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.byToken[token]
	if !exists {
		return nil, store.ErrInviteNotFound
	}

	clone := *s.invites[id]
	return &clone, nil
}

// MarkAccepted records acceptance inside the accepting unit of work.
func (s *InviteStore) MarkAccepted(ctx context.Context, sess store.BoundSession, id uuid.UUID, principalID string) error {
	if _, err := sessionTenant(sess); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inv, exists := s.invites[id]
	if !exists {
		return store.ErrInviteNotFound
	}
	if inv.AcceptedAt != nil {
		return store.ErrInviteUsed
	}

	now := time.Now()
	inv.AcceptedAt = &now
	inv.AcceptedBy = principalID
	return nil
}

// ListByOrganization returns an organization's invites, newest first.
func (s *InviteStore) ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]*models.OrganizationInvite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.OrganizationInvite
	for _, inv := range s.invites {
		if inv.OrganizationID == orgID {
			clone := *inv
			result = append(result, &clone)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return result, nil
}
