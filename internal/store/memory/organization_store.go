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

// OrganizationStore implements store.OrganizationStore using in-memory storage.
// This implementation is for testing only - data is lost on restart.
type OrganizationStore struct {
	mu sync.RWMutex

	organizations map[uuid.UUID]*models.Organization // id -> Organization
	bySlug        map[string]uuid.UUID               // normalized slug -> id
}

// NewOrganizationStore creates a new in-memory organization store.
func NewOrganizationStore() *OrganizationStore {
	return &OrganizationStore{
		organizations: make(map[uuid.UUID]*models.Organization),
		bySlug:        make(map[string]uuid.UUID),
	}
}

// Create creates a new organization in memory.
func (s *OrganizationStore) Create(ctx context.Context, sess store.BoundSession, org *models.Organization) error {
	if _, err := sessionTenant(sess); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	slug := models.NormalizeSlug(org.Slug)
	if _, exists := s.bySlug[slug]; exists {
		return store.ErrOrganizationExists
	}
	if _, exists := s.organizations[org.ID]; exists {
		return store.ErrOrganizationExists
	}

	// Clone to avoid external modifications
	clone := *org
	s.organizations[org.ID] = &clone
	s.bySlug[slug] = org.ID

	return nil
}

// GetByID retrieves an organization by ID.
func (s *OrganizationStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	org, exists := s.organizations[id]
	if !exists {
		return nil, store.ErrOrganizationNotFound
	}

	clone := *org
	return &clone, nil
}

// GetBySlug retrieves an organization by slug, case-insensitively.
func (s *OrganizationStore) GetBySlug(ctx context.Context, slug string) (*models.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.bySlug[models.NormalizeSlug(slug)]
	if !exists {
		return nil, store.ErrOrganizationNotFound
	}

	clone := *s.organizations[id]
	return &clone, nil
}

// SetActive flips the active flag.
func (s *OrganizationStore) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	org, exists := s.organizations[id]
	if !exists {
		return store.ErrOrganizationNotFound
	}

	org.Active = active
	org.UpdatedAt = time.Now()
	return nil
}

// List returns all organizations ordered by creation time.
func (s *OrganizationStore) List(ctx context.Context) ([]*models.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Organization, 0, len(s.organizations))
	for _, org := range s.organizations {
		clone := *org
		result = append(result, &clone)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}
