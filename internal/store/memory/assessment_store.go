package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/avaliahq/tenancy/internal/models"
	"github.com/avaliahq/tenancy/internal/store"
	"github.com/google/uuid"
)

// AssessmentStore implements store.AssessmentStore using in-memory storage.
// This implementation is for testing only - data is lost on restart.
// Visibility is pinned to the bound session's tenant the way the postgres
// row-security policies pin it: an assessment belonging to another tenant is
// indistinguishable from one that does not exist.
type AssessmentStore struct {
	mu sync.RWMutex

	assessments map[uuid.UUID]*models.Assessment
	responses   map[uuid.UUID][]*models.AssessmentResponse // assessment id -> responses
}

// NewAssessmentStore creates a new in-memory assessment store.
func NewAssessmentStore() *AssessmentStore {
	return &AssessmentStore{
		assessments: make(map[uuid.UUID]*models.Assessment),
		responses:   make(map[uuid.UUID][]*models.AssessmentResponse),
	}
}

// Create inserts an assessment for the bound tenant.
func (s *AssessmentStore) Create(ctx context.Context, sess store.BoundSession, a *models.Assessment) error {
	tenant, err := sessionTenant(sess)
	if err != nil {
		return err
	}
	if a.OrganizationID != tenant {
		return store.ErrPolicyViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *a
	s.assessments[a.ID] = &clone
	return nil
}

// Get returns one assessment visible to the bound tenant.
func (s *AssessmentStore) Get(ctx context.Context, sess store.BoundSession, id uuid.UUID) (*models.Assessment, error) {
	tenant, err := sessionTenant(sess)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	a, exists := s.assessments[id]
	if !exists || a.OrganizationID != tenant {
		return nil, store.ErrAssessmentNotFound
	}

	clone := *a
	return &clone, nil
}

// List returns the bound tenant's assessments, newest first.
func (s *AssessmentStore) List(ctx context.Context, sess store.BoundSession) ([]*models.Assessment, error) {
	tenant, err := sessionTenant(sess)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Assessment
	for _, a := range s.assessments {
		if a.OrganizationID == tenant {
			clone := *a
			result = append(result, &clone)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return result, nil
}

// AddResponse inserts a response to an assessment of the bound tenant.
func (s *AssessmentStore) AddResponse(ctx context.Context, sess store.BoundSession, r *models.AssessmentResponse) error {
	tenant, err := sessionTenant(sess)
	if err != nil {
		return err
	}
	if r.OrganizationID != tenant {
		return store.ErrPolicyViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, exists := s.assessments[r.AssessmentID]
	if !exists || a.OrganizationID != tenant {
		return store.ErrAssessmentNotFound
	}

	clone := *r
	s.responses[r.AssessmentID] = append(s.responses[r.AssessmentID], &clone)
	return nil
}

// CountResponses returns the number of responses visible to the bound tenant.
func (s *AssessmentStore) CountResponses(ctx context.Context, sess store.BoundSession, assessmentID uuid.UUID) (int64, error) {
	tenant, err := sessionTenant(sess)
	if err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	a, exists := s.assessments[assessmentID]
	if !exists || a.OrganizationID != tenant {
		return 0, store.ErrAssessmentNotFound
	}

	return int64(len(s.responses[assessmentID])), nil
}
