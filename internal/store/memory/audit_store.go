package memory

import (
	"context"
	"sync"

	"github.com/avaliahq/tenancy/internal/models"
	"github.com/google/uuid"
)

// AuditStore implements store.AuditStore using in-memory storage.
// This implementation is for testing only - data is lost on restart.
type AuditStore struct {
	mu sync.RWMutex

	entries []*models.AuditEntry
}

// NewAuditStore creates a new in-memory audit store.
func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

// Append writes one entry. Entries are never updated or deleted.
func (s *AuditStore) Append(ctx context.Context, entry *models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *entry
	s.entries = append(s.entries, &clone)
	return nil
}

// List returns recent entries, newest first, optionally filtered by organization.
func (s *AuditStore) List(ctx context.Context, orgID *uuid.UUID, limit int) ([]*models.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.AuditEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if orgID != nil && (e.OrganizationID == nil || *e.OrganizationID != *orgID) {
			continue
		}
		clone := *e
		result = append(result, &clone)
		if limit > 0 && len(result) >= limit {
			break
		}
	}

	return result, nil
}
