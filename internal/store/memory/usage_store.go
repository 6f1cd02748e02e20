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

type meterKey struct {
	orgID       uuid.UUID
	metric      models.Metric
	periodStart int64 // unix seconds
}

// UsageStore implements store.UsageStore and store.UsageSweeper using
// in-memory storage. A single mutex serializes Reserve against everything
// else, which gives the same never-past-the-limit guarantee the postgres
// implementation gets from row locking.
type UsageStore struct {
	mu sync.Mutex

	meters       map[uuid.UUID]*models.UsageMeter
	byKey        map[meterKey]uuid.UUID
	reservations map[uuid.UUID]*models.Reservation
}

// NewUsageStore creates a new in-memory usage store.
func NewUsageStore() *UsageStore {
	return &UsageStore{
		meters:       make(map[uuid.UUID]*models.UsageMeter),
		byKey:        make(map[meterKey]uuid.UUID),
		reservations: make(map[uuid.UUID]*models.Reservation),
	}
}

// EnsureMeter creates the meter row if it does not exist and returns the
// current row either way.
func (s *UsageStore) EnsureMeter(ctx context.Context, sess store.BoundSession, meter *models.UsageMeter) (*models.UsageMeter, error) {
	tenant, err := sessionTenant(sess)
	if err != nil {
		return nil, err
	}
	if meter.OrganizationID != tenant {
		return nil, store.ErrPolicyViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := meterKey{meter.OrganizationID, meter.Metric, meter.PeriodStart.Unix()}
	if id, exists := s.byKey[key]; exists {
		clone := *s.meters[id]
		return &clone, nil
	}

	clone := *meter
	if clone.ID == uuid.Nil {
		clone.ID = uuid.New()
	}
	now := time.Now()
	clone.CreatedAt = now
	clone.UpdatedAt = now

	s.meters[clone.ID] = &clone
	s.byKey[key] = clone.ID

	out := clone
	return &out, nil
}

// GetMeter returns the meter for a metric and period start.
func (s *UsageStore) GetMeter(ctx context.Context, sess store.BoundSession, metric models.Metric, periodStart time.Time) (*models.UsageMeter, error) {
	tenant, err := sessionTenant(sess)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, exists := s.byKey[meterKey{tenant, metric, periodStart.Unix()}]
	if !exists {
		return nil, store.ErrMeterNotFound
	}

	clone := *s.meters[id]
	return &clone, nil
}

// ListMeters returns the bound tenant's meters for a period.
func (s *UsageStore) ListMeters(ctx context.Context, sess store.BoundSession, periodStart time.Time) ([]*models.UsageMeter, error) {
	tenant, err := sessionTenant(sess)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*models.UsageMeter
	for _, m := range s.meters {
		if m.OrganizationID == tenant && m.PeriodStart.Unix() == periodStart.Unix() {
			clone := *m
			result = append(result, &clone)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Metric < result[j].Metric
	})

	return result, nil
}

// Reserve atomically claims res.Amount against the meter.
func (s *UsageStore) Reserve(ctx context.Context, sess store.BoundSession, res *models.Reservation) error {
	tenant, err := sessionTenant(sess)
	if err != nil {
		return err
	}
	if res.OrganizationID != tenant {
		return store.ErrPolicyViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, exists := s.meters[res.MeterID]
	if !exists || m.OrganizationID != tenant {
		return store.ErrMeterNotFound
	}

	switch {
	case m.Unlimited():
		res.Overage = false
	case m.Used+m.Reserved+res.Amount <= m.LimitValue:
		res.Overage = false
	case m.LimitKind == models.LimitSoft && m.OverageAllowed:
		res.Overage = true
	default:
		snapshot := *m
		return &store.QuotaError{Meter: &snapshot}
	}

	m.Reserved += res.Amount
	m.UpdatedAt = time.Now()

	clone := *res
	s.reservations[res.ID] = &clone
	return nil
}

// CommitReservation moves a held reservation's amount into used (or
// overage_used) and deletes the reservation row.
func (s *UsageStore) CommitReservation(ctx context.Context, sess store.BoundSession, id uuid.UUID) error {
	tenant, err := sessionTenant(sess)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, exists := s.reservations[id]
	if !exists || res.OrganizationID != tenant {
		return store.ErrReservationNotFound
	}

	m := s.meters[res.MeterID]
	m.Reserved -= res.Amount
	if res.Overage {
		m.OverageUsed += res.Amount
	} else {
		m.Used += res.Amount
	}
	m.UpdatedAt = time.Now()

	delete(s.reservations, id)
	return nil
}

// ReleaseReservation deletes a held reservation, leaving used untouched.
func (s *UsageStore) ReleaseReservation(ctx context.Context, sess store.BoundSession, id uuid.UUID) error {
	tenant, err := sessionTenant(sess)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, exists := s.reservations[id]
	if !exists || res.OrganizationID != tenant {
		return store.ErrReservationNotFound
	}

	s.release(res)
	return nil
}

// UpdateLimits rewrites the limit columns of the current period's meter row.
func (s *UsageStore) UpdateLimits(ctx context.Context, sess store.BoundSession, metric models.Metric, periodStart time.Time, limit int64, kind models.LimitKind, overageAllowed bool) error {
	tenant, err := sessionTenant(sess)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, exists := s.byKey[meterKey{tenant, metric, periodStart.Unix()}]
	if !exists {
		// Not an error: the meter will be seeded with the new plan's limits
		// on first use.
		return nil
	}

	m := s.meters[id]
	m.LimitValue = limit
	m.LimitKind = kind
	m.OverageAllowed = overageAllowed
	m.UpdatedAt = time.Now()
	return nil
}

// SweepExpired releases up to limit reservations that expired before cutoff.
// It runs cross-tenant, outside any bound session, mirroring the maintenance
// credential path of the postgres sweeper.
func (s *UsageStore) SweepExpired(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*models.Reservation
	for _, res := range s.reservations {
		if res.ExpiresAt.Before(cutoff) {
			expired = append(expired, res)
		}
	}

	sort.Slice(expired, func(i, j int) bool {
		return expired[i].ExpiresAt.Before(expired[j].ExpiresAt)
	})

	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	for _, res := range expired {
		s.release(res)
	}

	return len(expired), nil
}

// release returns a reservation's amount to the available quota. Caller
// holds the lock.
func (s *UsageStore) release(res *models.Reservation) {
	if m, exists := s.meters[res.MeterID]; exists {
		m.Reserved -= res.Amount
		if m.Reserved < 0 {
			m.Reserved = 0
		}
		m.UpdatedAt = time.Now()
	}
	delete(s.reservations, res.ID)
}
