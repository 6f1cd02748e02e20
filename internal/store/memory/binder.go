package memory

import (
	"context"
	"sync"

	"github.com/avaliahq/tenancy/internal/store"
	"github.com/google/uuid"
)

// Binder implements store.SessionBinder in memory. It exists for tests and
// dev mode: it enforces the same lifecycle as the postgres binder (one bind,
// then commit or close, never reuse) and tracks open sessions so tests can
// assert that no unit of work leaked a bound session.
type Binder struct {
	mu   sync.Mutex
	open map[uuid.UUID]*session // session id -> session
}

// NewBinder creates a new in-memory session binder.
func NewBinder() *Binder {
	return &Binder{
		open: make(map[uuid.UUID]*session),
	}
}

// Bind creates a bound session for tenantID.
func (b *Binder) Bind(ctx context.Context, tenantID uuid.UUID) (store.BoundSession, error) {
	if tenantID == uuid.Nil {
		return nil, &store.BindError{TenantID: tenantID, Err: store.ErrInvalidSession}
	}

	s := &session{
		id:     uuid.New(),
		tenant: tenantID,
		binder: b,
	}

	b.mu.Lock()
	b.open[s.id] = s
	b.mu.Unlock()

	return s, nil
}

// OpenSessions returns the number of sessions that have been bound but
// neither committed nor closed. Tests use it to prove the no-marker-leakage
// property: after a unit of work ends on any path, this must be back to
// zero.
func (b *Binder) OpenSessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.open)
}

func (b *Binder) release(id uuid.UUID) {
	b.mu.Lock()
	delete(b.open, id)
	b.mu.Unlock()
}

// session is an in-memory bound session. Unlike the postgres session it has
// no transaction to roll back: memory stores apply writes immediately, so
// Close does not undo them. That is acceptable for the tests the memory
// backend serves; isolation and visibility are still enforced per call via
// the session's tenant.
type session struct {
	id     uuid.UUID
	tenant uuid.UUID
	binder *Binder

	mu   sync.Mutex
	done bool
}

func (s *session) Tenant() uuid.UUID {
	return s.tenant
}

func (s *session) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return store.ErrSessionClosed
	}
	s.done = true
	s.binder.release(s.id)
	return nil
}

func (s *session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return nil
	}
	s.done = true
	s.binder.release(s.id)
	return nil
}

// sessionTenant validates that sess was produced by this package and is
// still open, and returns the tenant it is bound to. Every tenant-scoped
// store operation starts here; an unbound or foreign session never reaches
// data.
func sessionTenant(sess store.BoundSession) (uuid.UUID, error) {
	s, ok := sess.(*session)
	if !ok || s == nil {
		return uuid.Nil, store.ErrInvalidSession
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return uuid.Nil, store.ErrSessionClosed
	}
	return s.tenant, nil
}
