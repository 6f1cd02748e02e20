package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avaliahq/tenancy/internal/store"
	"github.com/avaliahq/tenancy/internal/telemetry"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// markerSetting is the session variable the row-security policies evaluate.
// It is always set with SET LOCAL semantics so it cannot outlive the
// transaction that carries it.
const markerSetting = "app.current_tenant"

// Binder implements store.SessionBinder on a pgx pool. Each Bind opens a
// transaction, sets the active-tenant marker inside it, and reads the marker
// back before handing the session out. Transient failures are retried with
// exponential backoff; anything that survives retries surfaces as a
// *store.BindError and no session.
type Binder struct {
	pool     *pgxpool.Pool
	maxTries uint
}

// NewBinder creates a session binder on the given pool.
func NewBinder(pool *pgxpool.Pool) *Binder {
	return &Binder{
		pool:     pool,
		maxTries: 3,
	}
}

// Bind establishes a bound session for tenantID. The returned session must be
// closed on every path; Close rolls back unless Commit already ran, which
// destroys the marker along with the transaction.
func (b *Binder) Bind(ctx context.Context, tenantID uuid.UUID) (store.BoundSession, error) {
	metrics := telemetry.GetMetrics()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = time.Second

	sess, err := backoff.Retry(ctx, func() (*session, error) {
		s, err := b.bindOnce(ctx, tenantID)
		if err != nil {
			if !isRetryable(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return s, nil
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(b.maxTries),
		backoff.WithNotify(func(err error, d time.Duration) {
			log.Warn().
				Err(err).
				Str("tenant_id", tenantID.String()).
				Dur("retry_in", d).
				Msg("Bind attempt failed, retrying")
		}),
	)
	if err != nil {
		metrics.BindFailuresTotal.Add(ctx, 1)
		return nil, &store.BindError{TenantID: tenantID, Err: err}
	}

	metrics.SessionsBoundTotal.Add(ctx, 1)
	return sess, nil
}

// bindOnce performs a single bind attempt: begin, set marker, verify marker.
// Any failure rolls the transaction back so a partially bound session can
// never escape.
func (b *Binder) bindOnce(ctx context.Context, tenantID uuid.UUID) (*session, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", mapPostgresError(err))
	}

	// set_config with is_local=true is SET LOCAL with a bind parameter.
	if _, err := tx.Exec(ctx, `SELECT set_config($1, $2, true)`, markerSetting, tenantID.String()); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("set marker: %w", mapPostgresError(err))
	}

	// Read the marker back. A mismatch here means the storage layer did not
	// accept the bind; continuing would run queries under the wrong (or no)
	// tenant, so the attempt is abandoned.
	var current string
	if err := tx.QueryRow(ctx, `SELECT current_setting($1, true)`, markerSetting).Scan(&current); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("verify marker: %w", mapPostgresError(err))
	}
	if current != tenantID.String() {
		_ = tx.Rollback(ctx)
		return nil, backoff.Permanent(fmt.Errorf("marker verification failed: got %q", current))
	}

	return &session{tx: tx, tenant: tenantID}, nil
}

// session is a bound unit of work: one transaction carrying the
// active-tenant marker. It is not safe for concurrent use; a unit of work is
// one goroutine's end-to-end execution.
type session struct {
	tx     pgx.Tx
	tenant uuid.UUID

	mu   sync.Mutex
	done bool
}

// Tenant returns the organization this session is bound to.
func (s *session) Tenant() uuid.UUID {
	return s.tenant
}

// Commit persists the unit of work. The transaction ends here, which also
// destroys the marker.
func (s *session) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return store.ErrSessionClosed
	}
	s.done = true

	if err := s.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit session: %w", mapPostgresError(err))
	}
	return nil
}

// Close rolls the session back unless Commit already ran. It is safe to call
// multiple times and on every exit path; the rollback destroys the marker,
// so a pooled connection returns to the pool clean no matter how the unit of
// work ended.
func (s *session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return nil
	}
	s.done = true

	if err := s.tx.Rollback(ctx); err != nil && err != pgx.ErrTxClosed {
		return fmt.Errorf("rollback session: %w", mapPostgresError(err))
	}
	return nil
}

// sessionTx extracts the transaction from a bound session created by this
// package. Stores call it at the top of every tenant-scoped operation.
func sessionTx(sess store.BoundSession) (pgx.Tx, error) {
	s, ok := sess.(*session)
	if !ok || s == nil {
		return nil, store.ErrInvalidSession
	}
	return s.tx, nil
}

// checkTenant is the secondary defense behind the schema-level rules: a row
// scanned through a bound session must belong to the session's tenant. A
// mismatch is a policy violation, never a normal error.
func checkTenant(sess store.BoundSession, rowOrg uuid.UUID) error {
	if rowOrg != sess.Tenant() {
		log.Error().
			Str("bound_tenant", sess.Tenant().String()).
			Str("row_tenant", rowOrg.String()).
			Msg("Row outside bound tenant scope")
		return store.ErrPolicyViolation
	}
	return nil
}
