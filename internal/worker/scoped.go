// Package worker runs background jobs with the same tenant guarantees as
// request handling: every tenant-scoped job executes inside a bound session,
// and cross-tenant maintenance runs only on the separately credentialed path.
package worker

import (
	"context"

	"github.com/avaliahq/tenancy/internal/store"
	"github.com/google/uuid"
)

// RunScoped executes fn inside a bound unit of work for tenantID: bind, run,
// commit on nil error, always close. A background job gets no way to touch
// tenant data outside these brackets, which is the same guarantee the
// request path provides.
func RunScoped(ctx context.Context, binder store.SessionBinder, tenantID uuid.UUID, fn func(ctx context.Context, sess store.BoundSession) error) error {
	sess, err := binder.Bind(ctx, tenantID)
	if err != nil {
		return err
	}
	defer sess.Close(ctx)

	if err := fn(ctx, sess); err != nil {
		return err
	}

	return sess.Commit(ctx)
}
