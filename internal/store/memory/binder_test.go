package memory

import (
	"context"
	"testing"

	"github.com/avaliahq/tenancy/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestBinder_Bind(t *testing.T) {
	b := NewBinder()
	ctx := context.Background()
	tenant := uuid.New()

	sess, err := b.Bind(ctx, tenant)
	require.NoError(t, err)
	require.Equal(t, tenant, sess.Tenant())
	require.Equal(t, 1, b.OpenSessions())

	require.NoError(t, sess.Close(ctx))
	require.Equal(t, 0, b.OpenSessions())
}

func TestBinder_BindNilTenant(t *testing.T) {
	b := NewBinder()

	_, err := b.Bind(context.Background(), uuid.Nil)
	require.Error(t, err)
	require.True(t, store.IsBindError(err))
}

func TestSession_NoLeakOnAnyExitPath(t *testing.T) {
	b := NewBinder()
	ctx := context.Background()

	t.Run("commit releases", func(t *testing.T) {
		sess, err := b.Bind(ctx, uuid.New())
		require.NoError(t, err)
		require.NoError(t, sess.Commit(ctx))
		require.Equal(t, 0, b.OpenSessions())
	})

	t.Run("close releases", func(t *testing.T) {
		sess, err := b.Bind(ctx, uuid.New())
		require.NoError(t, err)
		require.NoError(t, sess.Close(ctx))
		require.Equal(t, 0, b.OpenSessions())
	})

	t.Run("close after commit is a no-op", func(t *testing.T) {
		sess, err := b.Bind(ctx, uuid.New())
		require.NoError(t, err)
		require.NoError(t, sess.Commit(ctx))
		require.NoError(t, sess.Close(ctx))
		require.NoError(t, sess.Close(ctx))
		require.Equal(t, 0, b.OpenSessions())
	})

	t.Run("commit after close fails", func(t *testing.T) {
		sess, err := b.Bind(ctx, uuid.New())
		require.NoError(t, err)
		require.NoError(t, sess.Close(ctx))
		require.ErrorIs(t, sess.Commit(ctx), store.ErrSessionClosed)
	})
}

func TestSession_ClosedSessionRejectedByStores(t *testing.T) {
	b := NewBinder()
	ctx := context.Background()
	tenant := uuid.New()

	sess, err := b.Bind(ctx, tenant)
	require.NoError(t, err)
	require.NoError(t, sess.Close(ctx))

	st := NewAssessmentStore()
	_, err = st.List(ctx, sess)
	require.ErrorIs(t, err, store.ErrSessionClosed)
}

func TestSession_ForeignSessionRejected(t *testing.T) {
	st := NewAssessmentStore()

	_, err := st.List(context.Background(), fakeSession{})
	require.ErrorIs(t, err, store.ErrInvalidSession)
}

type fakeSession struct{}

func (fakeSession) Tenant() uuid.UUID                { return uuid.New() }
func (fakeSession) Commit(ctx context.Context) error { return nil }
func (fakeSession) Close(ctx context.Context) error  { return nil }
