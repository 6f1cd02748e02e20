package memory

import (
	"context"
	"testing"
	"time"

	"github.com/avaliahq/tenancy/internal/models"
	"github.com/avaliahq/tenancy/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestOrg(slug string) *models.Organization {
	now := time.Now()
	return &models.Organization{
		ID:        uuid.New(),
		Kind:      models.OrgKindCompany,
		Name:      slug,
		Slug:      slug,
		Locale:    models.LocaleEN,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOrganizationStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	b := NewBinder()
	st := NewOrganizationStore()

	org := newTestOrg("acme")
	sess, err := b.Bind(ctx, org.ID)
	require.NoError(t, err)
	defer sess.Close(ctx)

	require.NoError(t, st.Create(ctx, sess, org))

	got, err := st.GetByID(ctx, org.ID)
	require.NoError(t, err)
	require.Equal(t, "acme", got.Slug)

	got, err = st.GetBySlug(ctx, "ACME")
	require.NoError(t, err)
	require.Equal(t, org.ID, got.ID)
}

func TestOrganizationStore_DuplicateSlug(t *testing.T) {
	ctx := context.Background()
	b := NewBinder()
	st := NewOrganizationStore()

	org := newTestOrg("acme")
	sess, err := b.Bind(ctx, org.ID)
	require.NoError(t, err)
	defer sess.Close(ctx)

	require.NoError(t, st.Create(ctx, sess, org))

	dup := newTestOrg("Acme")
	require.ErrorIs(t, st.Create(ctx, sess, dup), store.ErrOrganizationExists)
}

func TestOrganizationStore_SetActive(t *testing.T) {
	ctx := context.Background()
	b := NewBinder()
	st := NewOrganizationStore()

	org := newTestOrg("acme")
	sess, err := b.Bind(ctx, org.ID)
	require.NoError(t, err)
	defer sess.Close(ctx)

	require.NoError(t, st.Create(ctx, sess, org))
	require.NoError(t, st.SetActive(ctx, org.ID, false))

	got, err := st.GetBySlug(ctx, "acme")
	require.NoError(t, err)
	require.False(t, got.Active)

	require.ErrorIs(t, st.SetActive(ctx, uuid.New(), false), store.ErrOrganizationNotFound)
}

func TestOrganizationStore_List(t *testing.T) {
	ctx := context.Background()
	b := NewBinder()
	st := NewOrganizationStore()

	first := newTestOrg("first")
	first.CreatedAt = time.Now().Add(-time.Hour)
	second := newTestOrg("second")

	sess, err := b.Bind(ctx, first.ID)
	require.NoError(t, err)
	defer sess.Close(ctx)

	require.NoError(t, st.Create(ctx, sess, second))
	require.NoError(t, st.Create(ctx, sess, first))

	orgs, err := st.List(ctx)
	require.NoError(t, err)
	require.Len(t, orgs, 2)
	require.Equal(t, "first", orgs[0].Slug)
}
