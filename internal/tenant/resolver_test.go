package tenant

import (
	"context"
	"testing"
	"time"

	"github.com/avaliahq/tenancy/internal/models"
	"github.com/avaliahq/tenancy/internal/store"
	"github.com/avaliahq/tenancy/internal/store/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	resolver *Resolver
	orgs     *memory.OrganizationStore
	members  *memory.MembershipStore
	acme     *models.Organization
	beta     *models.Organization
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	orgs := memory.NewOrganizationStore()
	members := memory.NewMembershipStore()
	binder := memory.NewBinder()

	f := &fixture{
		resolver: NewResolver(orgs, members),
		orgs:     orgs,
		members:  members,
	}

	for _, slug := range []string{"acme", "beta"} {
		org := &models.Organization{
			ID:        uuid.New(),
			Kind:      models.OrgKindCompany,
			Name:      slug,
			Slug:      slug,
			Locale:    models.LocaleEN,
			Active:    true,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}

		sess, err := binder.Bind(ctx, org.ID)
		require.NoError(t, err)
		require.NoError(t, orgs.Create(ctx, sess, org))
		require.NoError(t, members.Create(ctx, sess, &models.Membership{
			ID:             uuid.New(),
			OrganizationID: org.ID,
			PrincipalID:    "user-1",
			Role:           models.RoleManager,
			Active:         true,
			CreatedAt:      time.Now(),
		}))
		require.NoError(t, sess.Commit(ctx))

		if slug == "acme" {
			f.acme = org
		} else {
			f.beta = org
		}
	}

	return f
}

func TestResolver_Subdomain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tctx, err := f.resolver.Resolve(ctx, Signals{Subdomain: "acme"}, "user-1")
	require.NoError(t, err)
	require.Equal(t, f.acme.ID, tctx.OrganizationID)
	require.Equal(t, models.RoleManager, tctx.Role)
	require.Equal(t, SourceSubdomain, tctx.Source)
}

func TestResolver_PrecedencePathFirst(t *testing.T) {
	f := newFixture(t)

	tctx, err := f.resolver.Resolve(context.Background(), Signals{
		PathSlug:  "acme",
		Subdomain: "acme",
	}, "user-1")
	require.NoError(t, err)
	require.Equal(t, SourcePath, tctx.Source)
}

func TestResolver_AmbiguousSignals(t *testing.T) {
	f := newFixture(t)

	// Path names beta, trusted header names acme: never a silent pick.
	_, err := f.resolver.Resolve(context.Background(), Signals{
		PathSlug:   "beta",
		HeaderSlug: "acme",
	}, "user-1")
	require.True(t, IsResolutionError(err, ReasonAmbiguous))

	_, err = f.resolver.Resolve(context.Background(), Signals{
		HeaderSlug: "acme",
		Subdomain:  "beta",
	}, "user-1")
	require.True(t, IsResolutionError(err, ReasonAmbiguous))
}

func TestResolver_AgreeingSignals(t *testing.T) {
	f := newFixture(t)

	tctx, err := f.resolver.Resolve(context.Background(), Signals{
		PathSlug:  "acme",
		Subdomain: "acme",
	}, "user-1")
	require.NoError(t, err)
	require.Equal(t, f.acme.ID, tctx.OrganizationID)
}

func TestResolver_NotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("no signals", func(t *testing.T) {
		_, err := f.resolver.Resolve(ctx, Signals{}, "user-1")
		require.True(t, IsResolutionError(err, ReasonNotFound))
	})

	t.Run("unknown slug", func(t *testing.T) {
		_, err := f.resolver.Resolve(ctx, Signals{Subdomain: "nope"}, "user-1")
		require.True(t, IsResolutionError(err, ReasonNotFound))
	})

	t.Run("deactivated organization", func(t *testing.T) {
		require.NoError(t, f.orgs.SetActive(ctx, f.acme.ID, false))
		_, err := f.resolver.Resolve(ctx, Signals{Subdomain: "acme"}, "user-1")
		require.True(t, IsResolutionError(err, ReasonNotFound))
	})
}

func TestResolver_NoMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("unknown principal", func(t *testing.T) {
		_, err := f.resolver.Resolve(ctx, Signals{Subdomain: "acme"}, "stranger")
		require.True(t, IsResolutionError(err, ReasonNoMembership))
	})

	t.Run("deactivated membership", func(t *testing.T) {
		require.NoError(t, f.members.SetActive(ctx, f.acme.ID, "user-1", false))
		_, err := f.resolver.Resolve(ctx, Signals{Subdomain: "acme"}, "user-1")
		require.True(t, IsResolutionError(err, ReasonNoMembership))
	})
}

func TestResolver_Bootstrap(t *testing.T) {
	f := newFixture(t)

	tctx, err := f.resolver.ResolveBootstrap(context.Background(), Signals{Subdomain: "acme"})
	require.NoError(t, err)
	require.Equal(t, models.RoleNone, tctx.Role)
	require.Equal(t, SourceBootstrap, tctx.Source)

	// Bootstrap still fails closed on unknown tenants.
	_, err = f.resolver.ResolveBootstrap(context.Background(), Signals{Subdomain: "nope"})
	require.True(t, IsResolutionError(err, ReasonNotFound))
}

func TestResolver_StoreErrorPropagates(t *testing.T) {
	f := newFixture(t)

	// A lookup failure that is not not-found must not be converted into a
	// resolution outcome.
	r := NewResolver(failingLookup{}, f.members)
	_, err := r.Resolve(context.Background(), Signals{Subdomain: "acme"}, "user-1")
	require.Error(t, err)
	require.False(t, IsResolutionError(err, ""))
}

type failingLookup struct{}

func (failingLookup) GetBySlug(ctx context.Context, slug string) (*models.Organization, error) {
	return nil, store.ErrInvalidSession
}
