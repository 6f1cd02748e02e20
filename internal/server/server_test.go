package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/avaliahq/tenancy/internal/audit"
	"github.com/avaliahq/tenancy/internal/auth"
	"github.com/avaliahq/tenancy/internal/meter"
	"github.com/avaliahq/tenancy/internal/models"
	"github.com/avaliahq/tenancy/internal/store"
	"github.com/avaliahq/tenancy/internal/store/memory"
	"github.com/avaliahq/tenancy/internal/tenant"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	testJWTSecret  = "test-secret-key-min-32-bytes-long!!"
	testAdminToken = "admin-test-token"
)

type testServer struct {
	http   *httptest.Server
	audits *memory.AuditStore
	gate   *Gate
}

type passVerifier struct{}

func (passVerifier) Verify(context.Context) error { return nil }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWith(t, memory.NewUsageStore())
}

func newTestServerWith(t *testing.T, usage store.UsageStore) *testServer {
	t.Helper()

	binder := memory.NewBinder()
	orgs := memory.NewOrganizationStore()
	memberships := memory.NewMembershipStore()
	invites := memory.NewInviteStore()
	subs := memory.NewSubscriptionStore()
	audits := memory.NewAuditStore()

	auditLogger := audit.NewLogger(audit.NewStoreSink(audits))
	t.Cleanup(func() { _ = auditLogger.Close() })

	clk := clock.New()

	catalog := &meter.Catalog{
		Plans: map[models.PlanCode]map[models.Metric]meter.LimitSpec{
			models.PlanBasic: {
				models.MetricAssessmentsStarted: {Limit: 2, Kind: models.LimitHard},
				models.MetricTeamMembers:        {Limit: 5, Kind: models.LimitHard},
			},
		},
	}

	meters := meter.NewService(binder, subs, usage, catalog, clk, auditLogger)
	resolver := tenant.NewResolver(orgs, memberships)
	gate := NewGate(passVerifier{}, auditLogger)
	require.NoError(t, gate.Verify(context.Background()))

	provisioner := NewProvisioner(binder, orgs, memberships, subs, meters, clk, auditLogger, nil)
	inviteSvc := NewInviteService(binder, invites, memberships, clk, auditLogger)

	verifier, err := auth.NewVerifier(testJWTSecret)
	require.NoError(t, err)

	srv := NewServer(
		Config{AdminToken: testAdminToken},
		verifier,
		resolver,
		Stores{Binder: binder, Memberships: memberships, Assessments: memory.NewAssessmentStore()},
		meters,
		provisioner,
		inviteSvc,
		gate,
		auditLogger,
	)

	ts := httptest.NewServer(srv.Handler(zerolog.Nop()))
	t.Cleanup(ts.Close)

	return &testServer{http: ts, audits: audits, gate: gate}
}

func (ts *testServer) request(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequest(method, ts.http.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()

	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (ts *testServer) provision(t *testing.T, slug, principal string) {
	t.Helper()

	resp := ts.request(t, http.MethodPost, "/admin/v1/organizations", testAdminToken, map[string]string{
		"kind":         "company",
		"name":         slug,
		"slug":         slug,
		"plan":         "basic",
		"principal_id": principal,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
}

func userToken(t *testing.T, subject string) string {
	t.Helper()
	token, err := auth.Sign(testJWTSecret, subject, subject+"@example.com", time.Hour)
	require.NoError(t, err)
	return token
}

func TestServerHealthAndReadiness(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.request(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = ts.request(t, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// A tripped gate takes readiness and tenant traffic down.
	ts.gate.Trip(context.Background(), fmt.Errorf("verification failure"))

	resp = ts.request(t, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()

	ts.provision(t, "acme", "admin-1")
	resp = ts.request(t, http.MethodGet, "/org/acme/assessments", userToken(t, "admin-1"), nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()
}

// violatingUsageStore simulates the row-security layer rejecting a write
// from inside an otherwise healthy unit of work.
type violatingUsageStore struct {
	*memory.UsageStore
}

func (violatingUsageStore) Reserve(context.Context, store.BoundSession, *models.Reservation) error {
	return store.ErrPolicyViolation
}

func TestServerPolicyViolationTripsGate(t *testing.T) {
	ts := newTestServerWith(t, violatingUsageStore{memory.NewUsageStore()})
	ts.provision(t, "acme", "admin-1")

	// The violation surfaces as an opaque 500 and closes the serving gate.
	resp := ts.request(t, http.MethodPost, "/org/acme/assessments", userToken(t, "admin-1"), map[string]string{
		"title": "doomed",
	})
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	resp.Body.Close()

	require.False(t, ts.gate.Ready())

	resp = ts.request(t, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()
}

func TestServerAuthRequired(t *testing.T) {
	ts := newTestServer(t)
	ts.provision(t, "acme", "admin-1")

	t.Run("missing token", func(t *testing.T) {
		resp := ts.request(t, http.MethodGet, "/org/acme/assessments", "", nil)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("garbage token", func(t *testing.T) {
		resp := ts.request(t, http.MethodGet, "/org/acme/assessments", "not-a-jwt", nil)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp.Body.Close()
	})
}

func TestServerTenantResolution(t *testing.T) {
	ts := newTestServer(t)
	ts.provision(t, "acme", "admin-1")

	t.Run("member of the tenant gets through", func(t *testing.T) {
		resp := ts.request(t, http.MethodGet, "/org/acme/assessments", userToken(t, "admin-1"), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("unknown tenant and stranger look identical", func(t *testing.T) {
		respUnknown := ts.request(t, http.MethodGet, "/org/ghost/assessments", userToken(t, "admin-1"), nil)
		bodyUnknown := decode[map[string]string](t, respUnknown)

		respStranger := ts.request(t, http.MethodGet, "/org/acme/assessments", userToken(t, "stranger"), nil)
		bodyStranger := decode[map[string]string](t, respStranger)

		require.Equal(t, http.StatusForbidden, respUnknown.StatusCode)
		require.Equal(t, http.StatusForbidden, respStranger.StatusCode)
		require.Equal(t, bodyUnknown, bodyStranger, "403 body must not reveal which tenants exist")
	})

	t.Run("denials are audited", func(t *testing.T) {
		entries, err := ts.audits.List(context.Background(), nil, 100)
		require.NoError(t, err)

		var denied int
		for _, e := range entries {
			if e.Action == models.AuditActionResolveDenied {
				denied++
			}
		}
		require.GreaterOrEqual(t, denied, 2)
	})
}

func TestServerAssessmentLifecycleAndLimits(t *testing.T) {
	ts := newTestServer(t)
	ts.provision(t, "acme", "admin-1")
	token := userToken(t, "admin-1")

	// Plan allows 2 assessments.
	for i := 0; i < 2; i++ {
		resp := ts.request(t, http.MethodPost, "/org/acme/assessments", token, map[string]string{
			"title":      fmt.Sprintf("run %d", i),
			"instrument": "disc",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()
	}

	// The third hits the hard limit: 429 naming the metric.
	resp := ts.request(t, http.MethodPost, "/org/acme/assessments", token, map[string]string{"title": "over"})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	require.Equal(t, "limit_exceeded", body["error"])
	require.Equal(t, "assessments_started", body["metric"])
	require.Equal(t, "hard", body["kind"])

	// The refused operation left no trace in the list.
	resp = ts.request(t, http.MethodGet, "/org/acme/assessments", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[map[string][]assessmentResponse](t, resp)
	require.Len(t, list["assessments"], 2)

	// Usage reflects exactly the committed work.
	resp = ts.request(t, http.MethodGet, "/org/acme/usage", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	usage := decode[map[string][]usageResponse](t, resp)
	for _, u := range usage["usage"] {
		if u.Metric == "assessments_started" {
			require.EqualValues(t, 2, u.Used)
			require.EqualValues(t, 0, u.Reserved)
			require.EqualValues(t, 0, u.Remaining)
		}
	}
}

func TestServerCrossTenantInvisibility(t *testing.T) {
	ts := newTestServer(t)
	ts.provision(t, "acme", "admin-1")
	ts.provision(t, "beta", "admin-2")

	resp := ts.request(t, http.MethodPost, "/org/acme/assessments", userToken(t, "admin-1"), map[string]string{
		"title": "acme only",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[assessmentResponse](t, resp)

	// Tenant B sees an empty list and cannot address A's assessment.
	resp = ts.request(t, http.MethodGet, "/org/beta/assessments", userToken(t, "admin-2"), nil)
	list := decode[map[string][]assessmentResponse](t, resp)
	require.Empty(t, list["assessments"])

	resp = ts.request(t, http.MethodPost, fmt.Sprintf("/org/beta/assessments/%s/responses", created.ID), userToken(t, "admin-2"), map[string]any{
		"respondent": "r@example.com",
		"answers":    map[string]string{"q1": "a"},
	})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestServerInviteFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.provision(t, "acme", "admin-1")

	// org_admin invites a member.
	resp := ts.request(t, http.MethodPost, "/org/acme/invites", userToken(t, "admin-1"), map[string]string{
		"email": "new@example.com",
		"role":  "member",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[map[string]any](t, resp)
	token, _ := created["token"].(string)
	require.NotEmpty(t, token)

	// The invitee accepts as a bootstrap operation; no slug in the URL.
	resp = ts.request(t, http.MethodPost, "/invites/accept", userToken(t, "new-user"), map[string]string{
		"token": token,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	accepted := decode[map[string]any](t, resp)
	require.Equal(t, "member", accepted["role"])

	// The new membership resolves.
	resp = ts.request(t, http.MethodGet, "/org/acme/assessments", userToken(t, "new-user"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Second redemption fails: single use.
	resp = ts.request(t, http.MethodPost, "/invites/accept", userToken(t, "other-user"), map[string]string{
		"token": token,
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// A member cannot invite.
	resp = ts.request(t, http.MethodPost, "/org/acme/invites", userToken(t, "new-user"), map[string]string{
		"email": "another@example.com",
		"role":  "viewer",
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestServerMembers(t *testing.T) {
	ts := newTestServer(t)
	ts.provision(t, "acme", "admin-1")
	admin := userToken(t, "admin-1")

	resp := ts.request(t, http.MethodGet, "/org/acme/members", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	members := decode[map[string][]memberResponse](t, resp)
	require.Len(t, members["members"], 1)
	require.Equal(t, "org_admin", members["members"][0].Role)
	require.False(t, members["members"][0].CreatedAt.IsZero(), "memberships carry creation time")

	// Deactivate is org_admin only, and a deactivated member stops
	// resolving.
	resp = ts.request(t, http.MethodPost, "/org/acme/invites", admin, map[string]string{
		"email": "m@example.com",
		"role":  "member",
	})
	invite := decode[map[string]any](t, resp)
	resp = ts.request(t, http.MethodPost, "/invites/accept", userToken(t, "member-1"), map[string]string{
		"token": invite["token"].(string),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = ts.request(t, http.MethodPost, "/org/acme/members/member-1/deactivate", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = ts.request(t, http.MethodGet, "/org/acme/assessments", userToken(t, "member-1"), nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestServerAdminSurface(t *testing.T) {
	ts := newTestServer(t)

	t.Run("requires the admin token", func(t *testing.T) {
		resp := ts.request(t, http.MethodGet, "/admin/v1/organizations", "", nil)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp.Body.Close()

		resp = ts.request(t, http.MethodGet, "/admin/v1/organizations", userToken(t, "admin-1"), nil)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode, "a gateway JWT is not the admin token")
		resp.Body.Close()
	})

	t.Run("provision, list, deactivate", func(t *testing.T) {
		ts.provision(t, "acme", "admin-1")

		resp := ts.request(t, http.MethodGet, "/admin/v1/organizations", testAdminToken, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		list := decode[map[string][]organizationResponse](t, resp)
		require.Len(t, list["organizations"], 1)
		require.False(t, list["organizations"][0].CreatedAt.IsZero(), "provisioning stamps creation time")

		// Duplicate slug refused.
		resp = ts.request(t, http.MethodPost, "/admin/v1/organizations", testAdminToken, map[string]string{
			"kind": "company", "name": "Acme Two", "slug": "ACME", "principal_id": "admin-2",
		})
		require.Equal(t, http.StatusConflict, resp.StatusCode)
		resp.Body.Close()

		// Deactivation makes the tenant unresolvable.
		resp = ts.request(t, http.MethodPost, "/admin/v1/organizations/acme/deactivate", testAdminToken, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()

		resp = ts.request(t, http.MethodGet, "/org/acme/assessments", userToken(t, "admin-1"), nil)
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
		resp.Body.Close()

		resp = ts.request(t, http.MethodPost, "/admin/v1/organizations/acme/reactivate", testAdminToken, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()

		resp = ts.request(t, http.MethodGet, "/org/acme/assessments", userToken(t, "admin-1"), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	})
}

func TestServerPlanChangeFeed(t *testing.T) {
	ts := newTestServer(t)
	ts.provision(t, "acme", "admin-1")

	resp := ts.request(t, http.MethodGet, "/admin/v1/organizations", testAdminToken, nil)
	list := decode[map[string][]organizationResponse](t, resp)
	orgID := list["organizations"][0].ID

	// Cancelling the subscription fails metered operations closed.
	resp = ts.request(t, http.MethodPost, "/admin/v1/billing/plan", testAdminToken, map[string]any{
		"organization_id": orgID,
		"plan":            "basic",
		"status":          "cancelled",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = ts.request(t, http.MethodPost, "/org/acme/assessments", userToken(t, "admin-1"), map[string]string{
		"title": "blocked",
	})
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	resp.Body.Close()
}
