// Package server is the HTTP surface of the engine: the tenant-scoped API
// under /org/{slug}, the bootstrap invite-acceptance route, and the
// separately credentialed maintenance surface under /admin/v1.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/avaliahq/tenancy/internal/audit"
	"github.com/avaliahq/tenancy/internal/auth"
	internalhttp "github.com/avaliahq/tenancy/internal/http"
	"github.com/avaliahq/tenancy/internal/logger"
	"github.com/avaliahq/tenancy/internal/meter"
	"github.com/avaliahq/tenancy/internal/models"
	"github.com/avaliahq/tenancy/internal/store"
	"github.com/avaliahq/tenancy/internal/tenant"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"
)

// Config carries the request-facing server settings.
type Config struct {
	// BaseDomain is the apex domain tenant subdomains hang off, e.g.
	// "avalia.io". Empty disables subdomain resolution.
	BaseDomain string

	// GatewaySecret authorizes the X-Tenant trusted header. Empty disables
	// the header signal entirely.
	GatewaySecret string

	// AdminToken is the bearer token for the /admin/v1 maintenance surface.
	AdminToken string

	// RequestsPerMinute is the per-client-IP rate limit.
	RequestsPerMinute int
}

// Stores groups the storage implementations the handlers read from.
type Stores struct {
	Binder      store.SessionBinder
	Memberships store.MembershipStore
	Assessments store.AssessmentStore
}

// Server wires middleware, resolution, and handlers into one http.Handler.
type Server struct {
	cfg      Config
	verifier *auth.Verifier
	resolver *tenant.Resolver
	stores   Stores
	meters   *meter.Service
	orgs     *Provisioner
	invites  *InviteService
	gate     *Gate
	audits   *audit.Logger
}

// NewServer creates the HTTP server.
func NewServer(cfg Config, verifier *auth.Verifier, resolver *tenant.Resolver, stores Stores, meters *meter.Service, orgs *Provisioner, invites *InviteService, gate *Gate, audits *audit.Logger) *Server {
	if cfg.RequestsPerMinute == 0 {
		cfg.RequestsPerMinute = 600
	}
	return &Server{
		cfg:      cfg,
		verifier: verifier,
		resolver: resolver,
		stores:   stores,
		meters:   meters,
		orgs:     orgs,
		invites:  invites,
		gate:     gate,
		audits:   audits,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler(log zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(internalhttp.ClientIPMiddleware())
	r.Use(logger.RequestLogger(log))
	r.Use(httprate.Limit(
		s.cfg.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
	))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !s.gate.Ready() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "policy verification pending"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	// Tenant-scoped API: principal auth, then tenant resolution, then the
	// handler inside a bound unit of work.
	r.Route("/org/{slug}", func(r chi.Router) {
		r.Use(s.verifier.Middleware())
		r.Use(s.requireReady)
		r.Use(s.tenantScope)

		r.Post("/assessments", s.handleStartAssessment)
		r.Get("/assessments", s.handleListAssessments)
		r.Post("/assessments/{id}/responses", s.handleAddResponse)
		r.Get("/usage", s.handleUsage)
		r.Post("/invites", s.handleCreateInvite)
		r.Get("/members", s.handleListMembers)
		r.Post("/members/{principalID}/deactivate", s.handleDeactivateMember)
	})

	// Bootstrap: the invite token names the tenant, so no slug and no
	// tenant middleware.
	r.Group(func(r chi.Router) {
		r.Use(s.verifier.Middleware())
		r.Use(s.requireReady)
		r.Post("/invites/accept", s.handleAcceptInvite)
	})

	// Maintenance surface: separate bearer token, every request audited.
	r.Route("/admin/v1", func(r chi.Router) {
		r.Use(s.adminAuth)
		r.Post("/organizations", s.handleProvision)
		r.Get("/organizations", s.handleListOrganizations)
		r.Post("/organizations/{slug}/deactivate", s.handleDeactivateOrganization)
		r.Post("/organizations/{slug}/reactivate", s.handleReactivateOrganization)
		r.Post("/billing/plan", s.handlePlanChange)
		r.Post("/billing/period", s.handlePeriodChange)
	})

	return r
}

// requireReady refuses tenant traffic while the policy gate is closed.
func (s *Server) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.gate.Ready() {
			writeError(w, http.StatusServiceUnavailable, "service unavailable")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// tenantScope resolves the tenant from the request signals and stores the
// TenantContext. Every failure mode gets the same constant 403 body and an
// audit entry; the response never reveals whether the slug exists.
func (s *Server) tenantScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		principal := auth.PrincipalFromContext(ctx)

		sig := tenant.SignalsFromRequest(r, chi.URLParam(r, "slug"), s.cfg.BaseDomain, s.cfg.GatewaySecret)

		tctx, err := s.resolver.Resolve(ctx, sig, principal.ID)
		if err != nil {
			s.auditDenied(ctx, r, principal, err)
			if tenant.IsResolutionError(err, "") {
				writeForbidden(w)
				return
			}
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		next.ServeHTTP(w, r.WithContext(tenant.NewContext(ctx, tctx)))
	})
}

func (s *Server) auditDenied(ctx context.Context, r *http.Request, principal *auth.Principal, cause error) {
	entry := &models.AuditEntry{
		Principal: principal.ID,
		Action:    models.AuditActionResolveDenied,
		Outcome:   models.AuditOutcomeDenied,
		ClientIP:  internalhttp.ClientIPFromContext(ctx),
		UserAgent: r.UserAgent(),
		Metadata: map[string]string{
			"path": r.URL.Path,
		},
	}

	var rerr *tenant.ResolutionError
	if errors.As(cause, &rerr) {
		entry.Metadata["reason"] = string(rerr.Reason)
	}

	s.audits.Record(ctx, entry)
}

// adminAuth gates the maintenance surface on the admin bearer token and
// audits every use.
func (s *Server) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := auth.BearerToken(r)
		if s.cfg.AdminToken == "" || !ok ||
			subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		s.audits.Record(r.Context(), &models.AuditEntry{
			Action:    models.AuditActionMaintenance,
			Source:    string(tenant.SourceMaintenance),
			Outcome:   models.AuditOutcomeSuccess,
			ClientIP:  internalhttp.ClientIPFromContext(r.Context()),
			UserAgent: r.UserAgent(),
			Metadata: map[string]string{
				"path": r.URL.Path,
			},
		})

		next.ServeHTTP(w, r)
	})
}

// bound runs fn inside a bound unit of work for the resolved tenant: bind,
// fn, commit on nil error, always close. Errors propagate to the handler's
// storeError call, where a policy violation trips the serving gate.
func (s *Server) bound(ctx context.Context, tctx *tenant.Context, fn func(sess store.BoundSession) error) error {
	sess, err := s.stores.Binder.Bind(ctx, tctx.OrganizationID)
	if err != nil {
		return err
	}
	defer sess.Close(ctx)

	s.audits.Record(ctx, &models.AuditEntry{
		OrganizationID: &tctx.OrganizationID,
		Principal:      principalID(ctx),
		Action:         models.AuditActionBind,
		Source:         string(tctx.Source),
		Outcome:        models.AuditOutcomeSuccess,
	})

	if err := fn(sess); err != nil {
		return err
	}

	return sess.Commit(ctx)
}
