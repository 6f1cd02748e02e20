package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/avaliahq/tenancy/internal/auth"
	"github.com/avaliahq/tenancy/internal/models"
	"github.com/avaliahq/tenancy/internal/store"
	"github.com/avaliahq/tenancy/internal/tenant"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func urlParam(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}

type startAssessmentRequest struct {
	Title      string `json:"title"`
	Instrument string `json:"instrument"`
}

type assessmentResponse struct {
	ID         uuid.UUID `json:"id"`
	Title      string    `json:"title"`
	Instrument string    `json:"instrument"`
	Status     string    `json:"status"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
}

func toAssessmentResponse(a *models.Assessment) assessmentResponse {
	return assessmentResponse{
		ID:         a.ID,
		Title:      a.Title,
		Instrument: a.Instrument,
		Status:     string(a.Status),
		CreatedBy:  a.CreatedBy,
		CreatedAt:  a.CreatedAt,
	}
}

// handleStartAssessment is the metered write path: reserve quota, create the
// assessment in a bound unit of work, then commit the reservation only after
// the write is durable. On any failure the reservation is released and the
// counter never moves.
func (s *Server) handleStartAssessment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tctx := tenant.FromContext(ctx)

	if err := auth.Authorize(tctx.Role, auth.PermAssessmentStart); err != nil {
		s.auditAccessDenied(ctx, tctx, string(auth.PermAssessmentStart))
		writeForbidden(w)
		return
	}

	var req startAssessmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	res, err := s.meters.CheckAndReserve(ctx, tctx, models.MetricAssessmentsStarted, 1)
	if err != nil {
		s.storeError(r.Context(), w, err)
		return
	}

	a := &models.Assessment{
		ID:             uuid.New(),
		OrganizationID: tctx.OrganizationID,
		Title:          req.Title,
		Instrument:     req.Instrument,
		Status:         models.AssessmentActive,
		CreatedBy:      principalID(ctx),
	}

	err = s.bound(ctx, tctx, func(sess store.BoundSession) error {
		return s.stores.Assessments.Create(ctx, sess, a)
	})
	if err != nil {
		if rerr := s.meters.Release(ctx, tctx, res); rerr != nil {
			log.Error().Err(rerr).Msg("Failed to release reservation")
		}
		s.storeError(r.Context(), w, err)
		return
	}

	if err := s.meters.Commit(ctx, tctx, res); err != nil {
		// The assessment exists; the sweeper reconciles the reservation.
		log.Error().Err(err).Msg("Failed to commit reservation")
	}

	writeJSON(w, http.StatusCreated, toAssessmentResponse(a))
}

func (s *Server) handleListAssessments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tctx := tenant.FromContext(ctx)

	if err := auth.Authorize(tctx.Role, auth.PermAssessmentList); err != nil {
		s.auditAccessDenied(ctx, tctx, string(auth.PermAssessmentList))
		writeForbidden(w)
		return
	}

	var assessments []*models.Assessment
	err := s.bound(ctx, tctx, func(sess store.BoundSession) error {
		var err error
		assessments, err = s.stores.Assessments.List(ctx, sess)
		return err
	})
	if err != nil {
		s.storeError(r.Context(), w, err)
		return
	}

	out := make([]assessmentResponse, 0, len(assessments))
	for _, a := range assessments {
		out = append(out, toAssessmentResponse(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"assessments": out})
}

type addResponseRequest struct {
	Respondent string          `json:"respondent"`
	Answers    json.RawMessage `json:"answers"`
}

func (s *Server) handleAddResponse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tctx := tenant.FromContext(ctx)

	if err := auth.Authorize(tctx.Role, auth.PermResponseSubmit); err != nil {
		s.auditAccessDenied(ctx, tctx, string(auth.PermResponseSubmit))
		writeForbidden(w)
		return
	}

	assessmentID, err := uuid.Parse(urlParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid assessment id")
		return
	}

	var req addResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Respondent == "" {
		writeError(w, http.StatusBadRequest, "respondent is required")
		return
	}
	if len(req.Answers) == 0 {
		req.Answers = json.RawMessage(`{}`)
	}

	resp := &models.AssessmentResponse{
		ID:             uuid.New(),
		OrganizationID: tctx.OrganizationID,
		AssessmentID:   assessmentID,
		Respondent:     req.Respondent,
		Answers:        req.Answers,
	}

	err = s.bound(ctx, tctx, func(sess store.BoundSession) error {
		return s.stores.Assessments.AddResponse(ctx, sess, resp)
	})
	if err != nil {
		s.storeError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"id": resp.ID})
}

type usageResponse struct {
	Metric         string `json:"metric"`
	Used           int64  `json:"used"`
	Reserved       int64  `json:"reserved"`
	Limit          int64  `json:"limit"`
	Kind           string `json:"kind"`
	OverageAllowed bool   `json:"overage_allowed"`
	OverageUsed    int64  `json:"overage_used"`
	Remaining      int64  `json:"remaining"`
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tctx := tenant.FromContext(ctx)

	if err := auth.Authorize(tctx.Role, auth.PermUsageRead); err != nil {
		s.auditAccessDenied(ctx, tctx, string(auth.PermUsageRead))
		writeForbidden(w)
		return
	}

	meters, err := s.meters.Snapshot(ctx, tctx)
	if err != nil {
		s.storeError(r.Context(), w, err)
		return
	}

	out := make([]usageResponse, 0, len(meters))
	for _, m := range meters {
		out = append(out, usageResponse{
			Metric:         string(m.Metric),
			Used:           m.Used,
			Reserved:       m.Reserved,
			Limit:          m.LimitValue,
			Kind:           string(m.LimitKind),
			OverageAllowed: m.OverageAllowed,
			OverageUsed:    m.OverageUsed,
			Remaining:      m.Remaining(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"usage": out})
}

type createInviteRequest struct {
	Email string      `json:"email"`
	Role  models.Role `json:"role"`
}

func (s *Server) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tctx := tenant.FromContext(ctx)

	var req createInviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var inv *models.OrganizationInvite
	err := s.bound(ctx, tctx, func(sess store.BoundSession) error {
		var err error
		inv, err = s.invites.Create(ctx, tctx, sess, req.Email, req.Role)
		return err
	})
	if err != nil {
		if errors.Is(err, auth.ErrPermissionDenied) {
			s.auditAccessDenied(ctx, tctx, string(auth.PermInviteCreate))
			writeForbidden(w)
			return
		}
		s.storeError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         inv.ID,
		"token":      inv.Token,
		"expires_at": inv.ExpiresAt,
	})
}

type acceptInviteRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleAcceptInvite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := auth.PrincipalFromContext(ctx)

	var req acceptInviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	m, err := s.invites.Accept(ctx, principal, req.Token)
	if err != nil {
		if errors.Is(err, ErrInviteExpired) {
			writeError(w, http.StatusGone, "invite expired")
			return
		}
		s.storeError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"organization_id": m.OrganizationID,
		"role":            m.Role,
	})
}

type memberResponse struct {
	PrincipalID string    `json:"principal_id"`
	Role        string    `json:"role"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tctx := tenant.FromContext(ctx)

	if err := auth.Authorize(tctx.Role, auth.PermMemberList); err != nil {
		s.auditAccessDenied(ctx, tctx, string(auth.PermMemberList))
		writeForbidden(w)
		return
	}

	members, err := s.stores.Memberships.ListByOrganization(ctx, tctx.OrganizationID)
	if err != nil {
		s.storeError(r.Context(), w, err)
		return
	}

	out := make([]memberResponse, 0, len(members))
	for _, m := range members {
		out = append(out, memberResponse{
			PrincipalID: m.PrincipalID,
			Role:        string(m.Role),
			Active:      m.Active,
			CreatedAt:   m.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": out})
}

func (s *Server) handleDeactivateMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tctx := tenant.FromContext(ctx)

	if err := auth.Authorize(tctx.Role, auth.PermMemberDeactivate); err != nil {
		s.auditAccessDenied(ctx, tctx, string(auth.PermMemberDeactivate))
		writeForbidden(w)
		return
	}

	target := urlParam(r, "principalID")
	if err := s.stores.Memberships.SetActive(ctx, tctx.OrganizationID, target, false); err != nil {
		if errors.Is(err, store.ErrMembershipNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		s.storeError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

func (s *Server) auditAccessDenied(ctx context.Context, tctx *tenant.Context, permission string) {
	s.audits.Record(ctx, &models.AuditEntry{
		OrganizationID: &tctx.OrganizationID,
		Principal:      principalID(ctx),
		Action:         models.AuditActionAccessDenied,
		Source:         string(tctx.Source),
		Outcome:        models.AuditOutcomeDenied,
		Metadata: map[string]string{
			"permission": permission,
			"role":       string(tctx.Role),
		},
	})
}
