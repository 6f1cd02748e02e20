package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/avaliahq/tenancy/internal/models"
	"github.com/google/uuid"
)

type organizationResponse struct {
	ID        uuid.UUID `json:"id"`
	Kind      string    `json:"kind"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Locale    string    `json:"locale"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

func toOrganizationResponse(org *models.Organization) organizationResponse {
	return organizationResponse{
		ID:        org.ID,
		Kind:      string(org.Kind),
		Name:      org.Name,
		Slug:      org.Slug,
		Locale:    string(org.Locale),
		Active:    org.Active,
		CreatedAt: org.CreatedAt,
	}
}

func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	var req ProvisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	org, err := s.orgs.Provision(r.Context(), &req)
	if err != nil {
		s.storeError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toOrganizationResponse(org))
}

func (s *Server) handleListOrganizations(w http.ResponseWriter, r *http.Request) {
	orgs, err := s.orgs.List(r.Context())
	if err != nil {
		s.storeError(r.Context(), w, err)
		return
	}

	out := make([]organizationResponse, 0, len(orgs))
	for _, org := range orgs {
		out = append(out, toOrganizationResponse(org))
	}
	writeJSON(w, http.StatusOK, map[string]any{"organizations": out})
}

func (s *Server) handleDeactivateOrganization(w http.ResponseWriter, r *http.Request) {
	s.setOrganizationActive(w, r, false)
}

func (s *Server) handleReactivateOrganization(w http.ResponseWriter, r *http.Request) {
	s.setOrganizationActive(w, r, true)
}

func (s *Server) setOrganizationActive(w http.ResponseWriter, r *http.Request, active bool) {
	org, err := s.orgs.SetActive(r.Context(), urlParam(r, "slug"), active)
	if err != nil {
		s.storeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrganizationResponse(org))
}

type planChangeRequest struct {
	OrganizationID uuid.UUID                 `json:"organization_id"`
	Plan           models.PlanCode           `json:"plan"`
	Status         models.SubscriptionStatus `json:"status"`
}

// handlePlanChange is the billing feed input: the payment provider's webhook
// relay posts plan changes here and the meter service applies them without
// racing in-flight reservations.
func (s *Server) handlePlanChange(w http.ResponseWriter, r *http.Request) {
	var req planChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrganizationID == uuid.Nil || req.Plan == "" {
		writeError(w, http.StatusBadRequest, "organization_id and plan are required")
		return
	}
	if req.Status == "" {
		req.Status = models.SubscriptionActive
	}

	if err := s.meters.ApplyPlanChange(r.Context(), req.OrganizationID, req.Plan, req.Status); err != nil {
		s.storeError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

type periodChangeRequest struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"`
}

func (s *Server) handlePeriodChange(w http.ResponseWriter, r *http.Request) {
	var req periodChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrganizationID == uuid.Nil || req.PeriodStart.IsZero() || req.PeriodEnd.IsZero() {
		writeError(w, http.StatusBadRequest, "organization_id and period bounds are required")
		return
	}

	if err := s.meters.ApplySubscriptionPeriod(r.Context(), req.OrganizationID, req.PeriodStart, req.PeriodEnd); err != nil {
		s.storeError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}
