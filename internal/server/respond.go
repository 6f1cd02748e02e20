package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/avaliahq/tenancy/internal/auth"
	"github.com/avaliahq/tenancy/internal/meter"
	"github.com/avaliahq/tenancy/internal/store"
	"github.com/rs/zerolog/log"
)

// forbiddenBody is the constant response for every resolution, membership,
// and bind failure. One body for all of them, so responses never reveal
// which tenants exist.
const forbiddenBody = `{"error":"forbidden"}`

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeForbidden(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(forbiddenBody))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// storeError is the handler-side error path: it traps policy violations
// before the response mapping, so a violation observed anywhere in a unit of
// work (a bound handler, the meter service's own sessions) closes the
// serving gate.
func (s *Server) storeError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrPolicyViolation) {
		s.gate.Trip(ctx, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeStoreError(w, err)
}

// writeStoreError maps service-level failures onto the API surface. Limit
// refusals carry the metric; everything tenant-shaped collapses into the
// constant forbidden body.
func writeStoreError(w http.ResponseWriter, err error) {
	var lerr *meter.LimitError
	switch {
	case errors.As(err, &lerr):
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":  "limit_exceeded",
			"metric": string(lerr.Metric),
			"kind":   string(lerr.Kind),
		})
	case errors.Is(err, meter.ErrSubscriptionInactive):
		writeError(w, http.StatusPaymentRequired, "subscription inactive")
	case errors.Is(err, store.ErrAssessmentNotFound),
		errors.Is(err, store.ErrOrganizationNotFound),
		errors.Is(err, store.ErrInviteNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrInviteUsed):
		writeError(w, http.StatusConflict, "invite already accepted")
	case errors.Is(err, store.ErrOrganizationExists):
		writeError(w, http.StatusConflict, "slug already in use")
	case errors.Is(err, store.ErrMembershipExists):
		writeError(w, http.StatusConflict, "already a member")
	case errors.Is(err, auth.ErrPermissionDenied):
		writeForbidden(w)
	case store.IsBindError(err):
		writeForbidden(w)
	default:
		log.Error().Err(err).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
