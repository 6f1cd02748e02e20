package server

import (
	"context"
	"sync/atomic"

	"github.com/avaliahq/tenancy/internal/models"
	"github.com/avaliahq/tenancy/internal/store"
	"github.com/avaliahq/tenancy/internal/telemetry"
	"github.com/rs/zerolog/log"
)

// Gate controls readiness based on schema-level policy verification. The
// process serves tenant traffic only while the last verification passed; a
// runtime policy violation trips the gate and readiness stays down until a
// re-verification comes back clean.
type Gate struct {
	verifier store.PolicyVerifier
	audits   auditRecorder
	ready    atomic.Bool
}

type auditRecorder interface {
	Record(ctx context.Context, entry *models.AuditEntry)
}

// NewGate creates a closed gate. Verify must pass before the process reports
// ready.
func NewGate(verifier store.PolicyVerifier, audits auditRecorder) *Gate {
	return &Gate{
		verifier: verifier,
		audits:   audits,
	}
}

// Verify re-checks the schema-level rules and opens or closes the gate on
// the result.
func (g *Gate) Verify(ctx context.Context) error {
	if err := g.verifier.Verify(ctx); err != nil {
		g.ready.Store(false)
		return err
	}
	g.ready.Store(true)
	return nil
}

// Ready reports whether tenant traffic may be served.
func (g *Gate) Ready() bool {
	return g.ready.Load()
}

// Trip closes the gate after a runtime policy violation. Serving continues
// for in-flight work, but readiness goes down and stays down until Verify
// passes again.
func (g *Gate) Trip(ctx context.Context, cause error) {
	g.ready.Store(false)

	telemetry.GetMetrics().PolicyViolationsTotal.Add(ctx, 1)
	log.Error().Err(cause).Msg("Policy violation observed, serving gate closed")

	g.audits.Record(ctx, &models.AuditEntry{
		Action:  models.AuditActionPolicyViolation,
		Source:  "system",
		Outcome: models.AuditOutcomeError,
		Metadata: map[string]string{
			"cause": cause.Error(),
		},
	})
}
