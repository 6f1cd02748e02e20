package audit

import (
	"context"

	"github.com/avaliahq/tenancy/internal/models"
	"github.com/avaliahq/tenancy/internal/store"
	"github.com/rs/zerolog"
)

// StoreSink persists entries to the audit store. This is the sink of record;
// the others are fan-out.
type StoreSink struct {
	store store.AuditStore
}

// NewStoreSink creates a sink writing to the given audit store.
func NewStoreSink(s store.AuditStore) *StoreSink {
	return &StoreSink{store: s}
}

func (s *StoreSink) Write(ctx context.Context, entry *models.AuditEntry) error {
	return s.store.Append(ctx, entry)
}

// LogSink mirrors entries into the structured log, which makes the audit
// trail visible in development and in log aggregation without querying the
// store.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink writing to the given zerolog logger.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Write(_ context.Context, entry *models.AuditEntry) error {
	evt := s.logger.Info().
		Str("audit_id", entry.ID.String()).
		Time("occurred_at", entry.Time).
		Str("principal", entry.Principal).
		Str("action", entry.Action).
		Str("source", entry.Source).
		Str("outcome", string(entry.Outcome))

	if entry.OrganizationID != nil {
		evt = evt.Str("organization_id", entry.OrganizationID.String())
	}
	if entry.ClientIP != "" {
		evt = evt.Str("client_ip", entry.ClientIP)
	}

	evt.Msg("audit")
	return nil
}
