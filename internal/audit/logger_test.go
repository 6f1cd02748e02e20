package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/avaliahq/tenancy/internal/models"
	"github.com/avaliahq/tenancy/internal/store/memory"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

func TestLoggerRecordAndDrain(t *testing.T) {
	audits := memory.NewAuditStore()
	logger := NewLogger(NewStoreSink(audits))

	orgID := uuid.New()
	for i := 0; i < 10; i++ {
		logger.Record(context.Background(), &models.AuditEntry{
			OrganizationID: &orgID,
			Principal:      "user-1",
			Action:         models.AuditActionBind,
			Source:         "path",
			Outcome:        models.AuditOutcomeSuccess,
		})
	}

	require.NoError(t, logger.Close())

	entries, err := audits.List(context.Background(), &orgID, 100)
	require.NoError(t, err)
	require.Len(t, entries, 10)

	// Record fills in identity fields.
	require.NotEqual(t, uuid.Nil, entries[0].ID)
	require.False(t, entries[0].Time.IsZero())
}

func TestLoggerRecordNeverBlocks(t *testing.T) {
	// A sink that never returns until released, so the buffer fills.
	release := make(chan struct{})
	logger := NewLogger(sinkFunc(func(ctx context.Context, _ *models.AuditEntry) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}))
	defer close(release)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < defaultBufferSize*2; i++ {
			logger.Record(context.Background(), &models.AuditEntry{
				Action:  models.AuditActionResolveDenied,
				Outcome: models.AuditOutcomeDenied,
			})
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Record blocked on a full buffer")
	}
}

func TestLoggerRecordAfterClose(t *testing.T) {
	audits := memory.NewAuditStore()
	logger := NewLogger(NewStoreSink(audits))
	require.NoError(t, logger.Close())

	// Shutdown races in-flight requests; a late Record is dropped, not a
	// panic, and Close stays idempotent.
	logger.Record(context.Background(), &models.AuditEntry{
		Action:  models.AuditActionBind,
		Outcome: models.AuditOutcomeSuccess,
	})
	require.NoError(t, logger.Close())

	entries, err := audits.List(context.Background(), nil, 10)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestLoggerSinkFailureDoesNotStarveOthers(t *testing.T) {
	audits := memory.NewAuditStore()
	failing := sinkFunc(func(context.Context, *models.AuditEntry) error {
		return errors.New("sink down")
	})

	logger := NewLogger(failing, NewStoreSink(audits))
	logger.Record(context.Background(), &models.AuditEntry{
		Action:  models.AuditActionProvision,
		Outcome: models.AuditOutcomeSuccess,
	})
	require.NoError(t, logger.Close())

	entries, err := audits.List(context.Background(), nil, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestKafkaSinkKeysByOrganization(t *testing.T) {
	writer := &captureWriter{}
	sink := &KafkaSink{writer: writer}

	orgID := uuid.New()
	err := sink.Write(context.Background(), &models.AuditEntry{
		ID:             uuid.New(),
		Time:           time.Now().UTC(),
		OrganizationID: &orgID,
		Action:         models.AuditActionLimitExceeded,
		Outcome:        models.AuditOutcomeDenied,
		Metadata:       map[string]string{"metric": "assessments_started"},
	})
	require.NoError(t, err)

	err = sink.Write(context.Background(), &models.AuditEntry{
		ID:      uuid.New(),
		Time:    time.Now().UTC(),
		Action:  models.AuditActionResolveDenied,
		Outcome: models.AuditOutcomeDenied,
	})
	require.NoError(t, err)

	require.Len(t, writer.messages, 2)
	require.Equal(t, orgID.String(), string(writer.messages[0].Key))
	require.Empty(t, writer.messages[1].Key, "unresolved entries carry no key")

	var event auditEvent
	require.NoError(t, json.Unmarshal(writer.messages[0].Value, &event))
	require.Equal(t, models.AuditActionLimitExceeded, event.Action)
	require.Equal(t, "assessments_started", event.Metadata["metric"])
}

type sinkFunc func(ctx context.Context, entry *models.AuditEntry) error

func (f sinkFunc) Write(ctx context.Context, entry *models.AuditEntry) error {
	return f(ctx, entry)
}

type captureWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }
