package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/avaliahq/tenancy/internal/models"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// DefaultKafkaTopic is the audit event stream consumed by downstream
// compliance tooling.
const DefaultKafkaTopic = "tenancy.audit"

// kafkaWriter is the subset of kafka.Writer the sink needs, split out so
// tests can inject a fake.
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes audit entries as JSON events. Messages are keyed by
// organization so one tenant's trail lands in order on one partition;
// unresolved entries share the empty key.
type KafkaSink struct {
	writer kafkaWriter
}

// NewKafkaSink creates a sink publishing to the given brokers and topic.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 100 * time.Millisecond,
		},
	}
}

// auditEvent is the wire shape of one audit entry.
type auditEvent struct {
	ID             uuid.UUID         `json:"id"`
	OccurredAt     time.Time         `json:"occurred_at"`
	OrganizationID *uuid.UUID        `json:"organization_id,omitempty"`
	Principal      string            `json:"principal,omitempty"`
	Action         string            `json:"action"`
	Source         string            `json:"source,omitempty"`
	Outcome        string            `json:"outcome"`
	ClientIP       string            `json:"client_ip,omitempty"`
	UserAgent      string            `json:"user_agent,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

func (s *KafkaSink) Write(ctx context.Context, entry *models.AuditEntry) error {
	value, err := json.Marshal(auditEvent{
		ID:             entry.ID,
		OccurredAt:     entry.Time,
		OrganizationID: entry.OrganizationID,
		Principal:      entry.Principal,
		Action:         entry.Action,
		Source:         entry.Source,
		Outcome:        string(entry.Outcome),
		ClientIP:       entry.ClientIP,
		UserAgent:      entry.UserAgent,
		Metadata:       entry.Metadata,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	var key []byte
	if entry.OrganizationID != nil {
		key = []byte(entry.OrganizationID.String())
	}

	if err := s.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: value}); err != nil {
		return fmt.Errorf("failed to publish audit event: %w", err)
	}

	return nil
}

// Close flushes and closes the underlying writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
