package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/social-platform-identity/internal/core/domain"
	"github.com/arklim/social-platform-identity/internal/core/port"
	"github.com/arklim/social-platform-identity/internal/infra/config"
)

const schemaVersion = "1.0"

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	AppID     string           `json:"app_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, appID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	id := eventID
	if id == "" {
		id = uuid.NewString()
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}

	if span := trace.SpanFromContext(ctx); span != nil {
		if sc := span.SpanContext(); sc.IsValid() {
			metadata["trace_id"] = sc.TraceID().String()
		}
	}

	envelope := eventEnvelope{
		EventID:   id,
		EventType: eventType,
		AppID:     appID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case p.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishBatchImported publishes identity.bulk_import.batch.imported events.
func (p *EventPublisher) PublishBatchImported(ctx context.Context, event domain.BatchImportedEvent) error {
	payload := struct {
		AppID         string         `json:"app_id"`
		PoolID        string         `json:"pool_id"`
		ImportedCount int            `json:"imported_count"`
		ImportedAt    time.Time      `json:"imported_at"`
		Metadata      map[string]any `json:"metadata,omitempty"`
	}{
		AppID:         event.AppID,
		PoolID:        event.PoolID,
		ImportedCount: event.ImportedCount,
		ImportedAt:    event.ImportedAt.UTC(),
		Metadata:      event.Metadata,
	}

	return p.publish(ctx, event.EventID, "identity.bulk_import.batch.imported", event.AppID, event.ImportedAt, payload)
}

// PublishRecordFailed publishes identity.bulk_import.record.failed events.
func (p *EventPublisher) PublishRecordFailed(ctx context.Context, event domain.RecordFailedEvent) error {
	payload := struct {
		AppID    string         `json:"app_id"`
		RecordID string         `json:"record_id"`
		Reason   string         `json:"reason"`
		FailedAt time.Time      `json:"failed_at"`
		Metadata map[string]any `json:"metadata,omitempty"`
	}{
		AppID:    event.AppID,
		RecordID: event.RecordID,
		Reason:   event.Reason,
		FailedAt: event.FailedAt.UTC(),
		Metadata: event.Metadata,
	}

	return p.publish(ctx, event.EventID, "identity.bulk_import.record.failed", event.AppID, event.FailedAt, payload)
}

// PublishStorageDegraded publishes identity.bulk_import.storage.degraded events.
func (p *EventPublisher) PublishStorageDegraded(ctx context.Context, event domain.StorageDegradedEvent) error {
	payload := struct {
		AppID      string         `json:"app_id"`
		PoolID     string         `json:"pool_id"`
		RecordIDs  []string       `json:"record_ids"`
		Cause      string         `json:"cause"`
		ObservedAt time.Time      `json:"observed_at"`
		Metadata   map[string]any `json:"metadata,omitempty"`
	}{
		AppID:      event.AppID,
		PoolID:     event.PoolID,
		RecordIDs:  event.RecordIDs,
		Cause:      event.Cause,
		ObservedAt: event.ObservedAt.UTC(),
		Metadata:   event.Metadata,
	}

	return p.publish(ctx, event.EventID, "identity.bulk_import.storage.degraded", event.AppID, event.ObservedAt, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
