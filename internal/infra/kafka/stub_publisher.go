package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/social-platform-identity/internal/core/domain"
	"github.com/arklim/social-platform-identity/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Useful for development environments.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, appID string, at time.Time, payload any) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	p.logger.Info("Stub event published",
		zap.String("event_type", eventType),
		zap.String("app_id", appID),
		zap.Time("timestamp", at.UTC()),
		zap.Any("payload", payload),
	)
}

// PublishBatchImported logs identity.bulk_import.batch.imported events.
func (p *StubPublisher) PublishBatchImported(_ context.Context, event domain.BatchImportedEvent) error {
	payload := map[string]any{
		"pool_id":        event.PoolID,
		"imported_count": event.ImportedCount,
		"imported_at":    event.ImportedAt,
		"metadata":       event.Metadata,
	}
	p.logEvent("identity.bulk_import.batch.imported", event.AppID, event.ImportedAt, payload)
	return nil
}

// PublishRecordFailed logs identity.bulk_import.record.failed events.
func (p *StubPublisher) PublishRecordFailed(_ context.Context, event domain.RecordFailedEvent) error {
	payload := map[string]any{
		"record_id": event.RecordID,
		"reason":    event.Reason,
		"failed_at": event.FailedAt,
		"metadata":  event.Metadata,
	}
	p.logEvent("identity.bulk_import.record.failed", event.AppID, event.FailedAt, payload)
	return nil
}

// PublishStorageDegraded logs identity.bulk_import.storage.degraded events.
func (p *StubPublisher) PublishStorageDegraded(_ context.Context, event domain.StorageDegradedEvent) error {
	payload := map[string]any{
		"pool_id":     event.PoolID,
		"record_ids":  event.RecordIDs,
		"cause":       event.Cause,
		"observed_at": event.ObservedAt,
		"metadata":    event.Metadata,
	}
	p.logEvent("identity.bulk_import.storage.degraded", event.AppID, event.ObservedAt, payload)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
