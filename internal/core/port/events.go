package port

import (
	"context"

	"github.com/arklim/social-platform-identity/internal/core/domain"
)

// EventPublisher publishes import lifecycle events to the message bus.
type EventPublisher interface {
	PublishBatchImported(ctx context.Context, event domain.BatchImportedEvent) error
	PublishRecordFailed(ctx context.Context, event domain.RecordFailedEvent) error
	PublishStorageDegraded(ctx context.Context, event domain.StorageDegradedEvent) error
}
