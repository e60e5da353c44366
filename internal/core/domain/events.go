package domain

import "time"

// BatchImportedEvent represents the payload for identity.bulk_import.batch.imported messages.
type BatchImportedEvent struct {
	EventID       string
	AppID         string
	PoolID        string
	ImportedCount int
	ImportedAt    time.Time
	Metadata      map[string]any
}

// RecordFailedEvent represents the payload for identity.bulk_import.record.failed messages.
type RecordFailedEvent struct {
	EventID  string
	AppID    string
	RecordID string
	Reason   string
	FailedAt time.Time
	Metadata map[string]any
}

// StorageDegradedEvent represents the payload for identity.bulk_import.storage.degraded
// messages, emitted when a transient storage failure defers a pool group to the
// next processing cycle.
type StorageDegradedEvent struct {
	EventID    string
	AppID      string
	PoolID     string
	RecordIDs  []string
	Cause      string
	ObservedAt time.Time
	Metadata   map[string]any
}
