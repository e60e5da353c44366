package port

import (
	"context"

	"github.com/arklim/social-platform-identity/internal/core/domain"
)

// StagedUserFilter narrows List results.
type StagedUserFilter struct {
	Status domain.StagedUserStatus
	Limit  int
	Offset int
}

// StagingStore persists staged import records on the application's home
// storage.
type StagingStore interface {
	// Add stages the provided records with status NEW and returns their ids.
	Add(ctx context.Context, appID string, users []domain.StagedUser) ([]string, error)

	// List returns staged records matching the filter, oldest first.
	List(ctx context.Context, appID string, filter StagedUserFilter) ([]domain.StagedUser, error)

	// GetByID returns one staged record, or repository.ErrNotFound.
	GetByID(ctx context.Context, appID, id string) (*domain.StagedUser, error)

	// FetchForProcessing claims up to limit NEW records, marking them
	// PROCESSING so overlapping fetches do not hand out the same rows.
	FetchForProcessing(ctx context.Context, appID string, limit int) ([]domain.StagedUser, error)

	// Delete removes staged rows by id. Deleting an absent id is a no-op, so
	// the call is safe to retry indefinitely.
	Delete(ctx context.Context, appID string, ids []string) error

	// DeleteInTx removes one staged row inside the caller's open transaction.
	DeleteInTx(ctx context.Context, tx Tx, appID, id string) error

	// UpdateStatus marks each record FAILED with its message, inside a
	// separate, unconditionally committed transaction.
	UpdateStatus(ctx context.Context, appID string, idToError map[string]string) error

	// ResetToNew returns claimed records to NEW so the next cycle retries them.
	ResetToNew(ctx context.Context, appID string, ids []string) error
}
