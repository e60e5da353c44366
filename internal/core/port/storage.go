package port

import "context"

// Tx is an open transaction on one physical storage pool. Implementations own
// the concrete driver transaction; the import pipeline only commits or rolls
// it back and threads it through the identity primitives.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// StorageHandle is a transactional connection bound to one physical storage
// pool, shared by every tenant whose configuration maps to that pool.
type StorageHandle interface {
	PoolID() string
	Begin(ctx context.Context) (Tx, error)
	Close()
}

// StoragePools caches one storage handle per physical pool for the duration of
// a processing cycle. A pool set is exclusively owned by the batch worker
// executing the cycle and must never be shared across concurrent cycles.
type StoragePools interface {
	// Get returns the cached handle for the tenant's resolved pool,
	// opening and initializing one on first access.
	Get(ctx context.Context, tenantID string) (StorageHandle, error)
	// CloseAll closes and forgets every cached handle.
	CloseAll()
}
