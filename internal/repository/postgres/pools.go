package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/arklim/social-platform-identity/internal/core/port"
)

// PoolSet caches one open connection pool per physical storage pool for the
// duration of a processing cycle. Tenants sharing a database share a handle.
// A pool set is exclusively owned by the batch worker cycle that created it
// and is not safe for concurrent use.
type PoolSet struct {
	registry port.TenantRegistry
	logger   *zap.Logger
	handles  map[string]*PoolHandle
}

// NewPoolSet constructs an empty pool set. Handles open lazily on first Get.
func NewPoolSet(registry port.TenantRegistry, logger *zap.Logger) *PoolSet {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PoolSet{
		registry: registry,
		logger:   logger,
		handles:  make(map[string]*PoolHandle),
	}
}

// Get returns the cached handle for the tenant's resolved pool, creating and
// initializing one on first access.
func (s *PoolSet) Get(ctx context.Context, tenantID string) (port.StorageHandle, error) {
	poolID, err := s.registry.PoolID(tenantID)
	if err != nil {
		return nil, fmt.Errorf("resolve pool for tenant %s: %w", tenantID, err)
	}

	if handle, ok := s.handles[poolID]; ok {
		return handle, nil
	}

	dsn, err := s.registry.PoolDSN(poolID)
	if err != nil {
		return nil, fmt.Errorf("resolve dsn for pool %s: %w", poolID, err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, classifyError("open pool "+poolID, err)
	}

	handle := &PoolHandle{id: poolID, pool: pool}
	s.handles[poolID] = handle

	s.logger.Debug("storage pool opened", zap.String("pool_id", poolID))
	return handle, nil
}

// CloseAll closes and forgets every cached handle.
func (s *PoolSet) CloseAll() {
	for poolID, handle := range s.handles {
		handle.Close()
		delete(s.handles, poolID)
	}
}

// PoolHandle is a transactional connection bound to one physical pool.
type PoolHandle struct {
	id   string
	pool *pgxpool.Pool
}

// NewPoolHandle wraps an already-open pool, for callers that manage their own
// connection lifecycle.
func NewPoolHandle(id string, pool *pgxpool.Pool) *PoolHandle {
	return &PoolHandle{id: id, pool: pool}
}

// PoolID returns the pool identifier the handle is bound to.
func (h *PoolHandle) PoolID() string {
	return h.id
}

// Begin opens a transaction on the pool.
func (h *PoolHandle) Begin(ctx context.Context) (port.Tx, error) {
	tx, err := h.pool.Begin(ctx)
	if err != nil {
		return nil, classifyError("begin transaction", err)
	}
	return &PoolTx{tx: tx}, nil
}

// Close releases the underlying connection pool.
func (h *PoolHandle) Close() {
	h.pool.Close()
}

// PoolTx adapts a pgx transaction to port.Tx.
type PoolTx struct {
	tx pgx.Tx
}

// Commit commits the transaction.
func (t *PoolTx) Commit(ctx context.Context) error {
	return classifyError("commit transaction", t.tx.Commit(ctx))
}

// Rollback aborts the transaction. Rolling back an already-finished
// transaction is a no-op.
func (t *PoolTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return classifyError("rollback transaction", err)
	}
	return nil
}

// Pgx exposes the concrete transaction to the repositories in this package.
func (t *PoolTx) Pgx() pgx.Tx {
	return t.tx
}

var (
	_ port.StoragePools  = (*PoolSet)(nil)
	_ port.StorageHandle = (*PoolHandle)(nil)
	_ port.Tx            = (*PoolTx)(nil)
)
