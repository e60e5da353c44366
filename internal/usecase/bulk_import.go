package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/arklim/social-platform-identity/internal/core/domain"
	"github.com/arklim/social-platform-identity/internal/core/port"
	"github.com/arklim/social-platform-identity/internal/infra/telemetry"
	"github.com/arklim/social-platform-identity/internal/repository"
)

const tracerName = "bulkimport"

// BatchRunner drains one bounded batch of staged records for an application.
type BatchRunner interface {
	RunOnce(ctx context.Context, appID string, batchSize int) (int, error)
}

// ImportError tags a pipeline failure with the staged record it belongs to, so
// batch-level failures can be attributed back to individual records.
type ImportError struct {
	RecordID string
	Err      error
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("import record %s: %v", e.RecordID, e.Err)
}

func (e *ImportError) Unwrap() error {
	return e.Err
}

// groupOutcome is the result of one attempt at a pool group's transaction.
type groupOutcome int

const (
	groupCommitted groupOutcome = iota
	// groupRetry: the storage engine aborted the transaction (serialization
	// failure or deadlock); re-run the same group immediately.
	groupRetry
	// groupDeferred: transient storage failure; leave the records NEW so the
	// next cycle retries them.
	groupDeferred
	// groupFailed: genuine domain failure; mark the records FAILED.
	groupFailed
)

// BulkImportService drives the bulk user import pipeline: it validates staged
// records, partitions them by storage pool, imports each pool group inside one
// transaction, and persists per-record outcomes.
type BulkImportService struct {
	staging  port.StagingStore
	identity port.IdentityStore
	registry port.TenantRegistry
	newPools func() port.StoragePools
	hasher   port.PasswordHasher
	events   port.EventPublisher
	logger   *zap.Logger
	metrics  *telemetry.ImportMetrics

	skipValidation bool
}

// NewBulkImportService constructs the batch worker. newPools must return a
// fresh pool set per call: each processing cycle exclusively owns its handles.
func NewBulkImportService(
	staging port.StagingStore,
	identity port.IdentityStore,
	registry port.TenantRegistry,
	newPools func() port.StoragePools,
	hasher port.PasswordHasher,
	events port.EventPublisher,
	logger *zap.Logger,
) *BulkImportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BulkImportService{
		staging:  staging,
		identity: identity,
		registry: registry,
		newPools: newPools,
		hasher:   hasher,
		events:   events,
		logger:   logger,
	}
}

// WithMetrics attaches Prometheus collectors for pipeline observability.
func (s *BulkImportService) WithMetrics(metrics *telemetry.ImportMetrics) *BulkImportService {
	s.metrics = metrics
	return s
}

// WithValidationDisabled skips the canonical re-derivation step. Only tests
// that stage already-derived records should use this.
func (s *BulkImportService) WithValidationDisabled() *BulkImportService {
	s.skipValidation = true
	return s
}

// RunOnce fetches the next pending batch for the application and processes it.
// It returns the number of records fetched so callers can tell a drained
// staging table from a full batch.
func (s *BulkImportService) RunOnce(ctx context.Context, appID string, batchSize int) (int, error) {
	users, err := s.staging.FetchForProcessing(ctx, appID, batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch staged users: %w", err)
	}
	if len(users) == 0 {
		return 0, nil
	}

	if err := s.ProcessBatch(ctx, appID, users); err != nil {
		return len(users), err
	}
	return len(users), nil
}

// ProcessBatch imports one bounded batch of staged records. Per-record
// outcomes are persisted as side effects; the caller proceeds to the next
// batch regardless.
func (s *BulkImportService) ProcessBatch(ctx context.Context, appID string, users []domain.StagedUser) error {
	if len(users) == 0 {
		return nil
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "bulk_import.process_batch")
	defer span.End()

	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.BatchDuration.Observe(time.Since(start).Seconds())
		}
	}()

	if !s.skipValidation {
		derived, failures := s.validateBatch(users)
		if len(failures) > 0 {
			// Validation failure short-circuits import: no storage mutation
			// for any record in the batch.
			messages := make(map[string]string, len(users))
			for _, user := range users {
				if reason, ok := failures[user.ID]; ok {
					messages[user.ID] = reason
				} else {
					messages[user.ID] = "batch rejected: another record in the batch failed validation"
				}
			}
			s.markFailed(ctx, appID, messages)
			return nil
		}
		users = derived
	}

	groups, unroutable := s.partition(users)
	if len(unroutable) > 0 {
		s.markFailed(ctx, appID, unroutable)
	}

	pools := s.newPools()
	defer pools.CloseAll()

	for _, group := range groups {
		s.processGroup(ctx, appID, pools, group)
	}

	return nil
}

// validateBatch re-derives every record from its canonical form. It returns
// the derived records and, per failing record id, the validation reason.
func (s *BulkImportService) validateBatch(users []domain.StagedUser) ([]domain.StagedUser, map[string]string) {
	derived := make([]domain.StagedUser, 0, len(users))
	failures := make(map[string]string)

	for _, user := range users {
		rederived, err := domain.Rederive(user)
		if err != nil {
			failures[user.ID] = err.Error()
			continue
		}
		rederived.ID = user.ID
		derived = append(derived, rederived)
	}

	if len(failures) > 0 {
		return nil, failures
	}
	return derived, nil
}

// poolGroup is the subset of a batch whose records share a home storage pool,
// processed as one transaction.
type poolGroup struct {
	poolID     string
	homeTenant string
	records    []*domain.StagedUser
}

func (g *poolGroup) recordIDs() []string {
	ids := make([]string, len(g.records))
	for i, rec := range g.records {
		ids[i] = rec.ID
	}
	return ids
}

// partition groups records by the storage pool of each record's home tenant.
// Records whose home tenant resolves to no pool are returned separately with
// their failure messages.
func (s *BulkImportService) partition(users []domain.StagedUser) ([]*poolGroup, map[string]string) {
	groups := make([]*poolGroup, 0)
	byPool := make(map[string]*poolGroup)
	unroutable := make(map[string]string)

	for i := range users {
		user := &users[i]
		tenantID := user.HomeTenantID()
		poolID, err := s.registry.PoolID(tenantID)
		if err != nil {
			unroutable[user.ID] = fmt.Sprintf("cannot resolve storage for tenant %q: %v", tenantID, err)
			continue
		}

		group, ok := byPool[poolID]
		if !ok {
			group = &poolGroup{poolID: poolID, homeTenant: tenantID}
			byPool[poolID] = group
			groups = append(groups, group)
		}
		group.records = append(group.records, user)
	}

	if len(unroutable) == 0 {
		return groups, nil
	}
	return groups, unroutable
}

// processGroup drives one pool group to a terminal outcome, re-running it on
// transaction conflicts.
func (s *BulkImportService) processGroup(ctx context.Context, appID string, pools port.StoragePools, group *poolGroup) {
	for {
		outcome, err := s.runGroup(ctx, appID, pools, group)

		switch outcome {
		case groupCommitted:
			s.deleteImported(ctx, appID, group.recordIDs())
			if s.metrics != nil {
				s.metrics.UsersImported.Add(float64(len(group.records)))
			}
			s.publishBatchImported(ctx, appID, group)
			return

		case groupRetry:
			if ctx.Err() != nil {
				s.deferGroup(ctx, appID, group, ctx.Err())
				return
			}
			if s.metrics != nil {
				s.metrics.TxConflicts.Inc()
			}
			s.logger.Info("transaction conflict, retrying pool group",
				zap.String("app_id", appID),
				zap.String("pool_id", group.poolID),
			)
			continue

		case groupDeferred:
			s.deferGroup(ctx, appID, group, err)
			return

		case groupFailed:
			messages := s.attributeFailure(err, group)
			s.markFailed(ctx, appID, messages)
			s.publishRecordFailures(ctx, appID, messages)
			s.logger.Warn("pool group failed",
				zap.String("app_id", appID),
				zap.String("pool_id", group.poolID),
				zap.Int("records", len(group.records)),
				zap.Error(err),
			)
			return
		}
	}
}

// runGroup attempts one transaction over the whole pool group.
func (s *BulkImportService) runGroup(ctx context.Context, appID string, pools port.StoragePools, group *poolGroup) (groupOutcome, error) {
	handle, err := pools.Get(ctx, group.homeTenant)
	if err != nil {
		return classifyFailure(err), fmt.Errorf("acquire pool %s: %w", group.poolID, err)
	}

	tx, err := handle.Begin(ctx)
	if err != nil {
		return classifyFailure(err), fmt.Errorf("begin transaction on pool %s: %w", group.poolID, err)
	}

	for _, record := range group.records {
		if err := s.importUser(ctx, tx, appID, record); err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				s.logger.Warn("rollback failed", zap.String("pool_id", group.poolID), zap.Error(rbErr))
			}
			return classifyFailure(err), err
		}
	}

	// Commit responsibility is explicit here: the handle never auto-commits.
	if err := tx.Commit(ctx); err != nil {
		return classifyFailure(err), fmt.Errorf("commit pool %s: %w", group.poolID, err)
	}

	return groupCommitted, nil
}

// classifyFailure decides the branch taken for a failed group attempt. The cause is
// unwrapped through the record attribution layer so a transient storage error
// nested inside a pipeline failure is still recognized as transient. Context
// cancellation is never a domain failure: the records stay NEW and a later
// cycle retries them.
func classifyFailure(err error) groupOutcome {
	switch {
	case errors.Is(err, repository.ErrTxConflict):
		return groupRetry
	case errors.Is(err, repository.ErrStorageUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return groupDeferred
	default:
		return groupFailed
	}
}

// deleteImported removes the now-imported staged rows. The import itself has
// already committed, so deletion is retried until it succeeds; an abandoned
// row would be re-imported as a duplicate on the next cycle. Deletion is
// idempotent, so retrying after a partial failure is safe.
func (s *BulkImportService) deleteImported(ctx context.Context, appID string, ids []string) {
	for attempt := 1; ; attempt++ {
		err := s.staging.Delete(ctx, appID, ids)
		if err == nil {
			return
		}

		s.logger.Error("delete imported staged rows failed, retrying",
			zap.String("app_id", appID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if ctx.Err() != nil {
			// Process shutdown. The rows stay claimed and are reclaimed as
			// stale by a later fetch.
			s.logger.Error("abandoning staged row cleanup on shutdown",
				zap.String("app_id", appID),
				zap.Strings("ids", ids),
			)
			return
		}
	}
}

// deferGroup leaves the group's records NEW for the next cycle and emits an
// observability event. Transient failures are never marked FAILED.
func (s *BulkImportService) deferGroup(ctx context.Context, appID string, group *poolGroup, cause error) {
	if s.metrics != nil {
		s.metrics.StorageDeferrals.Inc()
	}

	ids := group.recordIDs()
	if err := s.staging.ResetToNew(ctx, appID, ids); err != nil {
		s.logger.Warn("reset staged rows to NEW failed, rows will be reclaimed as stale",
			zap.String("app_id", appID),
			zap.Error(err),
		)
	}

	s.logger.Warn("storage unavailable, deferring pool group to next cycle",
		zap.String("app_id", appID),
		zap.String("pool_id", group.poolID),
		zap.Int("records", len(group.records)),
		zap.Error(cause),
	)

	if s.events == nil {
		return
	}
	event := domain.StorageDegradedEvent{
		EventID:    uuid.NewString(),
		AppID:      appID,
		PoolID:     group.poolID,
		RecordIDs:  ids,
		Cause:      fmt.Sprintf("%v", cause),
		ObservedAt: time.Now().UTC(),
	}
	if err := s.events.PublishStorageDegraded(ctx, event); err != nil {
		s.logger.Warn("publish storage degraded event failed", zap.Error(err))
	}
}

// attributeFailure maps a group failure back to per-record messages. A tagged
// ImportError names the offending record; anything else is broadcast to every
// record in the aborted group.
func (s *BulkImportService) attributeFailure(err error, group *poolGroup) map[string]string {
	messages := make(map[string]string, len(group.records))

	var importErr *ImportError
	if errors.As(err, &importErr) {
		messages[importErr.RecordID] = failureMessage(importErr.Err)
		for _, record := range group.records {
			if record.ID == importErr.RecordID {
				continue
			}
			messages[record.ID] = fmt.Sprintf("import aborted: record %s in the same storage pool failed", importErr.RecordID)
		}
		return messages
	}

	broadcast := failureMessage(err)
	for _, record := range group.records {
		messages[record.ID] = broadcast
	}
	return messages
}

// failureMessage translates a pipeline failure into the human-readable message
// persisted on the record.
func failureMessage(err error) string {
	conflicts := []error{
		domain.ErrEmailAlreadyExists,
		domain.ErrPhoneAlreadyExists,
		domain.ErrThirdPartyUserExists,
		domain.ErrExternalIDAlreadyExists,
		domain.ErrAccountsAlreadyLinked,
		domain.ErrNotPrimaryUser,
		domain.ErrTotpDeviceExists,
	}
	for _, conflict := range conflicts {
		if errors.Is(err, conflict) {
			return conflict.Error()
		}
	}

	var roleErr *domain.UnknownRoleError
	if errors.As(err, &roleErr) {
		return roleErr.Error()
	}
	var recipeErr *domain.UnknownRecipeError
	if errors.As(err, &recipeErr) {
		return recipeErr.Error()
	}
	var invariantErr *domain.InvariantError
	if errors.As(err, &invariantErr) {
		return invariantErr.Error()
	}

	return err.Error()
}

// markFailed persists FAILED statuses in a separate, unconditionally committed
// transaction on the staging store.
func (s *BulkImportService) markFailed(ctx context.Context, appID string, messages map[string]string) {
	if len(messages) == 0 {
		return
	}

	if s.metrics != nil {
		s.metrics.UsersFailed.Add(float64(len(messages)))
	}

	if err := s.staging.UpdateStatus(ctx, appID, messages); err != nil {
		s.logger.Error("persist FAILED statuses failed",
			zap.String("app_id", appID),
			zap.Int("records", len(messages)),
			zap.Error(err),
		)
	}
}

func (s *BulkImportService) publishBatchImported(ctx context.Context, appID string, group *poolGroup) {
	if s.events == nil {
		return
	}
	event := domain.BatchImportedEvent{
		EventID:       uuid.NewString(),
		AppID:         appID,
		PoolID:        group.poolID,
		ImportedCount: len(group.records),
		ImportedAt:    time.Now().UTC(),
	}
	if err := s.events.PublishBatchImported(ctx, event); err != nil {
		s.logger.Warn("publish batch imported event failed", zap.Error(err))
	}
}

func (s *BulkImportService) publishRecordFailures(ctx context.Context, appID string, messages map[string]string) {
	if s.events == nil {
		return
	}
	now := time.Now().UTC()
	for recordID, reason := range messages {
		event := domain.RecordFailedEvent{
			EventID:  uuid.NewString(),
			AppID:    appID,
			RecordID: recordID,
			Reason:   reason,
			FailedAt: now,
		}
		if err := s.events.PublishRecordFailed(ctx, event); err != nil {
			s.logger.Warn("publish record failed event failed", zap.Error(err))
		}
	}
}

var _ BatchRunner = (*BulkImportService)(nil)
