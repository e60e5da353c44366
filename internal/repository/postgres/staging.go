package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/arklim/social-platform-identity/internal/core/domain"
	"github.com/arklim/social-platform-identity/internal/core/port"
	"github.com/arklim/social-platform-identity/internal/repository"
)

// staleClaimAfter is how long a PROCESSING claim may sit before a fetch
// reclaims the row. Covers workers that died between claiming and finishing.
const staleClaimAfter = 10 * time.Minute

type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// stagingPool is satisfied by *pgxpool.Pool and by pool mocks in tests.
type stagingPool interface {
	pgExecutor
	Begin(ctx context.Context) (pgx.Tx, error)
}

// StagingRepository implements port.StagingStore on the application's home
// storage. Records are kept in canonical JSON form, so fetching them back is
// exactly the re-derivation the batch worker validates against.
type StagingRepository struct {
	pool    stagingPool
	builder squirrel.StatementBuilderType
}

// NewStagingRepository wires a PostgreSQL-backed staging store.
func NewStagingRepository(pool stagingPool) *StagingRepository {
	return &StagingRepository{
		pool:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Add stages the provided records with status NEW and returns their ids.
func (r *StagingRepository) Add(ctx context.Context, appID string, users []domain.StagedUser) ([]string, error) {
	if len(users) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	query := r.builder.Insert("auth.bulk_import_users").
		Columns("app_id", "id", "raw", "status", "created_at", "updated_at")

	ids := make([]string, 0, len(users))
	for _, user := range users {
		id := user.ID
		if id == "" {
			id = uuid.NewString()
		}
		user.ID = id
		user.Status = domain.StagedUserStatusNew
		user.ErrorMessage = nil

		raw, err := json.Marshal(user)
		if err != nil {
			return nil, fmt.Errorf("marshal staged user %s: %w", id, err)
		}

		query = query.Values(appID, id, raw, domain.StagedUserStatusNew, now, now)
		ids = append(ids, id)
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert staged users sql: %w", err)
	}

	if _, err := r.pool.Exec(ctx, stmt, args...); err != nil {
		return nil, classifyError("insert staged users", err)
	}

	return ids, nil
}

// GetByID returns one staged record.
func (r *StagingRepository) GetByID(ctx context.Context, appID, id string) (*domain.StagedUser, error) {
	stmt, args, err := r.builder.Select("id", "raw", "status", "error_message").
		From("auth.bulk_import_users").
		Where(squirrel.Eq{"app_id": appID, "id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select staged user sql: %w", err)
	}

	user, err := scanStagedUser(r.pool.QueryRow(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, classifyError("select staged user", err)
	}
	return user, nil
}

// List returns staged records matching the filter, oldest first.
func (r *StagingRepository) List(ctx context.Context, appID string, filter port.StagedUserFilter) ([]domain.StagedUser, error) {
	query := r.builder.Select("id", "raw", "status", "error_message").
		From("auth.bulk_import_users").
		Where(squirrel.Eq{"app_id": appID}).
		OrderBy("created_at ASC")

	if filter.Status != "" {
		query = query.Where(squirrel.Eq{"status": filter.Status})
	}
	if filter.Limit > 0 {
		query = query.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		query = query.Offset(uint64(filter.Offset))
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list staged users sql: %w", err)
	}

	rows, err := r.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, classifyError("query staged users", err)
	}
	defer rows.Close()

	users := make([]domain.StagedUser, 0)
	for rows.Next() {
		user, err := scanStagedUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan staged user: %w", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError("iterate staged users", err)
	}

	return users, nil
}

// FetchForProcessing claims up to limit pending records, marking them
// PROCESSING. Rows whose previous claim went stale are reclaimed. SKIP LOCKED
// keeps overlapping fetches from handing out the same rows.
func (r *StagingRepository) FetchForProcessing(ctx context.Context, appID string, limit int) ([]domain.StagedUser, error) {
	if limit <= 0 {
		return nil, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, classifyError("begin fetch transaction", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	staleBefore := time.Now().UTC().Add(-staleClaimAfter)
	stmt, args, err := r.builder.Select("id", "raw", "status", "error_message").
		From("auth.bulk_import_users").
		Where(squirrel.Eq{"app_id": appID}).
		Where(squirrel.Or{
			squirrel.Eq{"status": domain.StagedUserStatusNew},
			squirrel.And{
				squirrel.Eq{"status": domain.StagedUserStatusProcessing},
				squirrel.Lt{"updated_at": staleBefore},
			},
		}).
		OrderBy("created_at ASC").
		Limit(uint64(limit)).
		Suffix("FOR UPDATE SKIP LOCKED").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build fetch staged users sql: %w", err)
	}

	rows, err := tx.Query(ctx, stmt, args...)
	if err != nil {
		return nil, classifyError("query staged users for processing", err)
	}

	users := make([]domain.StagedUser, 0, limit)
	for rows.Next() {
		user, err := scanStagedUser(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan staged user: %w", err)
		}
		users = append(users, *user)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, classifyError("iterate staged users", err)
	}

	if len(users) == 0 {
		return nil, tx.Commit(ctx)
	}

	ids := make([]string, len(users))
	for i, user := range users {
		ids[i] = user.ID
	}

	stmt, args, err = r.builder.Update("auth.bulk_import_users").
		Set("status", domain.StagedUserStatusProcessing).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"app_id": appID, "id": ids}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build claim staged users sql: %w", err)
	}

	if _, err := tx.Exec(ctx, stmt, args...); err != nil {
		return nil, classifyError("claim staged users", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classifyError("commit fetch transaction", err)
	}

	for i := range users {
		users[i].Status = domain.StagedUserStatusProcessing
	}
	return users, nil
}

// Delete removes staged rows by id. Absent ids are skipped, so repeating the
// call is a no-op.
func (r *StagingRepository) Delete(ctx context.Context, appID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	stmt, args, err := r.builder.Delete("auth.bulk_import_users").
		Where(squirrel.Eq{"app_id": appID, "id": ids}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete staged users sql: %w", err)
	}

	if _, err := r.pool.Exec(ctx, stmt, args...); err != nil {
		return classifyError("delete staged users", err)
	}
	return nil
}

// DeleteInTx removes one staged row inside the caller's open transaction.
func (r *StagingRepository) DeleteInTx(ctx context.Context, tx port.Tx, appID, id string) error {
	pgxTx, err := pgxTxFrom(tx)
	if err != nil {
		return err
	}

	stmt, args, err := r.builder.Delete("auth.bulk_import_users").
		Where(squirrel.Eq{"app_id": appID, "id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete staged user sql: %w", err)
	}

	if _, err := pgxTx.Exec(ctx, stmt, args...); err != nil {
		return classifyError("delete staged user", err)
	}
	return nil
}

// UpdateStatus marks each record FAILED with its message inside one
// unconditionally committed transaction.
func (r *StagingRepository) UpdateStatus(ctx context.Context, appID string, idToError map[string]string) error {
	if len(idToError) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return classifyError("begin status transaction", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	now := time.Now().UTC()
	for id, message := range idToError {
		stmt, args, err := r.builder.Update("auth.bulk_import_users").
			Set("status", domain.StagedUserStatusFailed).
			Set("error_message", message).
			Set("updated_at", now).
			Where(squirrel.Eq{"app_id": appID, "id": id}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build update staged status sql: %w", err)
		}
		if _, err := tx.Exec(ctx, stmt, args...); err != nil {
			return classifyError("update staged status", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return classifyError("commit status transaction", err)
	}
	return nil
}

// ResetToNew returns claimed records to NEW so the next cycle retries them.
func (r *StagingRepository) ResetToNew(ctx context.Context, appID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	stmt, args, err := r.builder.Update("auth.bulk_import_users").
		Set("status", domain.StagedUserStatusNew).
		Set("error_message", nil).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"app_id": appID, "id": ids}).
		Where(squirrel.Eq{"status": domain.StagedUserStatusProcessing}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build reset staged users sql: %w", err)
	}

	if _, err := r.pool.Exec(ctx, stmt, args...); err != nil {
		return classifyError("reset staged users", err)
	}
	return nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanStagedUser(row rowScanner) (*domain.StagedUser, error) {
	var (
		id           string
		raw          []byte
		status       string
		errorMessage *string
	)
	if err := row.Scan(&id, &raw, &status, &errorMessage); err != nil {
		return nil, err
	}

	var user domain.StagedUser
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("unmarshal staged user %s: %w", id, err)
	}

	user.ID = id
	user.Status = domain.StagedUserStatus(status)
	user.ErrorMessage = errorMessage
	return &user, nil
}

var _ port.StagingStore = (*StagingRepository)(nil)
