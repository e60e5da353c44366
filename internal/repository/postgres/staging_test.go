package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/arklim/social-platform-identity/internal/core/domain"
	"github.com/arklim/social-platform-identity/internal/repository"
)

func newStagingMock(t *testing.T) (pgxmock.PgxPoolIface, *StagingRepository) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgxmock pool: %v", err)
	}
	t.Cleanup(mock.Close)

	return mock, NewStagingRepository(mock)
}

func stagedRecord(id, email string) domain.StagedUser {
	return domain.StagedUser{
		ID: id,
		LoginMethods: []domain.LoginMethod{{
			RecipeKind:   domain.RecipeEmailPassword,
			TenantIDs:    []string{"public"},
			Email:        &email,
			PasswordHash: strRef("argon2id$v=19$m=65536,t=3,p=4$c2FsdA$aGFzaA"),
			TimeJoined:   1,
		}},
	}
}

func strRef(s string) *string { return &s }

func TestStagingRepository_AddStagesRecords(t *testing.T) {
	mock, repo := newStagingMock(t)

	mock.ExpectExec(`INSERT INTO auth\.bulk_import_users`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	ids, err := repo.Add(context.Background(), "public", []domain.StagedUser{
		stagedRecord("rec-1", "a@example.com"),
		stagedRecord("", "b@example.com"),
	})
	if err != nil {
		t.Fatalf("Add returned error: %v", err)
	}

	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %v", ids)
	}
	if ids[0] != "rec-1" {
		t.Errorf("supplied id was not preserved: %q", ids[0])
	}
	if ids[1] == "" {
		t.Error("missing id was not generated")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStagingRepository_AddNothing(t *testing.T) {
	mock, repo := newStagingMock(t)

	ids, err := repo.Add(context.Background(), "public", nil)
	if err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	if ids != nil {
		t.Fatalf("expected no ids, got %v", ids)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStagingRepository_GetByIDNotFound(t *testing.T) {
	mock, repo := newStagingMock(t)

	mock.ExpectQuery(`SELECT id, raw, status, error_message FROM auth\.bulk_import_users`).
		WithArgs("public", "missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "public", "missing")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStagingRepository_GetByIDOverlaysStoredState(t *testing.T) {
	mock, repo := newStagingMock(t)

	raw := []byte(`{"id":"rec-1","status":"NEW","loginMethods":[{"recipeKind":"emailpassword","tenantIds":["public"],"email":"a@example.com","passwordHash":"x","timeJoined":1}]}`)
	message := "boom"
	rows := pgxmock.NewRows([]string{"id", "raw", "status", "error_message"}).
		AddRow("rec-1", raw, "FAILED", &message)

	mock.ExpectQuery(`SELECT id, raw, status, error_message FROM auth\.bulk_import_users`).
		WithArgs("public", "rec-1").
		WillReturnRows(rows)

	user, err := repo.GetByID(context.Background(), "public", "rec-1")
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}

	if user.Status != domain.StagedUserStatusFailed {
		t.Errorf("stored status must win over the embedded one, got %s", user.Status)
	}
	if user.ErrorMessage == nil || *user.ErrorMessage != "boom" {
		t.Errorf("error message = %v", user.ErrorMessage)
	}
	if len(user.LoginMethods) != 1 {
		t.Errorf("login methods = %+v", user.LoginMethods)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStagingRepository_FetchForProcessingClaimsRows(t *testing.T) {
	mock, repo := newStagingMock(t)

	raw := []byte(`{"id":"rec-1","status":"NEW","loginMethods":[{"recipeKind":"emailpassword","tenantIds":["public"],"email":"a@example.com","passwordHash":"x","timeJoined":1}]}`)
	rows := pgxmock.NewRows([]string{"id", "raw", "status", "error_message"}).
		AddRow("rec-1", raw, "NEW", nil)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, raw, status, error_message FROM auth\.bulk_import_users .* FOR UPDATE SKIP LOCKED`).
		WillReturnRows(rows)
	mock.ExpectExec(`UPDATE auth\.bulk_import_users SET status`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	users, err := repo.FetchForProcessing(context.Background(), "public", 10)
	if err != nil {
		t.Fatalf("FetchForProcessing returned error: %v", err)
	}

	if len(users) != 1 {
		t.Fatalf("expected 1 claimed row, got %d", len(users))
	}
	if users[0].Status != domain.StagedUserStatusProcessing {
		t.Errorf("claimed row status = %s", users[0].Status)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStagingRepository_FetchForProcessingEmpty(t *testing.T) {
	mock, repo := newStagingMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, raw, status, error_message FROM auth\.bulk_import_users`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "raw", "status", "error_message"}))
	mock.ExpectCommit()

	users, err := repo.FetchForProcessing(context.Background(), "public", 10)
	if err != nil {
		t.Fatalf("FetchForProcessing returned error: %v", err)
	}
	if len(users) != 0 {
		t.Fatalf("expected no rows, got %d", len(users))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStagingRepository_FetchForProcessingZeroLimit(t *testing.T) {
	mock, repo := newStagingMock(t)

	users, err := repo.FetchForProcessing(context.Background(), "public", 0)
	if err != nil {
		t.Fatalf("FetchForProcessing returned error: %v", err)
	}
	if users != nil {
		t.Fatalf("expected nil, got %v", users)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStagingRepository_Delete(t *testing.T) {
	mock, repo := newStagingMock(t)

	mock.ExpectExec(`DELETE FROM auth\.bulk_import_users`).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	if err := repo.Delete(context.Background(), "public", []string{"rec-1", "rec-2"}); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStagingRepository_DeleteNothing(t *testing.T) {
	mock, repo := newStagingMock(t)

	if err := repo.Delete(context.Background(), "public", nil); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStagingRepository_UpdateStatusCommitsOwnTransaction(t *testing.T) {
	mock, repo := newStagingMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE auth\.bulk_import_users SET status`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := repo.UpdateStatus(context.Background(), "public", map[string]string{
		"rec-1": "role \"auditor\" does not exist",
	})
	if err != nil {
		t.Fatalf("UpdateStatus returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStagingRepository_ResetToNewOnlyTouchesClaimedRows(t *testing.T) {
	mock, repo := newStagingMock(t)

	mock.ExpectExec(`UPDATE auth\.bulk_import_users SET status`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := repo.ResetToNew(context.Background(), "public", []string{"rec-1"}); err != nil {
		t.Fatalf("ResetToNew returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
