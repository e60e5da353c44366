package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/social-platform-identity/internal/core/domain"
	"github.com/arklim/social-platform-identity/internal/core/port"
)

// IdentityRepository implements port.IdentityStore against PostgreSQL. It is
// stateless: every operation runs on the transaction supplied by the caller,
// which may target any of the physical storage pools.
type IdentityRepository struct {
	builder squirrel.StatementBuilderType
}

// NewIdentityRepository wires a PostgreSQL-backed identity store.
func NewIdentityRepository() *IdentityRepository {
	return &IdentityRepository{
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// CreatePasswordUser creates an emailpassword credential and returns the
// resolved user id.
func (r *IdentityRepository) CreatePasswordUser(ctx context.Context, tx port.Tx, tenantID, email, passwordHash string, timeJoined int64) (string, error) {
	pgxTx, err := pgxTxFrom(tx)
	if err != nil {
		return "", err
	}

	userID := uuid.NewString()
	if err := r.insertRecipeUser(ctx, pgxTx, userID, domain.RecipeEmailPassword, tenantID, timeJoined); err != nil {
		return "", err
	}

	stmt, args, err := r.builder.Insert("auth.password_users").
		Columns("user_id", "email", "password_hash").
		Values(userID, email, passwordHash).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build insert password user sql: %w", err)
	}

	if _, err := pgxTx.Exec(ctx, stmt, args...); err != nil {
		if isUniqueViolation(err, "") {
			return "", domain.ErrEmailAlreadyExists
		}
		return "", classifyError("insert password user", err)
	}

	return userID, nil
}

// CreateThirdPartyUser creates a federated credential and returns the resolved
// user id.
func (r *IdentityRepository) CreateThirdPartyUser(ctx context.Context, tx port.Tx, tenantID, thirdPartyID, thirdPartyUserID, email string, timeJoined int64) (string, error) {
	pgxTx, err := pgxTxFrom(tx)
	if err != nil {
		return "", err
	}

	userID := uuid.NewString()
	if err := r.insertRecipeUser(ctx, pgxTx, userID, domain.RecipeThirdParty, tenantID, timeJoined); err != nil {
		return "", err
	}

	stmt, args, err := r.builder.Insert("auth.thirdparty_users").
		Columns("user_id", "third_party_id", "third_party_user_id", "email").
		Values(userID, thirdPartyID, thirdPartyUserID, email).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build insert thirdparty user sql: %w", err)
	}

	if _, err := pgxTx.Exec(ctx, stmt, args...); err != nil {
		if isUniqueViolation(err, "") {
			return "", domain.ErrThirdPartyUserExists
		}
		return "", classifyError("insert thirdparty user", err)
	}

	return userID, nil
}

// CreatePasswordlessUser creates a passwordless credential and returns the
// resolved user id.
func (r *IdentityRepository) CreatePasswordlessUser(ctx context.Context, tx port.Tx, tenantID string, email, phoneNumber *string, timeJoined int64) (string, error) {
	pgxTx, err := pgxTxFrom(tx)
	if err != nil {
		return "", err
	}

	userID := uuid.NewString()
	if err := r.insertRecipeUser(ctx, pgxTx, userID, domain.RecipePasswordless, tenantID, timeJoined); err != nil {
		return "", err
	}

	var emailValue, phoneValue any
	if email != nil && *email != "" {
		emailValue = *email
	}
	if phoneNumber != nil && *phoneNumber != "" {
		phoneValue = *phoneNumber
	}

	stmt, args, err := r.builder.Insert("auth.passwordless_users").
		Columns("user_id", "email", "phone_number").
		Values(userID, emailValue, phoneValue).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build insert passwordless user sql: %w", err)
	}

	if _, err := pgxTx.Exec(ctx, stmt, args...); err != nil {
		if isUniqueViolation(err, "passwordless_users_phone_number_key") {
			return "", domain.ErrPhoneAlreadyExists
		}
		if isUniqueViolation(err, "") {
			return "", domain.ErrEmailAlreadyExists
		}
		return "", classifyError("insert passwordless user", err)
	}

	return userID, nil
}

// insertRecipeUser writes the base identity row and its home-tenant binding.
func (r *IdentityRepository) insertRecipeUser(ctx context.Context, tx pgx.Tx, userID string, kind domain.RecipeKind, tenantID string, timeJoined int64) error {
	stmt, args, err := r.builder.Insert("auth.users").
		Columns("id", "recipe_kind", "time_joined", "is_primary").
		Values(userID, string(kind), timeJoined, false).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert user sql: %w", err)
	}
	if _, err := tx.Exec(ctx, stmt, args...); err != nil {
		return classifyError("insert user", err)
	}

	return r.associate(ctx, tx, tenantID, userID)
}

// AssociateUserWithTenant makes the resolved user visible on an additional
// tenant. Idempotent.
func (r *IdentityRepository) AssociateUserWithTenant(ctx context.Context, tx port.Tx, tenantID, userID string) error {
	pgxTx, err := pgxTxFrom(tx)
	if err != nil {
		return err
	}
	return r.associate(ctx, pgxTx, tenantID, userID)
}

func (r *IdentityRepository) associate(ctx context.Context, tx pgx.Tx, tenantID, userID string) error {
	stmt, args, err := r.builder.Insert("auth.tenant_users").
		Columns("tenant_id", "user_id").
		Values(tenantID, userID).
		Suffix("ON CONFLICT DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert tenant user sql: %w", err)
	}
	if _, err := tx.Exec(ctx, stmt, args...); err != nil {
		return classifyError("insert tenant user", err)
	}
	return nil
}

// CreatePrimaryUser promotes the resolved user to a primary identity.
func (r *IdentityRepository) CreatePrimaryUser(ctx context.Context, tx port.Tx, userID string) error {
	pgxTx, err := pgxTxFrom(tx)
	if err != nil {
		return err
	}

	stmt, args, err := r.builder.Update("auth.users").
		Set("is_primary", true).
		Where(squirrel.Eq{"id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build promote primary sql: %w", err)
	}

	ct, err := pgxTx.Exec(ctx, stmt, args...)
	if err != nil {
		return classifyError("promote primary user", err)
	}
	if ct.RowsAffected() == 0 {
		return &domain.InvariantError{Detail: fmt.Sprintf("user %s not found while promoting to primary", userID)}
	}
	return nil
}

// LinkAccounts links a recipe user under the primary identity.
func (r *IdentityRepository) LinkAccounts(ctx context.Context, tx port.Tx, recipeUserID, primaryUserID string) error {
	pgxTx, err := pgxTxFrom(tx)
	if err != nil {
		return err
	}

	stmt, args, err := r.builder.Select("is_primary").
		From("auth.users").
		Where(squirrel.Eq{"id": primaryUserID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build select primary sql: %w", err)
	}

	var isPrimary bool
	if err := pgxTx.QueryRow(ctx, stmt, args...).Scan(&isPrimary); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &domain.InvariantError{Detail: fmt.Sprintf("primary user %s not found while linking", primaryUserID)}
		}
		return classifyError("select primary user", err)
	}
	if !isPrimary {
		return domain.ErrNotPrimaryUser
	}

	stmt, args, err = r.builder.Update("auth.users").
		Set("primary_user_id", primaryUserID).
		Where(squirrel.Eq{"id": recipeUserID}).
		Where(squirrel.Or{
			squirrel.Eq{"primary_user_id": nil},
			squirrel.Eq{"primary_user_id": primaryUserID},
		}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build link accounts sql: %w", err)
	}

	ct, err := pgxTx.Exec(ctx, stmt, args...)
	if err != nil {
		return classifyError("link accounts", err)
	}
	if ct.RowsAffected() == 0 {
		// Either the recipe user vanished or it is linked to someone else.
		exists, err := r.userExists(ctx, pgxTx, recipeUserID)
		if err != nil {
			return err
		}
		if !exists {
			return &domain.InvariantError{Detail: fmt.Sprintf("recipe user %s not found while linking", recipeUserID)}
		}
		return domain.ErrAccountsAlreadyLinked
	}
	return nil
}

func (r *IdentityRepository) userExists(ctx context.Context, tx pgx.Tx, userID string) (bool, error) {
	stmt, args, err := r.builder.Select("1").
		From("auth.users").
		Where(squirrel.Eq{"id": userID}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build select user sql: %w", err)
	}

	var one int
	if err := tx.QueryRow(ctx, stmt, args...).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, classifyError("select user", err)
	}
	return true, nil
}

// CreateExternalIDMapping maps the resolved primary id to the external id.
func (r *IdentityRepository) CreateExternalIDMapping(ctx context.Context, tx port.Tx, userID, externalID string) error {
	pgxTx, err := pgxTxFrom(tx)
	if err != nil {
		return err
	}

	stmt, args, err := r.builder.Insert("auth.external_id_mapping").
		Columns("user_id", "external_id").
		Values(userID, externalID).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert external id mapping sql: %w", err)
	}

	if _, err := pgxTx.Exec(ctx, stmt, args...); err != nil {
		if isUniqueViolation(err, "") {
			return domain.ErrExternalIDAlreadyExists
		}
		return classifyError("insert external id mapping", err)
	}
	return nil
}

// MarkEmailVerified records the email as verified for the user. Idempotent.
func (r *IdentityRepository) MarkEmailVerified(ctx context.Context, tx port.Tx, userID, email string) error {
	pgxTx, err := pgxTxFrom(tx)
	if err != nil {
		return err
	}

	stmt, args, err := r.builder.Insert("auth.email_verification").
		Columns("user_id", "email").
		Values(userID, email).
		Suffix("ON CONFLICT DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert email verification sql: %w", err)
	}

	if _, err := pgxTx.Exec(ctx, stmt, args...); err != nil {
		return classifyError("insert email verification", err)
	}
	return nil
}

// CreateTotpDevice registers a pre-verified TOTP device.
func (r *IdentityRepository) CreateTotpDevice(ctx context.Context, tx port.Tx, userID string, device domain.TotpDevice) error {
	pgxTx, err := pgxTxFrom(tx)
	if err != nil {
		return err
	}

	stmt, args, err := r.builder.Insert("auth.totp_devices").
		Columns("user_id", "device_name", "secret_key", "skew", "period", "verified").
		Values(userID, device.Name, device.Secret, device.Skew, device.Period, true).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert totp device sql: %w", err)
	}

	if _, err := pgxTx.Exec(ctx, stmt, args...); err != nil {
		if isUniqueViolation(err, "") {
			return domain.ErrTotpDeviceExists
		}
		return classifyError("insert totp device", err)
	}
	return nil
}

// SetUserMetadata stores the opaque metadata blob, replacing any existing one.
func (r *IdentityRepository) SetUserMetadata(ctx context.Context, tx port.Tx, userID string, metadata json.RawMessage) error {
	pgxTx, err := pgxTxFrom(tx)
	if err != nil {
		return err
	}

	stmt, args, err := r.builder.Insert("auth.user_metadata").
		Columns("user_id", "metadata").
		Values(userID, []byte(metadata)).
		Suffix("ON CONFLICT (user_id) DO UPDATE SET metadata = EXCLUDED.metadata").
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert user metadata sql: %w", err)
	}

	if _, err := pgxTx.Exec(ctx, stmt, args...); err != nil {
		return classifyError("upsert user metadata", err)
	}
	return nil
}

// RoleExists reports whether the role pre-exists in the application's catalog.
func (r *IdentityRepository) RoleExists(ctx context.Context, tx port.Tx, appID, role string) (bool, error) {
	pgxTx, err := pgxTxFrom(tx)
	if err != nil {
		return false, err
	}

	stmt, args, err := r.builder.Select("1").
		From("auth.roles").
		Where(squirrel.Eq{"app_id": appID, "role": role}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build select role sql: %w", err)
	}

	var one int
	if err := pgxTx.QueryRow(ctx, stmt, args...).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, classifyError("select role", err)
	}
	return true, nil
}

// AddRoleToUser assigns the role to the user on the tenant. Idempotent.
func (r *IdentityRepository) AddRoleToUser(ctx context.Context, tx port.Tx, appID, tenantID, userID, role string) error {
	pgxTx, err := pgxTxFrom(tx)
	if err != nil {
		return err
	}

	stmt, args, err := r.builder.Insert("auth.user_roles").
		Columns("app_id", "tenant_id", "user_id", "role").
		Values(appID, tenantID, userID, role).
		Suffix("ON CONFLICT DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert user role sql: %w", err)
	}

	if _, err := pgxTx.Exec(ctx, stmt, args...); err != nil {
		return classifyError("insert user role", err)
	}
	return nil
}

var _ port.IdentityStore = (*IdentityRepository)(nil)
