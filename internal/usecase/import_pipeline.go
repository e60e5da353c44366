package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/arklim/social-platform-identity/internal/core/domain"
	"github.com/arklim/social-platform-identity/internal/core/port"
	"github.com/arklim/social-platform-identity/internal/infra/logger"
)

// importUser runs the fixed per-user step sequence inside the caller's open
// transaction and tags any failure with the record's id. It is re-entrant
// within the same transaction for every record in a pool group: there are no
// per-record transaction boundaries.
func (s *BulkImportService) importUser(ctx context.Context, tx port.Tx, appID string, user *domain.StagedUser) error {
	if err := s.runPipeline(ctx, tx, appID, user); err != nil {
		return &ImportError{RecordID: user.ID, Err: err}
	}
	return nil
}

func (s *BulkImportService) runPipeline(ctx context.Context, tx port.Tx, appID string, user *domain.StagedUser) error {
	primary := user.PrimaryLoginMethod()
	if primary == nil {
		return &domain.InvariantError{Detail: "staged user reached the pipeline without login methods"}
	}

	for i := range user.LoginMethods {
		lm := &user.LoginMethods[i]
		resolvedID, err := s.createCredential(ctx, tx, lm)
		if err != nil {
			return err
		}
		lm.ResolvedUserID = resolvedID
	}

	// The first tenant was implicitly used at creation time; associate the
	// resolved identity with the rest.
	for i := range user.LoginMethods {
		lm := &user.LoginMethods[i]
		for _, tenantID := range lm.TenantIDs[1:] {
			if err := s.identity.AssociateUserWithTenant(ctx, tx, tenantID, lm.ResolvedUserID); err != nil {
				return fmt.Errorf("associate user with tenant %s: %w", tenantID, err)
			}
		}
	}

	// A single-method user is already primary by construction.
	if len(user.LoginMethods) > 1 {
		if err := s.identity.CreatePrimaryUser(ctx, tx, primary.ResolvedUserID); err != nil {
			return fmt.Errorf("create primary user: %w", err)
		}
		for i := range user.LoginMethods {
			lm := &user.LoginMethods[i]
			if lm == primary {
				continue
			}
			if err := s.identity.LinkAccounts(ctx, tx, lm.ResolvedUserID, primary.ResolvedUserID); err != nil {
				return fmt.Errorf("link accounts: %w", err)
			}
		}
	}

	resolvedID := primary.ResolvedUserID
	if user.ExternalUserID != nil && *user.ExternalUserID != "" {
		if err := s.identity.CreateExternalIDMapping(ctx, tx, resolvedID, *user.ExternalUserID); err != nil {
			return fmt.Errorf("create external id mapping: %w", err)
		}
		// From here on the identity is addressed by its external id.
		resolvedID = *user.ExternalUserID
	}

	for _, lm := range user.LoginMethods {
		if lm.Email == nil || *lm.Email == "" {
			continue
		}
		if err := s.identity.MarkEmailVerified(ctx, tx, resolvedID, *lm.Email); err != nil {
			// The message ends up in error_message and on the event bus.
			return fmt.Errorf("mark email %s verified: %w", logger.MaskEmail(*lm.Email), err)
		}
	}

	for _, device := range user.TotpDevices {
		if err := s.identity.CreateTotpDevice(ctx, tx, resolvedID, device); err != nil {
			return fmt.Errorf("create totp device %s: %w", device.Name, err)
		}
	}

	if len(user.Metadata) > 0 {
		if err := s.identity.SetUserMetadata(ctx, tx, resolvedID, user.Metadata); err != nil {
			return fmt.Errorf("set user metadata: %w", err)
		}
	}

	return s.assignRoles(ctx, tx, appID, user, primary)
}

// assignRoles grants each (role, tenant) pair once. Roles address the user by
// the external id supplied on the record itself; this matches the established
// behavior of the import API.
func (s *BulkImportService) assignRoles(ctx context.Context, tx port.Tx, appID string, user *domain.StagedUser, primary *domain.LoginMethod) error {
	if len(user.Roles) == 0 {
		return nil
	}

	roleUserID := primary.ResolvedUserID
	if user.ExternalUserID != nil && *user.ExternalUserID != "" {
		roleUserID = *user.ExternalUserID
	}

	assigned := make(map[string]struct{})
	for _, role := range user.Roles {
		exists, err := s.identity.RoleExists(ctx, tx, appID, role.Role)
		if err != nil {
			return fmt.Errorf("look up role %s: %w", role.Role, err)
		}
		if !exists {
			return &domain.UnknownRoleError{Role: role.Role}
		}

		for _, tenantID := range role.TenantIDs {
			key := role.Role + "\x00" + tenantID
			if _, done := assigned[key]; done {
				continue
			}
			assigned[key] = struct{}{}

			if err := s.identity.AddRoleToUser(ctx, tx, appID, tenantID, roleUserID, role.Role); err != nil {
				return fmt.Errorf("assign role %s on tenant %s: %w", role.Role, tenantID, err)
			}
		}
	}

	return nil
}

// createCredential creates the underlying credential for one login method via
// the sub-recipe matching its kind and returns the resolved user id.
func (s *BulkImportService) createCredential(ctx context.Context, tx port.Tx, lm *domain.LoginMethod) (string, error) {
	if len(lm.TenantIDs) == 0 {
		return "", &domain.InvariantError{Detail: "login method reached the pipeline without tenants"}
	}
	tenantID := lm.TenantIDs[0]

	switch lm.RecipeKind {
	case domain.RecipeEmailPassword:
		hash := ""
		if lm.PasswordHash != nil {
			hash = *lm.PasswordHash
		}
		if hash == "" {
			hashed, err := s.hasher.Hash(*lm.PlaintextPassword)
			if err != nil {
				return "", fmt.Errorf("hash plaintext password: %w", err)
			}
			hash = hashed
		}
		return s.identity.CreatePasswordUser(ctx, tx, tenantID, *lm.Email, hash, lm.TimeJoined)

	case domain.RecipeThirdParty:
		return s.identity.CreateThirdPartyUser(ctx, tx, tenantID, *lm.ThirdPartyID, *lm.ThirdPartyUserID, *lm.Email, lm.TimeJoined)

	case domain.RecipePasswordless:
		return s.identity.CreatePasswordlessUser(ctx, tx, tenantID, lm.Email, lm.PhoneNumber, lm.TimeJoined)

	default:
		return "", &domain.UnknownRecipeError{Kind: lm.RecipeKind}
	}
}

// ImportSingle imports one staged record on its own. Unlike the batch path,
// the staged row is deleted inside the same transaction as the import.
func (s *BulkImportService) ImportSingle(ctx context.Context, appID string, user domain.StagedUser) error {
	record := user
	if !s.skipValidation {
		derived, err := domain.Rederive(user)
		if err != nil {
			return err
		}
		derived.ID = user.ID
		record = derived
	}

	pools := s.newPools()
	defer pools.CloseAll()

	handle, err := pools.Get(ctx, record.HomeTenantID())
	if err != nil {
		return fmt.Errorf("acquire pool for tenant %s: %w", record.HomeTenantID(), err)
	}

	tx, err := handle.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := s.importUser(ctx, tx, appID, &record); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			s.logger.Warn("rollback failed", zap.Error(rbErr))
		}
		return err
	}

	if err := s.staging.DeleteInTx(ctx, tx, appID, record.ID); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			s.logger.Warn("rollback failed", zap.Error(rbErr))
		}
		return fmt.Errorf("delete staged record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}
	return nil
}
