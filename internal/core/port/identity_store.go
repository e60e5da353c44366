package port

import (
	"context"
	"encoding/json"

	"github.com/arklim/social-platform-identity/internal/core/domain"
)

// IdentityStore exposes the identity sub-operations the import pipeline is
// built from. Every method runs inside the caller's open transaction; a
// failure anywhere rolls back the whole pool group.
type IdentityStore interface {
	// CreatePasswordUser creates an emailpassword credential on the tenant and
	// returns the resolved user id. Raises domain.ErrEmailAlreadyExists on collision.
	CreatePasswordUser(ctx context.Context, tx Tx, tenantID, email, passwordHash string, timeJoined int64) (string, error)

	// CreateThirdPartyUser creates a federated credential on the tenant.
	// Raises domain.ErrThirdPartyUserExists on collision.
	CreateThirdPartyUser(ctx context.Context, tx Tx, tenantID, thirdPartyID, thirdPartyUserID, email string, timeJoined int64) (string, error)

	// CreatePasswordlessUser creates a passwordless credential on the tenant.
	// Raises domain.ErrEmailAlreadyExists or domain.ErrPhoneAlreadyExists on collision.
	CreatePasswordlessUser(ctx context.Context, tx Tx, tenantID string, email, phoneNumber *string, timeJoined int64) (string, error)

	// AssociateUserWithTenant makes the resolved user visible on an additional
	// tenant. Idempotent.
	AssociateUserWithTenant(ctx context.Context, tx Tx, tenantID, userID string) error

	// CreatePrimaryUser promotes the resolved user to a primary identity.
	CreatePrimaryUser(ctx context.Context, tx Tx, userID string) error

	// LinkAccounts links a recipe user under the primary identity. Raises
	// domain.ErrNotPrimaryUser or domain.ErrAccountsAlreadyLinked.
	LinkAccounts(ctx context.Context, tx Tx, recipeUserID, primaryUserID string) error

	// CreateExternalIDMapping maps the resolved primary id to the supplied
	// external id. Raises domain.ErrExternalIDAlreadyExists on collision.
	CreateExternalIDMapping(ctx context.Context, tx Tx, userID, externalID string) error

	// MarkEmailVerified records the email as verified for the user. Idempotent.
	MarkEmailVerified(ctx context.Context, tx Tx, userID, email string) error

	// CreateTotpDevice registers a pre-verified TOTP device. Raises
	// domain.ErrTotpDeviceExists on a device-name collision.
	CreateTotpDevice(ctx context.Context, tx Tx, userID string, device domain.TotpDevice) error

	// SetUserMetadata stores the opaque metadata blob for the user.
	SetUserMetadata(ctx context.Context, tx Tx, userID string, metadata json.RawMessage) error

	// RoleExists reports whether the role pre-exists in the application's
	// role catalog.
	RoleExists(ctx context.Context, tx Tx, appID, role string) (bool, error)

	// AddRoleToUser assigns the role to the user on the tenant. Idempotent.
	AddRoleToUser(ctx context.Context, tx Tx, appID, tenantID, userID, role string) error
}
