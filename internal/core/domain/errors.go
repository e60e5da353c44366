package domain

import (
	"errors"
	"fmt"
)

// Conflict errors raised by the identity primitives. Each is fatal for the
// record being imported and is persisted verbatim as the failure message.
var (
	ErrEmailAlreadyExists      = errors.New("a user with this email already exists")
	ErrPhoneAlreadyExists      = errors.New("a user with this phone number already exists")
	ErrThirdPartyUserExists    = errors.New("a user with this third-party identity already exists")
	ErrExternalIDAlreadyExists = errors.New("a user with this external id already exists")
	ErrAccountsAlreadyLinked   = errors.New("the account is already linked to another primary user")
	ErrNotPrimaryUser          = errors.New("the target user is not a primary user")
	ErrTotpDeviceExists        = errors.New("a TOTP device with this name already exists for the user")
)

// UnknownRoleError is raised when a staged user references a role missing from
// the application's role catalog. The pipeline never creates roles.
type UnknownRoleError struct {
	Role string
}

func (e *UnknownRoleError) Error() string {
	return fmt.Sprintf("role %q does not exist", e.Role)
}

// UnknownRecipeError is raised for a login method whose recipe kind has no
// registered creator. Non-retryable.
type UnknownRecipeError struct {
	Kind RecipeKind
}

func (e *UnknownRecipeError) Error() string {
	return fmt.Sprintf("unknown recipe kind %q", e.Kind)
}

// InvariantError marks a contract break between two components that should be
// impossible under correct operation, e.g. a resolved id vanishing right after
// it was created.
type InvariantError struct {
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("internal invariant violated (%s), please contact support", e.Detail)
}
