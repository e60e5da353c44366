package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StagedUserStatus enumerates the lifecycle states of a staged import record.
type StagedUserStatus string

const (
	StagedUserStatusNew        StagedUserStatus = "NEW"
	StagedUserStatusProcessing StagedUserStatus = "PROCESSING"
	StagedUserStatusFailed     StagedUserStatus = "FAILED"
)

// RecipeKind identifies the credential sub-recipe a login method belongs to.
type RecipeKind string

const (
	RecipeEmailPassword RecipeKind = "emailpassword"
	RecipeThirdParty    RecipeKind = "thirdparty"
	RecipePasswordless  RecipeKind = "passwordless"
)

// StagedUser is an import record awaiting materialization into a real identity.
type StagedUser struct {
	ID             string           `json:"id"`
	ExternalUserID *string          `json:"externalUserId,omitempty"`
	Status         StagedUserStatus `json:"status"`
	ErrorMessage   *string          `json:"errorMessage,omitempty"`
	LoginMethods   []LoginMethod    `json:"loginMethods"`
	Roles          []UserRole       `json:"userRoles,omitempty"`
	TotpDevices    []TotpDevice     `json:"totpDevices,omitempty"`
	Metadata       json.RawMessage  `json:"userMetadata,omitempty"`
}

// LoginMethod is one credential binding of a staged user. ResolvedUserID is
// populated during import, once the underlying credential has been created.
type LoginMethod struct {
	RecipeKind        RecipeKind `json:"recipeKind"`
	TenantIDs         []string   `json:"tenantIds"`
	Email             *string    `json:"email,omitempty"`
	PasswordHash      *string    `json:"passwordHash,omitempty"`
	PlaintextPassword *string    `json:"plaintextPassword,omitempty"`
	PhoneNumber       *string    `json:"phoneNumber,omitempty"`
	ThirdPartyID      *string    `json:"thirdPartyId,omitempty"`
	ThirdPartyUserID  *string    `json:"thirdPartyUserId,omitempty"`
	IsPrimary         bool       `json:"isPrimary,omitempty"`
	TimeJoined        int64      `json:"timeJoined"`

	ResolvedUserID string `json:"-"`
}

// UserRole names a pre-existing role and the tenants it applies to.
type UserRole struct {
	Role      string   `json:"role"`
	TenantIDs []string `json:"tenantIds"`
}

// TotpDevice describes a TOTP device to register for the imported user.
type TotpDevice struct {
	Name   string `json:"deviceName"`
	Secret string `json:"secretKey"`
	Skew   int    `json:"skew"`
	Period int    `json:"period"`
}

// PrimaryLoginMethod returns the login method that anchors the imported
// identity: the explicitly flagged one, or the one with the smallest
// timeJoined when no flag is set. Returns nil for a user without login methods.
func (u *StagedUser) PrimaryLoginMethod() *LoginMethod {
	if len(u.LoginMethods) == 0 {
		return nil
	}

	primary := &u.LoginMethods[0]
	for i := range u.LoginMethods {
		lm := &u.LoginMethods[i]
		if lm.IsPrimary {
			return lm
		}
		if lm.TimeJoined < primary.TimeJoined {
			primary = lm
		}
	}

	return primary
}

// HomeTenantID returns the tenant whose storage pool is authoritative for the
// record: the first tenant of the primary login method.
func (u *StagedUser) HomeTenantID() string {
	primary := u.PrimaryLoginMethod()
	if primary == nil || len(primary.TenantIDs) == 0 {
		return ""
	}
	return primary.TenantIDs[0]
}

// ValidationError aggregates the reasons a staged user failed validation.
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return "staged user is invalid: " + strings.Join(e.Reasons, "; ")
}

// Validate checks the structural invariants of a staged user. It returns a
// *ValidationError listing every violation found.
func (u *StagedUser) Validate() error {
	var reasons []string

	if len(u.LoginMethods) == 0 {
		reasons = append(reasons, "at least one login method is required")
	}

	flagged := 0
	for i, lm := range u.LoginMethods {
		if lm.IsPrimary {
			flagged++
		}
		reasons = append(reasons, lm.validate(i)...)
	}
	if flagged > 1 {
		reasons = append(reasons, "at most one login method may be flagged primary")
	}

	for i, role := range u.Roles {
		if role.Role == "" {
			reasons = append(reasons, fmt.Sprintf("userRoles[%d]: role name is required", i))
		}
		if len(role.TenantIDs) == 0 {
			reasons = append(reasons, fmt.Sprintf("userRoles[%d]: tenantIds must not be empty", i))
		}
	}

	seen := make(map[string]struct{}, len(u.TotpDevices))
	for i, device := range u.TotpDevices {
		if device.Name == "" {
			reasons = append(reasons, fmt.Sprintf("totpDevices[%d]: deviceName is required", i))
		}
		if device.Secret == "" {
			reasons = append(reasons, fmt.Sprintf("totpDevices[%d]: secretKey is required", i))
		}
		if _, dup := seen[device.Name]; dup {
			reasons = append(reasons, fmt.Sprintf("totpDevices[%d]: duplicate device name %q", i, device.Name))
		}
		seen[device.Name] = struct{}{}
	}

	if len(reasons) > 0 {
		return &ValidationError{Reasons: reasons}
	}
	return nil
}

func (lm LoginMethod) validate(index int) []string {
	var reasons []string
	prefix := fmt.Sprintf("loginMethods[%d]", index)

	if len(lm.TenantIDs) == 0 {
		reasons = append(reasons, prefix+": tenantIds must not be empty")
	}

	switch lm.RecipeKind {
	case RecipeEmailPassword:
		if lm.Email == nil || *lm.Email == "" {
			reasons = append(reasons, prefix+": email is required for emailpassword")
		}
		hasHash := lm.PasswordHash != nil && *lm.PasswordHash != ""
		hasPlain := lm.PlaintextPassword != nil && *lm.PlaintextPassword != ""
		if !hasHash && !hasPlain {
			reasons = append(reasons, prefix+": passwordHash or plaintextPassword is required for emailpassword")
		}
	case RecipeThirdParty:
		if lm.ThirdPartyID == nil || *lm.ThirdPartyID == "" {
			reasons = append(reasons, prefix+": thirdPartyId is required for thirdparty")
		}
		if lm.ThirdPartyUserID == nil || *lm.ThirdPartyUserID == "" {
			reasons = append(reasons, prefix+": thirdPartyUserId is required for thirdparty")
		}
		if lm.Email == nil || *lm.Email == "" {
			reasons = append(reasons, prefix+": email is required for thirdparty")
		}
	case RecipePasswordless:
		hasEmail := lm.Email != nil && *lm.Email != ""
		hasPhone := lm.PhoneNumber != nil && *lm.PhoneNumber != ""
		if !hasEmail && !hasPhone {
			reasons = append(reasons, prefix+": email or phoneNumber is required for passwordless")
		}
	default:
		reasons = append(reasons, fmt.Sprintf("%s: unknown recipe kind %q", prefix, lm.RecipeKind))
	}

	return reasons
}

// Rederive round-trips the staged user through its canonical JSON form and
// validates the result. The returned copy is what the import pipeline runs on,
// so stray state on the input cannot leak into the import.
func Rederive(user StagedUser) (StagedUser, error) {
	raw, err := json.Marshal(user)
	if err != nil {
		return StagedUser{}, fmt.Errorf("marshal staged user: %w", err)
	}

	var derived StagedUser
	if err := json.Unmarshal(raw, &derived); err != nil {
		return StagedUser{}, fmt.Errorf("unmarshal staged user: %w", err)
	}

	if err := derived.Validate(); err != nil {
		return StagedUser{}, err
	}

	return derived, nil
}
