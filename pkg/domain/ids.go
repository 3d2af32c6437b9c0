// Package domain holds the typed identifiers and value objects shared by every
// bounded context. Typed IDs stop an organization id from being passed where a
// user id is expected; parsing rejects empty, malformed and nil UUIDs.
package domain

import (
	"github.com/google/uuid"

	dErrors "carebase/pkg/domain-errors"
)

type (
	OrganizationID uuid.UUID
	UserID         uuid.UUID
	RoleID         uuid.UUID
	PermissionID   uuid.UUID
	GrantID        uuid.UUID
	SessionID      uuid.UUID
)

func parseUUID(kind, raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s is required", kind)
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "invalid %s", kind)
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s must not be nil", kind)
	}
	return parsed, nil
}

func ParseOrganizationID(s string) (OrganizationID, error) {
	u, err := parseUUID("organization id", s)
	return OrganizationID(u), err
}

func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID("user id", s)
	return UserID(u), err
}

func ParseRoleID(s string) (RoleID, error) {
	u, err := parseUUID("role id", s)
	return RoleID(u), err
}

func ParsePermissionID(s string) (PermissionID, error) {
	u, err := parseUUID("permission id", s)
	return PermissionID(u), err
}

func ParseGrantID(s string) (GrantID, error) {
	u, err := parseUUID("grant id", s)
	return GrantID(u), err
}

func ParseSessionID(s string) (SessionID, error) {
	u, err := parseUUID("session id", s)
	return SessionID(u), err
}

func (id OrganizationID) String() string { return uuid.UUID(id).String() }
func (id OrganizationID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id OrganizationID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}
func (id *OrganizationID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id UserID) String() string { return uuid.UUID(id).String() }
func (id UserID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id UserID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}
func (id *UserID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id RoleID) String() string { return uuid.UUID(id).String() }
func (id RoleID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id RoleID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}
func (id *RoleID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id PermissionID) String() string { return uuid.UUID(id).String() }
func (id PermissionID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id PermissionID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}
func (id *PermissionID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id GrantID) String() string { return uuid.UUID(id).String() }
func (id GrantID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id GrantID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}
func (id *GrantID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id SessionID) String() string { return uuid.UUID(id).String() }
func (id SessionID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id SessionID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}
func (id *SessionID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}
