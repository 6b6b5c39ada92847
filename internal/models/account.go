package models

import (
	"time"

	"github.com/google/uuid"
)

// Account is a user known to the auth backend.
type Account struct {
	UserID       uuid.UUID // UUIDv7
	CompanyID    uuid.UUID // Tenant the user belongs to
	Email        string
	FullName     string
	Role         string
	PasswordHash []byte // bcrypt

	CreatedAt  time.Time
	DisabledAt *time.Time // Disabled accounts cannot log in or refresh
}

// IsDisabled returns true if the account has been disabled.
func (a *Account) IsDisabled() bool {
	return a.DisabledAt != nil
}

// User returns the public identity record for the account.
func (a *Account) User() *User {
	return &User{
		ID:        UserID(a.UserID.String()),
		Email:     a.Email,
		FullName:  a.FullName,
		Role:      a.Role,
		CompanyID: a.CompanyID.String(),
	}
}
