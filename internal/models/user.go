package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// UserID identifies a user. Backends send it either as a JSON string or a number.
type UserID string

func (id *UserID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = UserID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("user id must be a string or number: %w", err)
	}
	*id = UserID(n.String())
	return nil
}

// User is the identity record of an established session.
type User struct {
	ID        UserID   `json:"id"`
	Email     string   `json:"email"`
	FullName  string   `json:"full_name,omitempty"`
	Role      string   `json:"role,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	CompanyID string   `json:"company_id,omitempty"`
}

// DisplayName returns the name to show for the user.
func (u *User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Email
}

// HasRole reports whether the user holds role, either as primary role or in Roles.
func (u *User) HasRole(role string) bool {
	return u.Role == role || slices.Contains(u.Roles, role)
}

// Clone returns a deep copy so callers cannot mutate shared state.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	clone := *u
	clone.Roles = slices.Clone(u.Roles)
	return &clone
}

// UserPatch is a partial update of a User. Nil fields are left unchanged.
type UserPatch struct {
	Email     *string   `json:"email,omitempty"`
	FullName  *string   `json:"full_name,omitempty"`
	Role      *string   `json:"role,omitempty"`
	Roles     *[]string `json:"roles,omitempty"`
	CompanyID *string   `json:"company_id,omitempty"`
}

// Apply returns a copy of u with the patch applied.
func (p UserPatch) Apply(u *User) *User {
	out := u.Clone()
	if p.Email != nil {
		out.Email = *p.Email
	}
	if p.FullName != nil {
		out.FullName = *p.FullName
	}
	if p.Role != nil {
		out.Role = *p.Role
	}
	if p.Roles != nil {
		out.Roles = slices.Clone(*p.Roles)
	}
	if p.CompanyID != nil {
		out.CompanyID = *p.CompanyID
	}
	return out
}
