// Package models holds the domain types shared by repositories, services
// and the HTTP layer.
package models

import "time"

// Rights is the authorization level of a user. RightsDisabled marks a
// banned account.
type Rights string

const (
	RightsCustomer Rights = "customer"
	RightsManager  Rights = "manager"
	RightsAdmin    Rights = "admin"
	RightsDisabled Rights = "disabled"
)

// Valid reports whether r is one of the known rights.
func (r Rights) Valid() bool {
	switch r {
	case RightsCustomer, RightsManager, RightsAdmin, RightsDisabled:
		return true
	}
	return false
}

// Scope selects a subset of users for listing.
type Scope string

const (
	ScopeCustomer Scope = "customer"
	ScopeManager  Scope = "manager"
	ScopeAdmin    Scope = "admin"
	ScopeDisabled Scope = "disabled"
	ScopeDeleted  Scope = "deleted"
	ScopeAll      Scope = "all"
)

func (s Scope) Valid() bool {
	switch s {
	case ScopeCustomer, ScopeManager, ScopeAdmin, ScopeDisabled, ScopeDeleted, ScopeAll:
		return true
	}
	return false
}

// User is the local identity record. LookupHash correlates the row with its
// credential in the external authority and is not unique in Postgres.
type User struct {
	ID          int64      `json:"id"`
	Username    *string    `json:"username,omitempty"`
	Email       *string    `json:"email,omitempty"`
	Phonenumber *string    `json:"phonenumber,omitempty"`
	Name        *string    `json:"name,omitempty"`
	Birthdate   *time.Time `json:"birthdate,omitempty"`
	Rights      Rights     `json:"rights"`
	LookupHash  string     `json:"-"`
	LookupNoise int64      `json:"-"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (u *User) IsDeleted() bool  { return u.DeletedAt != nil }
func (u *User) IsDisabled() bool { return u.Rights == RightsDisabled }

// UniqueProperties identifies a user by one of the unique identifiers.
// The first non-nil field in the order username, phonenumber, email is used.
type UniqueProperties struct {
	Username    *string `json:"username,omitempty"`
	Phonenumber *string `json:"phonenumber,omitempty"`
	Email       *string `json:"email,omitempty"`
}

// Empty reports whether no identifier is set.
func (p UniqueProperties) Empty() bool {
	return p.Username == nil && p.Phonenumber == nil && p.Email == nil
}

// UserPatch is a partial profile update; nil fields are left untouched.
type UserPatch struct {
	Username    *string    `json:"username,omitempty"`
	Email       *string    `json:"email,omitempty"`
	Phonenumber *string    `json:"phonenumber,omitempty"`
	Name        *string    `json:"name,omitempty"`
	Birthdate   *time.Time `json:"birthdate,omitempty"`
}

// StringValue dereferences p, returning "" for nil.
func StringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
