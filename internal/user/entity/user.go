package entity

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var errEmptyHistory = errors.New("user has no status history")

// PartitionKey decides which partition a user row lives in. All three
// parts are required.
type PartitionKey struct {
	Country string `json:"country"`
	Region  string `json:"region"`
	City    string `json:"city"`
}

// Key is the full primary key: partition plus the user_id clustering key.
// It never changes after creation.
type Key struct {
	PartitionKey
	UserID uuid.UUID `json:"user_id"`
}

// Criteria selects a user through a secondary index. A non-empty Email
// takes precedence and UserName is then ignored.
type Criteria struct {
	UserName string
	Email    string
}

// ByEmail reports whether the lookup goes through the email index.
func (c Criteria) ByEmail() bool { return c.Email != "" }

// User is one row of the users table.
type User struct {
	UserID      uuid.UUID
	UserName    string
	DisplayName *string
	Email       string
	Password    string // opaque hash
	// Status is the append-only history of encoded status tokens; the
	// current status is the last element.
	Status      []string
	Role        Role
	PhoneNumber *string
	Language    *string
	Address     *string
	Country     string
	Region      string
	City        string
	PostCode    string

	// pass-through references, not interpreted here
	Owners             []uuid.UUID
	Admins             []uuid.UUID
	Organizations      []uuid.UUID
	ActiveOrganization *uuid.UUID
	OtherEmails        []string

	EmailVerifyCode      *string
	EmailVerifiedAt      *time.Time
	PasswordRecoveryCode *string
	PasswordRecoveredAt  *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Partition returns the user's partition key.
func (u *User) Partition() PartitionKey {
	return PartitionKey{Country: u.Country, Region: u.Region, City: u.City}
}

// Key returns the user's primary key.
func (u *User) Key() Key {
	return Key{PartitionKey: u.Partition(), UserID: u.UserID}
}

// CurrentStatus decodes the last status token.
func (u *User) CurrentStatus() (Status, error) {
	return CurrentStatus(u.Status)
}

// Clone returns a deep copy so stores never share slices or pointers with callers.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.DisplayName = cloneptr(u.DisplayName)
	c.Status = clone(u.Status)
	c.PhoneNumber = cloneptr(u.PhoneNumber)
	c.Language = cloneptr(u.Language)
	c.Address = cloneptr(u.Address)
	c.Owners = clone(u.Owners)
	c.Admins = clone(u.Admins)
	c.Organizations = clone(u.Organizations)
	c.ActiveOrganization = cloneptr(u.ActiveOrganization)
	c.OtherEmails = clone(u.OtherEmails)
	c.EmailVerifyCode = cloneptr(u.EmailVerifyCode)
	c.EmailVerifiedAt = cloneptr(u.EmailVerifiedAt)
	c.PasswordRecoveryCode = cloneptr(u.PasswordRecoveryCode)
	c.PasswordRecoveredAt = cloneptr(u.PasswordRecoveredAt)
	return &c
}

func clone[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append(make([]T, 0, len(s)), s...)
}

func cloneptr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
