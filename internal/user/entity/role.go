package entity

import "github.com/ovaphlow/pitchfork/service-identity/pkg/apperr"

// Role is the stored role string. It is not enforced by this service.
type Role string

const (
	RoleGuest   Role = "Guest"
	RoleMember  Role = "Member"
	RoleManager Role = "Manager"
	RoleAdmin   Role = "Admin"
)

// IsValid checks if the role is one of the predefined roles
func (r Role) IsValid() bool {
	switch r {
	case RoleGuest, RoleMember, RoleManager, RoleAdmin:
		return true
	default:
		return false
	}
}

// ParseRole normalizes optional role text; nil means Guest.
func ParseRole(input *string) (Role, error) {
	if input == nil {
		return RoleGuest, nil
	}
	r := Role(*input)
	if !r.IsValid() {
		return "", apperr.ErrUnknownRole
	}
	return r, nil
}
