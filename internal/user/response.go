package user

import (
	"time"

	"github.com/google/uuid"

	"github.com/ovaphlow/pitchfork/service-identity/internal/user/entity"
)

// PublicUser is the outbound view of a user. Password and one-time codes
// are never part of it, and status is reduced to the current state name.
type PublicUser struct {
	UserID              uuid.UUID   `json:"user_id"`
	UserName            string      `json:"user_name"`
	DisplayName         *string     `json:"display_name,omitempty"`
	Email               string      `json:"email"`
	Status              string      `json:"status"`
	Role                string      `json:"role"`
	PhoneNumber         *string     `json:"phone_number,omitempty"`
	Language            *string     `json:"language,omitempty"`
	Address             *string     `json:"address,omitempty"`
	Country             string      `json:"country"`
	Region              string      `json:"region"`
	City                string      `json:"city"`
	PostCode            string      `json:"post_code"`
	Owners              []uuid.UUID `json:"owners,omitempty"`
	Admins              []uuid.UUID `json:"admins,omitempty"`
	Organizations       []uuid.UUID `json:"organizations,omitempty"`
	ActiveOrganization  *uuid.UUID  `json:"active_organization,omitempty"`
	OtherEmails         []string    `json:"other_emails,omitempty"`
	EmailVerifiedAt     *string     `json:"email_verified_at,omitempty"`
	PasswordRecoveredAt *string     `json:"password_recovered_at,omitempty"`
	CreatedAt           string      `json:"created_at"`
	UpdatedAt           string      `json:"updated_at"`
}

// NewPublicUser projects u. A history whose last token does not decode is
// an internal error, not a silently empty status.
func NewPublicUser(u *entity.User) (*PublicUser, error) {
	st, err := u.CurrentStatus()
	if err != nil {
		return nil, err
	}
	return &PublicUser{
		UserID:              u.UserID,
		UserName:            u.UserName,
		DisplayName:         u.DisplayName,
		Email:               u.Email,
		Status:              string(st.State),
		Role:                string(u.Role),
		PhoneNumber:         u.PhoneNumber,
		Language:            u.Language,
		Address:             u.Address,
		Country:             u.Country,
		Region:              u.Region,
		City:                u.City,
		PostCode:            u.PostCode,
		Owners:              u.Owners,
		Admins:              u.Admins,
		Organizations:       u.Organizations,
		ActiveOrganization:  u.ActiveOrganization,
		OtherEmails:         u.OtherEmails,
		EmailVerifiedAt:     formatTime(u.EmailVerifiedAt),
		PasswordRecoveredAt: formatTime(u.PasswordRecoveredAt),
		CreatedAt:           u.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:           u.UpdatedAt.UTC().Format(time.RFC3339),
	}, nil
}

func newPublicUsers(users []*entity.User) ([]*PublicUser, error) {
	out := make([]*PublicUser, 0, len(users))
	for _, u := range users {
		p, err := NewPublicUser(u)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
