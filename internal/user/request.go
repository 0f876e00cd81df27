package user

import (
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
	"golang.org/x/text/language"

	"github.com/ovaphlow/pitchfork/service-identity/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/apperr"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/utilities"
)

// maxPasswordBytes is the longest password bcrypt accepts.
const maxPasswordBytes = 72

// CreateUserRequest is the inbound payload of CREATE_USER.
type CreateUserRequest struct {
	// CompanyID is accepted for compatibility; organization membership is not wired yet.
	CompanyID       []string `json:"company_id,omitempty"`
	UserName        string   `json:"user_name"`
	Email           string   `json:"email"`
	Password        string   `json:"password"`
	Status          *string  `json:"status,omitempty"`
	Role            *string  `json:"role,omitempty"`
	DisplayName     *string  `json:"display_name,omitempty"`
	PhoneNumber     *string  `json:"phone_number,omitempty"`
	Language        *string  `json:"language,omitempty"`
	Address         *string  `json:"address,omitempty"`
	Country         string   `json:"country"`
	Region          string   `json:"region"`
	City            string   `json:"city"`
	PostCode        string   `json:"post_code"`
	EmailVerifyCode *string  `json:"email_verify_code,omitempty"`
}

// Validate will run validation rules
func (r CreateUserRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UserName, validation.Required, validation.Length(3, 0)),
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(1, maxPasswordBytes)),
		validation.Field(&r.Country, validation.Required),
		validation.Field(&r.Region, validation.Required),
		validation.Field(&r.City, validation.Required),
		validation.Field(&r.PostCode, validation.Required),
		validation.Field(&r.PhoneNumber, validation.By(phoneNumberRule)),
		validation.Field(&r.Language, validation.By(languageRule)),
	)
}

// ToUser runs the create pipeline: structural validation, status and role
// normalization, then password hashing. The result has a fresh id and
// timestamps and is ready for the repository.
func (r CreateUserRequest) ToUser(hasher PasswordHasher, now time.Time) (*entity.User, error) {
	r.UserName = strings.TrimSpace(r.UserName)
	r.Email = normalizeEmail(r.Email)
	trimFields(&r.Country, &r.Region, &r.City, &r.PostCode)

	if err := r.Validate(); err != nil {
		return nil, apperr.BadRequest(err.Error())
	}
	status, err := entity.ParseStatus(r.Status)
	if err != nil {
		return nil, err
	}
	role, err := entity.ParseRole(r.Role)
	if err != nil {
		return nil, err
	}
	hash, err := hasher.Hash(r.Password)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	now = now.UTC()
	return &entity.User{
		UserID:          utilities.NewUserID(),
		UserName:        r.UserName,
		DisplayName:     r.DisplayName,
		Email:           r.Email,
		Password:        hash,
		Status:          entity.AppendStatus(nil, status),
		Role:            role,
		PhoneNumber:     formatPhoneNumber(r.PhoneNumber),
		Language:        canonicalLanguage(r.Language),
		Address:         r.Address,
		Country:         r.Country,
		Region:          r.Region,
		City:            r.City,
		PostCode:        r.PostCode,
		EmailVerifyCode: r.EmailVerifyCode,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// GetUserByPrimaryKeyRequest is the inbound payload of GET_USER_BY_ID.
type GetUserByPrimaryKeyRequest struct {
	Country string `json:"country"`
	Region  string `json:"region"`
	City    string `json:"city"`
	UserID  string `json:"user_id"`
}

// Validate will run validation rules
func (r GetUserByPrimaryKeyRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Country, validation.Required),
		validation.Field(&r.Region, validation.Required),
		validation.Field(&r.City, validation.Required),
		validation.Field(&r.UserID, validation.Required, is.UUID),
	)
}

// ToKey validates the request and returns the primary key it names.
func (r GetUserByPrimaryKeyRequest) ToKey() (entity.Key, error) {
	trimFields(&r.Country, &r.Region, &r.City, &r.UserID)
	return keyOf(r.Country, r.Region, r.City, r.UserID, r.Validate)
}

// GetUsersRequest is the inbound payload of GET_USERS.
type GetUsersRequest struct {
	Country string `json:"country"`
	Region  string `json:"region"`
	City    string `json:"city"`
}

// Validate will run validation rules
func (r GetUsersRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Country, validation.Required),
		validation.Field(&r.Region, validation.Required),
		validation.Field(&r.City, validation.Required),
	)
}

// ToPartition validates the request and returns the partition it names.
func (r GetUsersRequest) ToPartition() (entity.PartitionKey, error) {
	trimFields(&r.Country, &r.Region, &r.City)
	if err := r.Validate(); err != nil {
		return entity.PartitionKey{}, apperr.BadRequest(err.Error())
	}
	return entity.PartitionKey{Country: r.Country, Region: r.Region, City: r.City}, nil
}

// GetUserRequest is the inbound payload of GET_USER. When Email is set the
// lookup goes through the email index and UserName is ignored.
type GetUserRequest struct {
	UserName string  `json:"user_name"`
	Email    *string `json:"email,omitempty"`
}

// Validate will run validation rules
func (r GetUserRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, is.Email),
	)
}

// ToCriteria validates the request and returns the index lookup it names.
func (r GetUserRequest) ToCriteria() (entity.Criteria, error) {
	if r.Email != nil {
		e := normalizeEmail(*r.Email)
		r.Email = &e
	}
	if err := r.Validate(); err != nil {
		return entity.Criteria{}, apperr.BadRequest(err.Error())
	}
	c := entity.Criteria{UserName: strings.TrimSpace(r.UserName)}
	if r.Email != nil {
		c.Email = *r.Email
	}
	if c.Email == "" && c.UserName == "" {
		return entity.Criteria{}, apperr.BadRequest("user_name or email is required")
	}
	return c, nil
}

// UpdateUserStatusRequest is the inbound payload of UPDATE_USER_STATUS.
type UpdateUserStatusRequest struct {
	Status  string `json:"status"`
	Country string `json:"country"`
	Region  string `json:"region"`
	City    string `json:"city"`
	UserID  string `json:"user_id"`
}

// Validate will run validation rules
func (r UpdateUserStatusRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Status, validation.Required),
		validation.Field(&r.Country, validation.Required),
		validation.Field(&r.Region, validation.Required),
		validation.Field(&r.City, validation.Required),
		validation.Field(&r.UserID, validation.Required, is.UUID),
	)
}

// ToStatusPush validates the request and returns the target key with a
// freshly encoded status token. The inbound text is never stored verbatim.
func (r UpdateUserStatusRequest) ToStatusPush() (entity.Key, string, error) {
	trimFields(&r.Country, &r.Region, &r.City, &r.UserID)
	key, err := keyOf(r.Country, r.Region, r.City, r.UserID, r.Validate)
	if err != nil {
		return entity.Key{}, "", err
	}
	status, err := entity.Decode(r.Status)
	if err != nil {
		return entity.Key{}, "", err
	}
	return key, entity.Encode(status), nil
}

// UpdateUserRequest is the inbound payload of UPDATE_USER. The key fields
// select the row; every other field is optional and only overwrites when set.
type UpdateUserRequest struct {
	Country string `json:"country"`
	Region  string `json:"region"`
	City    string `json:"city"`
	UserID  string `json:"user_id"`

	// CompanyID is accepted for compatibility; organization membership is not wired yet.
	CompanyID            []string `json:"company_id,omitempty"`
	Email                *string  `json:"email,omitempty"`
	Status               *string  `json:"status,omitempty"`
	Role                 *string  `json:"role,omitempty"`
	DisplayName          *string  `json:"display_name,omitempty"`
	PhoneNumber          *string  `json:"phone_number,omitempty"`
	Language             *string  `json:"language,omitempty"`
	Address              *string  `json:"address,omitempty"`
	EmailVerifyCode      *string  `json:"email_verify_code,omitempty"`
	PasswordRecoveryCode *string  `json:"password_recovery_code,omitempty"`
	PasswordRecoveredAt  *string  `json:"password_recovered_at,omitempty"`
	EmailVerifiedAt      *string  `json:"email_verified_at,omitempty"`
}

// Validate will run validation rules
func (r UpdateUserRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Country, validation.Required),
		validation.Field(&r.Region, validation.Required),
		validation.Field(&r.City, validation.Required),
		validation.Field(&r.UserID, validation.Required, is.UUID),
		validation.Field(&r.Email, validation.NilOrNotEmpty, is.Email),
		validation.Field(&r.PhoneNumber, validation.By(phoneNumberRule)),
		validation.Field(&r.Language, validation.By(languageRule)),
		validation.Field(&r.PasswordRecoveredAt, validation.Date(time.RFC3339)),
		validation.Field(&r.EmailVerifiedAt, validation.Date(time.RFC3339)),
	)
}

// UserUpdate is a validated UPDATE_USER request.
type UserUpdate struct {
	Key                  entity.Key
	Email                *string
	Role                 *entity.Role
	DisplayName          *string
	PhoneNumber          *string
	Language             *string
	Address              *string
	EmailVerifyCode      *string
	PasswordRecoveryCode *string
	PasswordRecoveredAt  *time.Time
	EmailVerifiedAt      *time.Time
	// StatusToken is appended to the history, never written over it.
	StatusToken *string
}

// ToUpdate runs the update pipeline.
func (r UpdateUserRequest) ToUpdate() (*UserUpdate, error) {
	trimFields(&r.Country, &r.Region, &r.City, &r.UserID)
	if r.Email != nil {
		e := normalizeEmail(*r.Email)
		r.Email = &e
	}
	key, err := keyOf(r.Country, r.Region, r.City, r.UserID, r.Validate)
	if err != nil {
		return nil, err
	}
	up := &UserUpdate{
		Key:                  key,
		Email:                r.Email,
		DisplayName:          r.DisplayName,
		PhoneNumber:          formatPhoneNumber(r.PhoneNumber),
		Language:             canonicalLanguage(r.Language),
		Address:              r.Address,
		EmailVerifyCode:      r.EmailVerifyCode,
		PasswordRecoveryCode: r.PasswordRecoveryCode,
		PasswordRecoveredAt:  parseTimestamp(r.PasswordRecoveredAt),
		EmailVerifiedAt:      parseTimestamp(r.EmailVerifiedAt),
	}
	if r.Role != nil {
		role, err := entity.ParseRole(r.Role)
		if err != nil {
			return nil, err
		}
		up.Role = &role
	}
	if r.Status != nil {
		status, err := entity.Decode(*r.Status)
		if err != nil {
			return nil, err
		}
		token := entity.Encode(status)
		up.StatusToken = &token
	}
	return up, nil
}

// StatusOnly reports whether the update carries a status and nothing else.
// Such an update is a status push, not a revision of the user.
func (up *UserUpdate) StatusOnly() bool {
	return up.StatusToken != nil &&
		up.Email == nil &&
		up.Role == nil &&
		up.DisplayName == nil &&
		up.PhoneNumber == nil &&
		up.Language == nil &&
		up.Address == nil &&
		up.EmailVerifyCode == nil &&
		up.PasswordRecoveryCode == nil &&
		up.PasswordRecoveredAt == nil &&
		up.EmailVerifiedAt == nil
}

// ApplyTo overwrites the fields set in the update. Keys, password, status
// history and organization references are left alone.
func (up *UserUpdate) ApplyTo(u *entity.User, now time.Time) {
	if up.Email != nil {
		u.Email = *up.Email
	}
	if up.Role != nil {
		u.Role = *up.Role
	}
	setIfPresent(&u.DisplayName, up.DisplayName)
	setIfPresent(&u.PhoneNumber, up.PhoneNumber)
	setIfPresent(&u.Language, up.Language)
	setIfPresent(&u.Address, up.Address)
	setIfPresent(&u.EmailVerifyCode, up.EmailVerifyCode)
	setIfPresent(&u.PasswordRecoveryCode, up.PasswordRecoveryCode)
	setIfPresent(&u.PasswordRecoveredAt, up.PasswordRecoveredAt)
	setIfPresent(&u.EmailVerifiedAt, up.EmailVerifiedAt)
	u.UpdatedAt = now.UTC()
}

func setIfPresent[T any](dst **T, v *T) {
	if v != nil {
		c := *v
		*dst = &c
	}
}

func keyOf(country, region, city, userID string, validate func() error) (entity.Key, error) {
	if err := validate(); err != nil {
		return entity.Key{}, apperr.BadRequest(err.Error())
	}
	id, err := uuid.Parse(userID)
	if err != nil {
		return entity.Key{}, apperr.BadRequest("user_id: " + err.Error())
	}
	return entity.Key{
		PartitionKey: entity.PartitionKey{Country: country, Region: region, City: city},
		UserID:       id,
	}, nil
}

// trimFields strips surrounding spaces in place. Key fields go through it on
// every request so lookups match what CreateUser stored.
func trimFields(fields ...*string) {
	for _, f := range fields {
		*f = strings.TrimSpace(*f)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func optionalString(value interface{}) (string, bool) {
	v, isNil := validation.Indirect(value)
	if isNil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

// phoneNumberRule checks international numbers only. Anything without a
// leading "+" is stored as sent.
func phoneNumberRule(value interface{}) error {
	s, ok := optionalString(value)
	if !ok {
		return nil
	}
	if _, ok := parseInternational(s); !ok && isInternational(s) {
		return errors.New("must be a valid phone number")
	}
	return nil
}

func isInternational(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), "+")
}

func parseInternational(s string) (*phonenumbers.PhoneNumber, bool) {
	if !isInternational(s) {
		return nil, false
	}
	num, err := phonenumbers.Parse(s, phonenumbers.UNKNOWN_REGION)
	if err != nil || !phonenumbers.IsPossibleNumber(num) {
		return nil, false
	}
	return num, true
}

func languageRule(value interface{}) error {
	s, ok := optionalString(value)
	if !ok {
		return nil
	}
	if _, err := language.Parse(s); err != nil {
		return errors.New("must be a valid language tag")
	}
	return nil
}

// formatPhoneNumber renders an international number as E.164 and leaves
// national input untouched.
func formatPhoneNumber(phone *string) *string {
	if phone == nil || *phone == "" {
		return phone
	}
	num, ok := parseInternational(*phone)
	if !ok {
		return phone
	}
	out := phonenumbers.Format(num, phonenumbers.E164)
	return &out
}

func canonicalLanguage(lang *string) *string {
	if lang == nil || *lang == "" {
		return lang
	}
	tag, err := language.Parse(*lang)
	if err != nil {
		return lang
	}
	out := tag.String()
	return &out
}

func parseTimestamp(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
