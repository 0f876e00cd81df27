package user

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/apperr"
)

// Repository is the persistence contract for user rows. Implementations
// return apperr.ErrUserNotFound on misses and apperr.ErrInternal on store
// faults.
type Repository interface {
	// Create writes u, overwriting any row with the same key.
	Create(ctx context.Context, u *entity.User) error
	FindByID(ctx context.Context, key entity.Key) (*entity.User, error)
	// FindByNameOrEmail looks up through the email index when c.Email is
	// set, otherwise through the user_name index.
	FindByNameOrEmail(ctx context.Context, c entity.Criteria) (*entity.User, error)
	// FindAllInPartition returns every user of p, newest user_id first.
	FindAllInPartition(ctx context.Context, p entity.PartitionKey) ([]*entity.User, error)
	// Update overwrites the mutable fields of an existing row. The status
	// history is not touched.
	Update(ctx context.Context, u *entity.User) error
	// PushStatus appends token to the history of an existing row and
	// reports whether the row existed.
	PushStatus(ctx context.Context, key entity.Key, token string) (bool, error)
}

var tracer = otel.Tracer("github.com/ovaphlow/pitchfork/service-identity/internal/user")

// UserService orchestrates the user lifecycle flows.
type UserService struct {
	repo   Repository
	hasher PasswordHasher
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewUserService(repo Repository, hasher PasswordHasher, logger *zap.SugaredLogger) *UserService {
	if hasher == nil {
		hasher = BcryptHasher{Cost: 12}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &UserService{repo: repo, hasher: hasher, logger: logger, now: time.Now}
}

// CreateUser validates req, rejects a taken email or user name and stores
// the new user. Uniqueness is checked before the write, so two concurrent
// creates with the same email can both pass.
func (s *UserService) CreateUser(ctx context.Context, req CreateUserRequest) (_ *PublicUser, err error) {
	ctx, span := tracer.Start(ctx, "UserService.CreateUser")
	defer func() { endSpan(span, err) }()

	u, err := req.ToUser(s.hasher, s.now())
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("user.id", u.UserID.String()))

	if err := s.ensureFree(ctx, entity.Criteria{Email: u.Email}, apperr.EmailExisted(u.Email)); err != nil {
		return nil, err
	}
	if err := s.ensureFree(ctx, entity.Criteria{UserName: u.UserName}, apperr.UserNameExisted(u.UserName)); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Infow("user created", "user_id", u.UserID, "country", u.Country, "region", u.Region, "city", u.City)
	return NewPublicUser(u)
}

// ensureFree returns taken when the lookup finds a user.
func (s *UserService) ensureFree(ctx context.Context, c entity.Criteria, taken error) error {
	_, err := s.repo.FindByNameOrEmail(ctx, c)
	switch {
	case err == nil:
		return taken
	case errors.Is(err, apperr.ErrUserNotFound):
		return nil
	default:
		return err
	}
}

// GetUserByID returns the user stored under the full primary key.
func (s *UserService) GetUserByID(ctx context.Context, req GetUserByPrimaryKeyRequest) (_ *PublicUser, err error) {
	ctx, span := tracer.Start(ctx, "UserService.GetUserByID")
	defer func() { endSpan(span, err) }()

	key, err := req.ToKey()
	if err != nil {
		return nil, err
	}
	u, err := s.repo.FindByID(ctx, key)
	if err != nil {
		return nil, err
	}
	return NewPublicUser(u)
}

// GetUser looks a user up by email or user name.
func (s *UserService) GetUser(ctx context.Context, req GetUserRequest) (_ *PublicUser, err error) {
	ctx, span := tracer.Start(ctx, "UserService.GetUser")
	defer func() { endSpan(span, err) }()

	c, err := req.ToCriteria()
	if err != nil {
		return nil, err
	}
	u, err := s.repo.FindByNameOrEmail(ctx, c)
	if err != nil {
		return nil, err
	}
	return NewPublicUser(u)
}

// GetUsers lists one partition.
func (s *UserService) GetUsers(ctx context.Context, req GetUsersRequest) (_ []*PublicUser, err error) {
	ctx, span := tracer.Start(ctx, "UserService.GetUsers")
	defer func() { endSpan(span, err) }()

	p, err := req.ToPartition()
	if err != nil {
		return nil, err
	}
	users, err := s.repo.FindAllInPartition(ctx, p)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("user.count", len(users)))
	return newPublicUsers(users)
}

// UpdateUser overwrites the optional fields present in req. A status in
// req is appended to the history after the overwrite; when it is the only
// field the row is not rewritten and updated_at stays as it was.
func (s *UserService) UpdateUser(ctx context.Context, req UpdateUserRequest) (_ *PublicUser, err error) {
	ctx, span := tracer.Start(ctx, "UserService.UpdateUser")
	defer func() { endSpan(span, err) }()

	up, err := req.ToUpdate()
	if err != nil {
		return nil, err
	}
	u, err := s.repo.FindByID(ctx, up.Key)
	if err != nil {
		return nil, err
	}
	if up.Email != nil && *up.Email != u.Email {
		other, err := s.repo.FindByNameOrEmail(ctx, entity.Criteria{Email: *up.Email})
		switch {
		case err == nil && other.UserID != u.UserID:
			return nil, apperr.EmailExisted(*up.Email)
		case err != nil && !errors.Is(err, apperr.ErrUserNotFound):
			return nil, err
		}
	}

	if !up.StatusOnly() {
		up.ApplyTo(u, s.now())
		if err := s.repo.Update(ctx, u); err != nil {
			return nil, err
		}
	}
	if up.StatusToken != nil {
		applied, err := s.repo.PushStatus(ctx, up.Key, *up.StatusToken)
		if err != nil {
			return nil, err
		}
		if !applied {
			return nil, apperr.UserNotFound()
		}
		u.Status = append(u.Status, *up.StatusToken)
	}
	s.logger.Infow("user updated", "user_id", u.UserID)
	return NewPublicUser(u)
}

// UpdateUserStatus appends a status to an existing user. The result is
// false when no row matched the key.
func (s *UserService) UpdateUserStatus(ctx context.Context, req UpdateUserStatusRequest) (_ bool, err error) {
	ctx, span := tracer.Start(ctx, "UserService.UpdateUserStatus")
	defer func() { endSpan(span, err) }()

	key, token, err := req.ToStatusPush()
	if err != nil {
		return false, err
	}
	applied, err := s.repo.PushStatus(ctx, key, token)
	if err != nil {
		return false, err
	}
	span.SetAttributes(attribute.Bool("status.applied", applied))
	if applied {
		s.logger.Infow("user status pushed", "user_id", key.UserID, "status", req.Status)
	}
	return applied, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil && apperr.CodeOf(err) == apperr.CodeInternal {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
