package user

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ovaphlow/pitchfork/service-identity/internal/user/entity"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Create(ctx context.Context, u *entity.User) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

func (m *MockRepository) FindByID(ctx context.Context, key entity.Key) (*entity.User, error) {
	args := m.Called(ctx, key)
	u, _ := args.Get(0).(*entity.User)
	return u, args.Error(1)
}

func (m *MockRepository) FindByNameOrEmail(ctx context.Context, c entity.Criteria) (*entity.User, error) {
	args := m.Called(ctx, c)
	u, _ := args.Get(0).(*entity.User)
	return u, args.Error(1)
}

func (m *MockRepository) FindAllInPartition(ctx context.Context, p entity.PartitionKey) ([]*entity.User, error) {
	args := m.Called(ctx, p)
	users, _ := args.Get(0).([]*entity.User)
	return users, args.Error(1)
}

func (m *MockRepository) Update(ctx context.Context, u *entity.User) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

func (m *MockRepository) PushStatus(ctx context.Context, key entity.Key, token string) (bool, error) {
	args := m.Called(ctx, key, token)
	return args.Bool(0), args.Error(1)
}

type fakeHasher struct{ err error }

func (h fakeHasher) Hash(pw string) (string, error) {
	if h.err != nil {
		return "", h.err
	}
	return "hashed:" + pw, nil
}
