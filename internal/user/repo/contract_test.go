package repo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-identity/internal/user"
	"github.com/ovaphlow/pitchfork/service-identity/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/apperr"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/utilities"
)

type migratingRepo interface {
	user.Repository
	Migrate(ctx context.Context) error
}

// fixtures builds users with names unique to one test, so a shared store
// such as a Cassandra keyspace can be reused between runs.
type fixtures struct {
	suffix    string
	partition entity.PartitionKey
}

func newFixtures() fixtures {
	sfx := uuid.NewString()[:8]
	return fixtures{
		suffix:    sfx,
		partition: entity.PartitionKey{Country: "US", Region: "CA", City: "SF-" + sfx},
	}
}

func (f fixtures) user(name string) *entity.User {
	now := time.Now().UTC().Truncate(time.Millisecond)
	display := name + " display"
	return &entity.User{
		UserID:      utilities.NewUserID(),
		UserName:    name + "-" + f.suffix,
		DisplayName: &display,
		Email:       name + "-" + f.suffix + "@x.com",
		Password:    "hash",
		Status:      entity.AppendStatus(nil, entity.DefaultStatus),
		Role:        entity.RoleGuest,
		Country:     f.partition.Country,
		Region:      f.partition.Region,
		City:        f.partition.City,
		PostCode:    "94105",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// assertSameUser compares users field by field, timestamps by instant.
func assertSameUser(t *testing.T, want, got *entity.User) {
	t.Helper()
	require.NotNil(t, got)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt), "created_at %v != %v", want.CreatedAt, got.CreatedAt)
	assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt), "updated_at %v != %v", want.UpdatedAt, got.UpdatedAt)
	w, g := want.Clone(), got.Clone()
	w.CreatedAt, w.UpdatedAt = time.Time{}, time.Time{}
	g.CreatedAt, g.UpdatedAt = time.Time{}, time.Time{}
	assert.Equal(t, w, g)
}

func runRepositoryContract(t *testing.T, newRepo func(t *testing.T) migratingRepo) {
	ctx := context.Background()

	t.Run("migrate is idempotent", func(t *testing.T) {
		r := newRepo(t)
		require.NoError(t, r.Migrate(ctx))
		require.NoError(t, r.Migrate(ctx))
	})

	t.Run("create then find by id", func(t *testing.T) {
		r := newRepo(t)
		f := newFixtures()
		u := f.user("alice")
		org := uuid.New()
		u.Organizations = []uuid.UUID{org}
		u.ActiveOrganization = &org
		verified := time.Now().UTC().Truncate(time.Millisecond)
		u.EmailVerifiedAt = &verified
		require.NoError(t, r.Create(ctx, u))

		got, err := r.FindByID(ctx, u.Key())
		require.NoError(t, err)
		assertSameUser(t, u, got)
	})

	t.Run("find by id miss", func(t *testing.T) {
		r := newRepo(t)
		f := newFixtures()
		_, err := r.FindByID(ctx, entity.Key{PartitionKey: f.partition, UserID: utilities.NewUserID()})
		assert.ErrorIs(t, err, apperr.ErrUserNotFound)
	})

	t.Run("email takes precedence over user name", func(t *testing.T) {
		r := newRepo(t)
		f := newFixtures()
		alice, bob := f.user("alice"), f.user("bob")
		require.NoError(t, r.Create(ctx, alice))
		require.NoError(t, r.Create(ctx, bob))

		got, err := r.FindByNameOrEmail(ctx, entity.Criteria{UserName: bob.UserName, Email: alice.Email})
		require.NoError(t, err)
		assert.Equal(t, alice.UserID, got.UserID)

		got, err = r.FindByNameOrEmail(ctx, entity.Criteria{UserName: bob.UserName})
		require.NoError(t, err)
		assert.Equal(t, bob.UserID, got.UserID)

		_, err = r.FindByNameOrEmail(ctx, entity.Criteria{Email: "nobody-" + f.suffix + "@x.com"})
		assert.ErrorIs(t, err, apperr.ErrUserNotFound)
	})

	t.Run("email lookup ignores a matching user name", func(t *testing.T) {
		r := newRepo(t)
		f := newFixtures()
		alice := f.user("alice")
		require.NoError(t, r.Create(ctx, alice))

		_, err := r.FindByNameOrEmail(ctx, entity.Criteria{UserName: alice.UserName, Email: "unrelated-" + f.suffix + "@x.com"})
		assert.ErrorIs(t, err, apperr.ErrUserNotFound)
	})

	t.Run("partition scan is newest first", func(t *testing.T) {
		r := newRepo(t)
		f := newFixtures()
		var ids []uuid.UUID
		for _, name := range []string{"a", "b", "c"} {
			u := f.user(name)
			require.NoError(t, r.Create(ctx, u))
			ids = append(ids, u.UserID)
		}
		other := newFixtures().user("elsewhere")
		require.NoError(t, r.Create(ctx, other))

		got, err := r.FindAllInPartition(ctx, f.partition)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, []uuid.UUID{ids[2], ids[1], ids[0]}, []uuid.UUID{got[0].UserID, got[1].UserID, got[2].UserID})
	})

	t.Run("empty partition", func(t *testing.T) {
		r := newRepo(t)
		got, err := r.FindAllInPartition(ctx, newFixtures().partition)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("create overwrites the same key", func(t *testing.T) {
		r := newRepo(t)
		u := newFixtures().user("alice")
		require.NoError(t, r.Create(ctx, u))
		u.PostCode = "10001"
		require.NoError(t, r.Create(ctx, u))

		got, err := r.FindByID(ctx, u.Key())
		require.NoError(t, err)
		assert.Equal(t, "10001", got.PostCode)
	})

	t.Run("update keeps status history", func(t *testing.T) {
		r := newRepo(t)
		u := newFixtures().user("alice")
		require.NoError(t, r.Create(ctx, u))
		token := entity.Encode(entity.Status{State: entity.StateActive, Reason: entity.ReasonLoginAgain})
		ok, err := r.PushStatus(ctx, u.Key(), token)
		require.NoError(t, err)
		require.True(t, ok)

		stale := u.Clone()
		phone := "+14155550100"
		stale.PhoneNumber = &phone
		stale.UpdatedAt = stale.UpdatedAt.Add(time.Minute)
		require.NoError(t, r.Update(ctx, stale))

		got, err := r.FindByID(ctx, u.Key())
		require.NoError(t, err)
		require.NotNil(t, got.PhoneNumber)
		assert.Equal(t, phone, *got.PhoneNumber)
		assert.True(t, stale.UpdatedAt.Equal(got.UpdatedAt))
		assert.Equal(t, append(u.Status, token), got.Status)
	})

	t.Run("update of missing row", func(t *testing.T) {
		r := newRepo(t)
		u := newFixtures().user("ghost")
		assert.ErrorIs(t, r.Update(ctx, u), apperr.ErrUserNotFound)
		_, err := r.FindByID(ctx, u.Key())
		assert.ErrorIs(t, err, apperr.ErrUserNotFound)
	})

	t.Run("push status on missing row", func(t *testing.T) {
		r := newRepo(t)
		key := entity.Key{PartitionKey: newFixtures().partition, UserID: utilities.NewUserID()}
		ok, err := r.PushStatus(ctx, key, entity.Encode(entity.DefaultStatus))
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = r.FindByID(ctx, key)
		assert.ErrorIs(t, err, apperr.ErrUserNotFound)
	})

	t.Run("push status appends", func(t *testing.T) {
		r := newRepo(t)
		u := newFixtures().user("alice")
		require.NoError(t, r.Create(ctx, u))

		token := entity.Encode(entity.Status{State: entity.StateDisable, Reason: entity.ReasonSpammer})
		ok, err := r.PushStatus(ctx, u.Key(), token)
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := r.FindByID(ctx, u.Key())
		require.NoError(t, err)
		require.Len(t, got.Status, 2)
		assert.Equal(t, u.Status[0], got.Status[0])
		assert.Equal(t, token, got.Status[1])
		cur, err := got.CurrentStatus()
		require.NoError(t, err)
		assert.Equal(t, entity.StateDisable, cur.State)
		assert.Equal(t, entity.ReasonSpammer, cur.Reason)
	})

	t.Run("concurrent pushes are all kept", func(t *testing.T) {
		r := newRepo(t)
		u := newFixtures().user("alice")
		require.NoError(t, r.Create(ctx, u))

		const n = 8
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := r.PushStatus(ctx, u.Key(), entity.Encode(entity.Status{State: entity.StateActive, Reason: entity.ReasonLoginAgain}))
				assert.NoError(t, err)
				assert.True(t, ok)
			}()
		}
		wg.Wait()

		got, err := r.FindByID(ctx, u.Key())
		require.NoError(t, err)
		assert.Len(t, got.Status, n+1)
	})
}
