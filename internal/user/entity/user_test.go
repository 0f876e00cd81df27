package entity

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-identity/pkg/apperr"
)

func TestParseRole(t *testing.T) {
	r, err := ParseRole(nil)
	require.NoError(t, err)
	assert.Equal(t, RoleGuest, r)

	for _, name := range []string{"Guest", "Member", "Manager", "Admin"} {
		r, err := ParseRole(&name)
		require.NoError(t, err)
		assert.Equal(t, Role(name), r)
	}

	for _, name := range []string{"", "admin", "Owner"} {
		_, err := ParseRole(&name)
		assert.ErrorIs(t, err, apperr.ErrUnknownRole, name)
	}
}

func TestUserKey(t *testing.T) {
	id := uuid.New()
	u := &User{UserID: id, Country: "US", Region: "CA", City: "SF"}
	assert.Equal(t, Key{PartitionKey: PartitionKey{Country: "US", Region: "CA", City: "SF"}, UserID: id}, u.Key())
}

func TestCriteriaEmailPrecedence(t *testing.T) {
	assert.True(t, Criteria{UserName: "alice", Email: "a@x.com"}.ByEmail())
	assert.False(t, Criteria{UserName: "alice"}.ByEmail())
}

func TestCloneIsDeep(t *testing.T) {
	name := "Alice"
	now := time.Now()
	org := uuid.New()
	u := &User{
		DisplayName:        &name,
		Status:             []string{"Inactive:FirstTimeAccess:a"},
		Organizations:      []uuid.UUID{org},
		ActiveOrganization: &org,
		EmailVerifiedAt:    &now,
	}
	c := u.Clone()
	*c.DisplayName = "Bob"
	c.Status[0] = "changed"
	c.Organizations[0] = uuid.Nil

	assert.Equal(t, "Alice", *u.DisplayName)
	assert.Equal(t, "Inactive:FirstTimeAccess:a", u.Status[0])
	assert.Equal(t, org, u.Organizations[0])
	assert.Nil(t, (*User)(nil).Clone())
}
