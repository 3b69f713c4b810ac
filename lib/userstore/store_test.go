package userstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/peerhub/peerhub/core"
)

func TestCreateAndGetUser(t *testing.T) {
	require := require.New(t)

	s, cleanup := Fixture()
	defer cleanup()

	u, err := s.CreateUser("alice", "hash", false, []string{
		core.CapSearch, core.CapAddDownloads,
	})
	require.NoError(err)
	require.Equal("alice", u.Username)
	require.False(u.IsAdmin)
	require.Equal([]string{core.CapAddDownloads, core.CapSearch}, u.Capabilities)

	byName, err := s.GetUserByUsername("ALICE") // case-insensitive
	require.NoError(err)
	require.Equal(u.ID, byName.ID)

	_, err = s.CreateUser("Alice", "other", false, nil)
	require.Equal(ErrUserExists, err)
}

func TestCreateUserValidation(t *testing.T) {
	require := require.New(t)

	s, cleanup := Fixture()
	defer cleanup()

	_, err := s.CreateUser("a", "hash", false, nil)
	require.Error(err)

	_, err = s.CreateUser("alice", "hash", false, []string{"fly"})
	require.Error(err)
	require.Contains(err.Error(), "unknown capability")
}

func TestUpdateUserCapabilitiesTransactional(t *testing.T) {
	require := require.New(t)

	s, cleanup := Fixture()
	defer cleanup()

	u, err := s.CreateUser("alice", "hash", false, []string{core.CapSearch})
	require.NoError(err)

	caps := []string{core.CapViewHistory, core.CapPauseResume}
	admin := true
	require.NoError(s.UpdateUser(u.ID, UpdateOpts{
		IsAdmin:      &admin,
		Capabilities: &caps,
	}))

	got, err := s.GetUser(u.ID)
	require.NoError(err)
	require.True(got.IsAdmin)
	require.Equal([]string{core.CapPauseResume, core.CapViewHistory}, got.Capabilities)

	require.Equal(ErrUserNotFound, s.UpdateUser(999, UpdateOpts{IsAdmin: &admin}))
}

func TestEditAllImpliesViewAll(t *testing.T) {
	require := require.New(t)

	s, cleanup := Fixture()
	defer cleanup()

	u, err := s.CreateUser("bob", "hash", false, []string{core.CapEditAllDownloads})
	require.NoError(err)
	require.True(u.HasCapability(core.CapViewAllDownloads))
	require.False(u.HasCapability(core.CapSearch))
}

func TestAPIKeyRotation(t *testing.T) {
	require := require.New(t)

	s, cleanup := Fixture()
	defer cleanup()

	u, err := s.CreateUser("alice", "hash", true, nil)
	require.NoError(err)

	key, err := s.RotateAPIKey(u.ID)
	require.NoError(err)
	require.NotEmpty(key)

	byKey, err := s.GetUserByAPIKey(key)
	require.NoError(err)
	require.Equal(u.ID, byKey.ID)

	require.NoError(s.ClearAPIKey(u.ID))
	_, err = s.GetUserByAPIKey(key)
	require.Equal(ErrUserNotFound, err)

	// Empty keys never match the cleared column.
	_, err = s.GetUserByAPIKey("")
	require.Equal(ErrUserNotFound, err)
}

func TestDeleteUserCleansOwnership(t *testing.T) {
	require := require.New(t)

	s, cleanup := Fixture()
	defer cleanup()

	u, err := s.CreateUser("alice", "hash", false, []string{core.CapSearch})
	require.NoError(err)

	require.NoError(s.SetOwner("amule-1:aaaa", u.ID, time.Now()))
	require.NoError(s.DeleteUser(u.ID))

	_, err = s.GetUser(u.ID)
	require.Equal(ErrUserNotFound, err)

	_, ok, err := s.OwnerOf("amule-1:aaaa")
	require.NoError(err)
	require.False(ok)

	require.Equal(ErrUserNotFound, s.DeleteUser(u.ID))
}

func TestOwnershipFirstWriterWins(t *testing.T) {
	require := require.New(t)

	s, cleanup := Fixture()
	defer cleanup()

	require.NoError(s.SetOwner("amule-1:aaaa", 1, time.Now()))
	require.NoError(s.SetOwner("amule-1:aaaa", 2, time.Now()))

	owner, ok, err := s.OwnerOf("amule-1:aaaa")
	require.NoError(err)
	require.True(ok)
	require.Equal(int64(1), owner)

	require.NoError(s.SetOwner("amule-1:bbbb", 2, time.Now()))
	owners, err := s.OwnersBatch([]string{"amule-1:aaaa", "amule-1:bbbb", "amule-1:cccc"})
	require.NoError(err)
	require.Equal(map[string]int64{"amule-1:aaaa": 1, "amule-1:bbbb": 2}, owners)

	require.NoError(s.RemoveOwnership("amule-1:aaaa"))
	_, ok, err = s.OwnerOf("amule-1:aaaa")
	require.NoError(err)
	require.False(ok)
}

func TestListUsers(t *testing.T) {
	require := require.New(t)

	s, cleanup := Fixture()
	defer cleanup()

	_, err := s.CreateUser("carol", "h", false, nil)
	require.NoError(err)
	_, err = s.CreateUser("alice", "h", true, nil)
	require.NoError(err)

	users, err := s.ListUsers()
	require.NoError(err)
	require.Len(users, 2)
	require.Equal("alice", users[0].Username)
	require.Equal("carol", users[1].Username)
}
