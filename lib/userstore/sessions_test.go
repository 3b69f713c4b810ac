package userstore

import (
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"

	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/localdb"
)

func TestSessionRoundTrip(t *testing.T) {
	require := require.New(t)

	clk := clock.NewMock()
	clk.Set(time.Now())
	s, cleanup := SessionFixture(SessionConfig{}, clk)
	defer cleanup()

	token, err := s.Create(7)
	require.NoError(err)

	session, err := s.Resolve(token)
	require.NoError(err)
	require.Equal(int64(7), session.UserID)
	require.True(session.Authenticated)
	require.True(s.Valid(session.ID))
}

func TestSessionConfiguredSecret(t *testing.T) {
	require := require.New(t)

	clk := clock.NewMock()
	clk.Set(time.Now())
	db, cleanup := localdb.Fixture(SessionMigrations())
	defer cleanup()

	s1, err := NewSessionStore(SessionConfig{Secret: "operator-secret"}, db, clk)
	require.NoError(err)
	token, err := s1.Create(7)
	require.NoError(err)

	// A second process with the same configured secret validates the token.
	s2, err := NewSessionStore(SessionConfig{Secret: "operator-secret"}, db, clk)
	require.NoError(err)
	session, err := s2.Resolve(token)
	require.NoError(err)
	require.Equal(int64(7), session.UserID)

	// A generated secret does not match operator-signed tokens.
	s3, err := NewSessionStore(SessionConfig{}, db, clk)
	require.NoError(err)
	_, err = s3.Resolve(token)
	require.Equal(ErrInvalidSession, err)
}

func TestSessionRejectsTamperedToken(t *testing.T) {
	require := require.New(t)

	clk := clock.NewMock()
	clk.Set(time.Now())
	s, cleanup := SessionFixture(SessionConfig{}, clk)
	defer cleanup()

	token, err := s.Create(7)
	require.NoError(err)

	flipped := "0"
	if token[len(token)-1] == '0' {
		flipped = "1"
	}
	_, err = s.Resolve(token[:len(token)-1] + flipped)
	require.Equal(ErrInvalidSession, err)
	_, err = s.Resolve("no-separator")
	require.Equal(ErrInvalidSession, err)
}

func TestSessionExpiry(t *testing.T) {
	require := require.New(t)

	clk := clock.NewMock()
	clk.Set(time.Now())
	s, cleanup := SessionFixture(SessionConfig{TTL: time.Hour}, clk)
	defer cleanup()

	token, err := s.Create(7)
	require.NoError(err)

	clk.Add(2 * time.Hour)
	_, err = s.Resolve(token)
	require.Equal(ErrInvalidSession, err)
}

func TestDestroyAllForUser(t *testing.T) {
	require := require.New(t)

	clk := clock.NewMock()
	clk.Set(time.Now())
	s, cleanup := SessionFixture(SessionConfig{}, clk)
	defer cleanup()

	t1, err := s.Create(7)
	require.NoError(err)
	t2, err := s.Create(7)
	require.NoError(err)
	other, err := s.Create(8)
	require.NoError(err)

	require.NoError(s.DestroyAllForUser(7))
	_, err = s.Resolve(t1)
	require.Equal(ErrInvalidSession, err)
	_, err = s.Resolve(t2)
	require.Equal(ErrInvalidSession, err)
	_, err = s.Resolve(other)
	require.NoError(err)
}

func TestPruneExpired(t *testing.T) {
	require := require.New(t)

	clk := clock.NewMock()
	clk.Set(time.Now())
	s, cleanup := SessionFixture(SessionConfig{TTL: time.Hour}, clk)
	defer cleanup()

	_, err := s.Create(7)
	require.NoError(err)
	clk.Add(2 * time.Hour)
	fresh, err := s.Create(8)
	require.NoError(err)

	n, err := s.PruneExpired()
	require.NoError(err)
	require.Equal(int64(1), n)

	_, err = s.Resolve(fresh)
	require.NoError(err)
}

func TestAttemptCounters(t *testing.T) {
	require := require.New(t)

	clk := clock.NewMock()
	clk.Set(time.Now())
	s, cleanup := SessionFixture(SessionConfig{}, clk)
	defer cleanup()

	got, err := s.GetAttempt("10.0.0.1")
	require.NoError(err)
	require.Nil(got)

	now := clk.Now()
	require.NoError(s.UpsertAttempt(&core.FailedLoginAttempt{
		IP: "10.0.0.1", Count: 1, FirstAttempt: now, LastAttempt: now,
	}))
	require.NoError(s.UpsertAttempt(&core.FailedLoginAttempt{
		IP: "10.0.0.1", Count: 2, FirstAttempt: now, LastAttempt: now,
	}))
	require.NoError(s.UpsertAttempt(&core.FailedLoginAttempt{
		IP: "10.0.0.2", Count: 5, FirstAttempt: now, LastAttempt: now,
	}))

	got, err = s.GetAttempt("10.0.0.1")
	require.NoError(err)
	require.Equal(2, got.Count)

	sum, err := s.SumAttemptCounts()
	require.NoError(err)
	require.Equal(7, sum)

	require.NoError(s.DeleteAttempt("10.0.0.1"))
	got, err = s.GetAttempt("10.0.0.1")
	require.NoError(err)
	require.Nil(got)
}

func TestPruneAttemptsKeepsBlocked(t *testing.T) {
	require := require.New(t)

	clk := clock.NewMock()
	clk.Set(time.Now())
	s, cleanup := SessionFixture(SessionConfig{}, clk)
	defer cleanup()

	start := clk.Now()
	blockedUntil := start.Add(time.Hour)
	require.NoError(s.UpsertAttempt(&core.FailedLoginAttempt{
		IP: "10.0.0.1", Count: 3, FirstAttempt: start, LastAttempt: start,
	}))
	require.NoError(s.UpsertAttempt(&core.FailedLoginAttempt{
		IP: "10.0.0.2", Count: 10, FirstAttempt: start, LastAttempt: start,
		BlockedUntil: &blockedUntil,
	}))

	clk.Add(30 * time.Minute)
	n, err := s.PruneAttempts(15 * time.Minute)
	require.NoError(err)
	require.Equal(int64(1), n)

	got, err := s.GetAttempt("10.0.0.2")
	require.NoError(err)
	require.NotNil(got)
}
