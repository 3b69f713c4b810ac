package userstore

import (
	"github.com/andres-erbsen/clock"

	"github.com/peerhub/peerhub/localdb"
)

// Fixture creates a Store over a temp users database with cleanup.
func Fixture() (*Store, func()) {
	db, cleanup := localdb.Fixture(Migrations())
	return New(db), cleanup
}

// SessionFixture creates a SessionStore over a temp sessions database with
// cleanup.
func SessionFixture(config SessionConfig, clk clock.Clock) (*SessionStore, func()) {
	db, cleanup := localdb.Fixture(SessionMigrations())
	s, err := NewSessionStore(config, db, clk)
	if err != nil {
		cleanup()
		panic(err)
	}
	return s, cleanup
}
