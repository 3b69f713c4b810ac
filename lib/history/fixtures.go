package history

import (
	"github.com/andres-erbsen/clock"

	"github.com/peerhub/peerhub/localdb"
)

// StoreFixture creates a Store over a temp database with cleanup.
func StoreFixture(config Config, clk clock.Clock) (*Store, func()) {
	db, cleanup := localdb.Fixture(Migrations())
	return New(config, db, clk), cleanup
}
