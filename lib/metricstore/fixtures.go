package metricstore

import (
	"github.com/andres-erbsen/clock"

	"github.com/peerhub/peerhub/localdb"
)

// StoreFixture returns a Store over a temporary database.
func StoreFixture(config Config, clk clock.Clock) (*Store, func()) {
	db, cleanup := localdb.Fixture(Migrations())
	return New(config, db, clk), cleanup
}
