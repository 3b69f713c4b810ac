package localdb

import (
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
)

// Fixture creates a temp database with the given migrations for testing,
// along with cleanup.
func Fixture(migrations []Migration) (*sqlx.DB, func()) {
	dir, err := os.MkdirTemp("", "peerhub-db-")
	if err != nil {
		panic(err)
	}
	db, err := New(filepath.Join(dir, "test.db"), migrations)
	if err != nil {
		os.RemoveAll(dir)
		panic(err)
	}
	return db, func() {
		db.Close()
		os.RemoveAll(dir)
	}
}
