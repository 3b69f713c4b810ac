// Package localdb manages the locally embedded SQLite databases. Each concern
// (users, sessions, history, move operations, metrics, synthetic hashes) gets
// its own database file for isolation; a corrupt or deleted file never takes
// another store down with it.
package localdb

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQL driver.

	"github.com/peerhub/peerhub/utils/osutil"
)

// New creates a locally embedded SQLite database at source and applies
// migrations.
func New(source string, migrations []Migration) (*sqlx.DB, error) {
	if err := osutil.EnsureFilePresent(source); err != nil {
		return nil, fmt.Errorf("ensure db source present: %s", err)
	}
	db, err := sqlx.Open("sqlite3", source+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %s", err)
	}
	// SQLite has concurrency issues where queries result in error if more than
	// one connection is accessing a table.
	db.SetMaxOpenConns(1)
	if err := migrate(db, migrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("perform db migration: %s", err)
	}
	return db, nil
}

// Migration is a single schema version step. Statements run inside one
// transaction; the database's user_version is bumped on success.
type Migration struct {
	Version    int
	Statements []string
}

func migrate(db *sqlx.DB, migrations []Migration) error {
	var current int
	if err := db.Get(&current, "PRAGMA user_version"); err != nil {
		return fmt.Errorf("read user_version: %s", err)
	}
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin: %s", err)
		}
		for _, stmt := range m.Statements {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d: %s", m.Version, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %s", m.Version, err)
		}
		// PRAGMA does not accept bind parameters.
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
			return fmt.Errorf("set user_version: %s", err)
		}
		current = m.Version
	}
	return nil
}
