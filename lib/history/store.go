// Package history persists per-item metadata on first sight, so items keep a
// stable added-at timestamp and remain visible after the backend client drops
// them.
package history

import (
	"fmt"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/jmoiron/sqlx"

	"github.com/peerhub/peerhub/localdb"
)

// Config defines Store configuration.
type Config struct {
	// RetentionDays bounds how long records are kept. Zero disables pruning.
	RetentionDays int `yaml:"retention_days" json:"retentionDays"`
}

// Record is one history row, keyed by compound key.
type Record struct {
	CompoundKey string    `db:"compound_key" json:"compoundKey"`
	InstanceID  string    `db:"instance_id" json:"instanceId"`
	Name        string    `db:"name" json:"fileName"`
	Size        int64     `db:"size" json:"size"`
	Category    string    `db:"category" json:"category"`
	AddedAt     time.Time `db:"added_at" json:"addedAt"`
}

// Migrations returns the history.db schema.
func Migrations() []localdb.Migration {
	return []localdb.Migration{{
		Version: 1,
		Statements: []string{`
			CREATE TABLE IF NOT EXISTS history (
				compound_key TEXT    NOT NULL PRIMARY KEY,
				instance_id  TEXT    NOT NULL,
				name         TEXT    NOT NULL,
				size         INTEGER NOT NULL DEFAULT 0,
				category     TEXT    NOT NULL DEFAULT '',
				added_at     TIMESTAMP NOT NULL
			)`, `
			CREATE INDEX IF NOT EXISTS history_added_at ON history (added_at)`,
		},
	}}
}

// Store is a sqlite-backed history store.
type Store struct {
	config Config
	db     *sqlx.DB
	clk    clock.Clock
}

// New creates a Store over an open history database.
func New(config Config, db *sqlx.DB, clk clock.Clock) *Store {
	return &Store{config, db, clk}
}

// RecordBatch inserts any records not yet present. Existing rows win: a
// record's added-at timestamp and first-seen metadata never change.
func (s *Store) RecordBatch(records []Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin: %s", err)
	}
	now := s.clk.Now()
	for _, r := range records {
		if r.AddedAt.IsZero() {
			r.AddedAt = now
		}
		if _, err := tx.NamedExec(`
			INSERT OR IGNORE INTO history
				(compound_key, instance_id, name, size, category, added_at)
			VALUES
				(:compound_key, :instance_id, :name, :size, :category, :added_at)`,
			r); err != nil {

			tx.Rollback()
			return fmt.Errorf("insert %s: %s", r.CompoundKey, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %s", err)
	}
	return nil
}

// AddedAtBatch returns the added-at timestamp for every known key in keys.
// Unknown keys are absent from the result.
func (s *Store) AddedAtBatch(keys []string) (map[string]time.Time, error) {
	result := make(map[string]time.Time, len(keys))
	// SQLite caps bound parameters; chunk conservatively.
	const chunk = 500
	for start := 0; start < len(keys); start += chunk {
		end := start + chunk
		if end > len(keys) {
			end = len(keys)
		}
		query, args, err := sqlx.In(
			"SELECT compound_key, added_at FROM history WHERE compound_key IN (?)",
			keys[start:end])
		if err != nil {
			return nil, fmt.Errorf("build query: %s", err)
		}
		rows, err := s.db.Queryx(s.db.Rebind(query), args...)
		if err != nil {
			return nil, fmt.Errorf("query: %s", err)
		}
		for rows.Next() {
			var key string
			var addedAt time.Time
			if err := rows.Scan(&key, &addedAt); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan: %s", err)
			}
			result[key] = addedAt
		}
		if err := rows.Close(); err != nil {
			return nil, fmt.Errorf("close rows: %s", err)
		}
	}
	return result, nil
}

// List returns up to limit records, newest first.
func (s *Store) List(limit int) ([]Record, error) {
	var records []Record
	if err := s.db.Select(&records, `
		SELECT compound_key, instance_id, name, size, category, added_at
		FROM history ORDER BY added_at DESC, compound_key LIMIT ?`, limit); err != nil {

		return nil, fmt.Errorf("select: %s", err)
	}
	return records, nil
}

// Clear deletes every record.
func (s *Store) Clear() error {
	if _, err := s.db.Exec("DELETE FROM history"); err != nil {
		return fmt.Errorf("delete: %s", err)
	}
	return nil
}

// Prune deletes records older than the configured retention. No-op when
// retention is disabled.
func (s *Store) Prune() (int64, error) {
	if s.config.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := s.clk.Now().Add(-time.Duration(s.config.RetentionDays) * 24 * time.Hour)
	res, err := s.db.Exec("DELETE FROM history WHERE added_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete: %s", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %s", err)
	}
	return n, nil
}
