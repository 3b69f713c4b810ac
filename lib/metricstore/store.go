// Package metricstore persists per-instance telemetry samples in metrics.db.
// The scheduler writes one row per instance per tick; the daily cleanup
// prunes rows past retention.
package metricstore

import (
	"fmt"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/jmoiron/sqlx"

	"github.com/peerhub/peerhub/localdb"
)

// Config defines Store configuration.
type Config struct {
	RetentionDays int `yaml:"retention_days"`
}

func (c Config) applyDefaults() Config {
	if c.RetentionDays == 0 {
		c.RetentionDays = 30
	}
	return c
}

// Sample is one telemetry row.
type Sample struct {
	InstanceID    string    `db:"instance_id" json:"instanceId"`
	SampledAt     time.Time `db:"sampled_at" json:"sampledAt"`
	UploadSpeed   int64     `db:"upload_speed" json:"uploadSpeed"`
	DownloadSpeed int64     `db:"download_speed" json:"downloadSpeed"`
	UploadTotal   int64     `db:"upload_total" json:"uploadTotal"`
	DownloadTotal int64     `db:"download_total" json:"downloadTotal"`
}

// Migrations returns the metrics.db schema.
func Migrations() []localdb.Migration {
	return []localdb.Migration{{
		Version: 1,
		Statements: []string{`
			CREATE TABLE IF NOT EXISTS samples (
				instance_id    TEXT    NOT NULL,
				sampled_at     TIMESTAMP NOT NULL,
				upload_speed   INTEGER NOT NULL DEFAULT 0,
				download_speed INTEGER NOT NULL DEFAULT 0,
				upload_total   INTEGER NOT NULL DEFAULT 0,
				download_total INTEGER NOT NULL DEFAULT 0
			)`, `
			CREATE INDEX IF NOT EXISTS samples_sampled_at ON samples (sampled_at)`, `
			CREATE INDEX IF NOT EXISTS samples_instance
				ON samples (instance_id, sampled_at)`,
		},
	}}
}

// Store persists telemetry samples.
type Store struct {
	config Config
	db     *sqlx.DB
	clk    clock.Clock
}

// New creates a Store over an open metrics database.
func New(config Config, db *sqlx.DB, clk clock.Clock) *Store {
	return &Store{config.applyDefaults(), db, clk}
}

// Insert writes a batch of samples stamped with the current time.
func (s *Store) Insert(samples []Sample) error {
	if len(samples) == 0 {
		return nil
	}
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin: %s", err)
	}
	now := s.clk.Now()
	for _, sample := range samples {
		if sample.SampledAt.IsZero() {
			sample.SampledAt = now
		}
		if _, err := tx.NamedExec(`
			INSERT INTO samples
				(instance_id, sampled_at, upload_speed, download_speed,
				 upload_total, download_total)
			VALUES
				(:instance_id, :sampled_at, :upload_speed, :download_speed,
				 :upload_total, :download_total)`, sample); err != nil {

			tx.Rollback()
			return fmt.Errorf("insert: %s", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %s", err)
	}
	return nil
}

// Range returns samples for an instance since a point in time, oldest first.
func (s *Store) Range(instanceID string, since time.Time) ([]Sample, error) {
	var samples []Sample
	if err := s.db.Select(&samples, `
		SELECT * FROM samples
		WHERE instance_id = ? AND sampled_at >= ?
		ORDER BY sampled_at`, instanceID, since); err != nil {

		return nil, fmt.Errorf("select: %s", err)
	}
	return samples, nil
}

// Prune deletes samples past the configured retention.
func (s *Store) Prune() (int64, error) {
	cutoff := s.clk.Now().Add(-time.Duration(s.config.RetentionDays) * 24 * time.Hour)
	res, err := s.db.Exec("DELETE FROM samples WHERE sampled_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete: %s", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %s", err)
	}
	return n, nil
}
