package moveop

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/localdb"
)

// Store errors.
var (
	ErrTaskExists   = errors.New("move operation already exists")
	ErrTaskNotFound = errors.New("move operation not found")
)

// Migrations returns the move_ops.db schema.
func Migrations() []localdb.Migration {
	return []localdb.Migration{{
		Version: 1,
		Statements: []string{`
			CREATE TABLE IF NOT EXISTS move_operation (
				compound_key       TEXT    NOT NULL PRIMARY KEY,
				name               TEXT    NOT NULL DEFAULT '',
				client_type        TEXT    NOT NULL,
				source_path_remote TEXT    NOT NULL,
				dest_path_local    TEXT    NOT NULL,
				dest_path_remote   TEXT    NOT NULL,
				total_size         INTEGER NOT NULL DEFAULT 0,
				bytes_moved        INTEGER NOT NULL DEFAULT 0,
				files_total        INTEGER NOT NULL DEFAULT 0,
				files_moved        INTEGER NOT NULL DEFAULT 0,
				current_file       TEXT    NOT NULL DEFAULT '',
				is_multi_file      BOOLEAN NOT NULL DEFAULT 0,
				status             TEXT    NOT NULL DEFAULT 'pending',
				error_message      TEXT    NOT NULL DEFAULT '',
				category_name      TEXT    NOT NULL DEFAULT '',
				created_at         TIMESTAMP NOT NULL,
				last_attempt       TIMESTAMP NOT NULL
			)`, `
			CREATE INDEX IF NOT EXISTS move_operation_status ON move_operation (status)`,
		},
	}}
}

// Store persists move operations in move_ops.db. Operations survive process
// restarts; in-flight ones are re-marked failed on startup and retried.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a Store over an open move operations database.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db}
}

// AddPending inserts a new pending operation.
func (s *Store) AddPending(op *core.MoveOperation) error {
	op.Status = core.MovePending
	now := time.Now()
	if op.CreatedAt.IsZero() {
		op.CreatedAt = now
	}
	op.LastAttempt = now
	_, err := s.db.NamedExec(`
		INSERT INTO move_operation (
			compound_key, name, client_type, source_path_remote, dest_path_local,
			dest_path_remote, total_size, bytes_moved, files_total, files_moved,
			current_file, is_multi_file, status, error_message, category_name,
			created_at, last_attempt
		) VALUES (
			:compound_key, :name, :client_type, :source_path_remote, :dest_path_local,
			:dest_path_remote, :total_size, :bytes_moved, :files_total, :files_moved,
			:current_file, :is_multi_file, :status, :error_message, :category_name,
			:created_at, :last_attempt
		)`, op)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return ErrTaskExists
		}
		return fmt.Errorf("insert: %s", err)
	}
	return nil
}

// Get returns the operation stored under key.
func (s *Store) Get(key string) (*core.MoveOperation, error) {
	var op core.MoveOperation
	if err := s.db.Get(&op,
		"SELECT * FROM move_operation WHERE compound_key = ?", key); err != nil {

		if err == sql.ErrNoRows {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("select: %s", err)
	}
	return &op, nil
}

// GetActive returns operations which are pending, moving or verifying.
func (s *Store) GetActive() ([]*core.MoveOperation, error) {
	return s.selectStatus(core.MovePending, core.MoveMoving, core.MoveVerifying)
}

// GetFailed returns failed operations.
func (s *Store) GetFailed() ([]*core.MoveOperation, error) {
	return s.selectStatus(core.MoveFailed)
}

func (s *Store) selectStatus(statuses ...core.MoveStatus) ([]*core.MoveOperation, error) {
	query, args, err := sqlx.In(
		"SELECT * FROM move_operation WHERE status IN (?) ORDER BY created_at", statuses)
	if err != nil {
		return nil, fmt.Errorf("build query: %s", err)
	}
	var ops []*core.MoveOperation
	if err := s.db.Select(&ops, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("select: %s", err)
	}
	return ops, nil
}

// MarkStatus transitions key into status and stamps the attempt time.
func (s *Store) MarkStatus(key string, status core.MoveStatus) error {
	return s.update(key, `
		UPDATE move_operation SET status = ?, last_attempt = ?
		WHERE compound_key = ?`, status, time.Now(), key)
}

// MarkFailed transitions key into failed with an error message.
func (s *Store) MarkFailed(key, message string) error {
	return s.update(key, `
		UPDATE move_operation SET status = ?, error_message = ?, last_attempt = ?
		WHERE compound_key = ?`, core.MoveFailed, message, time.Now(), key)
}

// UpdateProgress persists in-flight byte and file counters.
func (s *Store) UpdateProgress(op *core.MoveOperation) error {
	return s.update(op.CompoundKey, `
		UPDATE move_operation
		SET total_size = ?, bytes_moved = ?, files_total = ?, files_moved = ?,
			current_file = ?
		WHERE compound_key = ?`,
		op.TotalSize, op.BytesMoved, op.FilesTotal, op.FilesMoved,
		op.CurrentFile, op.CompoundKey)
}

// Remove deletes the operation stored under key.
func (s *Store) Remove(key string) error {
	return s.update(key, "DELETE FROM move_operation WHERE compound_key = ?", key)
}

func (s *Store) update(key, query string, args ...interface{}) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("exec: %s", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %s", err)
	}
	if n == 0 {
		return ErrTaskNotFound
	}
	return nil
}
