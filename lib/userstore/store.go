// Package userstore persists the multi-user authorization model: accounts
// with capabilities and api keys in users.db, and signed sessions plus
// failed-login counters in sessions.db.
package userstore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/localdb"
)

// Store errors.
var (
	ErrUserExists   = errors.New("username already taken")
	ErrUserNotFound = errors.New("user not found")
)

// Migrations returns the users.db schema.
func Migrations() []localdb.Migration {
	return []localdb.Migration{{
		Version: 1,
		Statements: []string{`
			CREATE TABLE IF NOT EXISTS users (
				id            INTEGER PRIMARY KEY AUTOINCREMENT,
				username      TEXT    NOT NULL COLLATE NOCASE UNIQUE,
				password_hash TEXT    NOT NULL DEFAULT '',
				is_admin      BOOLEAN NOT NULL DEFAULT 0,
				disabled      BOOLEAN NOT NULL DEFAULT 0,
				api_key       TEXT    NOT NULL DEFAULT '',
				last_login_at TIMESTAMP
			)`, `
			CREATE TABLE IF NOT EXISTS user_capabilities (
				user_id    INTEGER NOT NULL REFERENCES users (id) ON DELETE CASCADE,
				capability TEXT    NOT NULL,
				PRIMARY KEY (user_id, capability)
			)`, `
			CREATE TABLE IF NOT EXISTS ownership (
				compound_key TEXT    NOT NULL PRIMARY KEY,
				user_id      INTEGER NOT NULL,
				added_at     TIMESTAMP NOT NULL
			)`,
		},
	}, {
		Version: 2,
		Statements: []string{`
			CREATE TABLE IF NOT EXISTS user_settings (
				user_id INTEGER NOT NULL REFERENCES users (id) ON DELETE CASCADE,
				key     TEXT    NOT NULL,
				value   TEXT    NOT NULL,
				PRIMARY KEY (user_id, key)
			)`,
		},
	}}
}

// Store persists users, capabilities and item ownership.
type Store struct {
	db *sqlx.DB
}

// New creates a Store over an open users database.
func New(db *sqlx.DB) *Store {
	return &Store{db}
}

// CreateUser inserts a new account with its capabilities in one transaction.
func (s *Store) CreateUser(
	username, passwordHash string, isAdmin bool, caps []string) (*core.User, error) {

	if err := core.ValidateUsername(username); err != nil {
		return nil, err
	}
	for _, c := range caps {
		if !core.ValidCapability(c) {
			return nil, fmt.Errorf("unknown capability: %s", c)
		}
	}
	tx, err := s.db.Beginx()
	if err != nil {
		return nil, fmt.Errorf("begin: %s", err)
	}
	res, err := tx.Exec(`
		INSERT INTO users (username, password_hash, is_admin)
		VALUES (?, ?, ?)`, username, passwordHash, isAdmin)
	if err != nil {
		tx.Rollback()
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("insert user: %s", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("last insert id: %s", err)
	}
	if err := insertCapabilities(tx, id, caps); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %s", err)
	}
	return s.GetUser(id)
}

func insertCapabilities(tx *sqlx.Tx, userID int64, caps []string) error {
	for _, c := range caps {
		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO user_capabilities (user_id, capability)
			VALUES (?, ?)`, userID, c); err != nil {

			return fmt.Errorf("insert capability %s: %s", c, err)
		}
	}
	return nil
}

// GetUser returns the account with the given id, capabilities loaded.
func (s *Store) GetUser(id int64) (*core.User, error) {
	return s.getUser("SELECT * FROM users WHERE id = ?", id)
}

// GetUserByUsername looks an account up case-insensitively.
func (s *Store) GetUserByUsername(username string) (*core.User, error) {
	return s.getUser("SELECT * FROM users WHERE username = ?", username)
}

// GetUserByAPIKey looks an account up by its api key.
func (s *Store) GetUserByAPIKey(key string) (*core.User, error) {
	if key == "" {
		return nil, ErrUserNotFound
	}
	return s.getUser("SELECT * FROM users WHERE api_key = ?", key)
}

func (s *Store) getUser(query string, args ...interface{}) (*core.User, error) {
	var u core.User
	if err := s.db.Get(&u, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("select user: %s", err)
	}
	if err := s.loadCapabilities(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) loadCapabilities(u *core.User) error {
	if err := s.db.Select(&u.Capabilities, `
		SELECT capability FROM user_capabilities
		WHERE user_id = ? ORDER BY capability`, u.ID); err != nil {

		return fmt.Errorf("select capabilities: %s", err)
	}
	return nil
}

// ListUsers returns every account ordered by username.
func (s *Store) ListUsers() ([]*core.User, error) {
	var users []*core.User
	if err := s.db.Select(&users, "SELECT * FROM users ORDER BY username"); err != nil {
		return nil, fmt.Errorf("select users: %s", err)
	}
	for _, u := range users {
		if err := s.loadCapabilities(u); err != nil {
			return nil, err
		}
	}
	return users, nil
}

// UpdateOpts carries optional account updates; nil fields are untouched.
type UpdateOpts struct {
	PasswordHash *string
	IsAdmin      *bool
	Disabled     *bool
	Capabilities *[]string
}

// UpdateUser applies opts to the account in one transaction.
func (s *Store) UpdateUser(id int64, opts UpdateOpts) error {
	if opts.Capabilities != nil {
		for _, c := range *opts.Capabilities {
			if !core.ValidCapability(c) {
				return fmt.Errorf("unknown capability: %s", c)
			}
		}
	}
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin: %s", err)
	}
	set := func(column string, value interface{}) error {
		res, err := tx.Exec(
			fmt.Sprintf("UPDATE users SET %s = ? WHERE id = ?", column), value, id)
		if err != nil {
			return fmt.Errorf("update %s: %s", column, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrUserNotFound
		}
		return nil
	}
	if opts.PasswordHash != nil {
		if err := set("password_hash", *opts.PasswordHash); err != nil {
			tx.Rollback()
			return err
		}
	}
	if opts.IsAdmin != nil {
		if err := set("is_admin", *opts.IsAdmin); err != nil {
			tx.Rollback()
			return err
		}
	}
	if opts.Disabled != nil {
		if err := set("disabled", *opts.Disabled); err != nil {
			tx.Rollback()
			return err
		}
	}
	if opts.Capabilities != nil {
		if _, err := tx.Exec(
			"DELETE FROM user_capabilities WHERE user_id = ?", id); err != nil {

			tx.Rollback()
			return fmt.Errorf("clear capabilities: %s", err)
		}
		if err := insertCapabilities(tx, id, *opts.Capabilities); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %s", err)
	}
	return nil
}

// SetPasswordHash replaces the stored password hash.
func (s *Store) SetPasswordHash(id int64, hash string) error {
	res, err := s.db.Exec(
		"UPDATE users SET password_hash = ? WHERE id = ?", hash, id)
	if err != nil {
		return fmt.Errorf("update: %s", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// RotateAPIKey generates and stores a fresh api key for the account.
func (s *Store) RotateAPIKey(id int64) (string, error) {
	key := uuid.New().String()
	res, err := s.db.Exec("UPDATE users SET api_key = ? WHERE id = ?", key, id)
	if err != nil {
		return "", fmt.Errorf("update: %s", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", ErrUserNotFound
	}
	return key, nil
}

// ClearAPIKey revokes the account's api key.
func (s *Store) ClearAPIKey(id int64) error {
	if _, err := s.db.Exec("UPDATE users SET api_key = '' WHERE id = ?", id); err != nil {
		return fmt.Errorf("update: %s", err)
	}
	return nil
}

// RecordLogin stamps the account's last login time.
func (s *Store) RecordLogin(id int64, t time.Time) error {
	if _, err := s.db.Exec(
		"UPDATE users SET last_login_at = ? WHERE id = ?", t, id); err != nil {

		return fmt.Errorf("update: %s", err)
	}
	return nil
}

// DeleteUser removes the account, its capabilities and its ownership records
// in one transaction.
func (s *Store) DeleteUser(id int64) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin: %s", err)
	}
	res, err := tx.Exec("DELETE FROM users WHERE id = ?", id)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("delete user: %s", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		tx.Rollback()
		return ErrUserNotFound
	}
	if _, err := tx.Exec(
		"DELETE FROM user_capabilities WHERE user_id = ?", id); err != nil {

		tx.Rollback()
		return fmt.Errorf("delete capabilities: %s", err)
	}
	// Orphaned ownership rows would otherwise grant the items to a recycled
	// user id.
	if _, err := tx.Exec("DELETE FROM ownership WHERE user_id = ?", id); err != nil {
		tx.Rollback()
		return fmt.Errorf("delete ownership: %s", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %s", err)
	}
	return nil
}

// SetOwner records that the user added the item. First writer wins.
func (s *Store) SetOwner(compoundKey string, userID int64, t time.Time) error {
	if _, err := s.db.Exec(`
		INSERT OR IGNORE INTO ownership (compound_key, user_id, added_at)
		VALUES (?, ?, ?)`, compoundKey, userID, t); err != nil {

		return fmt.Errorf("insert: %s", err)
	}
	return nil
}

// OwnerOf returns the owning user id for the item, if recorded.
func (s *Store) OwnerOf(compoundKey string) (int64, bool, error) {
	var userID int64
	err := s.db.Get(&userID,
		"SELECT user_id FROM ownership WHERE compound_key = ?", compoundKey)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("select: %s", err)
	}
	return userID, true, nil
}

// OwnersBatch resolves ownership for many keys at once.
func (s *Store) OwnersBatch(keys []string) (map[string]int64, error) {
	result := make(map[string]int64, len(keys))
	const chunk = 500
	for start := 0; start < len(keys); start += chunk {
		end := start + chunk
		if end > len(keys) {
			end = len(keys)
		}
		query, args, err := sqlx.In(
			"SELECT compound_key, user_id FROM ownership WHERE compound_key IN (?)",
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
			var userID int64
			if err := rows.Scan(&key, &userID); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan: %s", err)
			}
			result[key] = userID
		}
		if err := rows.Close(); err != nil {
			return nil, fmt.Errorf("close rows: %s", err)
		}
	}
	return result, nil
}

// RemoveOwnership drops the record for a deleted item.
func (s *Store) RemoveOwnership(compoundKey string) error {
	if _, err := s.db.Exec(
		"DELETE FROM ownership WHERE compound_key = ?", compoundKey); err != nil {

		return fmt.Errorf("delete: %s", err)
	}
	return nil
}

// GetUserSetting returns a per-user setting value, if set.
func (s *Store) GetUserSetting(userID int64, key string) (string, bool, error) {
	var value string
	err := s.db.Get(&value,
		"SELECT value FROM user_settings WHERE user_id = ? AND key = ?", userID, key)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("select: %s", err)
	}
	return value, true, nil
}

// SetUserSetting upserts a per-user setting value.
func (s *Store) SetUserSetting(userID int64, key, value string) error {
	if _, err := s.db.Exec(`
		INSERT INTO user_settings (user_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT (user_id, key) DO UPDATE SET value = excluded.value`,
		userID, key, value); err != nil {

		return fmt.Errorf("upsert: %s", err)
	}
	return nil
}
