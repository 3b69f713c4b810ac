package userstore

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/localdb"
)

// ErrInvalidSession is returned for unknown, expired or tampered tokens.
var ErrInvalidSession = errors.New("invalid session")

// SessionConfig defines SessionStore configuration. An operator-provided
// Secret overrides the persisted one; leaving it empty keeps the
// generate-once behavior.
type SessionConfig struct {
	TTL    time.Duration `yaml:"ttl"`
	Secret string        `yaml:"secret"`
}

func (c SessionConfig) applyDefaults() SessionConfig {
	if c.TTL == 0 {
		c.TTL = 30 * 24 * time.Hour
	}
	return c
}

// SessionMigrations returns the sessions.db schema. Failed-login counters
// live here too; both are auth state with the same lifecycle.
func SessionMigrations() []localdb.Migration {
	return []localdb.Migration{{
		Version: 1,
		Statements: []string{`
			CREATE TABLE IF NOT EXISTS sessions (
				id      TEXT    NOT NULL PRIMARY KEY,
				user_id INTEGER NOT NULL,
				expire  TIMESTAMP NOT NULL
			)`, `
			CREATE INDEX IF NOT EXISTS sessions_user ON sessions (user_id)`, `
			CREATE TABLE IF NOT EXISTS secrets (
				name  TEXT NOT NULL PRIMARY KEY,
				value TEXT NOT NULL
			)`, `
			CREATE TABLE IF NOT EXISTS failed_login_attempts (
				ip            TEXT    NOT NULL PRIMARY KEY,
				count         INTEGER NOT NULL,
				first_attempt TIMESTAMP NOT NULL,
				last_attempt  TIMESTAMP NOT NULL,
				blocked_until TIMESTAMP
			)`,
		},
	}}
}

// SessionStore persists sessions as opaque HMAC-signed tokens. The signing
// secret is generated once and persisted, so tokens survive restarts.
type SessionStore struct {
	config SessionConfig
	db     *sqlx.DB
	clk    clock.Clock
	secret []byte
}

// NewSessionStore creates a SessionStore. The signing secret comes from
// config when set, and is generated and persisted on first use otherwise.
func NewSessionStore(
	config SessionConfig, db *sqlx.DB, clk clock.Clock) (*SessionStore, error) {

	config = config.applyDefaults()
	s := &SessionStore{config: config, db: db, clk: clk}
	if config.Secret != "" {
		s.secret = []byte(config.Secret)
		return s, nil
	}
	secret, err := s.loadOrCreateSecret()
	if err != nil {
		return nil, fmt.Errorf("load signing secret: %s", err)
	}
	s.secret = secret
	return s, nil
}

func (s *SessionStore) loadOrCreateSecret() ([]byte, error) {
	var encoded string
	err := s.db.Get(&encoded, "SELECT value FROM secrets WHERE name = 'session_hmac'")
	if err == nil {
		return hex.DecodeString(encoded)
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("select: %s", err)
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate: %s", err)
	}
	if _, err := s.db.Exec(
		"INSERT INTO secrets (name, value) VALUES ('session_hmac', ?)",
		hex.EncodeToString(secret)); err != nil {

		return nil, fmt.Errorf("insert: %s", err)
	}
	return secret, nil
}

func (s *SessionStore) sign(id string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(id))
	return hex.EncodeToString(mac.Sum(nil))
}

// Create opens a session for the user and returns the signed token.
func (s *SessionStore) Create(userID int64) (string, error) {
	id := uuid.New().String()
	expire := s.clk.Now().Add(s.config.TTL)
	if _, err := s.db.Exec(
		"INSERT INTO sessions (id, user_id, expire) VALUES (?, ?, ?)",
		id, userID, expire); err != nil {

		return "", fmt.Errorf("insert: %s", err)
	}
	return id + "." + s.sign(id), nil
}

// Resolve verifies a token's signature and expiry and returns the session.
func (s *SessionStore) Resolve(token string) (*core.Session, error) {
	i := strings.IndexByte(token, '.')
	if i <= 0 {
		return nil, ErrInvalidSession
	}
	id, sig := token[:i], token[i+1:]
	if !hmac.Equal([]byte(sig), []byte(s.sign(id))) {
		return nil, ErrInvalidSession
	}
	var session core.Session
	if err := s.db.Get(&session,
		"SELECT id, user_id, expire FROM sessions WHERE id = ?", id); err != nil {

		if err == sql.ErrNoRows {
			return nil, ErrInvalidSession
		}
		return nil, fmt.Errorf("select: %s", err)
	}
	if s.clk.Now().After(session.Expire) {
		s.Destroy(id)
		return nil, ErrInvalidSession
	}
	session.Authenticated = true
	return &session, nil
}

// Valid reports whether the session id still exists and has not expired.
// The websocket hub polls this to close connections whose session was
// destroyed out from under them.
func (s *SessionStore) Valid(id string) bool {
	var expire time.Time
	if err := s.db.Get(&expire,
		"SELECT expire FROM sessions WHERE id = ?", id); err != nil {

		return false
	}
	return s.clk.Now().Before(expire)
}

// Destroy removes one session.
func (s *SessionStore) Destroy(id string) error {
	if _, err := s.db.Exec("DELETE FROM sessions WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete: %s", err)
	}
	return nil
}

// DestroyAllForUser removes every session of the user. Called when the
// account is edited, disabled or deleted.
func (s *SessionStore) DestroyAllForUser(userID int64) error {
	if _, err := s.db.Exec(
		"DELETE FROM sessions WHERE user_id = ?", userID); err != nil {

		return fmt.Errorf("delete: %s", err)
	}
	return nil
}

// PruneExpired removes expired sessions and returns how many were dropped.
func (s *SessionStore) PruneExpired() (int64, error) {
	res, err := s.db.Exec("DELETE FROM sessions WHERE expire < ?", s.clk.Now())
	if err != nil {
		return 0, fmt.Errorf("delete: %s", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %s", err)
	}
	return n, nil
}

// GetAttempt returns the failed-login counter for ip, if any.
func (s *SessionStore) GetAttempt(ip string) (*core.FailedLoginAttempt, error) {
	var a core.FailedLoginAttempt
	if err := s.db.Get(&a,
		"SELECT * FROM failed_login_attempts WHERE ip = ?", ip); err != nil {

		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("select: %s", err)
	}
	return &a, nil
}

// UpsertAttempt writes the counter for its ip.
func (s *SessionStore) UpsertAttempt(a *core.FailedLoginAttempt) error {
	if _, err := s.db.NamedExec(`
		INSERT INTO failed_login_attempts
			(ip, count, first_attempt, last_attempt, blocked_until)
		VALUES (:ip, :count, :first_attempt, :last_attempt, :blocked_until)
		ON CONFLICT (ip) DO UPDATE SET
			count = :count,
			first_attempt = :first_attempt,
			last_attempt = :last_attempt,
			blocked_until = :blocked_until`, a); err != nil {

		return fmt.Errorf("upsert: %s", err)
	}
	return nil
}

// DeleteAttempt clears the counter for ip.
func (s *SessionStore) DeleteAttempt(ip string) error {
	if _, err := s.db.Exec(
		"DELETE FROM failed_login_attempts WHERE ip = ?", ip); err != nil {

		return fmt.Errorf("delete: %s", err)
	}
	return nil
}

// SumAttemptCounts returns the total failure count across every ip.
func (s *SessionStore) SumAttemptCounts() (int, error) {
	var sum sql.NullInt64
	if err := s.db.Get(&sum,
		"SELECT SUM(count) FROM failed_login_attempts"); err != nil {

		return 0, fmt.Errorf("select: %s", err)
	}
	return int(sum.Int64), nil
}

// PruneAttempts drops counters idle for longer than maxIdle and not blocked.
func (s *SessionStore) PruneAttempts(maxIdle time.Duration) (int64, error) {
	now := s.clk.Now()
	res, err := s.db.Exec(`
		DELETE FROM failed_login_attempts
		WHERE last_attempt < ? AND (blocked_until IS NULL OR blocked_until < ?)`,
		now.Add(-maxIdle), now)
	if err != nil {
		return 0, fmt.Errorf("delete: %s", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %s", err)
	}
	return n, nil
}
