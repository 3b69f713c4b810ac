// Package hashstore issues stable 40-hex synthetic hashes for ed2k 32-hex
// hashes. The torrent WebUI facade presents ed2k downloads as torrents, and
// torrent tooling expects info-hash length identifiers. The mapping is
// derived deterministically and persisted in hashes.db for reverse lookup.
package hashstore

import (
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/peerhub/peerhub/localdb"
)

var _ed2kHashRegexp = regexp.MustCompile(`^[0-9a-f]{32}$`)

// Migrations returns the hashes.db schema.
func Migrations() []localdb.Migration {
	return []localdb.Migration{{
		Version: 1,
		Statements: []string{`
			CREATE TABLE IF NOT EXISTS hash_map (
				ed2k      TEXT NOT NULL PRIMARY KEY,
				synthetic TEXT NOT NULL UNIQUE
			)`,
		},
	}}
}

// Store is the persisted ed2k/synthetic hash bi-map.
type Store struct {
	db *sqlx.DB
}

// New creates a Store over an open hashes database.
func New(db *sqlx.DB) *Store {
	return &Store{db}
}

// derive computes the synthetic hash. The derivation is a pure function of
// the ed2k hash, so the same input maps identically across installs.
func derive(ed2k string) string {
	sum := sha1.Sum([]byte("ed2k:" + ed2k))
	return hex.EncodeToString(sum[:])
}

// Synthetic returns the 40-hex synthetic hash for an ed2k hash, persisting
// the pairing on first use.
func (s *Store) Synthetic(ed2kHash string) (string, error) {
	ed2kHash = strings.ToLower(ed2kHash)
	if !_ed2kHashRegexp.MatchString(ed2kHash) {
		return "", fmt.Errorf("malformed ed2k hash %q", ed2kHash)
	}
	var synthetic string
	err := s.db.Get(&synthetic,
		"SELECT synthetic FROM hash_map WHERE ed2k = ?", ed2kHash)
	if err == nil {
		return synthetic, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("select: %s", err)
	}
	synthetic = derive(ed2kHash)
	if _, err := s.db.Exec(
		"INSERT OR IGNORE INTO hash_map (ed2k, synthetic) VALUES (?, ?)",
		ed2kHash, synthetic); err != nil {

		return "", fmt.Errorf("insert: %s", err)
	}
	return synthetic, nil
}

// Ed2k reverses a synthetic hash back to the ed2k original.
func (s *Store) Ed2k(synthetic string) (string, bool, error) {
	var ed2k string
	err := s.db.Get(&ed2k,
		"SELECT ed2k FROM hash_map WHERE synthetic = ?", strings.ToLower(synthetic))
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("select: %s", err)
	}
	return ed2k, true, nil
}

// Fixture returns a Store over a temporary database.
func Fixture() (*Store, func()) {
	db, cleanup := localdb.Fixture(Migrations())
	return New(db), cleanup
}
