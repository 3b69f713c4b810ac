package core

import (
	"fmt"
	"regexp"
	"time"

	"github.com/peerhub/peerhub/utils/stringset"
)

// Capability names form a fixed closed vocabulary. Admins implicitly hold
// every capability; the table is only consulted for non-admins.
const (
	CapSearch           = "search"
	CapAddDownloads     = "add_downloads"
	CapRemoveDownloads  = "remove_downloads"
	CapPauseResume      = "pause_resume"
	CapAssignCategories = "assign_categories"
	CapMoveFiles        = "move_files"
	CapManageCategories = "manage_categories"
	CapViewHistory      = "view_history"
	CapClearHistory     = "clear_history"
	CapViewShared       = "view_shared"
	CapViewUploads      = "view_uploads"
	CapViewStatistics   = "view_statistics"
	CapViewLogs         = "view_logs"
	CapViewServers      = "view_servers"
	CapViewAllDownloads = "view_all_downloads"
	CapEditAllDownloads = "edit_all_downloads"
)

// AllCapabilities is the closed capability vocabulary.
var AllCapabilities = []string{
	CapSearch, CapAddDownloads, CapRemoveDownloads, CapPauseResume,
	CapAssignCategories, CapMoveFiles, CapManageCategories, CapViewHistory,
	CapClearHistory, CapViewShared, CapViewUploads, CapViewStatistics,
	CapViewLogs, CapViewServers, CapViewAllDownloads, CapEditAllDownloads,
}

var _capabilitySet = stringset.FromSlice(AllCapabilities)

// ValidCapability returns true if name is part of the closed vocabulary.
func ValidCapability(name string) bool {
	return _capabilitySet.Has(name)
}

var _usernameRegexp = regexp.MustCompile(`^[a-zA-Z0-9_]{3,32}$`)

// ValidateUsername checks the username rules: 3-32 characters of
// [a-zA-Z0-9_]. Usernames are unique case-insensitively.
func ValidateUsername(name string) error {
	if !_usernameRegexp.MatchString(name) {
		return fmt.Errorf("username must be 3-32 characters of letters, digits and underscore")
	}
	return nil
}

// User is an account in the multi-user authorization model.
type User struct {
	ID           int64      `json:"id" db:"id"`
	Username     string     `json:"username" db:"username"`
	PasswordHash string     `json:"-" db:"password_hash"`
	IsAdmin      bool       `json:"isAdmin" db:"is_admin"`
	Disabled     bool       `json:"disabled" db:"disabled"`
	APIKey       string     `json:"apiKey,omitempty" db:"api_key"`
	Capabilities []string   `json:"capabilities"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty" db:"last_login_at"`
}

// HasCapability reports whether u may perform actions requiring name.
// edit_all_downloads implies view_all_downloads.
func (u *User) HasCapability(name string) bool {
	if u.IsAdmin {
		return true
	}
	for _, c := range u.Capabilities {
		if c == name {
			return true
		}
		if name == CapViewAllDownloads && c == CapEditAllDownloads {
			return true
		}
	}
	return false
}

// HasAllCapabilities reports whether u holds every capability in caps.
func (u *User) HasAllCapabilities(caps []string) bool {
	for _, c := range caps {
		if !u.HasCapability(c) {
			return false
		}
	}
	return true
}

// Session is the resolved identity behind an opaque signed token.
type Session struct {
	ID            string    `json:"-" db:"id"`
	UserID        int64     `json:"userId" db:"user_id"`
	Username      string    `json:"username" db:"username"`
	IsAdmin       bool      `json:"isAdmin" db:"is_admin"`
	Capabilities  []string  `json:"capabilities"`
	Authenticated bool      `json:"authenticated"`
	Expire        time.Time `json:"expire" db:"expire"`
}

// OwnershipRecord ties an item to the user who added it.
type OwnershipRecord struct {
	CompoundKey string    `json:"compoundKey" db:"compound_key"`
	UserID      int64     `json:"userId" db:"user_id"`
	AddedAt     time.Time `json:"addedAt" db:"added_at"`
}

// FailedLoginAttempt tracks brute-force counters per IP.
type FailedLoginAttempt struct {
	IP           string     `db:"ip"`
	Count        int        `db:"count"`
	FirstAttempt time.Time  `db:"first_attempt"`
	LastAttempt  time.Time  `db:"last_attempt"`
	BlockedUntil *time.Time `db:"blocked_until"`
}
