package auth

import (
	"errors"

	"github.com/peerhub/peerhub/core"
)

// ErrForbidden is returned when a user lacks a required capability.
var ErrForbidden = errors.New("missing capability")

// _actionCapabilities maps client actions to the capabilities a non-admin
// needs. Actions absent from the table require none.
var _actionCapabilities = map[string][]string{
	"search":                     {core.CapSearch},
	"batchDownloadSearchResults": {core.CapSearch, core.CapAddDownloads},
	"addEd2kLinks":               {core.CapAddDownloads},
	"addMagnetLinks":             {core.CapAddDownloads},
	"addTorrentFile":             {core.CapAddDownloads},
	"batchDelete":                {core.CapRemoveDownloads},
	"checkDeletePermissions":     {core.CapRemoveDownloads},
	"batchPause":                 {core.CapPauseResume},
	"batchResume":                {core.CapPauseResume},
	"batchStop":                  {core.CapPauseResume},
	"batchSetFileCategory":       {core.CapAssignCategories},
	"moveFiles":                  {core.CapMoveFiles},
	"checkMovePermissions":       {core.CapMoveFiles},
	"dismissMove":                {core.CapMoveFiles},
	"createCategory":             {core.CapManageCategories},
	"updateCategory":             {core.CapManageCategories},
	"renameCategory":             {core.CapManageCategories},
	"deleteCategory":             {core.CapManageCategories},
	"getHistory":                 {core.CapViewHistory},
	"clearHistory":               {core.CapClearHistory},
	"getSharedFiles":             {core.CapViewShared},
	"refreshSharedFiles":         {core.CapViewShared},
	"getUploads":                 {core.CapViewUploads},
	"getStatsTree":               {core.CapViewStatistics},
	"getServerInfo":              {core.CapViewStatistics},
	"getLog":                     {core.CapViewLogs},
	"getAppLog":                  {core.CapViewLogs},
	"getServersList":             {core.CapViewServers},
	"serverDoAction":             {core.CapViewServers},
}

// RequiredCapabilities returns the capabilities action demands of non-admins.
func RequiredCapabilities(action string) []string {
	return _actionCapabilities[action]
}

// Authorize checks that u may perform action. Admins bypass the table.
func Authorize(u *core.User, action string) error {
	if u == nil {
		return ErrForbidden
	}
	if !u.HasAllCapabilities(RequiredCapabilities(action)) {
		return ErrForbidden
	}
	return nil
}
