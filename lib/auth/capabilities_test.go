package auth

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/peerhub/peerhub/core"
)

func TestAuthorize(t *testing.T) {
	tests := []struct {
		desc    string
		user    *core.User
		action  string
		allowed bool
	}{
		{"nil user", nil, "getCategories", false},
		{"admin bypasses table", &core.User{IsAdmin: true}, "batchDelete", true},
		{"searcher cannot pause",
			&core.User{Capabilities: []string{core.CapSearch}}, "batchPause", false},
		{"searcher can search",
			&core.User{Capabilities: []string{core.CapSearch}}, "search", true},
		{"unlisted action needs nothing", &core.User{}, "getCategories", true},
		{"download needs both search and add",
			&core.User{Capabilities: []string{core.CapSearch}},
			"batchDownloadSearchResults", false},
		{"download with both",
			&core.User{Capabilities: []string{core.CapSearch, core.CapAddDownloads}},
			"batchDownloadSearchResults", true},
	}
	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			err := Authorize(test.user, test.action)
			if test.allowed {
				require.NoError(t, err)
			} else {
				require.Equal(t, ErrForbidden, err)
			}
		})
	}
}

func TestRequiredCapabilitiesAreValid(t *testing.T) {
	for action, caps := range _actionCapabilities {
		for _, c := range caps {
			require.True(t, core.ValidCapability(c), "%s requires unknown %q", action, c)
		}
	}
}
