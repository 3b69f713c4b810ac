package qbitapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"

	"github.com/peerhub/peerhub/compat/hashstore"
	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/lib/adapter"
	"github.com/peerhub/peerhub/lib/auth"
	"github.com/peerhub/peerhub/lib/category"
	"github.com/peerhub/peerhub/lib/clientregistry"
	"github.com/peerhub/peerhub/lib/fetch"
	"github.com/peerhub/peerhub/lib/userstore"
)

type serverFixture struct {
	server     *Server
	ts         *httptest.Server
	registry   *clientregistry.Registry
	categories *category.Manager
	fetcher    *fetch.Service
	users      *userstore.Store
	cleanups   []func()
}

func newServerFixture(t *testing.T) *serverFixture {
	clk := clock.New()
	f := &serverFixture{registry: clientregistry.New()}

	var err error
	f.categories, err = category.New(category.Config{}, t.TempDir(), f.registry, clk)
	require.NoError(t, err)

	hashes, cleanup := hashstore.Fixture()
	f.cleanups = append(f.cleanups, cleanup)

	f.users, cleanup = userstore.Fixture()
	f.cleanups = append(f.cleanups, cleanup)

	f.fetcher = fetch.New(
		fetch.Config{}, f.registry, f.categories, nil, nil, nil, nil,
		clk, tally.NoopScope)

	f.server = New(
		Config{}, tally.NoopScope, f.registry, f.categories, f.fetcher,
		hashes, f.users)
	f.ts = httptest.NewServer(f.server.Handler())
	f.cleanups = append(f.cleanups, f.ts.Close)
	return f
}

func (f *serverFixture) close() {
	for i := len(f.cleanups) - 1; i >= 0; i-- {
		f.cleanups[i]()
	}
}

func (f *serverFixture) createAdmin(t *testing.T, username, password string) *core.User {
	hash, err := auth.HashPassword(password)
	require.NoError(t, err)
	u, err := f.users.CreateUser(username, hash, true, nil)
	require.NoError(t, err)
	return u
}

func (f *serverFixture) get(t *testing.T, path, username, password string) *http.Response {
	req, err := http.NewRequest("GET", f.ts.URL+path, nil)
	require.NoError(t, err)
	if username != "" {
		req.SetBasicAuth(username, password)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *serverFixture) post(
	t *testing.T, path, username, password string, form url.Values) *http.Response {

	req, err := http.NewRequest("POST", f.ts.URL+path, strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if username != "" {
		req.SetBasicAuth(username, password)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRequiresAdminBasicAuth(t *testing.T) {
	require := require.New(t)

	f := newServerFixture(t)
	defer f.close()
	f.createAdmin(t, "root", "hunter42!")

	resp := f.get(t, "/api/v2/app/version", "", "")
	require.Equal(http.StatusUnauthorized, resp.StatusCode)

	resp = f.get(t, "/api/v2/app/version", "root", "wrong")
	require.Equal(http.StatusUnauthorized, resp.StatusCode)

	resp = f.get(t, "/api/v2/app/version", "root", "hunter42!")
	require.Equal(http.StatusOK, resp.StatusCode)
}

func TestAPIKeyAuth(t *testing.T) {
	require := require.New(t)

	f := newServerFixture(t)
	defer f.close()
	u := f.createAdmin(t, "root", "hunter42!")

	key, err := f.users.RotateAPIKey(u.ID)
	require.NoError(err)

	resp := f.get(t, "/api/v2/app/webapiVersion", "root", key)
	require.Equal(http.StatusOK, resp.StatusCode)
}

func TestNonAdminForbidden(t *testing.T) {
	require := require.New(t)

	f := newServerFixture(t)
	defer f.close()

	hash, err := auth.HashPassword("hunter42!")
	require.NoError(err)
	_, err = f.users.CreateUser("alice", hash, false, nil)
	require.NoError(err)

	resp := f.get(t, "/api/v2/app/version", "alice", "hunter42!")
	require.Equal(http.StatusForbidden, resp.StatusCode)
}

func TestInfoPresentsEd2kAsSyntheticTorrent(t *testing.T) {
	require := require.New(t)

	f := newServerFixture(t)
	defer f.close()
	f.createAdmin(t, "root", "hunter42!")

	am := adapter.NewTestAdapter(core.TypeAmule)
	require.NoError(f.registry.Register("amule-1", core.TypeAmule, am, clientregistry.Options{}))
	item := core.ItemFixture(core.TypeAmule, "amule-1")
	item.ETA = 99999999 // past the cap
	am.AddItems(item)

	_, err := f.fetcher.FetchBatch(context.Background())
	require.NoError(err)

	resp := f.get(t, "/api/v2/torrents/info", "root", "hunter42!")
	require.Equal(http.StatusOK, resp.StatusCode)

	var infos []torrentInfo
	require.NoError(json.NewDecoder(resp.Body).Decode(&infos))
	require.Len(infos, 1)
	require.Len(infos[0].Hash, 40)
	require.NotEqual(item.Hash, infos[0].Hash)
	require.Equal(item.Name, infos[0].Name)
	require.Equal(int64(etaCap), infos[0].ETA)
}

func TestPauseResolvesSyntheticHash(t *testing.T) {
	require := require.New(t)

	f := newServerFixture(t)
	defer f.close()
	f.createAdmin(t, "root", "hunter42!")

	am := adapter.NewTestAdapter(core.TypeAmule)
	require.NoError(f.registry.Register("amule-1", core.TypeAmule, am, clientregistry.Options{}))
	item := core.ItemFixture(core.TypeAmule, "amule-1")
	am.AddItems(item)

	_, err := f.fetcher.FetchBatch(context.Background())
	require.NoError(err)

	synthetic, err := f.server.hashes.Synthetic(item.Hash)
	require.NoError(err)

	resp := f.post(t, "/api/v2/torrents/pause", "root", "hunter42!",
		url.Values{"hashes": {synthetic}})
	require.Equal(http.StatusOK, resp.StatusCode)

	am.Lock()
	defer am.Unlock()
	require.Equal([]string{item.Hash}, am.Paused)
}

func TestCreateAndListCategories(t *testing.T) {
	require := require.New(t)

	f := newServerFixture(t)
	defer f.close()
	f.createAdmin(t, "root", "hunter42!")

	resp := f.post(t, "/api/v2/torrents/createCategory", "root", "hunter42!",
		url.Values{"category": {"Movies"}, "savePath": {"/srv/movies"}})
	require.Equal(http.StatusOK, resp.StatusCode)

	resp = f.get(t, "/api/v2/torrents/categories", "root", "hunter42!")
	var cats map[string]map[string]string
	require.NoError(json.NewDecoder(resp.Body).Decode(&cats))
	require.Contains(cats, "Movies")
	require.Contains(cats, core.DefaultCategoryName)
	require.Equal("/srv/movies", cats["Movies"]["savePath"])
}

func TestLoginFlow(t *testing.T) {
	require := require.New(t)

	f := newServerFixture(t)
	defer f.close()
	f.createAdmin(t, "root", "hunter42!")

	resp := f.post(t, "/api/v2/auth/login", "", "",
		url.Values{"username": {"root"}, "password": {"hunter42!"}})
	require.Equal(http.StatusOK, resp.StatusCode)
	body := make([]byte, 8)
	n, _ := resp.Body.Read(body)
	require.Equal("Ok.", string(body[:n]))

	resp = f.post(t, "/api/v2/auth/login", "", "",
		url.Values{"username": {"root"}, "password": {"wrong"}})
	body = make([]byte, 8)
	n, _ = resp.Body.Read(body)
	require.Equal("Fails.", string(body[:n]))
}

func TestMapState(t *testing.T) {
	tests := []struct {
		desc string
		item core.UnifiedItem
		want string
	}{
		{"active downloading", core.UnifiedItem{Status: core.StatusActive, Size: 100, DownloadSpeed: 100}, "downloading"},
		{"active no speed", core.UnifiedItem{Status: core.StatusActive, Size: 100}, "stalledDL"},
		{"no metadata yet", core.UnifiedItem{Status: core.StatusActive}, "metaDL"},
		{"paused incomplete", core.UnifiedItem{Status: core.StatusPaused}, "pausedDL"},
		{"paused complete", core.UnifiedItem{Status: core.StatusPaused, Complete: true}, "pausedUP"},
		{"stopped incomplete", core.UnifiedItem{Status: core.StatusStopped}, "pausedDL"},
		{"stopped complete", core.UnifiedItem{Status: core.StatusStopped, Complete: true}, "pausedUP"},
		{"queued", core.UnifiedItem{Status: core.StatusQueued}, "queuedDL"},
		{"queued complete", core.UnifiedItem{Status: core.StatusQueued, Complete: true}, "queuedUP"},
		{"seeding with traffic", core.UnifiedItem{Status: core.StatusSeeding, Complete: true, UploadSpeed: 5}, "uploading"},
		{"seeding idle", core.UnifiedItem{Status: core.StatusSeeding, Complete: true}, "stalledUP"},
		{"checking", core.UnifiedItem{Status: core.StatusChecking}, "checkingDL"},
		{"moving", core.UnifiedItem{Status: core.StatusMoving}, "moving"},
		{"move overlay", core.UnifiedItem{Status: core.StatusActive, MoveStatus: "moving"}, "moving"},
		{"error", core.UnifiedItem{Status: core.StatusError}, "error"},
	}
	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			item := test.item
			require.Equal(t, test.want, mapState(&item))
		})
	}
}
