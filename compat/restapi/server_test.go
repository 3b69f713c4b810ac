package restapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"

	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/lib/adapter"
	"github.com/peerhub/peerhub/lib/auth"
	"github.com/peerhub/peerhub/lib/clientregistry"
	"github.com/peerhub/peerhub/lib/userstore"
)

type apiFixture struct {
	server   *Server
	ts       *httptest.Server
	users    *userstore.Store
	sessions *userstore.SessionStore
	registry *clientregistry.Registry
	closed   []int64
	cleanups []func()
}

func (f *apiFixture) CloseUserSessions(userID int64) {
	f.closed = append(f.closed, userID)
}

func newAPIFixture(t *testing.T) *apiFixture {
	f := &apiFixture{registry: clientregistry.New()}

	var cleanup func()
	f.users, cleanup = userstore.Fixture()
	f.cleanups = append(f.cleanups, cleanup)

	f.sessions, cleanup = userstore.SessionFixture(userstore.SessionConfig{}, clock.New())
	f.cleanups = append(f.cleanups, cleanup)

	gate := auth.NewGate(auth.Config{}, f.users, f.sessions, clock.New(), tally.NoopScope)
	f.cleanups = append(f.cleanups, gate.Close)

	f.server = New(
		Config{Version: "2.4.0"}, tally.NoopScope,
		f.users, f.sessions, gate, f, f.registry)
	f.ts = httptest.NewServer(f.server.Handler())
	f.cleanups = append(f.cleanups, f.ts.Close)
	return f
}

func (f *apiFixture) close() {
	for i := len(f.cleanups) - 1; i >= 0; i-- {
		f.cleanups[i]()
	}
}

func (f *apiFixture) createUser(t *testing.T, username string, isAdmin bool) (*core.User, string) {
	u, err := f.users.CreateUser(username, "irrelevant-hash", isAdmin, nil)
	require.NoError(t, err)
	token, err := f.sessions.Create(u.ID)
	require.NoError(t, err)
	return u, token
}

func (f *apiFixture) do(
	t *testing.T, method, path, token string, body interface{}) *http.Response {

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: token})
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestUsersRequireAdminSession(t *testing.T) {
	require := require.New(t)

	f := newAPIFixture(t)
	defer f.close()
	_, memberToken := f.createUser(t, "alice", false)

	resp := f.do(t, "GET", "/api/users", "", nil)
	require.Equal(http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, "GET", "/api/users", memberToken, nil)
	require.Equal(http.StatusForbidden, resp.StatusCode)
}

func TestUserCRUD(t *testing.T) {
	require := require.New(t)

	f := newAPIFixture(t)
	defer f.close()
	_, adminToken := f.createUser(t, "root", true)

	resp := f.do(t, "POST", "/api/users", adminToken, map[string]interface{}{
		"username":     "alice",
		"password":     "hunter42!",
		"capabilities": []string{core.CapSearch},
	})
	require.Equal(http.StatusCreated, resp.StatusCode)
	var created userView
	decode(t, resp, &created)
	require.Equal("alice", created.Username)
	require.False(created.IsAdmin)
	require.Equal([]string{core.CapSearch}, created.Capabilities)

	resp = f.do(t, "GET", "/api/users", adminToken, nil)
	var views []userView
	decode(t, resp, &views)
	require.Len(views, 2)

	resp = f.do(t, "DELETE", userPath(created.ID), adminToken, nil)
	require.Equal(http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, "GET", "/api/users", adminToken, nil)
	views = nil
	decode(t, resp, &views)
	require.Len(views, 1)
}

func TestUpdateUserInvalidatesSessions(t *testing.T) {
	require := require.New(t)

	f := newAPIFixture(t)
	defer f.close()
	_, adminToken := f.createUser(t, "root", true)
	alice, aliceToken := f.createUser(t, "alice", false)

	resp := f.do(t, "PUT", userPath(alice.ID), adminToken, map[string]interface{}{
		"capabilities": []string{core.CapSearch, core.CapAddDownloads},
	})
	require.Equal(http.StatusOK, resp.StatusCode)
	var updated userView
	decode(t, resp, &updated)
	require.ElementsMatch(
		[]string{core.CapSearch, core.CapAddDownloads}, updated.Capabilities)

	// The edit destroyed alice's session and notified the live surface.
	_, err := f.sessions.Resolve(aliceToken)
	require.Error(err)
	require.Equal([]int64{alice.ID}, f.closed)
}

func TestCannotDeleteOwnAccount(t *testing.T) {
	require := require.New(t)

	f := newAPIFixture(t)
	defer f.close()
	admin, adminToken := f.createUser(t, "root", true)

	resp := f.do(t, "DELETE", userPath(admin.ID), adminToken, nil)
	require.Equal(http.StatusBadRequest, resp.StatusCode)
}

func TestAPIKeyRotation(t *testing.T) {
	require := require.New(t)

	f := newAPIFixture(t)
	defer f.close()
	admin, adminToken := f.createUser(t, "root", true)

	resp := f.do(t, "POST", userPath(admin.ID)+"/apikey", adminToken, nil)
	require.Equal(http.StatusOK, resp.StatusCode)
	var rotated map[string]string
	decode(t, resp, &rotated)
	require.NotEmpty(rotated["apiKey"])

	u, err := f.users.GetUserByAPIKey(rotated["apiKey"])
	require.NoError(err)
	require.Equal(admin.ID, u.ID)

	resp = f.do(t, "DELETE", userPath(admin.ID)+"/apikey", adminToken, nil)
	require.Equal(http.StatusNoContent, resp.StatusCode)

	_, err = f.users.GetUserByAPIKey(rotated["apiKey"])
	require.Equal(userstore.ErrUserNotFound, err)
}

func TestLoginIssuesSessionCookie(t *testing.T) {
	require := require.New(t)

	f := newAPIFixture(t)
	defer f.close()

	hash, err := auth.HashPassword("hunter42!")
	require.NoError(err)
	_, err = f.users.CreateUser("alice", hash, false, nil)
	require.NoError(err)

	resp := f.do(t, "POST", "/api/auth/login", "", map[string]string{
		"username": "alice",
		"password": "hunter42!",
	})
	require.Equal(http.StatusOK, resp.StatusCode)

	var token string
	for _, c := range resp.Cookies() {
		if c.Name == auth.SessionCookie {
			token = c.Value
		}
	}
	require.NotEmpty(token)

	resp = f.do(t, "GET", "/api/auth/me", token, nil)
	require.Equal(http.StatusOK, resp.StatusCode)
	var me userView
	decode(t, resp, &me)
	require.Equal("alice", me.Username)

	resp = f.do(t, "POST", "/api/auth/logout", token, nil)
	require.Equal(http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, "GET", "/api/auth/me", token, nil)
	require.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	require := require.New(t)

	f := newAPIFixture(t)
	defer f.close()

	hash, err := auth.HashPassword("hunter42!")
	require.NoError(err)
	_, err = f.users.CreateUser("alice", hash, false, nil)
	require.NoError(err)

	resp := f.do(t, "POST", "/api/auth/login", "", map[string]string{
		"username": "alice",
		"password": "wrong",
	})
	require.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func TestVersionSeenFlag(t *testing.T) {
	require := require.New(t)

	f := newAPIFixture(t)
	defer f.close()
	_, token := f.createUser(t, "alice", false)

	resp := f.do(t, "GET", "/api/version", token, nil)
	var v struct {
		Version string `json:"version"`
		Seen    bool   `json:"seen"`
	}
	decode(t, resp, &v)
	require.Equal("2.4.0", v.Version)
	require.False(v.Seen)

	resp = f.do(t, "POST", "/api/version/seen", token, nil)
	require.Equal(http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, "GET", "/api/version", token, nil)
	decode(t, resp, &v)
	require.True(v.Seen)
}

func TestFilesProxy(t *testing.T) {
	require := require.New(t)

	f := newAPIFixture(t)
	defer f.close()
	_, token := f.createUser(t, "alice", false)

	qb := adapter.NewTestAdapter(core.TypeQBittorrent)
	require.NoError(
		f.registry.Register("qbit-1", core.TypeQBittorrent, qb, clientregistry.Options{}))

	resp := f.do(t, "GET", "/api/qbittorrent/files/abcd", token, nil)
	require.Equal(http.StatusOK, resp.StatusCode)
	var files []adapter.File
	decode(t, resp, &files)
	require.Empty(files)

	resp = f.do(t, "GET", "/api/floppynet/files/abcd", token, nil)
	require.Equal(http.StatusNotFound, resp.StatusCode)
}

func userPath(id int64) string {
	return "/api/users/" + strconv.FormatInt(id, 10)
}
