package wsserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"

	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/lib/adapter"
	"github.com/peerhub/peerhub/lib/category"
	"github.com/peerhub/peerhub/lib/clientregistry"
	"github.com/peerhub/peerhub/lib/events"
	"github.com/peerhub/peerhub/lib/fetch"
	"github.com/peerhub/peerhub/lib/history"
	"github.com/peerhub/peerhub/lib/moveop"
	"github.com/peerhub/peerhub/lib/userstore"
)

type hubFixture struct {
	server     *Server
	ts         *httptest.Server
	registry   *clientregistry.Registry
	categories *category.Manager
	fetcher    *fetch.Service
	users      *userstore.Store
	sessions   *userstore.SessionStore
	dispatcher *events.Dispatcher
	cleanups   []func()
}

func newHubFixture(t *testing.T, config Config) *hubFixture {
	clk := clock.New()
	f := &hubFixture{
		registry:   clientregistry.New(),
		dispatcher: events.NewDispatcher(clk),
	}

	var err error
	f.categories, err = category.New(category.Config{}, t.TempDir(), f.registry, clk)
	require.NoError(t, err)

	hist, cleanup := history.StoreFixture(history.Config{}, clk)
	f.cleanups = append(f.cleanups, cleanup)

	moveStore, cleanup := moveop.StoreFixture()
	f.cleanups = append(f.cleanups, cleanup)
	moves, err := moveop.NewManager(
		moveop.Config{}, tally.NoopScope, moveStore, f.registry, f.categories, f.dispatcher)
	require.NoError(t, err)
	f.cleanups = append(f.cleanups, moves.Close)

	f.users, cleanup = userstore.Fixture()
	f.cleanups = append(f.cleanups, cleanup)
	f.sessions, cleanup = userstore.SessionFixture(userstore.SessionConfig{}, clk)
	f.cleanups = append(f.cleanups, cleanup)

	f.fetcher = fetch.New(
		fetch.Config{}, f.registry, f.categories, hist, moves,
		nil, nil, clk, tally.NoopScope)

	f.server = New(
		config, tally.NoopScope, clk, f.registry, f.categories, f.fetcher,
		hist, moves, f.sessions, f.users, f.dispatcher)
	f.cleanups = append(f.cleanups, f.server.Close)

	f.ts = httptest.NewServer(f.server)
	f.cleanups = append(f.cleanups, f.ts.Close)
	return f
}

func (f *hubFixture) close() {
	for i := len(f.cleanups) - 1; i >= 0; i-- {
		f.cleanups[i]()
	}
}

func (f *hubFixture) createUser(t *testing.T, username string, caps ...string) *core.User {
	u, err := f.users.CreateUser(username, "irrelevant-hash", false, caps)
	require.NoError(t, err)
	return u
}

func (f *hubFixture) createAdmin(t *testing.T, username string) *core.User {
	u, err := f.users.CreateUser(username, "irrelevant-hash", true, nil)
	require.NoError(t, err)
	return u
}

func (f *hubFixture) dial(t *testing.T, u *core.User) *websocket.Conn {
	token, err := f.sessions.Create(u.ID)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(f.ts.URL, "http")
	header := http.Header{"Cookie": {fmt.Sprintf("%s=%s", SessionCookie, token)}}
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readMsg(t *testing.T, ws *websocket.Conn) map[string]interface{} {
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg map[string]interface{}
	require.NoError(t, ws.ReadJSON(&msg))
	return msg
}

// waitForType reads until a message of the wanted type arrives, skipping
// interleaved broadcasts.
func waitForType(t *testing.T, ws *websocket.Conn, want string) map[string]interface{} {
	for i := 0; i < 32; i++ {
		msg := readMsg(t, ws)
		if msg["type"] == want {
			return msg
		}
	}
	t.Fatalf("no %q message received", want)
	return nil
}

func send(t *testing.T, ws *websocket.Conn, msg interface{}) {
	require.NoError(t, ws.WriteJSON(msg))
}

func warmBatch(t *testing.T, f *hubFixture) {
	_, err := f.fetcher.FetchBatch(context.Background())
	require.NoError(t, err)
}

func registerQbit(t *testing.T, f *hubFixture, id string) *adapter.TestAdapter {
	a := adapter.NewTestAdapter(core.TypeQBittorrent)
	require.NoError(t, f.registry.Register(id, core.TypeQBittorrent, a, clientregistry.Options{}))
	return a
}

func TestConnectRequiresSession(t *testing.T) {
	f := newHubFixture(t, Config{})
	defer f.close()

	url := "ws" + strings.TrimPrefix(f.ts.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConnectHandshakeFiltersBatchByOwnership(t *testing.T) {
	require := require.New(t)

	f := newHubFixture(t, Config{})
	defer f.close()

	qb := registerQbit(t, f, "qbit-1")
	i1 := core.ItemFixture(core.TypeQBittorrent, "qbit-1")
	i2 := core.ItemFixture(core.TypeQBittorrent, "qbit-1")
	qb.AddItems(i1, i2)
	warmBatch(t, f)

	alice := f.createUser(t, "alice")
	require.NoError(f.users.SetOwner(i1.Key(), alice.ID, time.Now()))

	ws := f.dial(t, alice)
	msg := waitForType(t, ws, "connected")
	require.Equal("alice", msg["username"])
	waitForType(t, ws, "search-lock")

	update := waitForType(t, ws, "batch-update")
	items := update["items"].([]interface{})
	require.Len(items, 1)
	item := items[0].(map[string]interface{})
	require.Equal(i1.Hash, item["fileHash"])
	require.Equal(true, item["ownedByMe"])

	// Admins see everything, with the ownership flag still correct.
	root := f.createAdmin(t, "root")
	wsRoot := f.dial(t, root)
	update = waitForType(t, wsRoot, "batch-update")
	require.Len(update["items"].([]interface{}), 2)
	for _, raw := range update["items"].([]interface{}) {
		require.Equal(false, raw.(map[string]interface{})["ownedByMe"])
	}
}

func TestActionCapabilityGate(t *testing.T) {
	require := require.New(t)

	f := newHubFixture(t, Config{})
	defer f.close()

	registerQbit(t, f, "qbit-1")
	alice := f.createUser(t, "alice", core.CapSearch)

	ws := f.dial(t, alice)
	waitForType(t, ws, "connected")

	send(t, ws, map[string]interface{}{
		"action": "batchPause",
		"items":  []map[string]string{{"fileHash": "aa", "instanceId": "qbit-1"}},
	})
	msg := waitForType(t, ws, "error")
	require.Equal("Insufficient permissions", msg["message"])
}

func TestBatchPauseEnforcesPerItemOwnership(t *testing.T) {
	require := require.New(t)

	f := newHubFixture(t, Config{})
	defer f.close()

	qb := registerQbit(t, f, "qbit-1")
	i1 := core.ItemFixture(core.TypeQBittorrent, "qbit-1")
	i2 := core.ItemFixture(core.TypeQBittorrent, "qbit-1")
	qb.AddItems(i1, i2)
	warmBatch(t, f)

	bob := f.createUser(t, "bob", core.CapPauseResume)
	require.NoError(f.users.SetOwner(i1.Key(), bob.ID, time.Now()))

	ws := f.dial(t, bob)
	waitForType(t, ws, "connected")

	send(t, ws, map[string]interface{}{
		"action": "batchPause",
		"items": []map[string]string{
			{"fileHash": i1.Hash, "instanceId": "qbit-1"},
			{"fileHash": i2.Hash, "instanceId": "qbit-1"},
		},
	})
	msg := waitForType(t, ws, "batch-pause-complete")
	results := msg["results"].([]interface{})
	require.Len(results, 2)

	byHash := make(map[string]map[string]interface{})
	for _, raw := range results {
		r := raw.(map[string]interface{})
		byHash[r["fileHash"].(string)] = r
	}
	require.Equal(true, byHash[i1.Hash]["success"])
	require.Equal(true, byHash[i2.Hash]["denied"])

	qb.Lock()
	defer qb.Unlock()
	require.Equal([]string{i1.Hash}, qb.Paused)
}

func TestMutationBroadcastsFreshBatch(t *testing.T) {
	require := require.New(t)

	f := newHubFixture(t, Config{})
	defer f.close()

	qb := registerQbit(t, f, "qbit-1")
	i1 := core.ItemFixture(core.TypeQBittorrent, "qbit-1")
	qb.AddItems(i1)
	warmBatch(t, f)

	root := f.createAdmin(t, "root")
	ws := f.dial(t, root)
	waitForType(t, ws, "connected")
	update := waitForType(t, ws, "batch-update")
	require.Len(update["items"].([]interface{}), 1)

	// A second download appears on the client between scheduler ticks. The
	// post-mutation broadcast must come from a fresh fetch, not the cache.
	i2 := core.ItemFixture(core.TypeQBittorrent, "qbit-1")
	qb.AddItems(i2)

	send(t, ws, map[string]interface{}{
		"action": "batchPause",
		"items":  []map[string]string{{"fileHash": i1.Hash, "instanceId": "qbit-1"}},
	})

	update = waitForType(t, ws, "batch-update")
	require.Len(update["items"].([]interface{}), 2)
	waitForType(t, ws, "batch-pause-complete")
}

func TestAddMagnetCreatesCategoryAndRecordsOwnership(t *testing.T) {
	require := require.New(t)

	f := newHubFixture(t, Config{})
	defer f.close()

	qb := registerQbit(t, f, "qbit-1")
	root := f.createAdmin(t, "root")

	ws := f.dial(t, root)
	waitForType(t, ws, "connected")

	hash := strings.Repeat("0123456789", 4)
	link := "magnet:?xt=urn:btih:" + hash + "&dn=X"
	send(t, ws, map[string]interface{}{
		"action": "addMagnetLinks",
		"links":  []string{link},
		"label":  "Movies",
	})

	msg := waitForType(t, ws, "magnet-added")
	results := msg["results"].([]interface{})
	require.Len(results, 1)
	r := results[0].(map[string]interface{})
	require.Equal(true, r["success"])
	require.Equal(link, r["link"])

	_, err := f.categories.Get("Movies")
	require.NoError(err)

	owner, ok, err := f.users.OwnerOf(core.NewCompoundKey("qbit-1", hash))
	require.NoError(err)
	require.True(ok)
	require.Equal(root.ID, owner)

	qb.Lock()
	defer qb.Unlock()
	require.Equal([]string{link}, qb.Magnets)
}

func TestBatchDeleteRemovesOwnership(t *testing.T) {
	require := require.New(t)

	f := newHubFixture(t, Config{})
	defer f.close()

	qb := registerQbit(t, f, "qbit-1")
	i1 := core.ItemFixture(core.TypeQBittorrent, "qbit-1")
	qb.AddItems(i1)
	warmBatch(t, f)

	root := f.createAdmin(t, "root")
	require.NoError(f.users.SetOwner(i1.Key(), root.ID, time.Now()))

	deleted := make(chan events.Event, 1)
	f.dispatcher.Subscribe(sinkFunc(func(e events.Event) {
		if e.Type == events.TypeFileDeleted {
			deleted <- e
		}
	}))

	ws := f.dial(t, root)
	waitForType(t, ws, "connected")

	send(t, ws, map[string]interface{}{
		"action":      "batchDelete",
		"deleteFiles": true,
		"items": []map[string]string{
			{"fileHash": i1.Hash, "instanceId": "qbit-1"},
		},
	})
	msg := waitForType(t, ws, "batch-delete-complete")
	results := msg["results"].([]interface{})
	require.Equal(true, results[0].(map[string]interface{})["success"])

	select {
	case e := <-deleted:
		data := e.Data.(map[string]interface{})
		// The client API deletes its own data.
		require.Equal(true, data["withData"])
	case <-time.After(5 * time.Second):
		t.Fatal("no fileDeleted event")
	}

	_, ok, err := f.users.OwnerOf(i1.Key())
	require.NoError(err)
	require.False(ok)

	qb.Lock()
	defer qb.Unlock()
	require.Equal([]string{i1.Hash}, qb.Deleted)
}

func TestSessionInvalidationClosesSocket(t *testing.T) {
	require := require.New(t)

	f := newHubFixture(t, Config{ValidationInterval: 25 * time.Millisecond})
	defer f.close()

	alice := f.createUser(t, "alice")
	ws := f.dial(t, alice)
	waitForType(t, ws, "connected")

	require.NoError(f.sessions.DestroyAllForUser(alice.ID))

	require.NoError(ws.SetReadDeadline(time.Now().Add(5 * time.Second)))
	for {
		var msg json.RawMessage
		if err := ws.ReadJSON(&msg); err != nil {
			require.True(websocket.IsCloseError(err, CloseSessionInvalid), "got %v", err)
			return
		}
	}
}

func TestUnknownActionRejected(t *testing.T) {
	require := require.New(t)

	f := newHubFixture(t, Config{})
	defer f.close()

	root := f.createAdmin(t, "root")
	ws := f.dial(t, root)
	waitForType(t, ws, "connected")

	send(t, ws, map[string]string{"action": "flub"})
	msg := waitForType(t, ws, "error")
	require.Contains(msg["message"], "flub")
}

// sinkFunc adapts a function to the events.Sink interface.
type sinkFunc func(events.Event)

func (f sinkFunc) Publish(e events.Event) { f(e) }
