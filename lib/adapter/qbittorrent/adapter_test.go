package qbittorrent

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"strconv"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/require"

	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/lib/adapter"
	"github.com/peerhub/peerhub/utils/testutil"
)

// fakeWebUI is a minimal qBittorrent WebUI endpoint.
type fakeWebUI struct {
	torrents []string
	deleted  []string
	paused   []string
}

func (f *fakeWebUI) handler() http.Handler {
	r := chi.NewRouter()
	r.Post("/api/v2/auth/login", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostFormValue("password") != "secret" {
			w.Write([]byte("Fails."))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "SID", Value: "abc"})
		w.Write([]byte("Ok."))
	})
	r.Get("/api/v2/app/version", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("v4.6.0"))
	})
	r.Get("/api/v2/torrents/info", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{
			"hash": "ABCDEF0123456789ABCDEF0123456789ABCDEF01",
			"name": "debian.iso",
			"size": 1000,
			"completed": 500,
			"progress": 0.5,
			"dlspeed": 1024,
			"state": "downloading",
			"category": "Linux",
			"eta": 300,
			"save_path": "/downloads"
		}]`))
	})
	r.Post("/api/v2/torrents/delete", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		f.deleted = append(f.deleted, r.PostFormValue("hashes"))
	})
	r.Post("/api/v2/torrents/pause", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		f.paused = append(f.paused, r.PostFormValue("hashes"))
	})
	r.Post("/api/v2/torrents/createCategory", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	return r
}

func adapterFixture(t *testing.T) (*Adapter, *fakeWebUI, func()) {
	f := &fakeWebUI{}
	addr, stop := testutil.StartServer(f.handler())
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, _ := strconv.Atoi(portStr)
	a := New(Config{Host: host, Port: port, Username: "admin", Password: "secret"})
	a.AttachIdentity(
		core.GenerateInstanceID(core.TypeQBittorrent, host, port),
		core.TypeQBittorrent, "qbit")
	return a, f, stop
}

func TestInitAndFetch(t *testing.T) {
	require := require.New(t)

	a, _, stop := adapterFixture(t)
	defer stop()
	defer a.Shutdown()

	require.NoError(a.Init(context.Background()))
	require.True(a.IsConnected())

	r, err := a.FetchData(context.Background(), nil)
	require.NoError(err)
	require.Len(r.Downloads, 1)

	item := r.Downloads[0]
	require.Equal("abcdef0123456789abcdef0123456789abcdef01", item.Hash)
	require.Equal(core.StatusActive, item.Status)
	require.Equal("Linux", item.Category)
	require.Equal(a.InstanceID(), item.InstanceID)
	require.False(item.Complete)
	require.Equal(r.Downloads, r.SharedFiles)
	require.Empty(r.Uploads)
}

func TestInitBadPassword(t *testing.T) {
	require := require.New(t)

	a, _, stop := adapterFixture(t)
	defer stop()
	defer a.Shutdown()

	a.config.Password = "wrong"
	require.Error(a.Init(context.Background()))
	require.False(a.IsConnected())
}

func TestDeleteViaAPI(t *testing.T) {
	require := require.New(t)

	a, f, stop := adapterFixture(t)
	defer stop()
	defer a.Shutdown()
	require.NoError(a.Init(context.Background()))

	res, err := a.Delete(
		context.Background(), "abc123", adapter.DeleteOptions{DeleteFiles: true})
	require.NoError(err)
	require.True(res.Success)
	require.Empty(res.PathsToDelete)
	require.Equal([]string{"abc123"}, f.deleted)
}

func TestStopPauses(t *testing.T) {
	require := require.New(t)

	a, f, stop := adapterFixture(t)
	defer stop()
	defer a.Shutdown()
	require.NoError(a.Init(context.Background()))

	require.NoError(a.Stop(context.Background(), "abc123"))
	require.Equal([]string{"abc123"}, f.paused)
}

func TestEnsureCategoryConflictIsSuccess(t *testing.T) {
	require := require.New(t)

	a, _, stop := adapterFixture(t)
	defer stop()
	defer a.Shutdown()
	require.NoError(a.Init(context.Background()))

	_, err := a.EnsureCategoryExists(
		context.Background(), adapter.CategorySpec{Name: "Linux"})
	require.NoError(err)
}

func TestTorrentUploadCarriesOptions(t *testing.T) {
	require := require.New(t)

	body, contentType, err := torrentUpload([]byte("d4:infod4:name1:xee"), adapter.AddOptions{
		CategoryName: "Linux",
		Paused:       true,
	})
	require.NoError(err)
	require.Contains(contentType, "multipart/form-data")

	var buf bytes.Buffer
	_, err = buf.ReadFrom(body)
	require.NoError(err)
	require.Contains(buf.String(), "Linux")
	require.Contains(buf.String(), `name="torrents"`)
}
