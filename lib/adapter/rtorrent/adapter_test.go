package rtorrent

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/lib/adapter"
	"github.com/peerhub/peerhub/utils/testutil"
)

var _methodRe = regexp.MustCompile(`<methodName>([^<]+)</methodName>`)

// fakeRPC answers each XML-RPC method with a canned response body.
type fakeRPC struct {
	responses map[string]string
	calls     []string
}

func (f *fakeRPC) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	m := _methodRe.FindSubmatch(body)
	if m == nil {
		http.Error(w, "no method", http.StatusBadRequest)
		return
	}
	method := string(m[1])
	f.calls = append(f.calls, method)
	resp, ok := f.responses[method]
	if !ok {
		resp = `<methodResponse><params><param><value><i8>0</i8></value></param></params></methodResponse>`
	}
	w.Header().Set("Content-Type", "text/xml")
	w.Write([]byte(resp))
}

func scalar(v string) string {
	return fmt.Sprintf(
		`<methodResponse><params><param><value><string>%s</string></value></param></params></methodResponse>`, v)
}

func adapterFixture(t *testing.T, f *fakeRPC) (*Adapter, func()) {
	addr, stop := testutil.StartServer(f)
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, _ := strconv.Atoi(portStr)
	a := New(Config{Host: host, Port: port})
	a.AttachIdentity(
		core.GenerateInstanceID(core.TypeRTorrent, host, port),
		core.TypeRTorrent, "rtorrent")
	return a, stop
}

func TestInitVersionCheck(t *testing.T) {
	require := require.New(t)

	f := &fakeRPC{responses: map[string]string{
		"system.client_version": scalar("0.9.8"),
	}}
	a, stop := adapterFixture(t, f)
	defer stop()
	defer a.Shutdown()

	require.NoError(a.Init(context.Background()))
	require.True(a.IsConnected())
	require.Contains(f.calls, "system.client_version")
}

func TestFetchDataNormalizes(t *testing.T) {
	require := require.New(t)

	// One download row matching _fetchFields order.
	fields := []string{
		`<value><string>ABCDEF0123456789ABCDEF0123456789ABCDEF01</string></value>`,
		`<value><string>debian.iso</string></value>`,
		`<value><i8>1000</i8></value>`, // size
		`<value><i8>250</i8></value>`,  // completed
		`<value><i8>50</i8></value>`,   // down rate
		`<value><i8>10</i8></value>`,   // up rate
		`<value><i8>1</i8></value>`,    // is_active
		`<value><i8>1</i8></value>`,    // is_open
		`<value><i8>0</i8></value>`,    // complete
		`<value><i8>0</i8></value>`,    // hashing
		`<value><string></string></value>`,
		`<value><string>Linux</string></value>`,
		`<value><string>/downloads</string></value>`,
		`<value><i8>500</i8></value>`,  // up total
		`<value><i8>1500</i8></value>`, // ratio (per mille)
		`<value><i8>3</i8></value>`,    // peers accounted
		`<value><i8>2</i8></value>`,    // peers complete
		`<value><i8>1700000000</i8></value>`,
	}
	row := `<value><array><data>`
	for _, v := range fields {
		row += v
	}
	row += `</data></array></value>`
	f := &fakeRPC{responses: map[string]string{
		"d.multicall2": `<methodResponse><params><param><value><array><data>` +
			row + `</data></array></value></param></params></methodResponse>`,
	}}
	a, stop := adapterFixture(t, f)
	defer stop()
	defer a.Shutdown()

	r, err := a.FetchData(context.Background(), nil)
	require.NoError(err)
	require.Len(r.Downloads, 1)

	item := r.Downloads[0]
	require.Equal("abcdef0123456789abcdef0123456789abcdef01", item.Hash)
	require.Equal(core.StatusActive, item.Status)
	require.Equal("Linux", item.Category)
	require.Equal(int64(1000), item.Size)
	require.Equal(0.25, item.Progress)
	require.Equal(1.5, item.Ratio)
	require.Equal(int64(15), item.ETA) // (1000-250)/50
	require.Equal(r.Downloads, r.SharedFiles)
}

func TestDeleteReturnsPathsWhenFilesRequested(t *testing.T) {
	require := require.New(t)

	f := &fakeRPC{responses: map[string]string{
		"d.base_path": scalar("/downloads/debian.iso"),
	}}
	a, stop := adapterFixture(t, f)
	defer stop()
	defer a.Shutdown()

	res, err := a.Delete(
		context.Background(), "abc", adapter.DeleteOptions{DeleteFiles: true})
	require.NoError(err)
	require.True(res.Success)
	require.Equal([]string{"/downloads/debian.iso"}, res.PathsToDelete)
	require.Contains(f.calls, "d.erase")
}

func TestPauseStops(t *testing.T) {
	require := require.New(t)

	f := &fakeRPC{responses: map[string]string{}}
	a, stop := adapterFixture(t, f)
	defer stop()
	defer a.Shutdown()

	require.NoError(a.Pause(context.Background(), "abc"))
	require.Equal([]string{"d.stop"}, f.calls)
}

func TestUpdateDirectoryClosesBeforePointing(t *testing.T) {
	require := require.New(t)

	f := &fakeRPC{responses: map[string]string{}}
	a, stop := adapterFixture(t, f)
	defer stop()
	defer a.Shutdown()

	require.NoError(a.UpdateDirectory(context.Background(), "abc", "/new/dir"))
	require.Equal([]string{"d.close", "d.directory.set"}, f.calls)
}

func TestResumeBatchesOpenAndStart(t *testing.T) {
	require := require.New(t)

	f := &fakeRPC{responses: map[string]string{
		"system.multicall": `<methodResponse><params><param><value><array><data>
		</data></array></value></param></params></methodResponse>`,
	}}
	a, stop := adapterFixture(t, f)
	defer stop()
	defer a.Shutdown()

	require.NoError(a.Resume(context.Background(), "abc"))
	require.Equal([]string{"system.multicall"}, f.calls)
}

func TestFetchTransportFailureReturnsEmpty(t *testing.T) {
	require := require.New(t)

	f := &fakeRPC{responses: map[string]string{}}
	a, stop := adapterFixture(t, f)
	defer a.Shutdown()
	a.SetConnected(true)
	stop()

	r, err := a.FetchData(context.Background(), nil)
	require.NoError(err)
	require.Empty(r.Downloads)
	require.False(a.IsConnected())
}
