package torznab

import (
	"encoding/xml"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"

	"github.com/peerhub/peerhub/compat/hashstore"
	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/lib/adapter"
	"github.com/peerhub/peerhub/lib/clientregistry"
	"github.com/peerhub/peerhub/lib/userstore"
)

type indexerFixture struct {
	server   *Server
	ts       *httptest.Server
	registry *clientregistry.Registry
	users    *userstore.Store
	amule    *adapter.Ed2kTestAdapter
	apiKey   string
	cleanups []func()
}

func newIndexerFixture(t *testing.T) *indexerFixture {
	f := &indexerFixture{registry: clientregistry.New()}

	f.amule = adapter.NewEd2kTestAdapter()
	require.NoError(t,
		f.registry.Register("amule-1", core.TypeAmule, f.amule, clientregistry.Options{}))

	hashes, cleanup := hashstore.Fixture()
	f.cleanups = append(f.cleanups, cleanup)

	f.users, cleanup = userstore.Fixture()
	f.cleanups = append(f.cleanups, cleanup)

	u, err := f.users.CreateUser("root", "irrelevant-hash", true, nil)
	require.NoError(t, err)
	f.apiKey, err = f.users.RotateAPIKey(u.ID)
	require.NoError(t, err)

	f.server = New(Config{}, tally.NoopScope, f.registry, hashes, f.users)
	f.ts = httptest.NewServer(f.server.Handler())
	f.cleanups = append(f.cleanups, f.ts.Close)
	return f
}

func (f *indexerFixture) close() {
	for i := len(f.cleanups) - 1; i >= 0; i-- {
		f.cleanups[i]()
	}
}

func (f *indexerFixture) get(t *testing.T, query string) (int, string) {
	resp, err := http.Get(f.ts.URL + "/indexer/amule/api?" + query)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := ioutil.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestRejectsMissingAPIKey(t *testing.T) {
	require := require.New(t)

	f := newIndexerFixture(t)
	defer f.close()

	_, body := f.get(t, "t=caps")
	require.Contains(body, `<error`)
	require.Contains(body, `code="100"`)
}

func TestCapsDocument(t *testing.T) {
	require := require.New(t)

	f := newIndexerFixture(t)
	defer f.close()

	status, body := f.get(t, "t=caps&apikey="+f.apiKey)
	require.Equal(http.StatusOK, status)
	require.Contains(body, "<caps>")
	require.Contains(body, `<search available="yes"`)
}

func TestSearchProxiesToEd2k(t *testing.T) {
	require := require.New(t)

	f := newIndexerFixture(t)
	defer f.close()

	hash := strings.Repeat("ab", 16)
	f.amule.SearchResults = []adapter.SearchResult{{
		Hash:    hash,
		Name:    "Big Buck Bunny.avi",
		Size:    734003200,
		Sources: 17,
	}}

	status, body := f.get(t, "t=search&q=bunny&apikey="+f.apiKey)
	require.Equal(http.StatusOK, status)

	f.amule.Lock()
	require.Equal([]string{"bunny"}, f.amule.Queries)
	f.amule.Unlock()

	var doc struct {
		XMLName xml.Name `xml:"rss"`
		Channel struct {
			Items []struct {
				Title string `xml:"title"`
				GUID  string `xml:"guid"`
				Link  string `xml:"link"`
				Size  int64  `xml:"size"`
			} `xml:"item"`
		} `xml:"channel"`
	}
	require.NoError(xml.Unmarshal([]byte(body), &doc))
	require.Len(doc.Channel.Items, 1)
	item := doc.Channel.Items[0]
	require.Equal("Big Buck Bunny.avi", item.Title)
	require.Len(item.GUID, 40)
	require.Contains(item.Link, "ed2k://|file|")
	require.Contains(item.Link, hash)
	require.Equal(int64(734003200), item.Size)

	// The guid is the same synthetic infohash the torrent facade reports.
	synthetic, err := f.server.hashes.Synthetic(hash)
	require.NoError(err)
	require.Equal(synthetic, item.GUID)
}

func TestSearchWithoutEd2kInstance(t *testing.T) {
	require := require.New(t)

	f := newIndexerFixture(t)
	defer f.close()
	f.amule.SetConnected(false)

	_, body := f.get(t, "t=search&q=bunny&apikey="+f.apiKey)
	require.Contains(body, `code="300"`)
}

func TestUnknownFunctionRejected(t *testing.T) {
	require := require.New(t)

	f := newIndexerFixture(t)
	defer f.close()

	_, body := f.get(t, "t=music&apikey="+f.apiKey)
	require.Contains(body, `code="203"`)
}

func TestAuthDisabledBypassesAPIKey(t *testing.T) {
	require := require.New(t)

	f := newIndexerFixture(t)
	defer f.close()
	f.server.config.AuthDisabled = true

	status, body := f.get(t, "t=caps")
	require.Equal(http.StatusOK, status)
	require.Contains(body, "<caps>")
}