package category

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"

	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/lib/adapter"
	"github.com/peerhub/peerhub/lib/clientregistry"
)

func TestLoadCreatesDefault(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	m, err := New(Config{}, dir, clientregistry.New(), clock.New())
	require.NoError(err)

	d, err := m.Get(core.DefaultCategoryName)
	require.NoError(err)
	require.True(d.IsDefault())

	// Default must be present in the persisted document.
	data, err := os.ReadFile(filepath.Join(dir, "categories.json"))
	require.NoError(err)
	var doc struct {
		Version    int              `json:"version"`
		Categories []*core.Category `json:"categories"`
	}
	require.NoError(json.Unmarshal(data, &doc))
	require.Equal(1, doc.Version)
	require.Equal(core.DefaultCategoryName, doc.Categories[0].Name)
}

func TestCreatePersistsAndReloads(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	m, err := New(Config{}, dir, clientregistry.New(), clock.New())
	require.NoError(err)

	_, err = m.Create(context.Background(), Spec{
		Name: "Movies", Color: "#ff8800", Path: "/srv/movies", Comment: "films",
	})
	require.NoError(err)

	m2, err := New(Config{}, dir, clientregistry.New(), clock.New())
	require.NoError(err)
	c, err := m2.Get("Movies")
	require.NoError(err)
	require.Equal("#ff8800", c.Color)
	require.Equal("/srv/movies", c.Path)
}

func TestCreateDuplicateFails(t *testing.T) {
	require := require.New(t)

	m, _, cleanup := managerFixture(t)
	defer cleanup.Run()

	ctx := context.Background()
	_, err := m.Create(ctx, Spec{Name: "X"})
	require.NoError(err)
	_, err = m.Create(ctx, Spec{Name: "X"})
	require.ErrorIs(err, ErrAlreadyExists)
}

func TestRenameDefaultRejected(t *testing.T) {
	require := require.New(t)

	m, _, cleanup := managerFixture(t)
	defer cleanup.Run()

	err := m.Rename(context.Background(), core.DefaultCategoryName, "Other")
	require.Equal(ErrDefaultRename, err)
	require.EqualError(err, "Cannot rename Default category")
}

func TestDeleteDefaultRejected(t *testing.T) {
	require := require.New(t)

	m, _, cleanup := managerFixture(t)
	defer cleanup.Run()

	require.Equal(ErrDefaultDelete, m.Delete(context.Background(), core.DefaultCategoryName))
}

func TestUpdateDefaultPriorityRejected(t *testing.T) {
	require := require.New(t)

	m, _, cleanup := managerFixture(t)
	defer cleanup.Run()

	p := core.PriorityHigh
	_, err := m.Update(context.Background(), core.DefaultCategoryName, Spec{Priority: &p})
	require.Error(err)
}

func TestDeletePropagatesToCapableClients(t *testing.T) {
	require := require.New(t)

	m, r, cleanup := managerFixture(t)
	defer cleanup.Run()

	amule := adapter.NewTestAdapter(core.TypeAmule)
	qbit := adapter.NewTestAdapter(core.TypeQBittorrent)
	require.NoError(r.Register("amule-h-1", core.TypeAmule, amule, clientregistry.Options{}))
	require.NoError(r.Register("qbittorrent-h-2", core.TypeQBittorrent, qbit, clientregistry.Options{}))

	ctx := context.Background()
	_, err := m.Create(ctx, Spec{Name: "X"})
	require.NoError(err)
	require.NoError(m.Delete(ctx, "X"))

	require.Len(amule.Removed, 1)
	require.Equal("X", amule.Removed[0].Name)
	require.Len(qbit.Removed, 1)

	for _, c := range m.GetAllForFrontend() {
		require.NotEqual("X", c.Name)
	}
}

func TestRenamePropagatesAndRekeys(t *testing.T) {
	require := require.New(t)

	m, r, cleanup := managerFixture(t)
	defer cleanup.Run()

	amule := adapter.NewTestAdapter(core.TypeAmule)
	require.NoError(r.Register("amule-h-1", core.TypeAmule, amule, clientregistry.Options{}))

	ctx := context.Background()
	_, err := m.Create(ctx, Spec{Name: "Old"})
	require.NoError(err)
	m.LinkAmuleID("Old", "amule-h-1", 3)

	require.NoError(m.Rename(ctx, "Old", "New"))

	_, err = m.Get("Old")
	require.ErrorIs(err, ErrNotFound)
	c, err := m.Get("New")
	require.NoError(err)
	require.Equal(3, c.AmuleIDs["amule-h-1"])

	require.Len(amule.Renamed, 1)
	require.Equal("Old", amule.Renamed[0].OldName)
	require.Equal("New", amule.Renamed[0].NewName)
	require.Equal(3, amule.Renamed[0].ID)
}

func TestCategorySnapshotsIsolatedFromMutation(t *testing.T) {
	require := require.New(t)

	m, _, cleanup := managerFixture(t)
	defer cleanup.Run()

	ctx := context.Background()
	created, err := m.Create(ctx, Spec{
		Name:         "A",
		Comment:      "keep",
		PathMappings: map[string]string{"amule": "/data"},
	})
	require.NoError(err)

	got, err := m.Get("A")
	require.NoError(err)
	got.PathMappings["amule"] = "/scribbled"

	_, err = m.Update(ctx, "A", Spec{
		Comment:      "edited",
		PathMappings: map[string]string{"amule": "/data2"},
	})
	require.NoError(err)

	// The value Create returned reflects state at creation time.
	require.Equal("keep", created.Comment)
	require.Equal("/data", created.PathMappings["amule"])

	fresh, err := m.Get("A")
	require.NoError(err)
	require.Equal("edited", fresh.Comment)
	require.Equal("/data2", fresh.PathMappings["amule"])
}

// gateAdapter blocks category creation calls until released so a mutation can
// be interleaved while propagation is in flight.
type gateAdapter struct {
	*adapter.TestAdapter
	entered chan struct{}
	release chan struct{}
}

func (a *gateAdapter) EnsureCategoryExists(
	ctx context.Context, spec adapter.CategorySpec) (*adapter.EnsureResult, error) {

	close(a.entered)
	<-a.release
	return a.TestAdapter.EnsureCategoryExists(ctx, spec)
}

func TestCreatePropagatesStateAtCreationTime(t *testing.T) {
	require := require.New(t)

	m, r, cleanup := managerFixture(t)
	defer cleanup.Run()

	ga := &gateAdapter{
		TestAdapter: adapter.NewTestAdapter(core.TypeQBittorrent),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	require.NoError(r.Register(
		"qbittorrent-h-1", core.TypeQBittorrent, ga, clientregistry.Options{}))

	ctx := context.Background()
	done := make(chan error, 1)
	go func() {
		_, err := m.Create(ctx, Spec{Name: "X", Comment: "original"})
		done <- err
	}()
	<-ga.entered

	// Local state commits before propagation, so an edit can land while the
	// create call is still in flight on the client.
	_, err := m.Update(ctx, "X", Spec{Comment: "edited"})
	require.NoError(err)

	close(ga.release)
	require.NoError(<-done)

	require.Len(ga.Created, 1)
	require.Equal("original", ga.Created[0].Comment)
}

func TestUnlinkedForEd2kOnly(t *testing.T) {
	require := require.New(t)

	m, _, cleanup := managerFixture(t)
	defer cleanup.Run()

	ctx := context.Background()
	_, err := m.Create(ctx, Spec{Name: "A"})
	require.NoError(err)
	m.LinkAmuleID("A", "amule-h-1", 1)

	// Default has no link, A is linked on amule-h-1.
	unlinked := m.UnlinkedFor("amule-h-1", core.TypeAmule)
	require.Len(unlinked, 1)
	require.Equal(core.DefaultCategoryName, unlinked[0].Name)

	// Not meaningful for bittorrent clients.
	require.Nil(m.UnlinkedFor("qbittorrent-h-1", core.TypeQBittorrent))
}

func TestImportCategoryExistingWins(t *testing.T) {
	require := require.New(t)

	m, _, cleanup := managerFixture(t)
	defer cleanup.Run()

	_, err := m.Create(context.Background(), Spec{Name: "A", Color: "#112233"})
	require.NoError(err)

	require.NoError(m.ImportCategory(&core.Category{
		Name: "A", Color: "#445566", CreatedAt: time.Now(),
	}))
	c, err := m.Get("A")
	require.NoError(err)
	require.Equal("#112233", c.Color)

	require.NoError(m.ImportCategory(&core.Category{Name: "B", Color: "#445566"}))
	_, err = m.Get("B")
	require.NoError(err)
}

func TestValidateAllPaths(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	m, err := New(
		Config{ValidationDebounce: time.Millisecond},
		dir, clientregistry.New(), clock.New())
	require.NoError(err)

	good := t.TempDir()
	_, err = m.Create(context.Background(), Spec{Name: "Good", Path: good})
	require.NoError(err)
	_, err = m.Create(context.Background(), Spec{Name: "Bad", Path: "/definitely/not/here"})
	require.NoError(err)

	v, err := m.ValidateAllPaths()
	require.NoError(err)

	require.NotNil(v[good].Status)
	require.True(v[good].Status.Exists)
	require.True(v[good].Status.Writable)
	require.NotEmpty(v["/definitely/not/here"].Error)
}
