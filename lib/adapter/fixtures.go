package adapter

import (
	"context"
	"sync"

	"github.com/peerhub/peerhub/core"
)

// TestAdapter is an in-memory Adapter for testing registry, pipeline and hub
// behavior without a live backend.
type TestAdapter struct {
	*Base
	sync.Mutex

	clientType core.ClientType

	InitErr   error
	FetchErr  error
	Result    FetchResult
	Deleted   []string
	Paused    []string
	Resumed   []string
	Stopped   []string
	Magnets   []string
	Assigned  map[string]CategoryAssignment
	Created   []CategorySpec
	Renamed   []RenameSpec
	Removed   []CategorySpec
	DeleteRes *DeleteResult
}

// NewTestAdapter creates a connected TestAdapter of the given type.
func NewTestAdapter(t core.ClientType) *TestAdapter {
	a := &TestAdapter{
		Base:       NewBase(),
		clientType: t,
		Assigned:   make(map[string]CategoryAssignment),
		DeleteRes:  &DeleteResult{Success: true},
	}
	a.SetConnected(true)
	return a
}

// Type returns the fixture's client type even before identity attachment.
func (a *TestAdapter) Type() core.ClientType { return a.clientType }

// AddItems seeds items returned from FetchData as both downloads and shared
// files.
func (a *TestAdapter) AddItems(items ...*core.RawItem) {
	a.Lock()
	defer a.Unlock()
	a.Result.Downloads = append(a.Result.Downloads, items...)
	a.Result.SharedFiles = a.Result.Downloads
}

func (a *TestAdapter) Init(ctx context.Context) error {
	return a.GuardInit(func() error { return a.InitErr })
}

func (a *TestAdapter) FetchData(
	ctx context.Context, hint []*core.Category) (*FetchResult, error) {

	a.Lock()
	defer a.Unlock()
	if a.FetchErr != nil {
		a.SetConnected(false)
		return nil, a.FetchErr
	}
	for _, item := range a.Result.Downloads {
		item.InstanceID = a.InstanceID()
		item.Client = a.clientType
	}
	r := a.Result
	return &r, nil
}

func (a *TestAdapter) Pause(ctx context.Context, hash string) error {
	a.Lock()
	defer a.Unlock()
	a.Paused = append(a.Paused, hash)
	return nil
}

func (a *TestAdapter) Resume(ctx context.Context, hash string) error {
	a.Lock()
	defer a.Unlock()
	a.Resumed = append(a.Resumed, hash)
	return nil
}

func (a *TestAdapter) Stop(ctx context.Context, hash string) error {
	a.Lock()
	defer a.Unlock()
	a.Stopped = append(a.Stopped, hash)
	return nil
}

func (a *TestAdapter) AddMagnet(
	ctx context.Context, uri string, opts AddOptions) (string, error) {

	a.Lock()
	defer a.Unlock()
	a.Magnets = append(a.Magnets, uri)
	h, _ := MagnetHash(uri)
	return h, nil
}

func (a *TestAdapter) AddTorrentRaw(
	ctx context.Context, raw []byte, opts AddOptions) (string, error) {
	return "", ErrNotSupported
}

func (a *TestAdapter) SetCategory(
	ctx context.Context, hash string, c CategoryAssignment) error {

	a.Lock()
	defer a.Unlock()
	a.Assigned[hash] = c
	return nil
}

func (a *TestAdapter) Delete(
	ctx context.Context, hash string, opts DeleteOptions) (*DeleteResult, error) {

	a.Lock()
	defer a.Unlock()
	a.Deleted = append(a.Deleted, hash)
	filtered := a.Result.Downloads[:0]
	for _, item := range a.Result.Downloads {
		if item.Hash != hash {
			filtered = append(filtered, item)
		}
	}
	a.Result.Downloads = filtered
	a.Result.SharedFiles = filtered
	r := *a.DeleteRes
	return &r, nil
}

func (a *TestAdapter) UpdateDirectory(ctx context.Context, hash, path string) error {
	return nil
}

func (a *TestAdapter) GetFiles(ctx context.Context, hash string) ([]File, error) {
	return nil, nil
}

func (a *TestAdapter) EnsureCategoryExists(
	ctx context.Context, spec CategorySpec) (*EnsureResult, error) {

	a.Lock()
	defer a.Unlock()
	a.Created = append(a.Created, spec)
	return &EnsureResult{}, nil
}

func (a *TestAdapter) EnsureCategoriesBatch(ctx context.Context, specs []CategorySpec) error {
	a.Lock()
	defer a.Unlock()
	a.Created = append(a.Created, specs...)
	return nil
}

func (a *TestAdapter) EditCategory(
	ctx context.Context, spec CategorySpec) (*EditResult, error) {
	return &EditResult{Verified: true}, nil
}

func (a *TestAdapter) RenameCategory(ctx context.Context, spec RenameSpec) error {
	a.Lock()
	defer a.Unlock()
	a.Renamed = append(a.Renamed, spec)
	return nil
}

func (a *TestAdapter) DeleteCategory(ctx context.Context, spec CategorySpec) error {
	a.Lock()
	defer a.Unlock()
	a.Removed = append(a.Removed, spec)
	return nil
}

func (a *TestAdapter) OnConnectSync(ctx context.Context, sync CategorySync) error {
	return nil
}

func (a *TestAdapter) GetStats(ctx context.Context) (interface{}, error) {
	return map[string]int64{"uploadSpeed": 0, "downloadSpeed": 0}, nil
}

func (a *TestAdapter) ExtractMetrics(raw interface{}) Metrics {
	return Metrics{}
}

func (a *TestAdapter) GetNetworkStatus(raw interface{}) NetworkStatus {
	return NetworkStatus{Status: "green", Text: "connected"}
}

func (a *TestAdapter) ExtractHistoryMetadata(item *core.UnifiedItem) HistoryMetadata {
	return HistoryMetadata{
		CompoundKey: item.Key(),
		Name:        item.Name,
		Size:        item.Size,
		Category:    item.Category,
	}
}

// Ed2kTestAdapter extends TestAdapter with the ed2k contract.
type Ed2kTestAdapter struct {
	*TestAdapter

	SearchErr     error
	SearchResults []SearchResult
	Queries       []string
	AddedHashes   []string
	Ed2kLinks     []string
	Refreshes     int
	ServerActions []string
	CategoryIDs   map[string]int
	Log           string
}

// NewEd2kTestAdapter creates a connected amule-typed Ed2kTestAdapter.
func NewEd2kTestAdapter() *Ed2kTestAdapter {
	return &Ed2kTestAdapter{
		TestAdapter: NewTestAdapter(core.TypeAmule),
		CategoryIDs: make(map[string]int),
	}
}

func (a *Ed2kTestAdapter) Search(ctx context.Context, query string) ([]SearchResult, error) {
	a.Lock()
	defer a.Unlock()
	a.Queries = append(a.Queries, query)
	if a.SearchErr != nil {
		return nil, a.SearchErr
	}
	return a.SearchResults, nil
}

func (a *Ed2kTestAdapter) AddSearchResult(ctx context.Context, hash string, categoryID int) error {
	a.Lock()
	defer a.Unlock()
	a.AddedHashes = append(a.AddedHashes, hash)
	return nil
}

func (a *Ed2kTestAdapter) AddEd2kLink(
	ctx context.Context, link string, categoryID int) (string, error) {

	hash, err := core.Ed2kLinkHash(link)
	if err != nil {
		return "", err
	}
	a.Lock()
	defer a.Unlock()
	a.Ed2kLinks = append(a.Ed2kLinks, link)
	return hash, nil
}

func (a *Ed2kTestAdapter) EnsureAmuleCategoryID(
	ctx context.Context, name string) (int, error) {

	a.Lock()
	defer a.Unlock()
	if id, ok := a.CategoryIDs[name]; ok {
		return id, nil
	}
	id := len(a.CategoryIDs) + 1
	a.CategoryIDs[name] = id
	return id, nil
}

func (a *Ed2kTestAdapter) RefreshSharedFiles(ctx context.Context) error {
	a.Lock()
	defer a.Unlock()
	a.Refreshes++
	return nil
}

func (a *Ed2kTestAdapter) GetServersList(ctx context.Context) (interface{}, error) {
	return []map[string]string{{"name": "test server", "address": "127.0.0.1:4661"}}, nil
}

func (a *Ed2kTestAdapter) ServerDoAction(
	ctx context.Context, action string, args map[string]string) error {

	a.Lock()
	defer a.Unlock()
	a.ServerActions = append(a.ServerActions, action)
	return nil
}

func (a *Ed2kTestAdapter) GetStatsTree(ctx context.Context) (interface{}, error) {
	return map[string]interface{}{"uptime": "1h"}, nil
}

func (a *Ed2kTestAdapter) GetLog(ctx context.Context, appLog bool) (string, error) {
	return a.Log, nil
}
