package qbittorrent

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/lib/adapter"
	"github.com/peerhub/peerhub/utils/httputil"
	"github.com/peerhub/peerhub/utils/log"
)

type nativeCategory struct {
	Name     string `json:"name"`
	SavePath string `json:"savePath"`
}

func (a *Adapter) nativeCategories() (map[string]nativeCategory, error) {
	cats := make(map[string]nativeCategory)
	if err := a.getJSON("/torrents/categories", &cats); err != nil {
		return nil, err
	}
	return cats, nil
}

// EnsureCategoryExists creates the category if absent. A conflict response
// means it already exists and counts as success.
func (a *Adapter) EnsureCategoryExists(
	ctx context.Context, spec adapter.CategorySpec) (*adapter.EnsureResult, error) {

	form := url.Values{"category": {spec.Name}}
	if spec.Path != "" {
		form.Set("savePath", spec.Path)
	}
	if err := a.post("/torrents/createCategory", form); err != nil {
		if httputil.IsStatus(err, http.StatusConflict) {
			return &adapter.EnsureResult{}, nil
		}
		return nil, err
	}
	return &adapter.EnsureResult{}, nil
}

func (a *Adapter) EnsureCategoriesBatch(
	ctx context.Context, specs []adapter.CategorySpec) error {

	for _, spec := range specs {
		if _, err := a.EnsureCategoryExists(ctx, spec); err != nil {
			return fmt.Errorf("ensure category %s: %s", spec.Name, err)
		}
	}
	return nil
}

// EditCategory updates the save path and reads the category list back to
// verify the client applied it.
func (a *Adapter) EditCategory(
	ctx context.Context, spec adapter.CategorySpec) (*adapter.EditResult, error) {

	form := url.Values{"category": {spec.Name}, "savePath": {spec.Path}}
	if err := a.post("/torrents/editCategory", form); err != nil {
		if httputil.IsStatus(err, http.StatusConflict) {
			// Unknown category on the client side; create it instead.
			if _, err := a.EnsureCategoryExists(ctx, spec); err != nil {
				return nil, err
			}
		} else {
			return nil, err
		}
	}
	cats, err := a.nativeCategories()
	if err != nil {
		return nil, err
	}
	got, ok := cats[spec.Name]
	if !ok {
		return &adapter.EditResult{Mismatches: []string{"name"}}, nil
	}
	if spec.Path != "" && got.SavePath != spec.Path {
		return &adapter.EditResult{Mismatches: []string{"path"}}, nil
	}
	return &adapter.EditResult{Verified: true}, nil
}

// RenameCategory has no native equivalent: create the new category, reassign
// its torrents, then drop the old one.
func (a *Adapter) RenameCategory(ctx context.Context, spec adapter.RenameSpec) error {
	if _, err := a.EnsureCategoryExists(ctx, adapter.CategorySpec{Name: spec.NewName}); err != nil {
		return fmt.Errorf("create renamed category: %s", err)
	}
	var infos []torrentInfo
	if err := a.getJSON("/torrents/info?category="+url.QueryEscape(spec.OldName), &infos); err != nil {
		return err
	}
	for _, t := range infos {
		if err := a.post("/torrents/setCategory", url.Values{
			"hashes":   {t.Hash},
			"category": {spec.NewName},
		}); err != nil {
			return fmt.Errorf("reassign %s: %s", t.Hash, err)
		}
	}
	return a.post("/torrents/removeCategories", url.Values{"categories": {spec.OldName}})
}

func (a *Adapter) DeleteCategory(ctx context.Context, spec adapter.CategorySpec) error {
	return a.post("/torrents/removeCategories", url.Values{"categories": {spec.Name}})
}

// OnConnectSync imports the client's native categories, records the default
// save path and pushes the merged set back out to the other clients.
func (a *Adapter) OnConnectSync(ctx context.Context, sync adapter.CategorySync) error {
	cats, err := a.nativeCategories()
	if err != nil {
		return fmt.Errorf("fetch native categories: %s", err)
	}
	for _, c := range cats {
		if err := sync.ImportCategory(&core.Category{
			Name: c.Name,
			Path: c.SavePath,
		}); err != nil {
			return fmt.Errorf("import category %s: %s", c.Name, err)
		}
	}
	if p, err := a.getText("/app/defaultSavePath"); err == nil {
		sync.SetClientDefaultPath(a.InstanceID(), p)
	}
	sync.PropagateToOtherClients(ctx, a.InstanceID())
	return nil
}

type transferInfo struct {
	DlSpeed    int64  `json:"dl_info_speed"`
	UpSpeed    int64  `json:"up_info_speed"`
	DlTotal    int64  `json:"dl_info_data"`
	UpTotal    int64  `json:"up_info_data"`
	Connection string `json:"connection_status"`
	DHTNodes   int64  `json:"dht_nodes"`
}

func (a *Adapter) GetStats(ctx context.Context) (interface{}, error) {
	var info transferInfo
	if err := a.getJSON("/transfer/info", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (a *Adapter) ExtractMetrics(raw interface{}) adapter.Metrics {
	info, ok := raw.(*transferInfo)
	if !ok {
		return adapter.Metrics{}
	}
	return adapter.Metrics{
		UploadSpeed:   info.UpSpeed,
		DownloadSpeed: info.DlSpeed,
		UploadTotal:   info.UpTotal,
		DownloadTotal: info.DlTotal,
	}
}

func (a *Adapter) GetNetworkStatus(raw interface{}) adapter.NetworkStatus {
	info, ok := raw.(*transferInfo)
	if !ok {
		return adapter.NetworkStatus{Status: "red", Text: "no data"}
	}
	switch info.Connection {
	case "connected":
		return adapter.NetworkStatus{Status: "green", Text: "connected", PortOpen: true}
	case "firewalled":
		return adapter.NetworkStatus{Status: "yellow", Text: "firewalled"}
	default:
		return adapter.NetworkStatus{Status: "red", Text: info.Connection}
	}
}

func (a *Adapter) ExtractHistoryMetadata(item *core.UnifiedItem) adapter.HistoryMetadata {
	return adapter.HistoryMetadata{
		CompoundKey: item.Key(),
		Name:        item.Name,
		Size:        item.Size,
		Category:    item.Category,
	}
}

// Trackers returns the cached tracker urls for a torrent.
func (a *Adapter) Trackers(hash string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.trackers[hash]
}

// trackerRefreshLoop keeps the per-torrent tracker cache warm while the
// connection is up. The cache merges into subsequent FetchData results.
func (a *Adapter) trackerRefreshLoop() {
	ticker := time.NewTicker(a.config.TrackerRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.Done():
			return
		case <-ticker.C:
		}
		if !a.IsConnected() {
			continue
		}
		a.mu.Lock()
		hashes := append([]string(nil), a.hashes...)
		a.mu.Unlock()

		fresh := make(map[string][]string, len(hashes))
		for _, h := range hashes {
			var rows []struct {
				URL    string `json:"url"`
				Status int    `json:"status"`
			}
			if err := a.getJSON("/torrents/trackers?hash="+url.QueryEscape(h), &rows); err != nil {
				log.With("instance", a.InstanceID()).Errorf("Tracker refresh: %s", err)
				break
			}
			var urls []string
			for _, r := range rows {
				// Rows without a scheme are the DHT/PeX pseudo entries.
				if len(r.URL) > 0 && r.URL[0] != '*' {
					urls = append(urls, r.URL)
				}
			}
			fresh[h] = urls
		}
		a.mu.Lock()
		a.trackers = fresh
		a.mu.Unlock()
	}
}
