package rtorrent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/lib/adapter"
	"github.com/peerhub/peerhub/utils/log"
	"github.com/peerhub/peerhub/utils/stringset"
)

// rtorrent has no first-class categories; labels (custom1) are created by
// assignment. Ensure calls therefore succeed without touching the client.

func (a *Adapter) EnsureCategoryExists(
	ctx context.Context, spec adapter.CategorySpec) (*adapter.EnsureResult, error) {

	return &adapter.EnsureResult{}, nil
}

func (a *Adapter) EnsureCategoriesBatch(
	ctx context.Context, specs []adapter.CategorySpec) error {

	return nil
}

func (a *Adapter) EditCategory(
	ctx context.Context, spec adapter.CategorySpec) (*adapter.EditResult, error) {

	return &adapter.EditResult{Verified: true}, nil
}

// RenameCategory relabels every download carrying the old label.
func (a *Adapter) RenameCategory(ctx context.Context, spec adapter.RenameSpec) error {
	return a.relabel(spec.OldName, spec.NewName)
}

// DeleteCategory clears the label from every download carrying it.
func (a *Adapter) DeleteCategory(ctx context.Context, spec adapter.CategorySpec) error {
	return a.relabel(spec.Name, "")
}

func (a *Adapter) relabel(from, to string) error {
	res, err := a.call("d.multicall2", "", "main", "d.hash=", "d.custom1=")
	if err != nil {
		return err
	}
	rows, _ := res.([]interface{})
	var calls []map[string]interface{}
	for _, r := range rows {
		f, ok := r.([]interface{})
		if !ok || len(f) < 2 || asString(f[1]) != from {
			continue
		}
		calls = append(calls, map[string]interface{}{
			"methodName": "d.custom1.set",
			"params":     []interface{}{asString(f[0]), to},
		})
	}
	if len(calls) == 0 {
		return nil
	}
	if _, err := a.multicall(calls); err != nil {
		return fmt.Errorf("relabel %q: %s", from, err)
	}
	return nil
}

// OnConnectSync imports the labels already present on the client and records
// its default download directory.
func (a *Adapter) OnConnectSync(ctx context.Context, sync adapter.CategorySync) error {
	if dir, err := a.call("directory.default"); err == nil {
		if p := asString(dir); p != "" {
			sync.SetClientDefaultPath(a.InstanceID(), p)
		}
	}
	res, err := a.call("d.multicall2", "", "main", "d.custom1=")
	if err != nil {
		return fmt.Errorf("fetch labels: %s", err)
	}
	rows, _ := res.([]interface{})
	labels := make(stringset.Set)
	for _, r := range rows {
		f, ok := r.([]interface{})
		if !ok || len(f) < 1 {
			continue
		}
		if label := asString(f[0]); label != "" {
			labels.Add(label)
		}
	}
	for label := range labels {
		if err := sync.ImportCategory(&core.Category{Name: label}); err != nil {
			return fmt.Errorf("import label %s: %s", label, err)
		}
	}
	sync.PropagateToOtherClients(ctx, a.InstanceID())
	return nil
}

type statsSnapshot struct {
	DownRate   int64
	UpRate     int64
	DownTotal  int64
	UpTotal    int64
	ListenPort int64
	PID        int64
}

// GetStats samples the global throttles in one batched round trip.
func (a *Adapter) GetStats(ctx context.Context) (interface{}, error) {
	rows, err := a.multicall([]map[string]interface{}{
		{"methodName": "throttle.global_down.rate", "params": []interface{}{}},
		{"methodName": "throttle.global_up.rate", "params": []interface{}{}},
		{"methodName": "throttle.global_down.total", "params": []interface{}{}},
		{"methodName": "throttle.global_up.total", "params": []interface{}{}},
		{"methodName": "network.listen.port", "params": []interface{}{}},
		{"methodName": "system.pid", "params": []interface{}{}},
	})
	if err != nil {
		return nil, err
	}
	if len(rows) < 6 {
		return nil, fmt.Errorf("short stats response: %d rows", len(rows))
	}
	// system.multicall wraps each result in a one-element array.
	get := func(i int) int64 {
		if inner, ok := rows[i].([]interface{}); ok && len(inner) > 0 {
			return asInt(inner[0])
		}
		return asInt(rows[i])
	}
	return &statsSnapshot{
		DownRate:   get(0),
		UpRate:     get(1),
		DownTotal:  get(2),
		UpTotal:    get(3),
		ListenPort: get(4),
		PID:        get(5),
	}, nil
}

func (a *Adapter) ExtractMetrics(raw interface{}) adapter.Metrics {
	s, ok := raw.(*statsSnapshot)
	if !ok {
		return adapter.Metrics{}
	}
	return adapter.Metrics{
		UploadSpeed:   s.UpRate,
		DownloadSpeed: s.DownRate,
		UploadTotal:   s.UpTotal,
		DownloadTotal: s.DownTotal,
		PID:           int(s.PID),
	}
}

func (a *Adapter) GetNetworkStatus(raw interface{}) adapter.NetworkStatus {
	s, ok := raw.(*statsSnapshot)
	if !ok {
		return adapter.NetworkStatus{Status: "red", Text: "no data"}
	}
	if s.ListenPort > 0 {
		return adapter.NetworkStatus{
			Status:     "green",
			Text:       "listening",
			PortOpen:   true,
			ListenPort: int(s.ListenPort),
		}
	}
	return adapter.NetworkStatus{Status: "yellow", Text: "no listen port"}
}

func (a *Adapter) ExtractHistoryMetadata(item *core.UnifiedItem) adapter.HistoryMetadata {
	return adapter.HistoryMetadata{
		CompoundKey: item.Key(),
		Name:        item.Name,
		Size:        item.Size,
		Category:    item.Category,
	}
}

// Trackers returns the cached tracker urls for a download.
func (a *Adapter) Trackers(hash string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.trackers[hash]
}

// trackerRefreshLoop refreshes tracker and peer details for every download in
// at most two round trips per pass, independent of item count: one
// d.multicall2 for the hash list, then one system.multicall batching the
// per-download t.multicall and p.multicall calls.
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
		if err := a.refreshTrackers(); err != nil {
			log.With("instance", a.InstanceID()).Errorf("Tracker refresh: %s", err)
		}
	}
}

func (a *Adapter) refreshTrackers() error {
	res, err := a.call("d.multicall2", "", "main", "d.hash=")
	if err != nil {
		return err
	}
	rows, _ := res.([]interface{})
	hashes := make([]string, 0, len(rows))
	for _, r := range rows {
		if f, ok := r.([]interface{}); ok && len(f) > 0 {
			hashes = append(hashes, asString(f[0]))
		}
	}
	if len(hashes) == 0 {
		a.mu.Lock()
		a.trackers = make(map[string][]string)
		a.peers = make(map[string][]core.Peer)
		a.mu.Unlock()
		return nil
	}

	calls := make([]map[string]interface{}, 0, 2*len(hashes))
	for _, h := range hashes {
		calls = append(calls, map[string]interface{}{
			"methodName": "t.multicall",
			"params":     []interface{}{h, "", "t.url="},
		})
		calls = append(calls, map[string]interface{}{
			"methodName": "p.multicall",
			"params": []interface{}{h, "",
				"p.address=", "p.port=", "p.client_version=", "p.down_rate=", "p.up_rate="},
		})
	}
	results, err := a.multicall(calls)
	if err != nil {
		return err
	}

	trackers := make(map[string][]string, len(hashes))
	peers := make(map[string][]core.Peer, len(hashes))
	for i, h := range hashes {
		lh := strings.ToLower(h)
		if ti := 2 * i; ti < len(results) {
			trackers[lh] = parseTrackerRows(results[ti])
		}
		if pi := 2*i + 1; pi < len(results) {
			peers[lh] = parsePeerRows(results[pi])
		}
	}
	a.mu.Lock()
	a.trackers = trackers
	a.peers = peers
	a.mu.Unlock()
	return nil
}

func parseTrackerRows(v interface{}) []string {
	rows := unwrapMulticall(v)
	var urls []string
	for _, r := range rows {
		if f, ok := r.([]interface{}); ok && len(f) > 0 {
			if u := asString(f[0]); u != "" {
				urls = append(urls, u)
			}
		}
	}
	return urls
}

func parsePeerRows(v interface{}) []core.Peer {
	rows := unwrapMulticall(v)
	var peers []core.Peer
	for _, r := range rows {
		f, ok := r.([]interface{})
		if !ok || len(f) < 5 {
			continue
		}
		peers = append(peers, core.Peer{
			Address:      asString(f[0]),
			Port:         int(asInt(f[1])),
			Software:     asString(f[2]),
			DownloadRate: asInt(f[3]),
			UploadRate:   asInt(f[4]),
		})
	}
	return peers
}

// unwrapMulticall strips the one-element array system.multicall wraps each
// result in.
func unwrapMulticall(v interface{}) []interface{} {
	outer, ok := v.([]interface{})
	if !ok {
		return nil
	}
	if len(outer) == 1 {
		if inner, ok := outer[0].([]interface{}); ok {
			return inner
		}
	}
	return outer
}
