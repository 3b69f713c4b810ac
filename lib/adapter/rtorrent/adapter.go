// Package rtorrent implements the adapter for rtorrent's XML-RPC interface.
// Labels stand in for categories, pause maps to stop, and moves require the
// item closed first. Tracker and peer detail refresh runs in the background
// as batched multicalls.
package rtorrent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/lib/adapter"
	"github.com/peerhub/peerhub/utils/httputil"
	"github.com/peerhub/peerhub/utils/log"
)

// Config defines rtorrent adapter configuration.
type Config struct {
	Host    string        `yaml:"host"`
	Port    int           `yaml:"port"`
	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout"`

	TrackerRefreshInterval time.Duration `yaml:"tracker_refresh_interval"`
}

func (c Config) applyDefaults() Config {
	if c.Port == 0 {
		c.Port = core.MustMeta(core.TypeRTorrent).Defaults.Port
	}
	if c.Path == "" {
		c.Path = "/RPC2"
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.TrackerRefreshInterval == 0 {
		c.TrackerRefreshInterval = time.Minute
	}
	return c
}

// Adapter talks to one rtorrent instance.
type Adapter struct {
	*adapter.Base
	config Config

	mu       sync.Mutex
	trackers map[string][]string
	peers    map[string][]core.Peer

	refreshOnce sync.Once
}

// New creates a new rtorrent Adapter.
func New(config Config) *Adapter {
	return &Adapter{
		Base:     adapter.NewBase(),
		config:   config.applyDefaults(),
		trackers: make(map[string][]string),
		peers:    make(map[string][]core.Peer),
	}
}

func (a *Adapter) endpoint() string {
	return fmt.Sprintf("http://%s:%d%s", a.config.Host, a.config.Port, a.config.Path)
}

// call performs one XML-RPC round trip. Transport failures mark the instance
// disconnected and schedule a reconnect.
func (a *Adapter) call(method string, args ...interface{}) (interface{}, error) {
	body, err := marshalCall(method, args...)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %s", method, err)
	}
	resp, err := httputil.Post(
		a.endpoint(),
		httputil.SendTimeout(a.config.Timeout),
		httputil.SendHeaders(map[string]string{"Content-Type": "text/xml"}),
		httputil.SendBody(bytes.NewReader(body)))
	if err != nil {
		if httputil.IsNetworkError(err) {
			a.SetConnected(false)
			a.ScheduleReconnect(a.Init)
		}
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %s", err)
	}
	return unmarshalResponse(data)
}

// multicall batches calls into a single round trip via system.multicall.
func (a *Adapter) multicall(calls []map[string]interface{}) ([]interface{}, error) {
	arg := make([]interface{}, 0, len(calls))
	for _, c := range calls {
		arg = append(arg, c)
	}
	res, err := a.call("system.multicall", arg)
	if err != nil {
		return nil, err
	}
	rows, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected multicall response %T", res)
	}
	return rows, nil
}

// Init opens the connection with a version check.
func (a *Adapter) Init(ctx context.Context) error {
	return a.GuardInit(func() error {
		v, err := a.call("system.client_version")
		if err != nil {
			return fmt.Errorf("version check: %s", err)
		}
		log.With("instance", a.InstanceID()).Infof("Connected to rtorrent %v", v)
		a.refreshOnce.Do(func() { go a.trackerRefreshLoop() })
		return nil
	})
}

// Fields pulled per download in one d.multicall2 round trip. Order matters:
// rows index positionally.
var _fetchFields = []interface{}{
	"d.hash=",
	"d.name=",
	"d.size_bytes=",
	"d.completed_bytes=",
	"d.down.rate=",
	"d.up.rate=",
	"d.is_active=",
	"d.is_open=",
	"d.complete=",
	"d.hashing=",
	"d.message=",
	"d.custom1=",
	"d.directory=",
	"d.up.total=",
	"d.ratio=",
	"d.peers_accounted=",
	"d.peers_complete=",
	"d.load_date=",
}

// FetchData pulls every download in a single multicall. Transport failures
// return empty data and trigger a reconnect rather than an error.
func (a *Adapter) FetchData(
	ctx context.Context, categoriesHint []*core.Category) (*adapter.FetchResult, error) {

	args := append([]interface{}{"", "main"}, _fetchFields...)
	res, err := a.call("d.multicall2", args...)
	if err != nil {
		log.With("instance", a.InstanceID()).Errorf("Fetch failed: %s", err)
		return &adapter.FetchResult{}, nil
	}
	rows, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected fetch response %T", res)
	}

	items := make([]*core.RawItem, 0, len(rows))
	for _, r := range rows {
		fields, ok := r.([]interface{})
		if !ok || len(fields) < len(_fetchFields) {
			continue
		}
		items = append(items, a.normalize(fields))
	}
	return &adapter.FetchResult{Downloads: items, SharedFiles: items}, nil
}

func (a *Adapter) normalize(f []interface{}) *core.RawItem {
	hash := strings.ToLower(asString(f[0]))
	size := asInt(f[2])
	completed := asInt(f[3])
	downRate := asInt(f[4])

	native := nativeState(f)
	status := core.MapStatus(core.TypeRTorrent, native)

	var progress float64
	if size > 0 {
		progress = float64(completed) / float64(size)
	}
	var eta int64
	if downRate > 0 && completed < size {
		eta = (size - completed) / downRate
	}

	item := &core.RawItem{
		Hash:           hash,
		InstanceID:     a.InstanceID(),
		Client:         core.TypeRTorrent,
		Name:           asString(f[1]),
		Size:           size,
		SizeDownloaded: completed,
		Progress:       progress,
		DownloadSpeed:  downRate,
		UploadSpeed:    asInt(f[5]),
		Status:         status,
		Category:       asString(f[11]),
		Downloading:    status == core.StatusActive,
		Seeding:        native == "seeding",
		Sources: core.SourceCounts{
			Total:     int(asInt(f[15]) + asInt(f[16])),
			Connected: int(asInt(f[15])),
			Seeders:   int(asInt(f[16])),
		},
		UploadTotal: asInt(f[13]),
		Ratio:       float64(asInt(f[14])) / 1000,
		ETA:         eta,
		AddedAt:     time.Unix(asInt(f[17]), 0),
		Torrent: &core.TorrentExtras{
			SavePath: asString(f[12]),
			Label:    asString(f[11]),
			Trackers: a.Trackers(hash),
		},
	}
	a.mu.Lock()
	item.PeersDetailed = a.peers[hash]
	a.mu.Unlock()
	item.Shared = item.Seeding
	item.Normalize()
	return item
}

// nativeState derives rtorrent's implicit state from the flag fields.
func nativeState(f []interface{}) string {
	switch {
	case asInt(f[9]) != 0:
		return "hashing"
	case asString(f[10]) != "":
		return "error"
	case asInt(f[7]) == 0:
		return "stopped"
	case asInt(f[6]) == 0:
		return "paused"
	case asInt(f[8]) != 0:
		return "seeding"
	default:
		return "leeching"
	}
}

// Pause stops the download: rtorrent has no lighter pause.
func (a *Adapter) Pause(ctx context.Context, hash string) error {
	_, err := a.call("d.stop", hash)
	return err
}

func (a *Adapter) Resume(ctx context.Context, hash string) error {
	_, err := a.multicall([]map[string]interface{}{
		{"methodName": "d.open", "params": []interface{}{hash}},
		{"methodName": "d.start", "params": []interface{}{hash}},
	})
	return err
}

func (a *Adapter) Stop(ctx context.Context, hash string) error {
	_, err := a.multicall([]map[string]interface{}{
		{"methodName": "d.stop", "params": []interface{}{hash}},
		{"methodName": "d.close", "params": []interface{}{hash}},
	})
	return err
}

func (a *Adapter) AddMagnet(
	ctx context.Context, uri string, opts adapter.AddOptions) (string, error) {

	args := []interface{}{"", uri}
	if opts.CategoryName != "" {
		args = append(args, "d.custom1.set="+opts.CategoryName)
	}
	if opts.SavePath != "" {
		args = append(args, "d.directory.set="+opts.SavePath)
	}
	method := "load.start"
	if opts.Paused {
		method = "load.normal"
	}
	if _, err := a.call(method, args...); err != nil {
		return "", err
	}
	return adapter.MagnetHash(uri)
}

func (a *Adapter) AddTorrentRaw(
	ctx context.Context, raw []byte, opts adapter.AddOptions) (string, error) {

	hash, err := adapter.TorrentInfoHash(raw)
	if err != nil {
		return "", fmt.Errorf("parse torrent: %s", err)
	}
	args := []interface{}{"", raw}
	if opts.CategoryName != "" {
		args = append(args, "d.custom1.set="+opts.CategoryName)
	}
	if opts.SavePath != "" {
		args = append(args, "d.directory.set="+opts.SavePath)
	}
	method := "load.raw_start"
	if opts.Paused {
		method = "load.raw"
	}
	if _, err := a.call(method, args...); err != nil {
		return "", err
	}
	return hash, nil
}

// SetCategory sets the label and maps the unified priority to rtorrent's.
func (a *Adapter) SetCategory(
	ctx context.Context, hash string, c adapter.CategoryAssignment) error {

	calls := []map[string]interface{}{
		{"methodName": "d.custom1.set", "params": []interface{}{hash, c.CategoryName}},
	}
	if pm := core.MustMeta(core.TypeRTorrent).PriorityMap; pm != nil {
		if native, ok := pm[c.Priority]; ok {
			calls = append(calls, map[string]interface{}{
				"methodName": "d.priority.set",
				"params":     []interface{}{hash, int64(native)},
			})
		}
	}
	_, err := a.multicall(calls)
	return err
}

// Delete erases the download from the client. rtorrent never touches the
// data, so when file deletion was requested the caller gets the base path
// back to remove itself.
func (a *Adapter) Delete(
	ctx context.Context, hash string, opts adapter.DeleteOptions) (*adapter.DeleteResult, error) {

	var paths []string
	if opts.DeleteFiles {
		base, err := a.call("d.base_path", hash)
		if err != nil {
			return nil, fmt.Errorf("resolve base path: %s", err)
		}
		if p := asString(base); p != "" {
			paths = append(paths, p)
		}
	}
	if _, err := a.call("d.erase", hash); err != nil {
		return nil, err
	}
	return &adapter.DeleteResult{Success: true, PathsToDelete: paths}, nil
}

// UpdateDirectory points the download at a new directory. rTorrent only
// honors d.directory.set on a closed item, and the move flow pauses with a
// plain d.stop, so close explicitly before pointing.
func (a *Adapter) UpdateDirectory(ctx context.Context, hash, path string) error {
	if _, err := a.call("d.close", hash); err != nil {
		return err
	}
	_, err := a.call("d.directory.set", hash, path)
	return err
}

func (a *Adapter) GetFiles(ctx context.Context, hash string) ([]adapter.File, error) {
	res, err := a.call("f.multicall", hash, "",
		"f.path=", "f.size_bytes=", "f.completed_chunks=", "f.size_chunks=", "f.priority=")
	if err != nil {
		return nil, err
	}
	rows, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected files response %T", res)
	}
	out := make([]adapter.File, 0, len(rows))
	for _, r := range rows {
		f, ok := r.([]interface{})
		if !ok || len(f) < 5 {
			continue
		}
		var progress float64
		if chunks := asInt(f[3]); chunks > 0 {
			progress = float64(asInt(f[2])) / float64(chunks)
		}
		out = append(out, adapter.File{
			Path:     asString(f[0]),
			Size:     asInt(f[1]),
			Progress: progress,
			Priority: int(asInt(f[4])),
		})
	}
	return out, nil
}
