// Package qbittorrent implements the adapter for the qBittorrent WebUI API,
// a cookie-authenticated HTTP JSON dialect. Categories map to qBittorrent
// categories and moves delegate to the client's own setLocation.
package qbittorrent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/lib/adapter"
	"github.com/peerhub/peerhub/utils/httputil"
	"github.com/peerhub/peerhub/utils/log"
)

// Config defines qBittorrent adapter configuration.
type Config struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`

	TrackerRefreshInterval time.Duration `yaml:"tracker_refresh_interval"`
}

func (c Config) applyDefaults() Config {
	d := core.MustMeta(core.TypeQBittorrent).Defaults
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.Username == "" {
		c.Username = d.Username
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.TrackerRefreshInterval == 0 {
		c.TrackerRefreshInterval = time.Minute
	}
	return c
}

// Adapter talks to one qBittorrent instance.
type Adapter struct {
	*adapter.Base
	config Config
	client *http.Client

	mu       sync.Mutex
	trackers map[string][]string
	hashes   []string

	refreshOnce sync.Once
}

// New creates a new qBittorrent Adapter.
func New(config Config) *Adapter {
	jar, _ := cookiejar.New(nil)
	return &Adapter{
		Base:     adapter.NewBase(),
		config:   config.applyDefaults(),
		client:   &http.Client{Jar: jar},
		trackers: make(map[string][]string),
	}
}

func (a *Adapter) url(path string) string {
	return fmt.Sprintf("http://%s:%d/api/v2%s", a.config.Host, a.config.Port, path)
}

// Init logs in and runs a cheap version check. Idempotent against concurrent
// callers through the base guard.
func (a *Adapter) Init(ctx context.Context) error {
	return a.GuardInit(func() error {
		form := url.Values{
			"username": {a.config.Username},
			"password": {a.config.Password},
		}
		resp, err := httputil.Post(
			a.url("/auth/login"),
			httputil.SendClient(a.client),
			httputil.SendTimeout(a.config.Timeout),
			httputil.SendHeaders(map[string]string{
				"Content-Type": "application/x-www-form-urlencoded",
			}),
			httputil.SendBody(strings.NewReader(form.Encode())))
		if err != nil {
			return fmt.Errorf("login: %s", err)
		}
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if strings.TrimSpace(string(b)) == "Fails." {
			return fmt.Errorf("login: invalid credentials")
		}

		v, err := a.getText("/app/version")
		if err != nil {
			return fmt.Errorf("version check: %s", err)
		}
		log.With("instance", a.InstanceID()).Infof("Connected to qBittorrent %s", v)

		a.refreshOnce.Do(func() { go a.trackerRefreshLoop() })
		return nil
	})
}

// fail marks the instance disconnected and schedules a reconnect on transport
// failures. Protocol failures pass through.
func (a *Adapter) fail(err error) error {
	if httputil.IsNetworkError(err) || httputil.IsForbidden(err) {
		a.SetConnected(false)
		a.ScheduleReconnect(a.Init)
	}
	return err
}

func (a *Adapter) post(path string, form url.Values) error {
	resp, err := httputil.Post(
		a.url(path),
		httputil.SendClient(a.client),
		httputil.SendTimeout(a.config.Timeout),
		httputil.SendHeaders(map[string]string{
			"Content-Type": "application/x-www-form-urlencoded",
		}),
		httputil.SendBody(strings.NewReader(form.Encode())))
	if err != nil {
		return a.fail(err)
	}
	resp.Body.Close()
	return nil
}

func (a *Adapter) getJSON(path string, v interface{}) error {
	resp, err := httputil.Get(
		a.url(path),
		httputil.SendClient(a.client),
		httputil.SendTimeout(a.config.Timeout))
	if err != nil {
		return a.fail(err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %s", path, err)
	}
	return nil
}

func (a *Adapter) getText(path string) (string, error) {
	resp, err := httputil.Get(
		a.url(path),
		httputil.SendClient(a.client),
		httputil.SendTimeout(a.config.Timeout))
	if err != nil {
		return "", a.fail(err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read %s: %s", path, err)
	}
	return strings.TrimSpace(string(b)), nil
}

type torrentInfo struct {
	Hash       string  `json:"hash"`
	Name       string  `json:"name"`
	Size       int64   `json:"size"`
	Completed  int64   `json:"completed"`
	Progress   float64 `json:"progress"`
	DlSpeed    int64   `json:"dlspeed"`
	UpSpeed    int64   `json:"upspeed"`
	State      string  `json:"state"`
	Category   string  `json:"category"`
	NumSeeds   int     `json:"num_seeds"`
	NumComp    int     `json:"num_complete"`
	NumLeechs  int     `json:"num_leechs"`
	NumIncomp  int     `json:"num_incomplete"`
	Ratio      float64 `json:"ratio"`
	ETA        int64   `json:"eta"`
	SavePath   string  `json:"save_path"`
	AddedOn    int64   `json:"added_on"`
	Uploaded   int64   `json:"uploaded"`
	MagnetURI  string  `json:"magnet_uri"`
	Private    bool    `json:"private"`
	AmountLeft int64   `json:"amount_left"`
}

// FetchData pulls the torrent list. qBittorrent has no separate shared
// concept, so shared files equal downloads and uploads are empty. Transport
// failures return empty data and trigger a reconnect rather than an error.
func (a *Adapter) FetchData(
	ctx context.Context, categoriesHint []*core.Category) (*adapter.FetchResult, error) {

	var infos []torrentInfo
	if err := a.getJSON("/torrents/info", &infos); err != nil {
		log.With("instance", a.InstanceID()).Errorf("Fetch failed: %s", err)
		return &adapter.FetchResult{}, nil
	}

	items := make([]*core.RawItem, 0, len(infos))
	hashes := make([]string, 0, len(infos))
	for i := range infos {
		item := a.normalize(&infos[i])
		items = append(items, item)
		hashes = append(hashes, item.Hash)
	}
	a.mu.Lock()
	a.hashes = hashes
	a.mu.Unlock()

	return &adapter.FetchResult{Downloads: items, SharedFiles: items}, nil
}

func (a *Adapter) normalize(t *torrentInfo) *core.RawItem {
	meta := core.MustMeta(core.TypeQBittorrent)
	hash := strings.ToLower(t.Hash)
	status := core.MapStatus(core.TypeQBittorrent, t.State)
	item := &core.RawItem{
		Hash:           hash,
		InstanceID:     a.InstanceID(),
		Client:         core.TypeQBittorrent,
		Name:           t.Name,
		Size:           t.Size,
		SizeDownloaded: t.Completed,
		Progress:       t.Progress,
		DownloadSpeed:  t.DlSpeed,
		UploadSpeed:    t.UpSpeed,
		Status:         status,
		Category:       t.Category,
		Downloading:    status == core.StatusActive || status == core.StatusQueued,
		Seeding:        meta.SeedingStatuses[t.State],
		Sources: core.SourceCounts{
			Total:     t.NumLeechs + t.NumIncomp,
			Connected: t.NumSeeds + t.NumLeechs,
			Seeders:   t.NumComp,
		},
		UploadTotal: t.Uploaded,
		Ratio:       t.Ratio,
		ETA:         t.ETA,
		AddedAt:     time.Unix(t.AddedOn, 0),
		Torrent: &core.TorrentExtras{
			Magnet:   t.MagnetURI,
			SavePath: t.SavePath,
			Label:    t.Category,
			Private:  t.Private,
			Trackers: a.Trackers(hash),
		},
	}
	item.Shared = item.Seeding
	item.Normalize()
	return item
}

func (a *Adapter) Pause(ctx context.Context, hash string) error {
	return a.post("/torrents/pause", url.Values{"hashes": {hash}})
}

func (a *Adapter) Resume(ctx context.Context, hash string) error {
	return a.post("/torrents/resume", url.Values{"hashes": {hash}})
}

// Stop pauses: the WebUI API has no distinct stopped state.
func (a *Adapter) Stop(ctx context.Context, hash string) error {
	return a.Pause(ctx, hash)
}

func (a *Adapter) AddMagnet(
	ctx context.Context, uri string, opts adapter.AddOptions) (string, error) {

	form := url.Values{"urls": {uri}}
	if opts.CategoryName != "" {
		form.Set("category", opts.CategoryName)
	}
	if opts.SavePath != "" {
		form.Set("savepath", opts.SavePath)
	}
	if opts.Paused {
		form.Set("paused", "true")
	}
	if err := a.post("/torrents/add", form); err != nil {
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
	body, contentType, err := torrentUpload(raw, opts)
	if err != nil {
		return "", err
	}
	resp, err := httputil.Post(
		a.url("/torrents/add"),
		httputil.SendClient(a.client),
		httputil.SendTimeout(a.config.Timeout),
		httputil.SendHeaders(map[string]string{"Content-Type": contentType}),
		httputil.SendBody(body))
	if err != nil {
		return "", a.fail(err)
	}
	resp.Body.Close()
	return hash, nil
}

func (a *Adapter) SetCategory(
	ctx context.Context, hash string, c adapter.CategoryAssignment) error {

	// Category change also moves the data when a category path is set, per
	// the client's own auto-management.
	return a.post("/torrents/setCategory", url.Values{
		"hashes":   {hash},
		"category": {c.CategoryName},
	})
}

func (a *Adapter) Delete(
	ctx context.Context, hash string, opts adapter.DeleteOptions) (*adapter.DeleteResult, error) {

	err := a.post("/torrents/delete", url.Values{
		"hashes":      {hash},
		"deleteFiles": {strconv.FormatBool(opts.DeleteFiles)},
	})
	if err != nil {
		return nil, err
	}
	// The API deletes data itself; nothing left for the caller.
	return &adapter.DeleteResult{Success: true}, nil
}

// UpdateDirectory delegates the move to the client (nativeMove).
func (a *Adapter) UpdateDirectory(ctx context.Context, hash, path string) error {
	return a.post("/torrents/setLocation", url.Values{
		"hashes":   {hash},
		"location": {path},
	})
}

func (a *Adapter) GetFiles(ctx context.Context, hash string) ([]adapter.File, error) {
	var files []struct {
		Name     string  `json:"name"`
		Size     int64   `json:"size"`
		Progress float64 `json:"progress"`
		Priority int     `json:"priority"`
	}
	if err := a.getJSON("/torrents/files?hash="+url.QueryEscape(hash), &files); err != nil {
		return nil, err
	}
	out := make([]adapter.File, 0, len(files))
	for _, f := range files {
		out = append(out, adapter.File{
			Path:     f.Name,
			Size:     f.Size,
			Progress: f.Progress,
			Priority: f.Priority,
		})
	}
	return out, nil
}

// SavePath returns the current save path of a torrent, used by the move
// manager to poll nativeMove completion.
func (a *Adapter) SavePath(ctx context.Context, hash string) (string, error) {
	var infos []torrentInfo
	if err := a.getJSON("/torrents/info?hashes="+url.QueryEscape(hash), &infos); err != nil {
		return "", err
	}
	if len(infos) == 0 {
		return "", fmt.Errorf("torrent not found: %s", hash)
	}
	return infos[0].SavePath, nil
}
