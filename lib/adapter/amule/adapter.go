// Package amule implements the adapter for aMule's External Connections
// protocol, a framed binary tag dialect over TCP. It is the only ed2k-family
// adapter: shared files are a distinct concept that doubles as the completion
// signal, categories carry native numeric ids and packed BGR colors, and
// search runs against the connected ed2k server.
package amule

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/lib/adapter"
	"github.com/peerhub/peerhub/utils/log"
)

// Config defines aMule adapter configuration.
type Config struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
}

func (c Config) applyDefaults() Config {
	if c.Port == 0 {
		c.Port = core.MustMeta(core.TypeAmule).Defaults.Port
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// Adapter talks to one aMule instance over EC.
type Adapter struct {
	*adapter.Base
	config Config

	mu   sync.Mutex
	conn *ecConn
}

// New creates a new aMule Adapter.
func New(config Config) *Adapter {
	return &Adapter{
		Base:   adapter.NewBase(),
		config: config.applyDefaults(),
	}
}

// Init dials and authenticates. The EC handshake doubles as the version
// check: the daemon rejects incompatible protocol versions outright.
func (a *Adapter) Init(ctx context.Context) error {
	return a.GuardInit(func() error {
		addr := fmt.Sprintf("%s:%d", a.config.Host, a.config.Port)
		conn, err := dialEC(addr, a.config.Password, a.config.Timeout)
		if err != nil {
			return fmt.Errorf("connect amule: %s", err)
		}
		a.mu.Lock()
		if a.conn != nil {
			a.conn.Close()
		}
		a.conn = conn
		a.mu.Unlock()
		log.With("instance", a.InstanceID()).Info("Connected to aMule")
		return nil
	})
}

// Shutdown closes the EC connection after the base settles in-flight work.
func (a *Adapter) Shutdown() {
	a.Base.Shutdown()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}
}

// request performs one EC round trip. Any connection-level failure drops the
// link, marks the instance disconnected and schedules a reconnect.
func (a *Adapter) request(req *ecPacket) (*ecPacket, error) {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return nil, adapter.ErrNotConnected
	}
	resp, err := conn.roundTrip(req)
	if err != nil {
		a.mu.Lock()
		if a.conn == conn {
			a.conn.Close()
			a.conn = nil
		}
		a.mu.Unlock()
		a.SetConnected(false)
		a.ScheduleReconnect(a.Init)
		return nil, err
	}
	if resp.Opcode == opFailed {
		msg := "request failed"
		if t, ok := resp.Tag(tagString); ok {
			msg = t.String()
		}
		return nil, fmt.Errorf("amule: %s", msg)
	}
	return resp, nil
}

// FetchData pulls the download queue, the shared file list and the upload
// queue in three round trips. Transport failures return empty data and
// trigger a reconnect rather than an error.
func (a *Adapter) FetchData(
	ctx context.Context, categoriesHint []*core.Category) (*adapter.FetchResult, error) {

	catNames := categoryNamesByID(categoriesHint, a.InstanceID())

	dl, err := a.request(&ecPacket{Opcode: opGetDloadQueue})
	if err != nil {
		log.With("instance", a.InstanceID()).Errorf("Fetch downloads failed: %s", err)
		return &adapter.FetchResult{}, nil
	}
	shared, err := a.request(&ecPacket{Opcode: opGetSharedFiles})
	if err != nil {
		log.With("instance", a.InstanceID()).Errorf("Fetch shared failed: %s", err)
		return &adapter.FetchResult{}, nil
	}
	uploads, err := a.request(&ecPacket{Opcode: opGetUloadQueue})
	if err != nil {
		log.With("instance", a.InstanceID()).Errorf("Fetch uploads failed: %s", err)
		return &adapter.FetchResult{}, nil
	}

	r := &adapter.FetchResult{}
	for _, t := range dl.TagsNamed(tagPartfile) {
		r.Downloads = append(r.Downloads, a.normalizeDownload(t, catNames))
	}
	for _, t := range shared.TagsNamed(tagKnownfile) {
		r.SharedFiles = append(r.SharedFiles, a.normalizeShared(t))
	}
	r.Uploads = a.normalizeUploads(uploads)
	return r, nil
}

// categoryNamesByID indexes the hint's native ids for this instance so items
// can carry category names instead of numeric ids.
func categoryNamesByID(cats []*core.Category, instanceID string) map[int]string {
	names := make(map[int]string)
	for _, c := range cats {
		if id, ok := c.AmuleIDs[instanceID]; ok {
			names[id] = c.Name
		}
	}
	return names
}

func (a *Adapter) normalizeDownload(t ecTag, catNames map[int]string) *core.RawItem {
	hash := strings.ToLower(fmt.Sprintf("%x", t.Data))
	size := int64(t.ChildUint(tagPartfileSizeFull))
	done := int64(t.ChildUint(tagPartfileSizeDone))
	speed := int64(t.ChildUint(tagPartfileSpeed))
	native := fmt.Sprintf("%d", t.ChildUint(tagPartfileStatus))
	status := core.MapStatus(core.TypeAmule, native)
	meta := core.MustMeta(core.TypeAmule)

	var progress float64
	if size > 0 {
		progress = float64(done) / float64(size)
	}
	var eta int64
	if speed > 0 && done < size {
		eta = (size - done) / speed
	}
	catID := int(t.ChildUint(tagPartfileCat))

	item := &core.RawItem{
		Hash:           hash,
		InstanceID:     a.InstanceID(),
		Client:         core.TypeAmule,
		Name:           t.ChildString(tagPartfileName),
		Size:           size,
		SizeDownloaded: done,
		Progress:       progress,
		DownloadSpeed:  speed,
		Status:         status,
		Category:       catNames[catID],
		Downloading:    status == core.StatusActive,
		Seeding:        meta.SeedingStatuses[native],
		Sources: core.SourceCounts{
			Total:      int(t.ChildUint(tagPartfileSrcCount)),
			Connected:  int(t.ChildUint(tagPartfileSrcXfer)),
			A4AF:       int(t.ChildUint(tagPartfileSrcA4AF)),
			NotCurrent: int(t.ChildUint(tagPartfileSrcCount) - t.ChildUint(tagPartfileSrcCur)),
		},
		ETA: eta,
		Ed2k: &core.Ed2kExtras{
			Ed2kLink:     t.ChildString(tagPartfileEd2kLink),
			PartStatus:   t.ChildString(tagPartfilePartStat),
			CatID:        catID,
			LastSeenComp: int64(t.ChildUint(tagPartfileLastSeen)),
		},
	}
	item.Normalize()
	return item
}

// normalizeShared maps a known file. Shared means complete on ed2k, so the
// record arrives as a finished, seeding item and acts as the completion
// signal during assembly.
func (a *Adapter) normalizeShared(t ecTag) *core.RawItem {
	hash := strings.ToLower(fmt.Sprintf("%x", t.Data))
	size := int64(t.ChildUint(tagPartfileSizeFull))
	item := &core.RawItem{
		Hash:        hash,
		InstanceID:  a.InstanceID(),
		Client:      core.TypeAmule,
		Name:        t.ChildString(tagPartfileName),
		Size:        size,
		Progress:    1,
		Status:      core.StatusSeeding,
		Shared:      true,
		Complete:    true,
		Seeding:     true,
		UploadTotal: int64(t.ChildUint(tagKnownfileXferred)),
		Ed2k: &core.Ed2kExtras{
			Ed2kLink: t.ChildString(tagPartfileEd2kLink),
		},
	}
	item.Normalize()
	return item
}

// normalizeUploads converts upload queue clients into per-hash records whose
// ActiveUploads carry the peers. The assembler merges them into the matching
// item by compound key.
func (a *Adapter) normalizeUploads(p *ecPacket) []*core.RawItem {
	byHash := make(map[string]*core.RawItem)
	var order []string
	for _, t := range p.TagsNamed(tagUpClient) {
		h, ok := t.Child(tagUpClientHash)
		if !ok {
			continue
		}
		hash := strings.ToLower(fmt.Sprintf("%x", h.Data))
		item, ok := byHash[hash]
		if !ok {
			item = &core.RawItem{
				Hash:       hash,
				InstanceID: a.InstanceID(),
				Client:     core.TypeAmule,
			}
			byHash[hash] = item
			order = append(order, hash)
		}
		item.ActiveUploads = append(item.ActiveUploads, core.Peer{
			Address:    t.ChildString(tagUpClientIP),
			Port:       int(t.ChildUint(tagUpClientPort)),
			Software:   t.ChildString(tagUpClientSoft),
			UploadRate: int64(t.ChildUint(tagUpClientSpeed)),
		})
		item.UploadSpeed += int64(t.ChildUint(tagUpClientSpeed))
	}
	out := make([]*core.RawItem, 0, len(order))
	for _, hash := range order {
		out = append(out, byHash[hash])
	}
	return out
}

// hashBytes parses a 32-hex ed2k hash into its 16 raw bytes.
func hashBytes(hash string) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("invalid ed2k hash length %d", len(hash))
	}
	b, err := hex.DecodeString(hash)
	if err != nil {
		return nil, fmt.Errorf("invalid ed2k hash: %s", err)
	}
	return b, nil
}
