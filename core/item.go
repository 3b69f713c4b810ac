package core

import "time"

// ItemStatus is the unified item status vocabulary.
type ItemStatus string

// Unified statuses.
const (
	StatusActive   ItemStatus = "active"
	StatusPaused   ItemStatus = "paused"
	StatusStopped  ItemStatus = "stopped"
	StatusSeeding  ItemStatus = "seeding"
	StatusChecking ItemStatus = "checking"
	StatusQueued   ItemStatus = "queued"
	StatusMoving   ItemStatus = "moving"
	StatusError    ItemStatus = "error"
)

// Geo holds GeoIP enrichment for a peer.
type Geo struct {
	Country string  `json:"country,omitempty"`
	City    string  `json:"city,omitempty"`
	Lat     float64 `json:"lat,omitempty"`
	Lon     float64 `json:"lon,omitempty"`
}

// Peer is a remote peer observed by a client, optionally enriched with GeoIP
// and reverse DNS data.
type Peer struct {
	Address      string  `json:"address"`
	Port         int     `json:"port"`
	Software     string  `json:"software,omitempty"`
	UploadRate   int64   `json:"uploadRate"`
	DownloadRate int64   `json:"downloadRate"`
	Progress     float64 `json:"progress,omitempty"`
	Flags        string  `json:"flags,omitempty"`
	Geo          *Geo    `json:"geo,omitempty"`
	Hostname     string  `json:"hostname,omitempty"`
}

// SourceCounts aggregates the source/peer counters of an item.
type SourceCounts struct {
	Total      int `json:"total"`
	Connected  int `json:"connected"`
	Seeders    int `json:"seeders"`
	A4AF       int `json:"a4af,omitempty"`
	NotCurrent int `json:"notCurrent,omitempty"`
}

// Ed2kExtras carries ed2k-only item fields.
type Ed2kExtras struct {
	Ed2kLink     string `json:"ed2kLink,omitempty"`
	PartStatus   string `json:"partStatus,omitempty"`
	CatID        int    `json:"catId,omitempty"`
	LastSeenComp int64  `json:"lastSeenComplete,omitempty"`
}

// TorrentExtras carries bittorrent-only item fields.
type TorrentExtras struct {
	Magnet     string   `json:"magnet,omitempty"`
	Trackers   []string `json:"trackers,omitempty"`
	SavePath   string   `json:"savePath,omitempty"`
	Label      string   `json:"label,omitempty"`
	NumPieces  int      `json:"numPieces,omitempty"`
	Private    bool     `json:"private,omitempty"`
}

// UnifiedItem is the central cross-protocol record produced per tick per
// download/shared/torrent. Exactly one exists per (InstanceID, Hash).
type UnifiedItem struct {
	Hash           string         `json:"fileHash"`
	InstanceID     string         `json:"instanceId"`
	Client         ClientType     `json:"client"`
	Name           string         `json:"fileName"`
	Size           int64          `json:"size"`
	SizeDownloaded int64          `json:"sizeDownloaded"`
	Progress       float64        `json:"progress"` // 0..1
	DownloadSpeed  int64          `json:"downloadSpeed"`
	UploadSpeed    int64          `json:"uploadSpeed"`
	Status         ItemStatus     `json:"status"`
	Category       string         `json:"category"`
	Downloading    bool           `json:"downloading"`
	Shared         bool           `json:"shared"`
	Complete       bool           `json:"complete"`
	Seeding        bool           `json:"seeding"`
	Sources        SourceCounts   `json:"sources"`
	ActiveUploads  []Peer         `json:"activeUploads,omitempty"`
	UploadTotal    int64          `json:"uploadTotal"`
	Ratio          float64        `json:"ratio"`
	ETA            int64          `json:"eta"`
	PeersDetailed  []Peer         `json:"peersDetailed,omitempty"`
	Raw            interface{}    `json:"raw,omitempty"`
	AddedAt        time.Time      `json:"addedAt,omitempty"`
	Ed2k           *Ed2kExtras    `json:"ed2k,omitempty"`
	Torrent        *TorrentExtras `json:"torrent,omitempty"`

	// Move overlay, populated while a move operation is in flight.
	MoveProgress   float64 `json:"moveProgress,omitempty"`
	MoveStatus     string  `json:"moveStatus,omitempty"`
	MoveFilesTotal int     `json:"moveFilesTotal,omitempty"`
	MoveFilesMoved int     `json:"moveFilesMoved,omitempty"`
	MoveCurrent    string  `json:"moveCurrentFile,omitempty"`

	// OwnedByMe is a per-connection annotation applied by the broadcast
	// transform, never stored.
	OwnedByMe bool `json:"ownedByMe"`
}

// Key returns the item's compound key.
func (i *UnifiedItem) Key() string {
	return NewCompoundKey(i.InstanceID, i.Hash)
}

// Normalize enforces the cross-field invariants: complete tracks progress,
// seeding implies complete, and a seeding or stopped status is consistent
// with completion.
func (i *UnifiedItem) Normalize() {
	if i.Progress >= 1.0 {
		i.Progress = 1.0
		i.Complete = true
	}
	if i.Seeding {
		i.Complete = true
		i.Progress = 1.0
	}
	if i.Complete {
		i.Downloading = false
	}
	if i.Size > 0 && i.Complete {
		i.SizeDownloaded = i.Size
	}
}

// RawItem is a single record returned by an adapter fetch, already normalized
// to unified shape but not yet assembled or enriched. Adapters stamp every
// record with their instance id.
type RawItem = UnifiedItem
