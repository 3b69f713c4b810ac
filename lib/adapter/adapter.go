// Package adapter defines the behavior contract every backend client adapter
// implements, plus the shared connection lifecycle base. Adapters encapsulate
// their wire dialect entirely; every cross-client caller goes through
// FetchData and the mutation methods.
package adapter

import (
	"context"
	"errors"

	"github.com/peerhub/peerhub/core"
)

// ErrNotConnected is returned by operations requiring a live connection.
var ErrNotConnected = errors.New("client not connected")

// ErrNotSupported is returned when an operation is outside the client's
// capabilities.
var ErrNotSupported = errors.New("operation not supported by client")

// FetchResult is the only data ingress from a backend. Every record is
// stamped with the adapter's instance id. Clients without a separate shared
// concept return SharedFiles == Downloads; clients without a peers-upload
// list return empty Uploads.
type FetchResult struct {
	Downloads   []*core.RawItem
	SharedFiles []*core.RawItem
	Uploads     []*core.RawItem
}

// AddOptions carries optional parameters for add operations.
type AddOptions struct {
	CategoryName string
	SavePath     string
	Paused       bool
}

// CategoryAssignment carries parameters for assigning an item to a category.
type CategoryAssignment struct {
	CategoryName string
	Priority     core.Priority
}

// DeleteOptions carries parameters for item deletion.
type DeleteOptions struct {
	DeleteFiles bool
	IsShared    bool
	FilePath    string
}

// DeleteResult reports a deletion outcome. PathsToDelete lists remote paths
// the caller must remove from disk itself, for clients whose API cannot
// delete data (see the RemoveSharedMustDeleteFiles capability).
type DeleteResult struct {
	Success       bool
	PathsToDelete []string
}

// CategorySpec describes a category pushed to a client.
type CategorySpec struct {
	ID       int
	Name     string
	Path     string
	Comment  string
	Color    string
	Priority core.Priority
}

// EnsureResult reports category creation on a client. AmuleID is set for ed2k
// clients, which key categories by native numeric id.
type EnsureResult struct {
	AmuleID int
}

// EditResult reports a category edit readback. Verified is false when the
// client accepted the change but the readback disagrees; Mismatches names the
// fields that differ.
type EditResult struct {
	Verified   bool
	Mismatches []string
}

// RenameSpec describes a category rename pushed to a client.
type RenameSpec struct {
	ID      int
	OldName string
	NewName string
}

// File is a single file within a multi-file item.
type File struct {
	Path     string  `json:"path"`
	Size     int64   `json:"size"`
	Progress float64 `json:"progress"`
	Priority int     `json:"priority"`
}

// Metrics is the per-tick telemetry sample extracted from raw client stats.
type Metrics struct {
	UploadSpeed   int64
	DownloadSpeed int64
	UploadTotal   int64
	DownloadTotal int64
	PID           int
}

// NetworkStatus summarizes client connectivity for the UI.
type NetworkStatus struct {
	Status     string // green | yellow | red
	Text       string
	PortOpen   bool
	ListenPort int
}

// HistoryMetadata is the durable per-item record written on first sight.
type HistoryMetadata struct {
	CompoundKey string
	Name        string
	Size        int64
	Category    string
}

// CategorySync is the slice of the category manager adapters consume during
// connect-time synchronization.
type CategorySync interface {
	ImportCategory(c *core.Category) error
	LinkAmuleID(name, instanceID string, nativeID int)
	SetClientDefaultPath(instanceID, path string)
	Snapshot() []*core.Category
	PropagateToOtherClients(ctx context.Context, excludeInstance string)
}

// Adapter is the polymorphism seam over backend client dialects.
type Adapter interface {
	// Identity, attached by the registry on register.
	AttachIdentity(instanceID string, t core.ClientType, displayName string)
	DetachIdentity()
	InstanceID() string
	Type() core.ClientType
	DisplayName() string

	// Lifecycle.
	Init(ctx context.Context) error
	IsConnected() bool
	IsEnabled() bool
	SetEnabled(enabled bool)
	Shutdown()

	// Data ingress.
	FetchData(ctx context.Context, categoriesHint []*core.Category) (*FetchResult, error)

	// Mutations.
	Pause(ctx context.Context, hash string) error
	Resume(ctx context.Context, hash string) error
	Stop(ctx context.Context, hash string) error
	AddMagnet(ctx context.Context, uri string, opts AddOptions) (hash string, err error)
	AddTorrentRaw(ctx context.Context, raw []byte, opts AddOptions) (hash string, err error)
	SetCategory(ctx context.Context, hash string, a CategoryAssignment) error
	Delete(ctx context.Context, hash string, opts DeleteOptions) (*DeleteResult, error)
	UpdateDirectory(ctx context.Context, hash, path string) error
	GetFiles(ctx context.Context, hash string) ([]File, error)

	// Category synchronization.
	EnsureCategoryExists(ctx context.Context, spec CategorySpec) (*EnsureResult, error)
	EnsureCategoriesBatch(ctx context.Context, specs []CategorySpec) error
	EditCategory(ctx context.Context, spec CategorySpec) (*EditResult, error)
	RenameCategory(ctx context.Context, spec RenameSpec) error
	DeleteCategory(ctx context.Context, spec CategorySpec) error
	OnConnectSync(ctx context.Context, sync CategorySync) error

	// Telemetry.
	GetStats(ctx context.Context) (interface{}, error)
	ExtractMetrics(raw interface{}) Metrics
	GetNetworkStatus(raw interface{}) NetworkStatus
	ExtractHistoryMetadata(item *core.UnifiedItem) HistoryMetadata
}

// SearchResult is a single hit from an ed2k search.
type SearchResult struct {
	Hash    string `json:"hash"`
	Name    string `json:"fileName"`
	Size    int64  `json:"size"`
	Sources int    `json:"sources"`
}

// Ed2kAdapter is the extension contract implemented by ed2k-family adapters.
type Ed2kAdapter interface {
	Adapter

	Search(ctx context.Context, query string) ([]SearchResult, error)
	AddSearchResult(ctx context.Context, hash string, categoryID int) error
	AddEd2kLink(ctx context.Context, link string, categoryID int) (hash string, err error)
	EnsureAmuleCategoryID(ctx context.Context, name string) (int, error)
	RefreshSharedFiles(ctx context.Context) error
	GetServersList(ctx context.Context) (interface{}, error)
	ServerDoAction(ctx context.Context, action string, args map[string]string) error
	GetStatsTree(ctx context.Context) (interface{}, error)
	GetLog(ctx context.Context, appLog bool) (string, error)
}

// TrackerAdapter is implemented by bittorrent-family adapters which run a
// background tracker refresh loop.
type TrackerAdapter interface {
	Adapter

	Trackers(hash string) []string
}
