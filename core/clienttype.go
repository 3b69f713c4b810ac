package core

// ClientType identifies a backend client dialect.
type ClientType string

// Supported client types.
const (
	TypeAmule       ClientType = "amule"
	TypeQBittorrent ClientType = "qbittorrent"
	TypeRTorrent    ClientType = "rtorrent"
)

// NetworkType classifies the p2p network family of a client type.
type NetworkType string

// Network families.
const (
	NetworkED2K       NetworkType = "ed2k"
	NetworkBitTorrent NetworkType = "bittorrent"
)

// Capabilities is the per-type feature flag record. It is the single source of
// truth for behavioral branching; callers consult flags instead of switching
// on the type directly.
type Capabilities struct {
	NativeMove                  bool
	CategoryChangeAutoMoves     bool
	StopReplacesPause           bool
	MultiFile                   bool
	SharedFiles                 bool
	SharedMeansComplete         bool
	RemoveSharedMustDeleteFiles bool
	PauseBeforeMove             bool
	Trackers                    bool
	Search                      bool
	CancelDeletesFiles          bool
	APIDeletesFiles             bool
	RefreshSharedAfterDelete    bool
	Categories                  bool
	Logs                        bool
}

// ConnDefaults holds per-type connection defaults applied when config omits
// the field.
type ConnDefaults struct {
	Port     int
	Username string
}

// Meta is the static capability record for a client type.
type Meta struct {
	NetworkType     NetworkType
	HashLength      int // hex chars
	StatusMap       map[string]ItemStatus
	SeedingStatuses map[string]bool
	PriorityMap     map[Priority]int
	MetricsPrefix   string
	Defaults        ConnDefaults
	Capabilities    Capabilities
}

// _meta is keyed by ClientType. Entries are read-only after init.
var _meta = map[ClientType]Meta{
	TypeAmule: {
		NetworkType: NetworkED2K,
		HashLength:  32,
		// aMule partfile status codes.
		StatusMap: map[string]ItemStatus{
			"0":  StatusActive,  // ready
			"1":  StatusError,   // empty
			"2":  StatusQueued,  // waiting for hash
			"3":  StatusChecking, // hashing
			"4":  StatusError,
			"5":  StatusError, // insufficient space
			"6":  StatusError, // unknown
			"7":  StatusPaused,
			"8":  StatusChecking, // completing
			"9":  StatusSeeding,  // complete
			"10": StatusChecking, // allocating
			"11": StatusStopped,
		},
		SeedingStatuses: map[string]bool{"9": true},
		PriorityMap: map[Priority]int{
			PriorityNormal: 0,
			PriorityHigh:   1,
			PriorityLow:    4,
			PriorityAuto:   5,
		},
		MetricsPrefix: "amule",
		Defaults:      ConnDefaults{Port: 4712, Username: "amule"},
		Capabilities: Capabilities{
			SharedFiles:                 true,
			SharedMeansComplete:         true,
			RemoveSharedMustDeleteFiles: true,
			RefreshSharedAfterDelete:    true,
			Search:                      true,
			CancelDeletesFiles:          true,
			Categories:                  true,
			Logs:                        true,
		},
	},
	TypeQBittorrent: {
		NetworkType: NetworkBitTorrent,
		HashLength:  40,
		StatusMap: map[string]ItemStatus{
			"downloading":        StatusActive,
			"metaDL":             StatusActive,
			"forcedDL":           StatusActive,
			"stalledDL":          StatusActive,
			"allocating":         StatusChecking,
			"checkingDL":         StatusChecking,
			"checkingUP":         StatusChecking,
			"checkingResumeData": StatusChecking,
			"pausedDL":           StatusPaused,
			"queuedDL":           StatusQueued,
			"queuedUP":           StatusQueued,
			"uploading":          StatusSeeding,
			"stalledUP":          StatusSeeding,
			"forcedUP":           StatusSeeding,
			"pausedUP":           StatusStopped,
			"moving":             StatusMoving,
			"missingFiles":       StatusError,
			"error":              StatusError,
			"unknown":            StatusError,
		},
		SeedingStatuses: map[string]bool{
			"uploading": true, "stalledUP": true, "forcedUP": true,
		},
		MetricsPrefix: "qbit",
		Defaults:      ConnDefaults{Port: 8080, Username: "admin"},
		Capabilities: Capabilities{
			NativeMove:              true,
			CategoryChangeAutoMoves: true,
			MultiFile:               true,
			Trackers:                true,
			APIDeletesFiles:         true,
			Categories:              true,
			Logs:                    true,
		},
	},
	TypeRTorrent: {
		NetworkType: NetworkBitTorrent,
		HashLength:  40,
		StatusMap: map[string]ItemStatus{
			"leeching": StatusActive,
			"paused":   StatusPaused,
			"stopped":  StatusStopped,
			"hashing":  StatusChecking,
			"seeding":  StatusSeeding,
			"error":    StatusError,
		},
		SeedingStatuses: map[string]bool{"seeding": true},
		PriorityMap: map[Priority]int{
			PriorityNormal: 2,
			PriorityHigh:   3,
			PriorityLow:    1,
			PriorityAuto:   2,
		},
		MetricsPrefix: "rtorrent",
		Defaults:      ConnDefaults{Port: 5000},
		Capabilities: Capabilities{
			StopReplacesPause: true,
			MultiFile:         true,
			PauseBeforeMove:   true,
			Trackers:          true,
			Categories:        true,
		},
	},
}

// LookupMeta returns the capability record for t.
func LookupMeta(t ClientType) (Meta, bool) {
	m, ok := _meta[t]
	return m, ok
}

// MustMeta returns the capability record for t and panics if t is unknown.
// For use with compile-time constant types only.
func MustMeta(t ClientType) Meta {
	m, ok := _meta[t]
	if !ok {
		panic("unknown client type: " + string(t))
	}
	return m
}

// ValidType returns true if t is a registered client type.
func ValidType(t ClientType) bool {
	_, ok := _meta[t]
	return ok
}

// AllTypes returns all registered client types.
func AllTypes() []ClientType {
	ts := make([]ClientType, 0, len(_meta))
	for t := range _meta {
		ts = append(ts, t)
	}
	return ts
}

// MapStatus translates a native status through t's status map. Unknown native
// statuses map to StatusError.
func MapStatus(t ClientType, native string) ItemStatus {
	m, ok := _meta[t]
	if !ok {
		return StatusError
	}
	if s, ok := m.StatusMap[native]; ok {
		return s
	}
	return StatusError
}
