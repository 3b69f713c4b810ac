package amule

import (
	"context"
	"fmt"
	"time"

	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/lib/adapter"
)

const _searchPollInterval = 500 * time.Millisecond

// Search starts an ed2k server search and polls until the daemon reports it
// finished, then collects the result list. One search runs at a time; the
// hub's search lock serializes callers across connections.
func (a *Adapter) Search(ctx context.Context, query string) ([]adapter.SearchResult, error) {
	if _, err := a.request(&ecPacket{
		Opcode: opSearchStart,
		Tags: []ecTag{
			stringTag(tagSearchName, query),
			uintTag(tagSearchType, 0), // global server search
		},
	}); err != nil {
		return nil, fmt.Errorf("start search: %s", err)
	}

	for {
		resp, err := a.request(&ecPacket{Opcode: opSearchProgress})
		if err != nil {
			return nil, fmt.Errorf("search progress: %s", err)
		}
		if t, ok := resp.Tag(tagSearchType); ok && t.Uint() >= 100 {
			break
		}
		select {
		case <-ctx.Done():
			a.request(&ecPacket{Opcode: opSearchStop})
			return nil, ctx.Err()
		case <-time.After(_searchPollInterval):
		}
	}

	resp, err := a.request(&ecPacket{Opcode: opSearchResults})
	if err != nil {
		return nil, fmt.Errorf("search results: %s", err)
	}
	var results []adapter.SearchResult
	for _, t := range resp.TagsNamed(tagSearchFile) {
		results = append(results, adapter.SearchResult{
			Hash:    fmt.Sprintf("%x", t.Data),
			Name:    t.ChildString(tagSearchName),
			Size:    int64(t.ChildUint(tagSearchSize)),
			Sources: int(t.ChildUint(tagSearchSources)),
		})
	}
	return results, nil
}

// AddSearchResult starts downloading a hit from the last search.
func (a *Adapter) AddSearchResult(ctx context.Context, hash string, categoryID int) error {
	b, err := hashBytes(hash)
	if err != nil {
		return err
	}
	_, err = a.request(&ecPacket{
		Opcode: opDloadSearchRes,
		Tags: []ecTag{
			hashTag(tagPartfile, b),
			uintTag(tagCategory, uint64(categoryID)),
		},
	})
	return err
}

// AddEd2kLink submits an ed2k:// link and reports the hash embedded in it.
func (a *Adapter) AddEd2kLink(
	ctx context.Context, link string, categoryID int) (string, error) {

	hash, err := core.Ed2kLinkHash(link)
	if err != nil {
		return "", err
	}
	if _, err := a.request(&ecPacket{
		Opcode: opAddLink,
		Tags: []ecTag{
			stringTag(tagString, link),
			uintTag(tagCategory, uint64(categoryID)),
		},
	}); err != nil {
		return "", err
	}
	return hash, nil
}

// RefreshSharedFiles asks the daemon to rescan its shared directories. Called
// after a shared file was deleted from disk on the daemon's behalf.
func (a *Adapter) RefreshSharedFiles(ctx context.Context) error {
	_, err := a.request(&ecPacket{Opcode: opSharedReload})
	return err
}

// GetServersList returns the daemon's ed2k server list.
func (a *Adapter) GetServersList(ctx context.Context) (interface{}, error) {
	resp, err := a.request(&ecPacket{Opcode: opGetServerList})
	if err != nil {
		return nil, err
	}
	type server struct {
		Name  string `json:"name"`
		IP    string `json:"ip"`
		Port  int    `json:"port"`
		Users int64  `json:"users"`
		Files int64  `json:"files"`
	}
	var servers []server
	for _, t := range resp.TagsNamed(tagServer) {
		servers = append(servers, server{
			Name:  t.ChildString(tagServerName),
			IP:    t.ChildString(tagServerIP),
			Port:  int(t.ChildUint(tagServerPort)),
			Users: int64(t.ChildUint(tagServerUsers)),
			Files: int64(t.ChildUint(tagServerFiles)),
		})
	}
	return servers, nil
}

// ServerDoAction runs a server-list action: connect, disconnect or remove.
func (a *Adapter) ServerDoAction(
	ctx context.Context, action string, args map[string]string) error {

	var opcode uint8
	switch action {
	case "connect":
		opcode = opServerConnect
	case "disconnect":
		opcode = opServerDisconn
	case "remove":
		opcode = opServerRemove
	default:
		return fmt.Errorf("unknown server action: %s", action)
	}
	var tags []ecTag
	if addr := args["ip"]; addr != "" {
		tags = append(tags, stringTag(tagServerIP, addr))
	}
	if port := args["port"]; port != "" {
		tags = append(tags, stringTag(tagServerPort, port))
	}
	_, err := a.request(&ecPacket{Opcode: opcode, Tags: tags})
	return err
}

// statsNode mirrors the daemon's statistics tree for the UI.
type statsNode struct {
	Label    string      `json:"label"`
	Children []statsNode `json:"children,omitempty"`
}

// GetStatsTree returns the daemon's nested statistics tree.
func (a *Adapter) GetStatsTree(ctx context.Context) (interface{}, error) {
	resp, err := a.request(&ecPacket{Opcode: opGetStatsTree})
	if err != nil {
		return nil, err
	}
	var nodes []statsNode
	for _, t := range resp.Tags {
		nodes = append(nodes, statsTreeNode(t))
	}
	return nodes, nil
}

func statsTreeNode(t ecTag) statsNode {
	n := statsNode{Label: t.String()}
	for _, c := range t.Children {
		n.Children = append(n.Children, statsTreeNode(c))
	}
	return n
}

// GetLog fetches the daemon log or the app log.
func (a *Adapter) GetLog(ctx context.Context, appLog bool) (string, error) {
	var flag uint64
	if appLog {
		flag = 1
	}
	resp, err := a.request(&ecPacket{
		Opcode: opGetLog,
		Tags:   []ecTag{uintTag(tagLogApp, flag)},
	})
	if err != nil {
		return "", err
	}
	if t, ok := resp.Tag(tagString); ok {
		return t.String(), nil
	}
	return "", nil
}

type ecStats struct {
	UploadSpeed   int64
	DownloadSpeed int64
	TotalSent     int64
	TotalRecv     int64
	ConnState     uint64
	ClientID      uint64
	ListenPort    int
}

func (a *Adapter) GetStats(ctx context.Context) (interface{}, error) {
	resp, err := a.request(&ecPacket{Opcode: opStatReq})
	if err != nil {
		return nil, err
	}
	read := func(name uint16) uint64 {
		if t, ok := resp.Tag(name); ok {
			return t.Uint()
		}
		if s, ok := resp.Tag(tagStats); ok {
			return s.ChildUint(name)
		}
		return 0
	}
	return &ecStats{
		UploadSpeed:   int64(read(tagStatsUlSpeed)),
		DownloadSpeed: int64(read(tagStatsDlSpeed)),
		TotalSent:     int64(read(tagStatsTotalSent)),
		TotalRecv:     int64(read(tagStatsTotalRecv)),
		ConnState:     read(tagStatsConnState),
		ClientID:      read(tagStatsClientID),
		ListenPort:    int(read(tagStatsListenPort)),
	}, nil
}

func (a *Adapter) ExtractMetrics(raw interface{}) adapter.Metrics {
	s, ok := raw.(*ecStats)
	if !ok {
		return adapter.Metrics{}
	}
	return adapter.Metrics{
		UploadSpeed:   s.UploadSpeed,
		DownloadSpeed: s.DownloadSpeed,
		UploadTotal:   s.TotalSent,
		DownloadTotal: s.TotalRecv,
	}
}

// lowIDThreshold separates ed2k low ids (effectively firewalled) from high
// ids, which encode the client's public IPv4.
const lowIDThreshold = 16777216

func (a *Adapter) GetNetworkStatus(raw interface{}) adapter.NetworkStatus {
	s, ok := raw.(*ecStats)
	if !ok {
		return adapter.NetworkStatus{Status: "red", Text: "no data"}
	}
	switch {
	case s.ConnState == 0:
		return adapter.NetworkStatus{Status: "red", Text: "disconnected from ed2k"}
	case s.ClientID < lowIDThreshold:
		return adapter.NetworkStatus{
			Status: "yellow", Text: "connected with low id", ListenPort: s.ListenPort,
		}
	default:
		return adapter.NetworkStatus{
			Status:     "green",
			Text:       "connected with high id",
			PortOpen:   true,
			ListenPort: s.ListenPort,
		}
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
