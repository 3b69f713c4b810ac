package wsserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/lib/adapter"
	"github.com/peerhub/peerhub/lib/auth"
	"github.com/peerhub/peerhub/lib/category"
	"github.com/peerhub/peerhub/utils/log"
)

type handlerFunc func(ctx context.Context, c *conn, raw json.RawMessage) error

func (s *Server) handlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		"search":                     s.handleSearch,
		"batchDownloadSearchResults": s.handleBatchDownload,
		"addEd2kLinks":               s.handleAddEd2kLinks,
		"addMagnetLinks":             s.handleAddMagnetLinks,
		"addTorrentFile":             s.handleAddTorrentFile,
		"getCategories":              s.handleGetCategories,
		"createCategory":             s.handleCreateCategory,
		"updateCategory":             s.handleUpdateCategory,
		"renameCategory":             s.handleRenameCategory,
		"deleteCategory":             s.handleDeleteCategory,
		"batchPause":                 s.handleBatchPause,
		"batchResume":                s.handleBatchResume,
		"batchStop":                  s.handleBatchStop,
		"batchDelete":                s.handleBatchDelete,
		"batchSetFileCategory":       s.handleBatchSetCategory,
		"checkDeletePermissions":     s.handleCheckDeletePermissions,
		"checkMovePermissions":       s.handleCheckMovePermissions,
		"moveFiles":                  s.handleMoveFiles,
		"dismissMove":                s.handleDismissMove,
		"getHistory":                 s.handleGetHistory,
		"clearHistory":               s.handleClearHistory,
		"refreshSharedFiles":         s.handleRefreshSharedFiles,
		"getServersList":             s.handleGetServersList,
		"serverDoAction":             s.handleServerDoAction,
		"getStatsTree":               s.handleGetStatsTree,
		"getServerInfo":              s.handleGetServerInfo,
		"getLog":                     s.handleGetLog,
		"getAppLog":                  s.handleGetAppLog,
	}
}

// dispatch routes one inbound message: reconnect wake-up, capability check,
// handler.
func (s *Server) dispatch(c *conn, b []byte) {
	var envelope struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(b, &envelope); err != nil || envelope.Action == "" {
		c.sendError("Malformed message")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ActionTimeout)
	defer cancel()

	s.reconnectIdleEd2k(ctx)

	if err := auth.Authorize(c.user, envelope.Action); err != nil {
		s.stats.Counter("forbidden").Inc(1)
		c.sendError("Insufficient permissions")
		return
	}
	h, ok := s.handlers()[envelope.Action]
	if !ok {
		c.sendError(fmt.Sprintf("Unknown action %q", envelope.Action))
		return
	}
	timer := s.stats.Tagged(map[string]string{"action": envelope.Action}).Timer("action").Start()
	err := h(ctx, c, b)
	timer.Stop()
	if err != nil {
		log.With("action", envelope.Action).Errorf("Handler: %s", err)
		c.sendError(err.Error())
	}
}

// reconnectIdleEd2k kicks a reconnect for enabled-but-disconnected ed2k
// instances so user actions find a live connection.
func (s *Server) reconnectIdleEd2k(ctx context.Context) {
	for _, a := range s.registry.GetEnabled() {
		if a.IsConnected() {
			continue
		}
		meta, ok := core.LookupMeta(a.Type())
		if !ok || meta.NetworkType != core.NetworkED2K {
			continue
		}
		go func(a adapter.Adapter) {
			if err := a.Init(ctx); err != nil {
				log.With("instance", a.InstanceID()).Infof("Reconnect: %s", err)
			}
		}(a)
	}
}

// ed2kAdapter returns the target ed2k instance, or the single connected one
// when instanceID is empty.
func (s *Server) ed2kAdapter(instanceID string) (adapter.Ed2kAdapter, error) {
	if instanceID != "" {
		a, err := s.registry.Get(instanceID)
		if err != nil {
			return nil, err
		}
		e, ok := a.(adapter.Ed2kAdapter)
		if !ok {
			return nil, fmt.Errorf("instance %s is not an ed2k client", instanceID)
		}
		return e, nil
	}
	for _, a := range s.registry.GetConnected() {
		if e, ok := a.(adapter.Ed2kAdapter); ok {
			return e, nil
		}
	}
	return nil, fmt.Errorf("no connected ed2k instance")
}

func (s *Server) handleGetCategories(ctx context.Context, c *conn, raw json.RawMessage) error {
	c.sendJSON(map[string]interface{}{
		"type":       "categories-update",
		"categories": s.categories.GetAllForFrontend(),
	})
	return nil
}

func (s *Server) handleCreateCategory(ctx context.Context, c *conn, raw json.RawMessage) error {
	var req struct {
		Category category.Spec `json:"category"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("decode: %s", err)
	}
	created, err := s.categories.Create(ctx, req.Category)
	if err != nil {
		return err
	}
	s.dispatcher.CategoryChanged(created.Name)
	s.broadcastCategories("category-created", created.Name)
	return nil
}

func (s *Server) handleUpdateCategory(ctx context.Context, c *conn, raw json.RawMessage) error {
	var req struct {
		Name     string        `json:"name"`
		Category category.Spec `json:"category"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("decode: %s", err)
	}
	updated, err := s.categories.Update(ctx, req.Name, req.Category)
	if err != nil {
		return err
	}
	s.dispatcher.CategoryChanged(updated.Name)
	s.broadcastCategories("category-updated", updated.Name)
	return nil
}

func (s *Server) handleRenameCategory(ctx context.Context, c *conn, raw json.RawMessage) error {
	var req struct {
		OldName string `json:"oldName"`
		NewName string `json:"newName"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("decode: %s", err)
	}
	if err := s.categories.Rename(ctx, req.OldName, req.NewName); err != nil {
		return err
	}
	s.dispatcher.CategoryChanged(req.NewName)
	s.broadcastCategories("category-updated", req.NewName)
	return nil
}

func (s *Server) handleDeleteCategory(ctx context.Context, c *conn, raw json.RawMessage) error {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("decode: %s", err)
	}
	if err := s.categories.Delete(ctx, req.Name); err != nil {
		return err
	}
	s.dispatcher.CategoryChanged(req.Name)
	s.broadcastCategories("category-deleted", req.Name)
	return nil
}

func (s *Server) broadcastCategories(event, name string) {
	s.BroadcastStatic(map[string]string{"type": event, "name": name})
	s.BroadcastStatic(map[string]interface{}{
		"type":       "categories-update",
		"categories": s.categories.GetAllForFrontend(),
	})
}

func (s *Server) handleGetHistory(ctx context.Context, c *conn, raw json.RawMessage) error {
	var req struct {
		Limit int `json:"limit"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("decode: %s", err)
	}
	records, err := s.hist.List(req.Limit)
	if err != nil {
		return err
	}
	c.sendJSON(map[string]interface{}{"type": "history-update", "records": records})
	return nil
}

func (s *Server) handleClearHistory(ctx context.Context, c *conn, raw json.RawMessage) error {
	if err := s.hist.Clear(); err != nil {
		return err
	}
	s.dispatcher.HistoryCleared()
	s.BroadcastStatic(map[string]interface{}{
		"type": "history-update", "records": []struct{}{},
	})
	return nil
}

func (s *Server) handleRefreshSharedFiles(ctx context.Context, c *conn, raw json.RawMessage) error {
	var req struct {
		InstanceID string `json:"instanceId"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("decode: %s", err)
	}
	e, err := s.ed2kAdapter(req.InstanceID)
	if err != nil {
		return err
	}
	if err := e.RefreshSharedFiles(ctx); err != nil {
		return err
	}
	c.sendJSON(map[string]string{"type": "shared-files-refreshed", "instanceId": e.InstanceID()})
	return nil
}

func (s *Server) handleGetServersList(ctx context.Context, c *conn, raw json.RawMessage) error {
	var req struct {
		InstanceID string `json:"instanceId"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("decode: %s", err)
	}
	e, err := s.ed2kAdapter(req.InstanceID)
	if err != nil {
		return err
	}
	servers, err := e.GetServersList(ctx)
	if err != nil {
		return err
	}
	c.sendJSON(map[string]interface{}{"type": "servers-update", "servers": servers})
	return nil
}

func (s *Server) handleServerDoAction(ctx context.Context, c *conn, raw json.RawMessage) error {
	var req struct {
		InstanceID string            `json:"instanceId"`
		Action     string            `json:"serverAction"`
		Args       map[string]string `json:"args"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("decode: %s", err)
	}
	e, err := s.ed2kAdapter(req.InstanceID)
	if err != nil {
		return err
	}
	if err := e.ServerDoAction(ctx, req.Action, req.Args); err != nil {
		return err
	}
	c.sendJSON(map[string]string{"type": "server-action", "action": req.Action})
	return nil
}

func (s *Server) handleGetStatsTree(ctx context.Context, c *conn, raw json.RawMessage) error {
	var req struct {
		InstanceID string `json:"instanceId"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("decode: %s", err)
	}
	e, err := s.ed2kAdapter(req.InstanceID)
	if err != nil {
		return err
	}
	tree, err := e.GetStatsTree(ctx)
	if err != nil {
		return err
	}
	c.sendJSON(map[string]interface{}{"type": "stats-tree-update", "tree": tree})
	return nil
}

func (s *Server) handleGetServerInfo(ctx context.Context, c *conn, raw json.RawMessage) error {
	type instanceInfo struct {
		InstanceID string                `json:"instanceId"`
		Client     core.ClientType       `json:"client"`
		Connected  bool                  `json:"connected"`
		Network    adapter.NetworkStatus `json:"network"`
		Metrics    adapter.Metrics       `json:"metrics"`
	}
	var infos []instanceInfo
	for _, a := range s.registry.GetAll() {
		info := instanceInfo{
			InstanceID: a.InstanceID(),
			Client:     a.Type(),
			Connected:  a.IsConnected(),
		}
		if a.IsConnected() {
			if stats, err := a.GetStats(ctx); err == nil {
				info.Network = a.GetNetworkStatus(stats)
				info.Metrics = a.ExtractMetrics(stats)
			}
		}
		infos = append(infos, info)
	}
	c.sendJSON(map[string]interface{}{"type": "server-info-update", "instances": infos})
	return nil
}

func (s *Server) handleGetLog(ctx context.Context, c *conn, raw json.RawMessage) error {
	return s.sendLog(ctx, c, raw, false)
}

func (s *Server) handleGetAppLog(ctx context.Context, c *conn, raw json.RawMessage) error {
	return s.sendLog(ctx, c, raw, true)
}

func (s *Server) sendLog(ctx context.Context, c *conn, raw json.RawMessage, appLog bool) error {
	var req struct {
		InstanceID string `json:"instanceId"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("decode: %s", err)
	}
	e, err := s.ed2kAdapter(req.InstanceID)
	if err != nil {
		return err
	}
	text, err := e.GetLog(ctx, appLog)
	if err != nil {
		return err
	}
	c.sendJSON(map[string]interface{}{"type": "log-update", "appLog": appLog, "log": text})
	return nil
}
