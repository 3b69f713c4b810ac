package wsserver

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/lib/adapter"
	"github.com/peerhub/peerhub/utils/osutil"
)

// permissionResult is the per-item outcome of a filesystem probe action.
type permissionResult struct {
	FileHash string `json:"fileHash"`
	Code     string `json:"code"`
	Detail   string `json:"detail,omitempty"`
}

// Delete probe result codes.
const (
	codeOK           = "ok"
	codeManaged      = "managed"
	codeNotVisible   = "not_visible"
	codeNoPermission = "no_permission"
	codeNotFound     = "not_found"
	codeNoPath       = "no_path"
	codeError        = "error"
)

// Move probe result codes.
const (
	codeSamePath    = "same_path"
	codeDestError   = "dest_error"
	codeSourceError = "source_error"
	codeNoDestPath  = "no_dest_path"
)

func (s *Server) handleCheckDeletePermissions(
	ctx context.Context, c *conn, raw json.RawMessage) error {

	items, err := decodeBatch(raw)
	if err != nil {
		return err
	}
	if len(items) > s.config.BatchLimit {
		return fmt.Errorf("batch exceeds %d items", s.config.BatchLimit)
	}
	cached := s.cachedItems()

	results := make([]permissionResult, 0, len(items))
	for _, item := range items {
		results = append(results, s.checkDeleteItem(c, item, cached))
	}
	c.sendJSON(map[string]interface{}{"type": "delete-permissions", "results": results})
	return nil
}

func (s *Server) checkDeleteItem(
	c *conn, item batchItem, cached map[string]*core.UnifiedItem) permissionResult {

	r := permissionResult{FileHash: item.FileHash}
	ok, err := s.canMutate(c.user, item.key())
	if err != nil {
		r.Code = codeError
		r.Detail = err.Error()
		return r
	}
	if !ok {
		r.Code = codeNotVisible
		return r
	}
	ci, found := cached[item.key()]
	if !found {
		r.Code = codeNotFound
		return r
	}
	a, err := s.registry.Get(item.InstanceID)
	if err != nil {
		r.Code = codeNotFound
		return r
	}
	meta, _ := core.LookupMeta(a.Type())
	// The client's own API removes the data; no local probe applies.
	if meta.Capabilities.APIDeletesFiles {
		r.Code = codeManaged
		return r
	}
	local := s.localItemDir(ci, a.Type())
	if local == "" {
		r.Code = codeNoPath
		return r
	}
	switch status := osutil.ProbePath(local); {
	case !status.Exists:
		r.Code = codeNotFound
		r.Detail = local
	case !status.Writable:
		r.Code = codeNoPermission
		r.Detail = local
	default:
		r.Code = codeOK
	}
	return r
}

func (s *Server) handleCheckMovePermissions(
	ctx context.Context, c *conn, raw json.RawMessage) error {

	var req struct {
		Items        []batchItem `json:"items"`
		CategoryName string      `json:"categoryName"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("decode: %s", err)
	}
	if len(req.Items) > s.config.BatchLimit {
		return fmt.Errorf("batch exceeds %d items", s.config.BatchLimit)
	}
	cached := s.cachedItems()

	results := make([]permissionResult, 0, len(req.Items))
	for _, item := range req.Items {
		results = append(results, s.checkMoveItem(item, req.CategoryName, cached))
	}
	c.sendJSON(map[string]interface{}{"type": "move-permissions", "results": results})
	return nil
}

func (s *Server) checkMoveItem(
	item batchItem, categoryName string,
	cached map[string]*core.UnifiedItem) permissionResult {

	r := permissionResult{FileHash: item.FileHash}
	ci, found := cached[item.key()]
	if !found {
		r.Code = codeNotFound
		return r
	}
	a, err := s.registry.Get(item.InstanceID)
	if err != nil {
		r.Code = codeNotFound
		return r
	}
	source := s.localItemDir(ci, a.Type())
	if source == "" {
		r.Code = codeNoPath
		return r
	}
	dest, err := s.categories.ResolveCategoryDestPaths(categoryName, a.Type(), item.InstanceID)
	if err != nil || dest.Local == "" {
		r.Code = codeNoDestPath
		return r
	}
	if dest.Local == source {
		r.Code = codeSamePath
		return r
	}
	if status := osutil.ProbePath(dest.Local); !status.Exists || !status.Writable {
		r.Code = codeDestError
		r.Detail = dest.Local
		return r
	}
	meta, _ := core.LookupMeta(a.Type())
	if !meta.Capabilities.NativeMove {
		if status := osutil.ProbePath(source); !status.Exists || !status.Writable {
			r.Code = codeSourceError
			r.Detail = source
			return r
		}
	}
	r.Code = codeOK
	return r
}

func (s *Server) handleMoveFiles(ctx context.Context, c *conn, raw json.RawMessage) error {
	var req struct {
		Items        []batchItem `json:"items"`
		CategoryName string      `json:"categoryName"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("decode: %s", err)
	}
	cached := s.cachedItems()

	return s.runBatch(ctx, c, req.Items, "move",
		func(ctx context.Context, a adapter.Adapter, item batchItem) error {
			return s.queueItemMove(item, req.CategoryName, cached)
		})
}

func (s *Server) queueItemMove(
	item batchItem, categoryName string, cached map[string]*core.UnifiedItem) error {

	ci, found := cached[item.key()]
	if !found {
		return fmt.Errorf("item not in current batch")
	}
	a, err := s.registry.Get(item.InstanceID)
	if err != nil {
		return err
	}
	dest, err := s.categories.ResolveCategoryDestPaths(categoryName, a.Type(), item.InstanceID)
	if err != nil {
		return fmt.Errorf("resolve destination: %s", err)
	}
	source := s.remoteItemPath(ci, a.Type())
	if source == "" {
		return fmt.Errorf("item has no source path")
	}
	meta, _ := core.LookupMeta(a.Type())
	return s.moves.QueueMove(&core.MoveOperation{
		CompoundKey:      item.key(),
		Name:             ci.Name,
		ClientType:       a.Type(),
		SourcePathRemote: source,
		DestPathLocal:    dest.Local,
		DestPathRemote:   dest.Remote,
		TotalSize:        ci.Size,
		IsMultiFile:      meta.Capabilities.MultiFile && ci.Torrent != nil,
		CategoryName:     categoryName,
	})
}

func (s *Server) handleDismissMove(ctx context.Context, c *conn, raw json.RawMessage) error {
	var req struct {
		CompoundKey string `json:"compoundKey"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("decode: %s", err)
	}
	if err := s.moves.Dismiss(req.CompoundKey); err != nil {
		return err
	}
	c.sendJSON(map[string]string{"type": "move-dismissed", "compoundKey": req.CompoundKey})
	s.rebroadcast()
	return nil
}

// remoteItemPath is the item's path as the client sees it.
func (s *Server) remoteItemPath(ci *core.UnifiedItem, t core.ClientType) string {
	base := ""
	if ci.Torrent != nil && ci.Torrent.SavePath != "" {
		base = ci.Torrent.SavePath
	} else {
		base = s.categories.ClientDefaultPath(ci.InstanceID)
	}
	if base == "" {
		return ""
	}
	return filepath.Join(base, ci.Name)
}

// localItemDir is the directory holding the item, as the app sees it.
func (s *Server) localItemDir(ci *core.UnifiedItem, t core.ClientType) string {
	base := ""
	if ci.Torrent != nil && ci.Torrent.SavePath != "" {
		base = ci.Torrent.SavePath
	} else {
		base = s.categories.ClientDefaultPath(ci.InstanceID)
	}
	if base == "" {
		return ""
	}
	return s.categories.TranslatePath(base, t, ci.InstanceID)
}
