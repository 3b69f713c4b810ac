package wsserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/lib/adapter"
	"github.com/peerhub/peerhub/lib/category"
	"github.com/peerhub/peerhub/utils/log"
)

// addResult is the per-link outcome of an add action.
type addResult struct {
	Link    string `json:"link,omitempty"`
	Hash    string `json:"hash,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleSearch(ctx context.Context, c *conn, raw json.RawMessage) error {
	var req struct {
		Query      string `json:"query"`
		InstanceID string `json:"instanceId"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("decode: %s", err)
	}
	if req.Query == "" {
		return fmt.Errorf("empty search query")
	}
	e, err := s.ed2kAdapter(req.InstanceID)
	if err != nil {
		return err
	}
	// One ed2k search at a time across all connections.
	if !s.acquireSearchLock() {
		return fmt.Errorf("a search is already running")
	}
	s.BroadcastStatic(map[string]interface{}{"type": "search-lock", "locked": true})
	defer func() {
		s.releaseSearchLock()
		s.BroadcastStatic(map[string]interface{}{"type": "search-lock", "locked": false})
	}()

	results, err := e.Search(ctx, req.Query)
	if err != nil {
		return err
	}
	c.sendJSON(map[string]interface{}{"type": "search-results", "results": results})
	return nil
}

func (s *Server) handleBatchDownload(ctx context.Context, c *conn, raw json.RawMessage) error {
	var req struct {
		Items []struct {
			Hash string `json:"hash"`
		} `json:"items"`
		Label      string `json:"label"`
		InstanceID string `json:"instanceId"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("decode: %s", err)
	}
	if len(req.Items) > s.config.BatchLimit {
		return fmt.Errorf("batch exceeds %d items", s.config.BatchLimit)
	}
	e, err := s.ed2kAdapter(req.InstanceID)
	if err != nil {
		return err
	}
	catID, err := s.ensureEd2kCategory(ctx, e, req.Label)
	if err != nil {
		return err
	}

	results := make([]addResult, 0, len(req.Items))
	for _, item := range req.Items {
		r := addResult{Hash: item.Hash}
		if err := e.AddSearchResult(ctx, item.Hash, catID); err != nil {
			r.Error = err.Error()
		} else {
			r.Success = true
			s.recordAdd(c, e.InstanceID(), item.Hash)
		}
		results = append(results, r)
	}
	s.rebroadcast()
	c.sendJSON(map[string]interface{}{"type": "batch-download-complete", "results": results})
	return nil
}

func (s *Server) handleAddEd2kLinks(ctx context.Context, c *conn, raw json.RawMessage) error {
	var req struct {
		Links      []string `json:"links"`
		Label      string   `json:"label"`
		InstanceID string   `json:"instanceId"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("decode: %s", err)
	}
	e, err := s.ed2kAdapter(req.InstanceID)
	if err != nil {
		return err
	}
	catID, err := s.ensureEd2kCategory(ctx, e, req.Label)
	if err != nil {
		return err
	}

	results := make([]addResult, 0, len(req.Links))
	for _, link := range req.Links {
		r := addResult{Link: link}
		hash, err := e.AddEd2kLink(ctx, link, catID)
		if err != nil {
			r.Error = err.Error()
		} else {
			r.Success = true
			r.Hash = hash
			s.recordAdd(c, e.InstanceID(), hash)
		}
		results = append(results, r)
	}
	s.rebroadcast()
	c.sendJSON(map[string]interface{}{"type": "ed2k-added", "results": results})
	return nil
}

func (s *Server) handleAddMagnetLinks(ctx context.Context, c *conn, raw json.RawMessage) error {
	var req struct {
		Links      []string `json:"links"`
		Label      string   `json:"label"`
		InstanceID string   `json:"instanceId"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("decode: %s", err)
	}
	a, err := s.torrentAdapter(req.InstanceID)
	if err != nil {
		return err
	}
	if err := s.ensureCategory(ctx, req.Label); err != nil {
		return err
	}

	results := make([]addResult, 0, len(req.Links))
	for _, link := range req.Links {
		r := addResult{Link: link}
		hash, err := a.AddMagnet(ctx, link, adapter.AddOptions{CategoryName: req.Label})
		if err != nil {
			r.Error = err.Error()
		} else {
			r.Success = true
			r.Hash = hash
			s.recordAdd(c, a.InstanceID(), hash)
		}
		results = append(results, r)
	}
	s.rebroadcast()
	c.sendJSON(map[string]interface{}{"type": "magnet-added", "results": results})
	return nil
}

func (s *Server) handleAddTorrentFile(ctx context.Context, c *conn, raw json.RawMessage) error {
	var req struct {
		FileName   string `json:"fileName"`
		FileData   string `json:"fileData"` // base64
		Label      string `json:"label"`
		InstanceID string `json:"instanceId"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("decode: %s", err)
	}
	data, err := base64.StdEncoding.DecodeString(req.FileData)
	if err != nil {
		return fmt.Errorf("decode torrent data: %s", err)
	}
	a, err := s.torrentAdapter(req.InstanceID)
	if err != nil {
		return err
	}
	if err := s.ensureCategory(ctx, req.Label); err != nil {
		return err
	}

	r := addResult{Link: req.FileName}
	hash, err := a.AddTorrentRaw(ctx, data, adapter.AddOptions{CategoryName: req.Label})
	if err != nil {
		r.Error = err.Error()
	} else {
		r.Success = true
		r.Hash = hash
		s.recordAdd(c, a.InstanceID(), hash)
	}
	s.rebroadcast()
	c.sendJSON(map[string]interface{}{"type": "torrent-added", "results": []addResult{r}})
	return nil
}

// torrentAdapter returns the target bittorrent instance, or the single
// connected one when instanceID is empty.
func (s *Server) torrentAdapter(instanceID string) (adapter.Adapter, error) {
	if instanceID != "" {
		return s.registry.Get(instanceID)
	}
	for _, a := range s.registry.GetConnected() {
		meta, ok := core.LookupMeta(a.Type())
		if ok && meta.NetworkType == core.NetworkBitTorrent {
			return a, nil
		}
	}
	return nil, fmt.Errorf("no connected bittorrent instance")
}

// ensureCategory creates label on first use, propagating it to every
// category-capable client.
func (s *Server) ensureCategory(ctx context.Context, label string) error {
	if label == "" {
		return nil
	}
	if _, err := s.categories.Get(label); err == nil {
		return nil
	}
	created, err := s.categories.Create(ctx, category.Spec{Name: label})
	if err != nil {
		return fmt.Errorf("create category: %s", err)
	}
	s.dispatcher.CategoryChanged(created.Name)
	s.broadcastCategories("category-created", created.Name)
	return nil
}

// ensureEd2kCategory resolves label to the client's native category id,
// creating the app category first if needed.
func (s *Server) ensureEd2kCategory(
	ctx context.Context, e adapter.Ed2kAdapter, label string) (int, error) {

	if label == "" {
		return 0, nil
	}
	if err := s.ensureCategory(ctx, label); err != nil {
		return 0, err
	}
	return e.EnsureAmuleCategoryID(ctx, label)
}

// recordAdd persists ownership of a fresh download and fires downloadAdded.
func (s *Server) recordAdd(c *conn, instanceID, hash string) {
	key := core.NewCompoundKey(instanceID, hash)
	if err := s.users.SetOwner(key, c.user.ID, s.clk.Now()); err != nil {
		log.With("key", key).Errorf("Record ownership: %s", err)
	}
	s.dispatcher.DownloadAdded(instanceID, key)
}
