package wsserver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/lib/adapter"
	"github.com/peerhub/peerhub/utils/log"
)

// batchItem identifies one item in a batch mutation request.
type batchItem struct {
	FileHash   string `json:"fileHash"`
	InstanceID string `json:"instanceId"`
	FileName   string `json:"fileName"`
}

func (i batchItem) key() string {
	return core.NewCompoundKey(i.InstanceID, i.FileHash)
}

// batchResult is the per-item outcome.
type batchResult struct {
	FileHash string `json:"fileHash"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	Denied   bool   `json:"denied,omitempty"`
}

type batchRequest struct {
	Items []batchItem `json:"items"`
}

// runBatch executes fn per item with ownership enforcement, rebroadcasts
// once, and replies with per-item results. A failed item never aborts the
// rest.
func (s *Server) runBatch(
	ctx context.Context,
	c *conn,
	items []batchItem,
	action string,
	fn func(ctx context.Context, a adapter.Adapter, item batchItem) error) error {

	if len(items) > s.config.BatchLimit {
		return fmt.Errorf("batch exceeds %d items", s.config.BatchLimit)
	}
	results := make([]batchResult, 0, len(items))
	failed := 0
	for _, item := range items {
		r := batchResult{FileHash: item.FileHash}
		ok, err := s.canMutate(c.user, item.key())
		if err != nil {
			r.Error = err.Error()
		} else if !ok {
			r.Denied = true
			r.Error = "Insufficient permissions"
		} else if a, err := s.registry.Get(item.InstanceID); err != nil {
			r.Error = err.Error()
		} else if err := fn(ctx, a, item); err != nil {
			r.Error = err.Error()
		} else {
			r.Success = true
		}
		if !r.Success {
			failed++
		}
		results = append(results, r)
	}
	s.rebroadcast()

	message := fmt.Sprintf("%d of %d items processed", len(items)-failed, len(items))
	c.sendJSON(map[string]interface{}{
		"type":    action + "-complete",
		"results": results,
		"message": message,
	})
	return nil
}

func decodeBatch(raw json.RawMessage) ([]batchItem, error) {
	var req batchRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("decode: %s", err)
	}
	return req.Items, nil
}

func (s *Server) handleBatchPause(ctx context.Context, c *conn, raw json.RawMessage) error {
	items, err := decodeBatch(raw)
	if err != nil {
		return err
	}
	return s.runBatch(ctx, c, items, "batch-pause",
		func(ctx context.Context, a adapter.Adapter, item batchItem) error {
			return a.Pause(ctx, item.FileHash)
		})
}

func (s *Server) handleBatchResume(ctx context.Context, c *conn, raw json.RawMessage) error {
	items, err := decodeBatch(raw)
	if err != nil {
		return err
	}
	return s.runBatch(ctx, c, items, "batch-resume",
		func(ctx context.Context, a adapter.Adapter, item batchItem) error {
			return a.Resume(ctx, item.FileHash)
		})
}

func (s *Server) handleBatchStop(ctx context.Context, c *conn, raw json.RawMessage) error {
	items, err := decodeBatch(raw)
	if err != nil {
		return err
	}
	return s.runBatch(ctx, c, items, "batch-stop",
		func(ctx context.Context, a adapter.Adapter, item batchItem) error {
			return a.Stop(ctx, item.FileHash)
		})
}

func (s *Server) handleBatchSetCategory(ctx context.Context, c *conn, raw json.RawMessage) error {
	var req struct {
		Items []batchItem `json:"items"`
		Label string      `json:"label"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("decode: %s", err)
	}
	if err := s.ensureCategory(ctx, req.Label); err != nil {
		return err
	}
	return s.runBatch(ctx, c, req.Items, "batch-set-file-category",
		func(ctx context.Context, a adapter.Adapter, item batchItem) error {
			return a.SetCategory(ctx, item.FileHash, adapter.CategoryAssignment{
				CategoryName: req.Label,
			})
		})
}

func (s *Server) handleBatchDelete(ctx context.Context, c *conn, raw json.RawMessage) error {
	var req struct {
		Items       []batchItem `json:"items"`
		DeleteFiles bool        `json:"deleteFiles"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("decode: %s", err)
	}
	cached := s.cachedItems()
	refreshed := make(map[string]adapter.Ed2kAdapter)

	err := s.runBatch(ctx, c, req.Items, "batch-delete",
		func(ctx context.Context, a adapter.Adapter, item batchItem) error {
			return s.deleteItem(ctx, a, item, req.DeleteFiles, cached, refreshed)
		})
	if err != nil {
		return err
	}

	// Shared-file deletions need the client to drop the entry before the
	// next broadcast reflects it.
	if len(refreshed) > 0 {
		for _, e := range refreshed {
			if err := e.RefreshSharedFiles(ctx); err != nil {
				log.With("instance", e.InstanceID()).Errorf("Refresh shared: %s", err)
			}
		}
		s.clk.Sleep(s.config.RefreshSharedDelay)
		s.rebroadcast()
	}
	return nil
}

// deleteItem removes one download. Clients whose API cannot delete data
// return paths the core must remove from the local filesystem after
// translation.
func (s *Server) deleteItem(
	ctx context.Context,
	a adapter.Adapter,
	item batchItem,
	deleteFiles bool,
	cached map[string]*core.UnifiedItem,
	refreshed map[string]adapter.Ed2kAdapter) error {

	meta, _ := core.LookupMeta(a.Type())
	opts := adapter.DeleteOptions{DeleteFiles: deleteFiles}
	if ci, ok := cached[item.key()]; ok {
		opts.IsShared = ci.Shared && !ci.Downloading
		if ci.Torrent != nil {
			opts.FilePath = ci.Torrent.SavePath
		}
	}
	if opts.IsShared && deleteFiles && !meta.Capabilities.RemoveSharedMustDeleteFiles {
		return fmt.Errorf("client cannot delete shared file data")
	}

	res, err := a.Delete(ctx, item.FileHash, opts)
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("client rejected delete")
	}

	deletedFromDisk := deleteFiles && meta.Capabilities.APIDeletesFiles
	for _, remote := range res.PathsToDelete {
		local := s.categories.TranslatePath(remote, a.Type(), a.InstanceID())
		if err := os.RemoveAll(local); err != nil {
			return fmt.Errorf("delete %s: %s", local, err)
		}
		deletedFromDisk = true
	}

	if opts.IsShared && meta.Capabilities.RefreshSharedAfterDelete {
		if e, ok := a.(adapter.Ed2kAdapter); ok {
			refreshed[a.InstanceID()] = e
		}
	}

	if err := s.users.RemoveOwnership(item.key()); err != nil {
		log.With("key", item.key()).Errorf("Remove ownership: %s", err)
	}
	s.dispatcher.FileDeleted(item.key(), deletedFromDisk)
	return nil
}

// cachedItems indexes the latest cached batch by compound key.
func (s *Server) cachedItems() map[string]*core.UnifiedItem {
	m := make(map[string]*core.UnifiedItem)
	if batch, ok := s.fetcher.CachedBatch(s.config.CachedBatchMaxAge); ok {
		for _, item := range batch.Items {
			m[item.Key()] = item
		}
	}
	return m
}
