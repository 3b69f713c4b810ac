package qbitapi

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/lib/adapter"
	"github.com/peerhub/peerhub/utils/handler"
	"github.com/peerhub/peerhub/utils/log"
)

// etaCap is the qBittorrent "infinite" ETA sentinel (100 days in seconds).
const etaCap = 8640000

// torrentInfo is one row of /api/v2/torrents/info.
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
	ETA        int64   `json:"eta"`
	AddedOn    int64   `json:"added_on"`
	SavePath   string  `json:"save_path"`
	Ratio      float64 `json:"ratio"`
	NumSeeds   int     `json:"num_seeds"`
	NumLeechs  int     `json:"num_leechs"`
}

// mapState translates the unified status into the qBittorrent state
// vocabulary.
func mapState(item *core.UnifiedItem) string {
	switch {
	case item.MoveStatus == string(core.MoveMoving) ||
		item.MoveStatus == string(core.MoveVerifying) ||
		item.Status == core.StatusMoving:
		return "moving"
	case item.Status == core.StatusError:
		return "error"
	case item.Status == core.StatusChecking:
		return "checkingDL"
	case (item.Status == core.StatusPaused || item.Status == core.StatusStopped) &&
		item.Complete:
		return "pausedUP"
	case item.Status == core.StatusPaused || item.Status == core.StatusStopped:
		return "pausedDL"
	case item.Status == core.StatusQueued && item.Complete:
		return "queuedUP"
	case item.Status == core.StatusQueued:
		return "queuedDL"
	case item.Complete && item.UploadSpeed > 0:
		return "uploading"
	case item.Complete:
		return "stalledUP"
	case item.Size == 0:
		return "metaDL"
	case item.DownloadSpeed > 0:
		return "downloading"
	default:
		return "stalledDL"
	}
}

// apiHash is the hash an item is addressed by on this surface: the real
// info-hash for torrents, a synthetic 40-hex hash for ed2k items.
func (s *Server) apiHash(item *core.UnifiedItem) (string, error) {
	meta, ok := core.LookupMeta(item.Client)
	if ok && meta.NetworkType == core.NetworkED2K {
		return s.hashes.Synthetic(item.Hash)
	}
	return strings.ToLower(item.Hash), nil
}

func (s *Server) infoHandler(w http.ResponseWriter, r *http.Request) error {
	items, err := s.currentItems(r.Context())
	if err != nil {
		return handler.Errorf("fetch items: %s", err)
	}
	filter := r.URL.Query().Get("category")

	infos := make([]torrentInfo, 0, len(items))
	for _, item := range items {
		if filter != "" && item.Category != filter {
			continue
		}
		hash, err := s.apiHash(item)
		if err != nil {
			log.With("hash", item.Hash).Errorf("Synthetic hash: %s", err)
			continue
		}
		eta := item.ETA
		if eta <= 0 || eta > etaCap {
			eta = etaCap
		}
		savePath := ""
		if item.Torrent != nil {
			savePath = item.Torrent.SavePath
		}
		infos = append(infos, torrentInfo{
			Hash:      hash,
			Name:      item.Name,
			Size:      item.Size,
			Completed: item.SizeDownloaded,
			Progress:  item.Progress,
			DlSpeed:   item.DownloadSpeed,
			UpSpeed:   item.UploadSpeed,
			State:     mapState(item),
			Category:  item.Category,
			ETA:       eta,
			AddedOn:   item.AddedAt.Unix(),
			SavePath:  savePath,
			Ratio:     item.Ratio,
			NumSeeds:  item.Sources.Seeders,
			NumLeechs: item.Sources.Connected,
		})
	}
	return handler.EncodeJSON(w, infos)
}

func (s *Server) addHandler(w http.ResponseWriter, r *http.Request) error {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		if err := r.ParseForm(); err != nil {
			return handler.Errorf("parse form: %s", err).Status(http.StatusBadRequest)
		}
	}
	categoryName := r.FormValue("category")

	urls := strings.FieldsFunc(r.FormValue("urls"), func(c rune) bool {
		return c == '\n' || c == '\r'
	})
	for _, u := range urls {
		if err := s.addURL(r.Context(), u, categoryName); err != nil {
			return handler.Errorf("add %s: %s", u, err).Status(http.StatusUnsupportedMediaType)
		}
	}
	if r.MultipartForm != nil {
		for _, headers := range r.MultipartForm.File {
			for _, h := range headers {
				f, err := h.Open()
				if err != nil {
					return handler.Errorf("open upload: %s", err)
				}
				raw, err := ioutil.ReadAll(f)
				f.Close()
				if err != nil {
					return handler.Errorf("read upload: %s", err)
				}
				a, err := s.torrentAdapter()
				if err != nil {
					return handler.Errorf("%s", err).Status(http.StatusServiceUnavailable)
				}
				if _, err := a.AddTorrentRaw(r.Context(), raw, adapter.AddOptions{
					CategoryName: categoryName,
				}); err != nil {
					return handler.Errorf("add torrent: %s", err).Status(http.StatusUnsupportedMediaType)
				}
			}
		}
	}
	fmt.Fprint(w, "Ok.")
	return nil
}

func (s *Server) addURL(ctx context.Context, u, categoryName string) error {
	if strings.HasPrefix(u, "ed2k://") {
		for _, a := range s.registry.GetConnected() {
			if e, ok := a.(adapter.Ed2kAdapter); ok {
				_, err := e.AddEd2kLink(ctx, u, 0)
				return err
			}
		}
		return fmt.Errorf("no connected ed2k instance")
	}
	a, err := s.torrentAdapter()
	if err != nil {
		return err
	}
	_, err = a.AddMagnet(ctx, u, adapter.AddOptions{CategoryName: categoryName})
	return err
}

func (s *Server) torrentAdapter() (adapter.Adapter, error) {
	for _, a := range s.registry.GetConnected() {
		meta, ok := core.LookupMeta(a.Type())
		if ok && meta.NetworkType == core.NetworkBitTorrent {
			return a, nil
		}
	}
	return nil, fmt.Errorf("no connected bittorrent instance")
}

func (s *Server) pauseHandler(w http.ResponseWriter, r *http.Request) error {
	return s.eachRequestedItem(r, func(ctx context.Context, a adapter.Adapter, hash string) error {
		return a.Pause(ctx, hash)
	})
}

func (s *Server) resumeHandler(w http.ResponseWriter, r *http.Request) error {
	return s.eachRequestedItem(r, func(ctx context.Context, a adapter.Adapter, hash string) error {
		return a.Resume(ctx, hash)
	})
}

func (s *Server) deleteHandler(w http.ResponseWriter, r *http.Request) error {
	deleteFiles := false
	if err := r.ParseForm(); err == nil {
		deleteFiles = r.PostFormValue("deleteFiles") == "true"
	}
	return s.eachRequestedItem(r, func(ctx context.Context, a adapter.Adapter, hash string) error {
		_, err := a.Delete(ctx, hash, adapter.DeleteOptions{DeleteFiles: deleteFiles})
		return err
	})
}

// eachRequestedItem resolves the pipe-separated "hashes" form field (or
// "all") against the current item list and applies fn per item. Per-item
// failures are logged, matching the all-or-nothing-free semantics of the
// original WebUI.
func (s *Server) eachRequestedItem(
	r *http.Request,
	fn func(ctx context.Context, a adapter.Adapter, hash string) error) error {

	if err := r.ParseForm(); err != nil {
		return handler.Errorf("parse form: %s", err).Status(http.StatusBadRequest)
	}
	spec := r.PostFormValue("hashes")
	if spec == "" {
		return handler.Errorf("missing hashes").Status(http.StatusBadRequest)
	}
	items, err := s.currentItems(r.Context())
	if err != nil {
		return handler.Errorf("fetch items: %s", err)
	}

	wanted := make(map[string]bool)
	all := spec == "all"
	if !all {
		for _, h := range strings.Split(spec, "|") {
			wanted[strings.ToLower(h)] = true
		}
	}
	for _, item := range items {
		hash, err := s.apiHash(item)
		if err != nil {
			continue
		}
		if !all && !wanted[hash] {
			continue
		}
		a, err := s.registry.Get(item.InstanceID)
		if err != nil {
			log.With("instance", item.InstanceID).Errorf("Resolve instance: %s", err)
			continue
		}
		if err := fn(r.Context(), a, item.Hash); err != nil {
			log.With("hash", item.Hash).Errorf("Compat mutation: %s", err)
		}
	}
	return nil
}

func (s *Server) currentItems(ctx context.Context) ([]*core.UnifiedItem, error) {
	if batch, ok := s.fetcher.CachedBatch(time.Minute); ok {
		return batch.Items, nil
	}
	batch, err := s.fetcher.FetchBatch(ctx)
	if err != nil {
		return nil, err
	}
	return batch.Items, nil
}
