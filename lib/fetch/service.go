// Package fetch runs the per-tick data pipeline: fan out to every connected
// client, assemble one unified item per (instance, hash), enrich, overlay
// in-flight moves, and publish the batch to an in-process cache.
package fetch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"golang.org/x/sync/errgroup"

	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/lib/adapter"
	"github.com/peerhub/peerhub/lib/clientregistry"
	"github.com/peerhub/peerhub/lib/history"
	"github.com/peerhub/peerhub/utils/dedup"
	"github.com/peerhub/peerhub/utils/log"
)

// Config defines Service configuration.
type Config struct {
	GeoCache  dedup.CacheConfig `yaml:"geo_cache"`
	HostCache dedup.CacheConfig `yaml:"host_cache"`
}

// History is the slice of the history store the pipeline consumes.
type History interface {
	RecordBatch(records []history.Record) error
	AddedAtBatch(keys []string) (map[string]time.Time, error)
}

// MoveOverlay reports in-flight move state per compound key.
type MoveOverlay interface {
	StatusFor(compoundKey string) (*core.MoveOperation, bool)
}

// Categories provides the category hint passed to adapter fetches.
type Categories interface {
	Snapshot() []*core.Category
}

// Batch is one assembled pipeline output.
type Batch struct {
	Items     []*core.UnifiedItem `json:"items"`
	FetchedAt time.Time           `json:"fetchedAt"`
}

// Service is the data fetch pipeline.
type Service struct {
	config     Config
	registry   *clientregistry.Registry
	categories Categories
	history    History
	moves      MoveOverlay
	enricher   *enricher
	clk        clock.Clock
	stats      tally.Scope

	mu     sync.RWMutex
	cached *Batch
}

// New creates a Service. geo and host may be nil, which disables the
// corresponding peer enrichment. moves may be nil when move support is
// disabled.
func New(
	config Config,
	registry *clientregistry.Registry,
	categories Categories,
	hist History,
	moves MoveOverlay,
	geo GeoResolver,
	host HostResolver,
	clk clock.Clock,
	stats tally.Scope) *Service {

	stats = stats.Tagged(map[string]string{"module": "fetch"})
	return &Service{
		config:     config,
		registry:   registry,
		categories: categories,
		history:    hist,
		moves:      moves,
		enricher:   newEnricher(config, geo, host, clk),
		clk:        clk,
		stats:      stats,
	}
}

// FetchBatch runs one full pipeline pass. A single instance failing never
// aborts the tick; its data is simply absent from the batch.
func (s *Service) FetchBatch(ctx context.Context) (*Batch, error) {
	adapters := s.registry.GetConnected()
	hint := s.categories.Snapshot()

	var mu sync.Mutex
	results := make(map[string]*adapter.FetchResult, len(adapters))

	var g errgroup.Group
	for _, a := range adapters {
		a := a
		g.Go(func() error {
			timer := s.stats.Tagged(map[string]string{
				"instance": a.InstanceID(),
			}).Timer("fetch").Start()
			r, err := a.FetchData(ctx, hint)
			timer.Stop()
			if err != nil {
				log.With("instance", a.InstanceID()).Errorf("Fetch failed: %s", err)
				return nil
			}
			mu.Lock()
			results[a.InstanceID()] = r
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	items := assemble(adapters, results)
	s.enricher.enrich(items)
	s.recordHistory(adapters, items)
	s.overlayMoves(items)

	sort.Slice(items, func(i, j int) bool { return items[i].Key() < items[j].Key() })
	batch := &Batch{Items: items, FetchedAt: s.clk.Now()}

	s.mu.Lock()
	s.cached = batch
	s.mu.Unlock()

	s.stats.Gauge("batch_items").Update(float64(len(items)))
	return batch, nil
}

// CachedBatch returns the latest batch if it is younger than maxAge.
func (s *Service) CachedBatch(maxAge time.Duration) (*Batch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cached == nil {
		return nil, false
	}
	if s.clk.Now().Sub(s.cached.FetchedAt) > maxAge {
		return nil, false
	}
	return s.cached, true
}

// recordHistory persists first-sight metadata and backfills added-at
// timestamps onto the batch.
func (s *Service) recordHistory(adapters []adapter.Adapter, items []*core.UnifiedItem) {
	if s.history == nil || len(items) == 0 {
		return
	}
	byInstance := make(map[string]adapter.Adapter, len(adapters))
	for _, a := range adapters {
		byInstance[a.InstanceID()] = a
	}

	records := make([]history.Record, 0, len(items))
	keys := make([]string, 0, len(items))
	for _, item := range items {
		keys = append(keys, item.Key())
		a, ok := byInstance[item.InstanceID]
		if !ok {
			continue
		}
		meta := a.ExtractHistoryMetadata(item)
		records = append(records, history.Record{
			CompoundKey: meta.CompoundKey,
			InstanceID:  item.InstanceID,
			Name:        meta.Name,
			Size:        meta.Size,
			Category:    meta.Category,
		})
	}
	if err := s.history.RecordBatch(records); err != nil {
		log.Errorf("Record history: %s", err)
	}
	addedAt, err := s.history.AddedAtBatch(keys)
	if err != nil {
		log.Errorf("Lookup added-at: %s", err)
		return
	}
	for _, item := range items {
		if t, ok := addedAt[item.Key()]; ok {
			item.AddedAt = t
		}
	}
}

// overlayMoves stamps in-flight move state onto the affected items. A moving
// item's status is "moving" regardless of what the client reported.
func (s *Service) overlayMoves(items []*core.UnifiedItem) {
	if s.moves == nil {
		return
	}
	for _, item := range items {
		op, ok := s.moves.StatusFor(item.Key())
		if !ok {
			continue
		}
		switch op.Status {
		case core.MovePending, core.MoveMoving, core.MoveVerifying:
			item.Status = core.StatusMoving
			item.MoveProgress = op.Progress()
			item.MoveStatus = string(op.Status)
			item.MoveFilesTotal = op.FilesTotal
			item.MoveFilesMoved = op.FilesMoved
			item.MoveCurrent = op.CurrentFile
		case core.MoveFailed:
			item.MoveStatus = string(op.Status)
		}
	}
}
