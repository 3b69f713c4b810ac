package wsserver

import (
	"context"
	"time"

	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/lib/fetch"
	"github.com/peerhub/peerhub/utils/log"
)

// batchUpdate is the outbound item list message.
type batchUpdate struct {
	Type      string              `json:"type"`
	Items     []*core.UnifiedItem `json:"items"`
	FetchedAt time.Time           `json:"fetchedAt"`
}

// batchUpdateFor tailors a batch to one user: unrestricted viewers get every
// item annotated with the correct ownership flag, everyone else gets only
// the items they own, each annotated ownedByMe=true.
func (s *Server) batchUpdateFor(batch *fetch.Batch, u *core.User) (*batchUpdate, error) {
	keys := make([]string, len(batch.Items))
	for i, item := range batch.Items {
		keys[i] = item.Key()
	}
	owners, err := s.users.OwnersBatch(keys)
	if err != nil {
		return nil, err
	}

	seesAll := u.HasCapability(core.CapViewAllDownloads)
	items := make([]*core.UnifiedItem, 0, len(batch.Items))
	for _, item := range batch.Items {
		owner, owned := owners[item.Key()]
		ownedByMe := owned && owner == u.ID
		if !seesAll && !ownedByMe {
			continue
		}
		copied := *item
		copied.OwnedByMe = ownedByMe
		items = append(items, &copied)
	}
	return &batchUpdate{Type: "batch-update", Items: items, FetchedAt: batch.FetchedAt}, nil
}

// BroadcastBatch pushes one assembled batch to every connection through the
// per-user transform. The scheduler calls this after each tick.
func (s *Server) BroadcastBatch(batch *fetch.Batch) {
	if batch == nil {
		return
	}
	s.Broadcast(func(u *core.User) interface{} {
		msg, err := s.batchUpdateFor(batch, u)
		if err != nil {
			return nil
		}
		return msg
	})
}

// rebroadcast performs an out-of-band fetch and pushes the result, called
// once after a mutation so observers converge before the next scheduled
// tick. The stale cache is pushed only when the fetch itself fails.
func (s *Server) rebroadcast() {
	batch, err := s.fetcher.FetchBatch(context.Background())
	if err != nil {
		log.Errorf("Post-mutation fetch: %s", err)
		if cached, ok := s.fetcher.CachedBatch(s.config.CachedBatchMaxAge); ok {
			s.BroadcastBatch(cached)
		}
		return
	}
	s.BroadcastBatch(batch)
}

// canMutate reports whether u may mutate the item under key. Admins and
// edit_all_downloads holders may mutate anything; others only what they own.
func (s *Server) canMutate(u *core.User, key string) (bool, error) {
	if u.HasCapability(core.CapEditAllDownloads) {
		return true, nil
	}
	owners, err := s.users.OwnersBatch([]string{key})
	if err != nil {
		return false, err
	}
	owner, ok := owners[key]
	return ok && owner == u.ID, nil
}
