package fetch

import (
	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/lib/adapter"
)

// assemble folds per-instance fetch results into exactly one unified item per
// (instance, hash). Downloads seed the map; shared records merge into their
// download when one exists, otherwise stand alone; upload records only
// contribute peers to items already present.
func assemble(
	adapters []adapter.Adapter,
	results map[string]*adapter.FetchResult) []*core.UnifiedItem {

	byKey := make(map[string]*core.UnifiedItem)
	var order []string

	add := func(item *core.UnifiedItem) *core.UnifiedItem {
		key := item.Key()
		if existing, ok := byKey[key]; ok {
			return existing
		}
		byKey[key] = item
		order = append(order, key)
		return item
	}

	for _, a := range adapters {
		r, ok := results[a.InstanceID()]
		if !ok {
			continue
		}
		caps := core.MustMeta(a.Type()).Capabilities

		for _, item := range r.Downloads {
			item.Downloading = !item.Complete
			add(item).Normalize()
		}
		for _, item := range r.SharedFiles {
			existing := add(item)
			existing.Shared = true
			if existing != item && caps.SharedMeansComplete {
				// The download side of a file that already entered the shared
				// list: the shared record is authoritative about completion.
				existing.Complete = true
				existing.Seeding = existing.Seeding || item.Seeding
			}
			existing.Normalize()
		}
		for _, item := range r.Uploads {
			existing, ok := byKey[item.Key()]
			if !ok {
				continue
			}
			existing.ActiveUploads = append(existing.ActiveUploads, item.ActiveUploads...)
			if item.UploadSpeed > existing.UploadSpeed {
				existing.UploadSpeed = item.UploadSpeed
			}
		}
	}

	items := make([]*core.UnifiedItem, 0, len(order))
	for _, key := range order {
		items = append(items, byKey[key])
	}
	return items
}
