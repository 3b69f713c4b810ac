package fetch

import (
	"github.com/andres-erbsen/clock"

	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/utils/dedup"
)

// GeoResolver resolves a peer address into GeoIP data.
type GeoResolver interface {
	Resolve(addr string) (*core.Geo, error)
}

// HostResolver resolves a peer address into a hostname.
type HostResolver interface {
	Resolve(addr string) (string, error)
}

type geoCacheResolver struct{ r GeoResolver }

func (g geoCacheResolver) Resolve(key interface{}) (interface{}, error) {
	return g.r.Resolve(key.(string))
}

type hostCacheResolver struct{ r HostResolver }

func (h hostCacheResolver) Resolve(key interface{}) (interface{}, error) {
	return h.r.Resolve(key.(string))
}

// enricher attaches geo and hostname data to peers. Lookups are memoized per
// address, so a peer appearing on many items costs one resolution.
type enricher struct {
	geo  *dedup.Cache
	host *dedup.Cache
}

func newEnricher(config Config, geo GeoResolver, host HostResolver, clk clock.Clock) *enricher {
	e := &enricher{}
	if geo != nil {
		e.geo = dedup.NewCache(config.GeoCache, clk, geoCacheResolver{geo})
	}
	if host != nil {
		e.host = dedup.NewCache(config.HostCache, clk, hostCacheResolver{host})
	}
	return e
}

func (e *enricher) enrich(items []*core.UnifiedItem) {
	if e.geo == nil && e.host == nil {
		return
	}
	for _, item := range items {
		e.enrichPeers(item.PeersDetailed)
		e.enrichPeers(item.ActiveUploads)
	}
}

func (e *enricher) enrichPeers(peers []core.Peer) {
	for i := range peers {
		p := &peers[i]
		if p.Address == "" {
			continue
		}
		if e.geo != nil && p.Geo == nil {
			if v, err := e.geo.Get(p.Address); err == nil {
				if g, ok := v.(*core.Geo); ok {
					p.Geo = g
				}
			}
		}
		if e.host != nil && p.Hostname == "" {
			if v, err := e.host.Get(p.Address); err == nil {
				if h, ok := v.(string); ok {
					p.Hostname = h
				}
			}
		}
	}
}
