// Package torznab exposes ed2k search as a Torznab indexer, so media
// managers can search the ed2k network the same way they query torrent
// indexers. Results carry the synthetic infohash issued by hashstore, which
// lets callers correlate a grabbed release with the item the torrent WebUI
// facade later reports.
package torznab

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi"
	"github.com/uber-go/tally"

	"github.com/peerhub/peerhub/compat/hashstore"
	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/lib/adapter"
	"github.com/peerhub/peerhub/lib/clientregistry"
	"github.com/peerhub/peerhub/lib/middleware"
	"github.com/peerhub/peerhub/utils/handler"
	"github.com/peerhub/peerhub/utils/log"
)

// Config defines Server configuration.
type Config struct {
	Title string `yaml:"title"`

	// AuthDisabled admits every request without an API key.
	AuthDisabled bool `yaml:"auth_disabled"`
}

func (c Config) applyDefaults() Config {
	if c.Title == "" {
		c.Title = "peerhub ed2k indexer"
	}
	return c
}

// Users resolves accounts for API key auth.
type Users interface {
	GetUserByAPIKey(key string) (*core.User, error)
}

// Server is the Torznab indexer facade.
type Server struct {
	config   Config
	stats    tally.Scope
	registry *clientregistry.Registry
	hashes   *hashstore.Store
	users    Users
}

// New creates a Server.
func New(
	config Config,
	stats tally.Scope,
	registry *clientregistry.Registry,
	hashes *hashstore.Store,
	users Users) *Server {

	return &Server{
		config:   config.applyDefaults(),
		stats:    stats.Tagged(map[string]string{"module": "torznab"}),
		registry: registry,
		hashes:   hashes,
		users:    users,
	}
}

// Handler returns the http handler for the indexer.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.HitCounter(s.stats))
	r.Use(middleware.LatencyTimer(s.stats))

	r.Get("/indexer/amule/api", handler.Wrap(s.apiHandler))
	return r
}

// torznabError is the Torznab error document. Indexer clients parse this
// instead of HTTP status codes.
type torznabError struct {
	XMLName     xml.Name `xml:"error"`
	Code        int      `xml:"code,attr"`
	Description string   `xml:"description,attr"`
}

func writeError(w http.ResponseWriter, code int, description string) error {
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	return writeXML(w, torznabError{Code: code, Description: description})
}

func writeXML(w http.ResponseWriter, doc interface{}) error {
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	if _, err := fmt.Fprint(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	return enc.Encode(doc)
}

func (s *Server) authenticate(r *http.Request) bool {
	if s.config.AuthDisabled {
		return true
	}
	key := r.URL.Query().Get("apikey")
	if key == "" {
		return false
	}
	u, err := s.users.GetUserByAPIKey(key)
	if err != nil {
		return false
	}
	return u.IsAdmin && !u.Disabled
}

func (s *Server) apiHandler(w http.ResponseWriter, r *http.Request) error {
	if !s.authenticate(r) {
		return writeError(w, 100, "Incorrect user credentials")
	}
	switch t := r.URL.Query().Get("t"); t {
	case "caps":
		return s.capsHandler(w)
	case "search", "tvsearch", "movie":
		return s.searchHandler(w, r)
	default:
		return writeError(w, 203, fmt.Sprintf("Function not available: %q", t))
	}
}

type capsDoc struct {
	XMLName    xml.Name       `xml:"caps"`
	Server     capsServer     `xml:"server"`
	Limits     capsLimits     `xml:"limits"`
	Searching  capsSearching  `xml:"searching"`
	Categories capsCategories `xml:"categories"`
}

type capsServer struct {
	Title string `xml:"title,attr"`
}

type capsLimits struct {
	Max     int `xml:"max,attr"`
	Default int `xml:"default,attr"`
}

type capsSearching struct {
	Search      capsSearch `xml:"search"`
	TVSearch    capsSearch `xml:"tv-search"`
	MovieSearch capsSearch `xml:"movie-search"`
}

type capsSearch struct {
	Available       string `xml:"available,attr"`
	SupportedParams string `xml:"supportedParams,attr"`
}

type capsCategories struct {
	Categories []capsCategory `xml:"category"`
}

type capsCategory struct {
	ID   int    `xml:"id,attr"`
	Name string `xml:"name,attr"`
}

func (s *Server) capsHandler(w http.ResponseWriter) error {
	return writeXML(w, capsDoc{
		Server: capsServer{Title: s.config.Title},
		Limits: capsLimits{Max: 200, Default: 100},
		Searching: capsSearching{
			Search:      capsSearch{Available: "yes", SupportedParams: "q"},
			TVSearch:    capsSearch{Available: "yes", SupportedParams: "q"},
			MovieSearch: capsSearch{Available: "yes", SupportedParams: "q"},
		},
		Categories: capsCategories{Categories: []capsCategory{
			{ID: 8000, Name: "Other"},
		}},
	})
}

type rssDoc struct {
	XMLName      xml.Name   `xml:"rss"`
	Version      string     `xml:"version,attr"`
	TorznabXmlns string     `xml:"xmlns:torznab,attr"`
	Channel      rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title       string    `xml:"title"`
	Description string    `xml:"description"`
	Items       []rssItem `xml:"item"`
}

type rssItem struct {
	Title     string        `xml:"title"`
	GUID      string        `xml:"guid"`
	Link      string        `xml:"link"`
	Size      int64         `xml:"size"`
	Category  int           `xml:"category"`
	Enclosure rssEnclosure  `xml:"enclosure"`
	Attrs     []torznabAttr `xml:"torznab:attr"`
}

type rssEnclosure struct {
	URL    string `xml:"url,attr"`
	Length int64  `xml:"length,attr"`
	Type   string `xml:"type,attr"`
}

type torznabAttr struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

func (s *Server) searchHandler(w http.ResponseWriter, r *http.Request) error {
	query := r.URL.Query().Get("q")
	channel := rssChannel{
		Title:       s.config.Title,
		Description: "ed2k search results",
	}
	if query != "" {
		a, err := s.ed2kAdapter()
		if err != nil {
			return writeError(w, 300, err.Error())
		}
		results, err := a.Search(r.Context(), query)
		if err != nil {
			return writeError(w, 300, fmt.Sprintf("search failed: %s", err))
		}
		for _, res := range results {
			item, err := s.rssItemFor(res)
			if err != nil {
				log.With("hash", res.Hash).Errorf("Build rss item: %s", err)
				continue
			}
			channel.Items = append(channel.Items, item)
		}
	}
	return writeXML(w, rssDoc{
		Version:      "2.0",
		TorznabXmlns: "http://torznab.com/schemas/2015/feed",
		Channel:      channel,
	})
}

func (s *Server) rssItemFor(res adapter.SearchResult) (rssItem, error) {
	infohash, err := s.hashes.Synthetic(res.Hash)
	if err != nil {
		return rssItem{}, fmt.Errorf("synthetic hash: %s", err)
	}
	link := ed2kLink(res)
	return rssItem{
		Title:    res.Name,
		GUID:     infohash,
		Link:     link,
		Size:     res.Size,
		Category: 8000,
		Enclosure: rssEnclosure{
			URL:    link,
			Length: res.Size,
			Type:   "application/x-ed2k",
		},
		Attrs: []torznabAttr{
			{Name: "seeders", Value: fmt.Sprint(res.Sources)},
			{Name: "peers", Value: fmt.Sprint(res.Sources)},
			{Name: "infohash", Value: infohash},
		},
	}, nil
}

// ed2kLink renders the standard ed2k file link for a search result.
func ed2kLink(res adapter.SearchResult) string {
	return fmt.Sprintf("ed2k://|file|%s|%d|%s|/",
		url.PathEscape(res.Name), res.Size, res.Hash)
}

func (s *Server) ed2kAdapter() (adapter.Ed2kAdapter, error) {
	for _, a := range s.registry.GetConnected() {
		if e, ok := a.(adapter.Ed2kAdapter); ok {
			return e, nil
		}
	}
	return nil, fmt.Errorf("no connected ed2k instance")
}
