// Package qbitapi exposes the unified item list through a qBittorrent WebUI
// compatible surface, so torrent tooling (media managers, mobile apps) can
// drive peerhub without knowing about ed2k. ed2k downloads are presented as
// torrents under persisted synthetic 40-hex hashes.
package qbitapi

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/uber-go/tally"

	"github.com/peerhub/peerhub/compat/hashstore"
	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/lib/auth"
	"github.com/peerhub/peerhub/lib/category"
	"github.com/peerhub/peerhub/lib/clientregistry"
	"github.com/peerhub/peerhub/lib/fetch"
	"github.com/peerhub/peerhub/lib/middleware"
	"github.com/peerhub/peerhub/utils/handler"
	"github.com/peerhub/peerhub/utils/log"
)

// Config defines Server configuration.
type Config struct {
	AppVersion    string `yaml:"app_version"`
	WebAPIVersion string `yaml:"web_api_version"`

	// AuthDisabled admits every request as admin.
	AuthDisabled bool `yaml:"auth_disabled"`
}

func (c Config) applyDefaults() Config {
	if c.AppVersion == "" {
		c.AppVersion = "v4.3.9"
	}
	if c.WebAPIVersion == "" {
		c.WebAPIVersion = "2.8.3"
	}
	return c
}

// Users resolves accounts for Basic auth.
type Users interface {
	GetUserByUsername(username string) (*core.User, error)
	GetUserByAPIKey(key string) (*core.User, error)
}

// Server is the qBittorrent compatibility facade.
type Server struct {
	config     Config
	stats      tally.Scope
	registry   *clientregistry.Registry
	categories *category.Manager
	fetcher    *fetch.Service
	hashes     *hashstore.Store
	users      Users
}

// New creates a Server.
func New(
	config Config,
	stats tally.Scope,
	registry *clientregistry.Registry,
	categories *category.Manager,
	fetcher *fetch.Service,
	hashes *hashstore.Store,
	users Users) *Server {

	return &Server{
		config:     config.applyDefaults(),
		stats:      stats.Tagged(map[string]string{"module": "qbitapi"}),
		registry:   registry,
		categories: categories,
		fetcher:    fetcher,
		hashes:     hashes,
		users:      users,
	}
}

// Handler returns the http handler for the facade.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.HitCounter(s.stats))
	r.Use(middleware.LatencyTimer(s.stats))

	r.Post("/api/v2/auth/login", handler.Wrap(s.loginHandler))
	r.Post("/api/v2/auth/logout", handler.Wrap(s.logoutHandler))

	r.Group(func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Get("/api/v2/app/version", handler.Wrap(s.versionHandler))
		r.Get("/api/v2/app/webapiVersion", handler.Wrap(s.webapiVersionHandler))
		r.Get("/api/v2/app/preferences", handler.Wrap(s.preferencesHandler))
		r.Get("/api/v2/torrents/info", handler.Wrap(s.infoHandler))
		r.Post("/api/v2/torrents/add", handler.Wrap(s.addHandler))
		r.Post("/api/v2/torrents/delete", handler.Wrap(s.deleteHandler))
		r.Post("/api/v2/torrents/pause", handler.Wrap(s.pauseHandler))
		r.Post("/api/v2/torrents/resume", handler.Wrap(s.resumeHandler))
		r.Get("/api/v2/torrents/categories", handler.Wrap(s.categoriesHandler))
		r.Post("/api/v2/torrents/createCategory", handler.Wrap(s.createCategoryHandler))
	})
	return r
}

// authenticate verifies Basic credentials: the password slot accepts either
// the account password or the account API key. Only admins may use the
// facade.
func (s *Server) authenticate(r *http.Request) (*core.User, error) {
	if s.config.AuthDisabled {
		return &core.User{Username: "admin", IsAdmin: true}, nil
	}
	username, password, ok := r.BasicAuth()
	if !ok {
		return nil, handler.ErrorStatus(http.StatusUnauthorized).
			Header("WWW-Authenticate", `Basic realm="peerhub"`)
	}
	u, err := s.users.GetUserByUsername(username)
	if err != nil {
		return nil, handler.ErrorStatus(http.StatusUnauthorized)
	}
	verified, _ := auth.VerifyPassword(u.PasswordHash, password)
	if !verified && u.APIKey != "" {
		verified = subtle.ConstantTimeCompare([]byte(u.APIKey), []byte(password)) == 1
	}
	if !verified || u.Disabled {
		return nil, handler.ErrorStatus(http.StatusUnauthorized)
	}
	if !u.IsAdmin {
		return nil, handler.ErrorStatus(http.StatusForbidden)
	}
	return u, nil
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.authenticate(r); err != nil {
			if herr, ok := err.(*handler.Error); ok {
				http.Error(w, http.StatusText(herr.GetStatus()), herr.GetStatus())
			} else {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
			}
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loginHandler mirrors the qBittorrent cookie login. Tools that insist on
// the login flow get "Ok." and a throwaway cookie; every real request is
// checked via Basic auth.
func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) error {
	if err := r.ParseForm(); err != nil {
		return handler.Errorf("parse form: %s", err).Status(http.StatusBadRequest)
	}
	if !s.config.AuthDisabled {
		u, err := s.users.GetUserByUsername(r.PostFormValue("username"))
		if err != nil {
			fmt.Fprint(w, "Fails.")
			return nil
		}
		verified, _ := auth.VerifyPassword(u.PasswordHash, r.PostFormValue("password"))
		if !verified || !u.IsAdmin || u.Disabled {
			fmt.Fprint(w, "Fails.")
			return nil
		}
	}
	http.SetCookie(w, &http.Cookie{Name: "SID", Value: "compat", Path: "/"})
	fmt.Fprint(w, "Ok.")
	return nil
}

func (s *Server) logoutHandler(w http.ResponseWriter, r *http.Request) error {
	http.SetCookie(w, &http.Cookie{Name: "SID", Value: "", Path: "/", MaxAge: -1})
	return nil
}

func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) error {
	fmt.Fprint(w, s.config.AppVersion)
	return nil
}

func (s *Server) webapiVersionHandler(w http.ResponseWriter, r *http.Request) error {
	fmt.Fprint(w, s.config.WebAPIVersion)
	return nil
}

func (s *Server) preferencesHandler(w http.ResponseWriter, r *http.Request) error {
	savePath := ""
	if d, err := s.categories.Get(core.DefaultCategoryName); err == nil {
		savePath = d.Path
	}
	return handler.EncodeJSON(w, map[string]interface{}{
		"save_path":            savePath,
		"temp_path_enabled":    false,
		"create_subfolder_enabled": true,
		"auto_tmm_enabled":     false,
		"queueing_enabled":     false,
		"web_ui_clickjacking_protection_enabled": true,
	})
}

func (s *Server) categoriesHandler(w http.ResponseWriter, r *http.Request) error {
	out := make(map[string]interface{})
	for _, c := range s.categories.GetAllForFrontend() {
		out[c.Name] = map[string]string{"name": c.Name, "savePath": c.Path}
	}
	return handler.EncodeJSON(w, out)
}

func (s *Server) createCategoryHandler(w http.ResponseWriter, r *http.Request) error {
	if err := r.ParseForm(); err != nil {
		return handler.Errorf("parse form: %s", err).Status(http.StatusBadRequest)
	}
	name := r.PostFormValue("category")
	if name == "" {
		return handler.Errorf("empty category name").Status(http.StatusBadRequest)
	}
	_, err := s.categories.Create(r.Context(), category.Spec{
		Name: name,
		Path: r.PostFormValue("savePath"),
	})
	if err != nil {
		return handler.Errorf("create category: %s", err).Status(http.StatusConflict)
	}
	log.With("category", name).Info("Category created via compat API")
	return nil
}
