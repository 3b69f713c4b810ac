// Package restapi serves the management REST surface consumed by the
// frontend: user administration, the release "what's new" flag, and
// per-instance file listings. Everything is session-authenticated with the
// same signed cookie the websocket hub uses.
package restapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/uber-go/tally"

	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/lib/auth"
	"github.com/peerhub/peerhub/lib/clientregistry"
	"github.com/peerhub/peerhub/lib/middleware"
	"github.com/peerhub/peerhub/lib/userstore"
	"github.com/peerhub/peerhub/utils/handler"
)

// Config defines Server configuration.
type Config struct {
	// Version is the release string reported by /api/version.
	Version string `yaml:"version"`

	// AuthDisabled admits every request as admin.
	AuthDisabled bool `yaml:"auth_disabled"`

	TrustedProxy TrustedProxy `yaml:"trusted_proxy"`
}

// TrustedProxy configures forwarded-header handling. Lockout counters key
// on the real client IP only when the direct peer is a listed proxy.
type TrustedProxy struct {
	Enabled bool     `yaml:"enabled"`
	Header  string   `yaml:"header"`
	Proxies []string `yaml:"proxies"`
}

func (c Config) applyDefaults() Config {
	if c.Version == "" {
		c.Version = "dev"
	}
	return c
}

// Sessions issues, resolves and invalidates signed session tokens.
type Sessions interface {
	Create(userID int64) (string, error)
	Resolve(token string) (*core.Session, error)
	Destroy(id string) error
	DestroyAllForUser(userID int64) error
}

// SessionCloser force-closes live connections after account edits.
type SessionCloser interface {
	CloseUserSessions(userID int64)
}

// Server is the management REST facade.
type Server struct {
	config   Config
	stats    tally.Scope
	users    *userstore.Store
	sessions Sessions
	gate     *auth.Gate
	closer   SessionCloser
	registry *clientregistry.Registry
}

// New creates a Server. closer may be nil when no live surface needs
// force-closing; gate may be nil when authentication is disabled.
func New(
	config Config,
	stats tally.Scope,
	users *userstore.Store,
	sessions Sessions,
	gate *auth.Gate,
	closer SessionCloser,
	registry *clientregistry.Registry) *Server {

	return &Server{
		config:   config.applyDefaults(),
		stats:    stats.Tagged(map[string]string{"module": "restapi"}),
		users:    users,
		sessions: sessions,
		gate:     gate,
		closer:   closer,
		registry: registry,
	}
}

// Handler returns the http handler for the facade.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.HitCounter(s.stats))
	r.Use(middleware.LatencyTimer(s.stats))

	r.Post("/api/auth/login", handler.Wrap(s.loginHandler))
	r.Post("/api/auth/logout", handler.Wrap(s.logoutHandler))

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)
		r.Get("/api/auth/me", handler.Wrap(s.meHandler))
		r.Get("/api/version", handler.Wrap(s.versionHandler))
		r.Post("/api/version/seen", handler.Wrap(s.versionSeenHandler))
		r.Get("/api/{client}/files/{hash}", handler.Wrap(s.filesHandler))
	})
	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)
		r.Use(s.requireAdmin)
		r.Get("/api/users", handler.Wrap(s.listUsersHandler))
		r.Post("/api/users", handler.Wrap(s.createUserHandler))
		r.Put("/api/users/{id}", handler.Wrap(s.updateUserHandler))
		r.Delete("/api/users/{id}", handler.Wrap(s.deleteUserHandler))
		r.Post("/api/users/{id}/apikey", handler.Wrap(s.rotateAPIKeyHandler))
		r.Delete("/api/users/{id}/apikey", handler.Wrap(s.clearAPIKeyHandler))
	})
	return r
}

type contextKey int

const userKey contextKey = iota

// requestUser returns the authenticated account. The auth middleware
// guarantees presence on every wrapped route.
func requestUser(r *http.Request) *core.User {
	return r.Context().Value(userKey).(*core.User)
}

func (s *Server) authenticate(r *http.Request) (*core.User, error) {
	if s.config.AuthDisabled {
		return &core.User{Username: "admin", IsAdmin: true}, nil
	}
	cookie, err := r.Cookie(auth.SessionCookie)
	if err != nil {
		return nil, handler.ErrorStatus(http.StatusUnauthorized)
	}
	sess, err := s.sessions.Resolve(cookie.Value)
	if err != nil {
		return nil, handler.ErrorStatus(http.StatusUnauthorized)
	}
	u, err := s.users.GetUser(sess.UserID)
	if err != nil || u.Disabled {
		return nil, handler.ErrorStatus(http.StatusUnauthorized)
	}
	return u, nil
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, err := s.authenticate(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, u)))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requestUser(r).IsAdmin {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
