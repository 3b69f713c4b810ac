// Package wsserver implements the websocket hub: session-bound connections,
// the action dispatch loop, and per-connection broadcast transforms.
package wsserver

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/gorilla/websocket"
	"github.com/uber-go/tally"

	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/lib/category"
	"github.com/peerhub/peerhub/lib/clientregistry"
	"github.com/peerhub/peerhub/lib/events"
	"github.com/peerhub/peerhub/lib/fetch"
	"github.com/peerhub/peerhub/lib/history"
	"github.com/peerhub/peerhub/lib/moveop"
	"github.com/peerhub/peerhub/utils/log"
)

// Sessions is the slice of the session store the hub consumes.
type Sessions interface {
	Resolve(token string) (*core.Session, error)
	Valid(id string) bool
}

// Users resolves accounts and item ownership.
type Users interface {
	GetUser(id int64) (*core.User, error)
	SetOwner(compoundKey string, userID int64, t time.Time) error
	OwnersBatch(keys []string) (map[string]int64, error)
	RemoveOwnership(compoundKey string) error
}

// Server is the websocket hub.
type Server struct {
	config     Config
	stats      tally.Scope
	clk        clock.Clock
	registry   *clientregistry.Registry
	categories *category.Manager
	fetcher    *fetch.Service
	hist       *history.Store
	moves      *moveop.Manager
	sessions   Sessions
	users      Users
	dispatcher *events.Dispatcher

	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[*conn]struct{}

	searchMu     sync.Mutex
	searchLocked bool

	stopOnce sync.Once
	done     chan struct{}
}

// New creates a started Server. Close releases its validation loop.
func New(
	config Config,
	stats tally.Scope,
	clk clock.Clock,
	registry *clientregistry.Registry,
	categories *category.Manager,
	fetcher *fetch.Service,
	hist *history.Store,
	moves *moveop.Manager,
	sessions Sessions,
	users Users,
	dispatcher *events.Dispatcher) *Server {

	s := &Server{
		config:     config.applyDefaults(),
		stats:      stats.Tagged(map[string]string{"module": "wsserver"}),
		clk:        clk,
		registry:   registry,
		categories: categories,
		fetcher:    fetcher,
		hist:       hist,
		moves:      moves,
		sessions:   sessions,
		users:      users,
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[*conn]struct{}),
		done:  make(chan struct{}),
	}
	go s.validationLoop()
	return s
}

// Close force-closes every connection and stops the validation loop.
func (s *Server) Close() {
	s.stopOnce.Do(func() { close(s.done) })
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.close(websocket.CloseGoingAway, "server shutting down")
	}
}

// ServeHTTP upgrades the request into a hub connection.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, sessionID, err := s.authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("Websocket upgrade: %s", err)
		return
	}
	c := newConn(s, ws, user, sessionID)

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	s.stats.Gauge("connections").Update(float64(s.numConns()))

	go c.writePump()
	go c.readPump()

	s.sendWelcome(c)
}

// authenticate resolves the session cookie into a user. Auth-disabled mode
// admits everyone as admin.
func (s *Server) authenticate(r *http.Request) (*core.User, string, error) {
	if s.config.AuthDisabled {
		return &core.User{Username: "admin", IsAdmin: true}, "", nil
	}
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		return nil, "", err
	}
	sess, err := s.sessions.Resolve(cookie.Value)
	if err != nil {
		return nil, "", err
	}
	user, err := s.users.GetUser(sess.UserID)
	if err != nil {
		return nil, "", err
	}
	if user.Disabled {
		return nil, "", fmt.Errorf("user %s is disabled", user.Username)
	}
	return user, sess.ID, nil
}

// sendWelcome pushes the connect handshake: connected marker, search lock
// state, and the latest cached batch filtered for the user.
func (s *Server) sendWelcome(c *conn) {
	c.sendJSON(map[string]interface{}{"type": "connected", "username": c.user.Username})
	c.sendJSON(map[string]interface{}{"type": "search-lock", "locked": s.searchLockState()})
	if batch, ok := s.fetcher.CachedBatch(s.config.CachedBatchMaxAge); ok {
		if msg, err := s.batchUpdateFor(batch, c.user); err == nil {
			c.sendJSON(msg)
		}
	}
}

func (s *Server) remove(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.stats.Gauge("connections").Update(float64(s.numConns()))
}

func (s *Server) numConns() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Broadcast sends transform(user) to every connection. A nil result from the
// transform skips that connection.
func (s *Server) Broadcast(transform func(u *core.User) interface{}) {
	s.mu.RLock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()
	for _, c := range conns {
		if msg := transform(c.user); msg != nil {
			c.sendJSON(msg)
		}
	}
}

// BroadcastStatic sends the same payload to every connection.
func (s *Server) BroadcastStatic(msg interface{}) {
	s.Broadcast(func(*core.User) interface{} { return msg })
}

// Publish lets the hub act as an event sink for the dispatcher.
func (s *Server) Publish(e events.Event) {
	s.BroadcastStatic(map[string]interface{}{"type": e.Type, "data": e.Data, "at": e.At})
}

// CloseUserSessions force-closes live connections bound to userID, sent when
// an admin edit invalidates the user's sessions.
func (s *Server) CloseUserSessions(userID int64) {
	s.mu.RLock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		if c.user.ID == userID {
			conns = append(conns, c)
		}
	}
	s.mu.RUnlock()
	for _, c := range conns {
		c.close(CloseSessionInvalid, "session invalidated")
	}
}

// validationLoop closes connections whose sessions were destroyed.
func (s *Server) validationLoop() {
	ticker := s.clk.Ticker(s.config.ValidationInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.validateSessions()
		}
	}
}

func (s *Server) validateSessions() {
	if s.config.AuthDisabled {
		return
	}
	s.mu.RLock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()
	for _, c := range conns {
		if c.sessionID == "" || s.sessions.Valid(c.sessionID) {
			continue
		}
		log.With("user", c.user.Username).Info("Closing socket with dead session")
		c.close(CloseSessionInvalid, "session invalidated")
	}
}

func (s *Server) searchLockState() bool {
	s.searchMu.Lock()
	defer s.searchMu.Unlock()
	return s.searchLocked
}

// acquireSearchLock reserves the single ed2k search slot.
func (s *Server) acquireSearchLock() bool {
	s.searchMu.Lock()
	defer s.searchMu.Unlock()
	if s.searchLocked {
		return false
	}
	s.searchLocked = true
	return true
}

func (s *Server) releaseSearchLock() {
	s.searchMu.Lock()
	s.searchLocked = false
	s.searchMu.Unlock()
}
