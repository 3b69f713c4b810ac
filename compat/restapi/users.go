package restapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"

	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/lib/auth"
	"github.com/peerhub/peerhub/lib/userstore"
	"github.com/peerhub/peerhub/utils/handler"
	"github.com/peerhub/peerhub/utils/log"
)

// userView is the account shape returned to the frontend. The api key
// itself is only ever revealed by an explicit rotation.
type userView struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	IsAdmin      bool       `json:"isAdmin"`
	Disabled     bool       `json:"disabled"`
	Capabilities []string   `json:"capabilities"`
	HasAPIKey    bool       `json:"hasApiKey"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty"`
}

func viewOf(u *core.User) userView {
	caps := u.Capabilities
	if caps == nil {
		caps = []string{}
	}
	return userView{
		ID:           u.ID,
		Username:     u.Username,
		IsAdmin:      u.IsAdmin,
		Disabled:     u.Disabled,
		Capabilities: caps,
		HasAPIKey:    u.APIKey != "",
		LastLoginAt:  u.LastLoginAt,
	}
}

func (s *Server) listUsersHandler(w http.ResponseWriter, r *http.Request) error {
	users, err := s.users.ListUsers()
	if err != nil {
		return handler.Errorf("list users: %s", err)
	}
	views := make([]userView, 0, len(users))
	for _, u := range users {
		views = append(views, viewOf(u))
	}
	return handler.EncodeJSON(w, views)
}

func (s *Server) createUserHandler(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		Username     string   `json:"username"`
		Password     string   `json:"password"`
		IsAdmin      bool     `json:"isAdmin"`
		Capabilities []string `json:"capabilities"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return handler.Errorf("decode body: %s", err).Status(http.StatusBadRequest)
	}
	if req.Username == "" || req.Password == "" {
		return handler.Errorf("username and password required").Status(http.StatusBadRequest)
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return handler.Errorf("hash password: %s", err)
	}
	u, err := s.users.CreateUser(req.Username, hash, req.IsAdmin, req.Capabilities)
	if err != nil {
		return handler.Errorf("create user: %s", err).Status(http.StatusConflict)
	}
	log.With("username", u.Username).Info("User created")
	w.WriteHeader(http.StatusCreated)
	return handler.EncodeJSON(w, viewOf(u))
}

func (s *Server) updateUserHandler(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	var req struct {
		Password     *string   `json:"password"`
		IsAdmin      *bool     `json:"isAdmin"`
		Disabled     *bool     `json:"disabled"`
		Capabilities *[]string `json:"capabilities"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return handler.Errorf("decode body: %s", err).Status(http.StatusBadRequest)
	}
	opts := userstore.UpdateOpts{
		IsAdmin:      req.IsAdmin,
		Disabled:     req.Disabled,
		Capabilities: req.Capabilities,
	}
	if req.Password != nil {
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			return handler.Errorf("hash password: %s", err)
		}
		opts.PasswordHash = &hash
	}
	if err := s.users.UpdateUser(id, opts); err != nil {
		if err == userstore.ErrUserNotFound {
			return handler.ErrorStatus(http.StatusNotFound)
		}
		return handler.Errorf("update user: %s", err).Status(http.StatusBadRequest)
	}
	// Any permission edit invalidates the account's live sessions so stale
	// capabilities cannot linger on open sockets.
	s.invalidateSessions(id)

	u, err := s.users.GetUser(id)
	if err != nil {
		return handler.Errorf("reload user: %s", err)
	}
	return handler.EncodeJSON(w, viewOf(u))
}

func (s *Server) deleteUserHandler(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	if requester := requestUser(r); requester.ID == id {
		return handler.Errorf("cannot delete own account").Status(http.StatusBadRequest)
	}
	if err := s.users.DeleteUser(id); err != nil {
		if err == userstore.ErrUserNotFound {
			return handler.ErrorStatus(http.StatusNotFound)
		}
		return handler.Errorf("delete user: %s", err)
	}
	s.invalidateSessions(id)
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) rotateAPIKeyHandler(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	key, err := s.users.RotateAPIKey(id)
	if err != nil {
		if err == userstore.ErrUserNotFound {
			return handler.ErrorStatus(http.StatusNotFound)
		}
		return handler.Errorf("rotate api key: %s", err)
	}
	return handler.EncodeJSON(w, map[string]string{"apiKey": key})
}

func (s *Server) clearAPIKeyHandler(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	if err := s.users.ClearAPIKey(id); err != nil {
		if err == userstore.ErrUserNotFound {
			return handler.ErrorStatus(http.StatusNotFound)
		}
		return handler.Errorf("clear api key: %s", err)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) invalidateSessions(userID int64) {
	if err := s.sessions.DestroyAllForUser(userID); err != nil {
		log.With("user", userID).Errorf("Destroy sessions: %s", err)
	}
	if s.closer != nil {
		s.closer.CloseUserSessions(userID)
	}
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, handler.Errorf("invalid user id").Status(http.StatusBadRequest)
	}
	return id, nil
}
