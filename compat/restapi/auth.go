package restapi

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/peerhub/peerhub/lib/auth"
	"github.com/peerhub/peerhub/utils/handler"
	"github.com/peerhub/peerhub/utils/log"
)

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) error {
	if s.config.AuthDisabled || s.gate == nil {
		return handler.Errorf("authentication is disabled").Status(http.StatusConflict)
	}
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return handler.Errorf("decode body: %s", err).Status(http.StatusBadRequest)
	}
	u, err := s.gate.Login(s.clientIP(r), req.Username, req.Password)
	if err != nil {
		if locked, ok := err.(*auth.LockedError); ok {
			w.Header().Set("Retry-After",
				strconv.Itoa(int(locked.RetryAfter.Seconds())))
			return handler.Errorf("%s", err).Status(http.StatusTooManyRequests)
		}
		return handler.Errorf("%s", auth.ErrInvalidCredentials).
			Status(http.StatusUnauthorized)
	}
	token, err := s.sessions.Create(u.ID)
	if err != nil {
		return handler.Errorf("create session: %s", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	log.With("username", u.Username).Info("User logged in")
	return handler.EncodeJSON(w, viewOf(u))
}

func (s *Server) logoutHandler(w http.ResponseWriter, r *http.Request) error {
	if cookie, err := r.Cookie(auth.SessionCookie); err == nil {
		if sess, err := s.sessions.Resolve(cookie.Value); err == nil {
			if err := s.sessions.Destroy(sess.ID); err != nil {
				log.Errorf("Destroy session: %s", err)
			}
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) meHandler(w http.ResponseWriter, r *http.Request) error {
	return handler.EncodeJSON(w, viewOf(requestUser(r)))
}

// clientIP extracts the peer address the lockout counters key on. The
// forwarded header is only honored when the direct peer is a configured
// trusted proxy.
func (s *Server) clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	tp := s.config.TrustedProxy
	if !tp.Enabled || tp.Header == "" {
		return ip
	}
	trusted := false
	for _, p := range tp.Proxies {
		if p == ip {
			trusted = true
			break
		}
	}
	if !trusted {
		return ip
	}
	forwarded := r.Header.Get(tp.Header)
	if forwarded == "" {
		return ip
	}
	if i := strings.IndexByte(forwarded, ','); i >= 0 {
		forwarded = forwarded[:i]
	}
	return strings.TrimSpace(forwarded)
}
