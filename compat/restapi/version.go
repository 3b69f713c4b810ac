package restapi

import (
	"net/http"

	"github.com/peerhub/peerhub/utils/handler"
)

// seenVersionKey stores the last release whose changelog the user dismissed.
const seenVersionKey = "seen_version"

func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) error {
	seen := true
	if !s.config.AuthDisabled {
		last, ok, err := s.users.GetUserSetting(requestUser(r).ID, seenVersionKey)
		if err != nil {
			return handler.Errorf("load seen version: %s", err)
		}
		seen = ok && last == s.config.Version
	}
	return handler.EncodeJSON(w, map[string]interface{}{
		"version": s.config.Version,
		"seen":    seen,
	})
}

func (s *Server) versionSeenHandler(w http.ResponseWriter, r *http.Request) error {
	if s.config.AuthDisabled {
		w.WriteHeader(http.StatusNoContent)
		return nil
	}
	if err := s.users.SetUserSetting(
		requestUser(r).ID, seenVersionKey, s.config.Version); err != nil {

		return handler.Errorf("save seen version: %s", err)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
