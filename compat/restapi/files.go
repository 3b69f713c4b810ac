package restapi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/lib/adapter"
	"github.com/peerhub/peerhub/utils/handler"
)

// filesHandler proxies a per-item file listing to one client instance. The
// client path segment is a client type; the optional "instance" query
// parameter selects between multiple instances of that type.
func (s *Server) filesHandler(w http.ResponseWriter, r *http.Request) error {
	t := core.ClientType(chi.URLParam(r, "client"))
	if !core.ValidType(t) {
		return handler.Errorf("unknown client type %q", t).Status(http.StatusNotFound)
	}
	a, err := s.clientFor(t, r.URL.Query().Get("instance"))
	if err != nil {
		return handler.Errorf("%s", err).Status(http.StatusServiceUnavailable)
	}
	files, err := a.GetFiles(r.Context(), chi.URLParam(r, "hash"))
	if err != nil {
		return handler.Errorf("get files: %s", err).Status(http.StatusBadGateway)
	}
	if files == nil {
		files = []adapter.File{}
	}
	return handler.EncodeJSON(w, files)
}

func (s *Server) clientFor(t core.ClientType, instanceID string) (adapter.Adapter, error) {
	if instanceID != "" {
		return s.registry.Get(instanceID)
	}
	for _, a := range s.registry.GetByType(t) {
		if a.IsConnected() {
			return a, nil
		}
	}
	return nil, fmt.Errorf("no connected %s instance", t)
}
