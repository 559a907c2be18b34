package server

import (
	"net/http"

	"github.com/teranos/foreman/config"
	"github.com/teranos/foreman/errors"
)

// handleConfig serves the dispatch tunables. PATCH applies a partial
// update atomically: validation happens against the merged result, and
// a rejected patch leaves the running config untouched.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.dispatch.Snapshot())
	case http.MethodPatch:
		var patch config.Patch
		if err := readJSON(r, &patch); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		cfg, err := s.dispatch.Apply(patch)
		if err != nil {
			if errors.IsInvalidConfig(err) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
