package server

import (
	"encoding/json"
	"net/http"

	"github.com/teranos/foreman/errors"
)

// writeJSON writes data as a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already out; nothing useful left to send.
		return
	}
}

// writeError writes an error response in the API's {"error": message} envelope
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// readJSON decodes a JSON request body into dst
func readJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.Wrap(err, "invalid JSON body")
	}
	return nil
}

// requireMethods rejects requests whose method is not in the allowed set.
// Returns true when the request may proceed.
func requireMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	return false
}

// httpStatusFor maps domain error kinds onto HTTP status codes. Unknown
// errors fall through to 500.
func httpStatusFor(err error) int {
	switch {
	case errors.IsNotFoundError(err):
		return http.StatusNotFound
	case errors.IsQueueFull(err):
		return http.StatusTooManyRequests
	case errors.IsWorkerBusy(err):
		return http.StatusBadRequest
	case errors.IsInvalidConfig(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
