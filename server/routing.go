package server

import "net/http"

// routes builds the HTTP mux. A fresh mux per server keeps tests
// independent; nothing registers on the process-wide default.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Job lifecycle
	mux.HandleFunc("/api/tasks", s.corsMiddleware(s.handleTasks))
	mux.HandleFunc("/api/tasks/retry-all", s.corsMiddleware(s.handleRetryAll))
	mux.HandleFunc("/api/tasks/{id}", s.corsMiddleware(s.handleTask))
	mux.HandleFunc("/api/tasks/{id}/retry", s.corsMiddleware(s.handleTaskRetry))

	// Worker fleet
	mux.HandleFunc("/api/instances", s.corsMiddleware(s.handleInstances))
	mux.HandleFunc("/api/instances/{id}", s.corsMiddleware(s.handleInstance))
	mux.HandleFunc("/api/instances/{id}/enable", s.corsMiddleware(s.handleInstanceEnable))
	mux.HandleFunc("/api/instances/{id}/disable", s.corsMiddleware(s.handleInstanceDisable))

	// Dispatch tunables
	mux.HandleFunc("/api/config", s.corsMiddleware(s.handleConfig))

	// Observability
	mux.HandleFunc("/api/stats", s.corsMiddleware(s.handleStats))
	mux.HandleFunc("/api/stats/ws", s.handleStatsWS)
	mux.Handle("/metrics", s.metrics.Handler())

	// MinerU-compatible surface
	mux.HandleFunc("/file_parse", s.corsMiddleware(s.handleFileParse))

	mux.HandleFunc("/health", s.corsMiddleware(s.handleHealth))
	mux.HandleFunc("/", s.corsMiddleware(s.handleRoot))

	return mux
}

// corsMiddleware adds CORS headers to API responses and answers
// preflight requests
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.checkOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}
