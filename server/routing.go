package server

import (
	"net/http"
	"time"

	"github.com/inkpulse/inkpulse/logger"
)

// setupHTTPRoutes configures all HTTP handlers
func (s *Server) setupHTTPRoutes() http.Handler {
	mux := http.NewServeMux()

	// Control API, scoped by workspace
	mux.HandleFunc("GET /api/workspaces/{ws}/jobs", s.HandleListJobs)
	mux.HandleFunc("POST /api/workspaces/{ws}/jobs", s.HandleCreateJob)
	mux.HandleFunc("GET /api/workspaces/{ws}/jobs/{id}", s.HandleGetJob)
	mux.HandleFunc("PUT /api/workspaces/{ws}/jobs/{id}", s.HandleUpdateJob)
	mux.HandleFunc("DELETE /api/workspaces/{ws}/jobs/{id}", s.HandleDeleteJob)
	mux.HandleFunc("POST /api/workspaces/{ws}/jobs/{id}/pause", s.HandlePauseJob)
	mux.HandleFunc("POST /api/workspaces/{ws}/jobs/{id}/resume", s.HandleResumeJob)
	mux.HandleFunc("GET /api/workspaces/{ws}/jobs/{id}/runs", s.HandleListJobRuns)
	mux.HandleFunc("GET /api/workspaces/{ws}/runs", s.HandleListWorkspaceRuns)

	mux.HandleFunc("GET /api/pulse/status", s.HandlePulseStatus)
	mux.HandleFunc("GET /health", s.HandleHealth)
	mux.HandleFunc("GET /ws/runs", s.HandleRunStream) // run.started / run.completed events

	return s.corsMiddleware(s.logRequests(mux))
}

// corsMiddleware adds CORS headers using server.allowed_origins.
// Uses the same origin validation as websocket connections.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.checkOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response code for request logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer (websocket hijack)
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws/runs" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debugw("HTTP request",
			logger.FieldMethod, r.Method,
			logger.FieldPath, r.URL.Path,
			logger.FieldStatus, rec.status,
			logger.FieldDurationMS, time.Since(start).Milliseconds())
	})
}
