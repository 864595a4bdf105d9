package server

import (
	"net/http"

	"github.com/inkpulse/inkpulse/version"
)

// HandlePulseStatus handles GET /api/pulse/status
func (s *Server) HandlePulseStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.service.Store().CountByStatus(r.Context())
	if err != nil {
		writeServiceError(w, s.logger, err, "failed to count scheduled jobs")
		return
	}

	resp := StatusResponse{
		ServerState: stateString(s.getState()),
		Version:     version.Get(),
		Clients:     s.hub.ClientCount(),
		EventDrops:  s.hub.Drops(),
		Jobs:        counts,
	}
	if s.dispatcher != nil {
		stats := s.dispatcher.Stats()
		resp.Dispatcher = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleHealth handles GET /health.
// Unhealthy when the local dispatcher stopped on an unrecoverable error.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]string{"status": "ok", "version": version.Get().Short()}
	if s.dispatcher != nil {
		if err := s.dispatcher.Err(); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["error"] = err.Error()
		}
	}
	if s.getState() != ServerStateRunning {
		status = http.StatusServiceUnavailable
		body["status"] = stateString(s.getState())
	}
	writeJSON(w, status, body)
}
