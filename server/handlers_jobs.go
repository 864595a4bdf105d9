package server

import (
	"net/http"

	"github.com/inkpulse/inkpulse/logger"
	"github.com/inkpulse/inkpulse/pulse/schedule"
)

// HandleListJobs handles GET /api/workspaces/{ws}/jobs.
// Deleted jobs are included with ?include_deleted=true.
func (s *Server) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	ws := r.PathValue("ws")
	includeDeleted, err := queryBool(r, "include_deleted")
	if err != nil {
		writeServiceError(w, s.logger, err, "invalid query")
		return
	}

	jobs, err := s.service.ListJobs(r.Context(), ws, includeDeleted)
	if err != nil {
		writeServiceError(w, s.logger, err, "failed to list scheduled jobs")
		return
	}
	if jobs == nil {
		jobs = []*schedule.Job{}
	}
	writeJSON(w, http.StatusOK, ListJobsResponse{Jobs: jobs, Count: len(jobs)})
}

// HandleCreateJob handles POST /api/workspaces/{ws}/jobs
func (s *Server) HandleCreateJob(w http.ResponseWriter, r *http.Request) {
	ws := r.PathValue("ws")
	var spec schedule.JobSpec
	if !readJSON(w, r, s.logger, &spec) {
		return
	}

	job, err := s.service.CreateJob(r.Context(), ws, spec)
	if err != nil {
		writeServiceError(w, s.logger, err, "failed to create scheduled job")
		return
	}

	logger.AddPulseSymbol(s.logger).Infow("Pulse create job",
		logger.FieldJobID, shortID(job.ID),
		logger.FieldWorkspaceID, ws,
		"remote", r.RemoteAddr)
	writeJSON(w, http.StatusCreated, job)
}

// HandleGetJob handles GET /api/workspaces/{ws}/jobs/{id}
func (s *Server) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.GetJob(r.Context(), r.PathValue("ws"), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, s.logger, err, "failed to get scheduled job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// HandleUpdateJob handles PUT /api/workspaces/{ws}/jobs/{id}.
// The body replaces the whole definition.
func (s *Server) HandleUpdateJob(w http.ResponseWriter, r *http.Request) {
	var spec schedule.JobSpec
	if !readJSON(w, r, s.logger, &spec) {
		return
	}

	job, err := s.service.UpdateJob(r.Context(), r.PathValue("ws"), r.PathValue("id"), spec)
	if err != nil {
		writeServiceError(w, s.logger, err, "failed to update scheduled job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// HandleDeleteJob handles DELETE /api/workspaces/{ws}/jobs/{id}.
// Jobs are soft-deleted; the disabled job is returned with its history intact.
func (s *Server) HandleDeleteJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.DeleteJob(r.Context(), r.PathValue("ws"), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, s.logger, err, "failed to delete scheduled job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// HandlePauseJob handles POST /api/workspaces/{ws}/jobs/{id}/pause
func (s *Server) HandlePauseJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.PauseJob(r.Context(), r.PathValue("ws"), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, s.logger, err, "failed to pause scheduled job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// HandleResumeJob handles POST /api/workspaces/{ws}/jobs/{id}/resume
func (s *Server) HandleResumeJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.ResumeJob(r.Context(), r.PathValue("ws"), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, s.logger, err, "failed to resume scheduled job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// HandleListJobRuns handles GET /api/workspaces/{ws}/jobs/{id}/runs?limit=N
func (s *Server) HandleListJobRuns(w http.ResponseWriter, r *http.Request) {
	s.listRuns(w, r, r.PathValue("id"))
}

// HandleListWorkspaceRuns handles GET /api/workspaces/{ws}/runs?limit=N
func (s *Server) HandleListWorkspaceRuns(w http.ResponseWriter, r *http.Request) {
	s.listRuns(w, r, "")
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request, jobID string) {
	limit, err := queryInt(r, "limit", defaultRunsLimit)
	if err != nil {
		writeServiceError(w, s.logger, err, "invalid query")
		return
	}
	if limit == 0 || limit > maxRunsLimit {
		limit = maxRunsLimit
	}

	runs, err := s.service.ListRuns(r.Context(), r.PathValue("ws"), jobID, limit)
	if err != nil {
		writeServiceError(w, s.logger, err, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*schedule.RunRecord{}
	}
	writeJSON(w, http.StatusOK, ListRunsResponse{Runs: runs, Count: len(runs)})
}
