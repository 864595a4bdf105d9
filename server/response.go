package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/inkpulse/inkpulse/errors"
	"github.com/inkpulse/inkpulse/logger"
	"github.com/inkpulse/inkpulse/pulse/schedule"
)

// writeJSON writes a JSON response with the given status code.
// Headers are already sent when encoding fails, so the error is only logged.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Logger.Warnw("Failed to encode JSON response",
			"status", status,
			logger.FieldError, err)
	}
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeServiceError maps control API errors to HTTP status codes.
// Internal errors are logged and reported without detail.
func writeServiceError(w http.ResponseWriter, log *zap.SugaredLogger, err error, context string) {
	var invalid *schedule.InvalidScheduleError
	switch {
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  invalid.Error(),
			Field:  invalid.Field,
			Reason: invalid.Reason,
		})
	case errors.IsInvalidRequestError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.IsNotFoundError(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.IsConflictError(err):
		writeError(w, http.StatusConflict, err.Error())
	case schedule.IsPersistenceError(err):
		log.Warnw(context, "error", err)
		writeError(w, http.StatusServiceUnavailable, "schedule store unavailable, retry later")
	default:
		log.Errorw(context, "error", err)
		writeError(w, http.StatusInternalServerError, context)
	}
}

// readJSON decodes a JSON request body, rejecting unknown fields.
// On failure the error response has already been written.
func readJSON(w http.ResponseWriter, r *http.Request, log *zap.SugaredLogger, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if schedule.IsInvalidSchedule(err) {
			writeServiceError(w, log, err, "invalid request body")
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// queryInt parses an optional integer query parameter
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.NewInvalidRequestError("%s must be a non-negative integer", name)
	}
	return n, nil
}

// queryBool parses an optional boolean query parameter
func queryBool(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.NewInvalidRequestError("%s must be a boolean", name)
	}
	return b, nil
}

// shortID truncates an ID to 8 characters for logging
func shortID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}
