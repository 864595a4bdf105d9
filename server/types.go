package server

import (
	"time"

	"github.com/inkpulse/inkpulse/pulse/schedule"
	"github.com/inkpulse/inkpulse/version"
)

const (
	// MaxClients caps concurrent run-stream websocket connections
	MaxClients = 100

	// ShutdownTimeout bounds how long Stop waits for hub goroutines
	ShutdownTimeout = 10 * time.Second

	// clientSendBuffer is the per-client event queue; a client that falls this far behind is dropped
	clientSendBuffer = 64

	// eventQueueSize buffers events between the dispatcher and the hub loop
	eventQueueSize = 256

	defaultRunsLimit = 50
	maxRunsLimit     = 500
)

// ServerState represents the server lifecycle state
type ServerState int

const (
	ServerStateRunning  ServerState = iota // Normal operation
	ServerStateDraining                    // Shutdown started, no new websocket clients
	ServerStateStopped                     // Shutdown complete
)

// ErrorResponse is the body of every non-2xx API response
type ErrorResponse struct {
	Error  string `json:"error"`
	Field  string `json:"field,omitempty"`  // offending schedule field for 400s
	Reason string `json:"reason,omitempty"` // why the field was rejected
}

// ListJobsResponse represents the response for listing a workspace's jobs
type ListJobsResponse struct {
	Jobs  []*schedule.Job `json:"jobs"`
	Count int             `json:"count"`
}

// ListRunsResponse represents the response for listing run history
type ListRunsResponse struct {
	Runs  []*schedule.RunRecord `json:"runs"`
	Count int                   `json:"count"`
}

// StatusResponse describes the running scheduler
type StatusResponse struct {
	ServerState string                    `json:"server_state"` // "running", "draining", "stopped"
	Version     version.Info              `json:"version"`
	Clients     int                       `json:"clients"`
	EventDrops  int64                     `json:"event_drops"`
	Jobs        map[schedule.Status]int   `json:"jobs"`
	Dispatcher  *schedule.DispatcherStats `json:"dispatcher,omitempty"` // nil when no dispatcher runs in this process
}
