package schedule

import (
	"time"

	"github.com/inkpulse/inkpulse/pulse/action"
)

// Run event types
const (
	EventRunStarted   = "run.started"
	EventRunCompleted = "run.completed"
)

// RunEvent announces the start or end of a firing
type RunEvent struct {
	Type          string          `json:"type"`
	RunID         string          `json:"run_id"`
	JobID         string          `json:"job_id"`
	WorkspaceID   string          `json:"workspace_id"`
	JobName       string          `json:"job_name"`
	Actions       []action.Kind   `json:"actions,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	Outcome       action.Outcome  `json:"outcome,omitempty"`
	ActionResults []action.Result `json:"action_results,omitempty"`
	Error         string          `json:"error,omitempty"`
	NextRunAt     *time.Time      `json:"next_run_at,omitempty"`
}

// ExecutionBroadcaster receives run events.
// Defined here so the server package can implement it without an import cycle.
type ExecutionBroadcaster interface {
	BroadcastRunEvent(event RunEvent)
}

// BroadcasterFunc adapts a function to ExecutionBroadcaster
type BroadcasterFunc func(RunEvent)

func (f BroadcasterFunc) BroadcastRunEvent(event RunEvent) {
	f(event)
}
