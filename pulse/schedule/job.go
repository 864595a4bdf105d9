// Package schedule provides recurring newsletter automation: schedule definitions,
// next-run computation, claim-based dispatch and run bookkeeping.
package schedule

import (
	"strings"
	"time"

	"github.com/inkpulse/inkpulse/pulse/action"
)

// Status is the lifecycle state of a scheduled job
type Status string

const (
	StatusActive   Status = "active"   // fires on schedule
	StatusPaused   Status = "paused"   // user paused, resumable
	StatusDegraded Status = "degraded" // still fires, repeated failures flagged for attention
	StatusDisabled Status = "disabled" // deleted, terminal
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusDegraded, StatusDisabled:
		return true
	}
	return false
}

// Job is one recurring automation definition for a workspace
type Job struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	Spec
	Actions []action.Action `json:"actions"`

	IsEnabled bool       `json:"is_enabled"`
	Status    Status     `json:"status"`
	NextRunAt *time.Time `json:"next_run_at"`
	LastRunAt *time.Time `json:"last_run_at"`

	TotalRuns           int64 `json:"total_runs"`
	SuccessfulRuns      int64 `json:"successful_runs"`
	FailedRuns          int64 `json:"failed_runs"`
	PartialFailureRuns  int64 `json:"partial_failure_runs"`
	ConsecutiveFailures int   `json:"consecutive_failures"`

	ClaimLeaseUntil *time.Time `json:"claim_lease_until"`
	ClaimOwner      string     `json:"claim_owner,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Claimed reports whether a dispatcher holds an unexpired lease at now
func (j *Job) Claimed(now time.Time) bool {
	return j.ClaimLeaseUntil != nil && !j.ClaimLeaseUntil.Before(now)
}

// JobContext builds the context passed to action executors for one firing
func (j *Job) JobContext(runID string, firedAt time.Time) action.JobContext {
	return action.JobContext{
		JobID:       j.ID,
		WorkspaceID: j.WorkspaceID,
		JobName:     j.Name,
		RunID:       runID,
		FiredAt:     firedAt,
	}
}

// JobSpec is the user-supplied definition for creating or updating a job
type JobSpec struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Spec
	Actions []action.Action `json:"actions"`
}

// Validate checks the schedule and the action pipeline.
// Schedule problems are reported as *InvalidScheduleError.
func (s JobSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return &InvalidScheduleError{Field: "name", Reason: "is required"}
	}
	if err := s.Spec.Validate(); err != nil {
		return err
	}
	if err := action.ValidateAll(s.Actions); err != nil {
		return &InvalidScheduleError{Field: "actions", Reason: err.Error()}
	}
	return nil
}

// RunRecord is the immutable audit entry for one firing
type RunRecord struct {
	ID            string          `json:"id"`
	JobID         string          `json:"job_id"`
	WorkspaceID   string          `json:"workspace_id"`
	StartedAt     time.Time       `json:"started_at"`
	CompletedAt   time.Time       `json:"completed_at"`
	Outcome       action.Outcome  `json:"outcome"`
	ActionResults []action.Result `json:"action_results"`
	Error         string          `json:"error,omitempty"`
	DurationMs    int64           `json:"duration_ms"`
	DispatcherID  string          `json:"dispatcher_id,omitempty"`
}
