package schedule

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inkpulse/inkpulse/logger"
	"github.com/inkpulse/inkpulse/pulse/action"
)

// RunTracker persists firing outcomes and keeps job counters consistent.
// Counter updates are single atomic UPDATEs, safe across dispatcher instances.
type RunTracker struct {
	store            *Store
	failureThreshold atomic.Int64
	logger           *zap.SugaredLogger
}

// NewRunTracker creates a tracker. failureThreshold is the number of consecutive
// failure outcomes that marks a job degraded; 0 turns the policy off.
func NewRunTracker(store *Store, failureThreshold int, log *zap.SugaredLogger) *RunTracker {
	if log == nil {
		log = logger.Logger
	}
	t := &RunTracker{store: store, logger: log.Named("tracker")}
	t.SetFailureThreshold(failureThreshold)
	return t
}

// SetFailureThreshold changes the degraded policy for subsequent records
func (t *RunTracker) SetFailureThreshold(n int) {
	if n < 0 {
		n = 0
	}
	t.failureThreshold.Store(int64(n))
}

// FailureThreshold returns the current degraded threshold
func (t *RunTracker) FailureThreshold() int {
	return int(t.failureThreshold.Load())
}

// Record writes the run record for a finished firing, increments counters,
// stores nextRunAt and releases owner's claim.
func (t *RunTracker) Record(ctx context.Context, job *Job, owner, runID string, report action.Report, nextRunAt time.Time) (*RunRecord, error) {
	if runID == "" {
		runID = uuid.NewString()
	}

	run := &RunRecord{
		ID:            runID,
		JobID:         job.ID,
		WorkspaceID:   job.WorkspaceID,
		StartedAt:     report.StartedAt,
		CompletedAt:   report.CompletedAt,
		Outcome:       report.Outcome,
		ActionResults: report.Results,
		DurationMs:    report.CompletedAt.Sub(report.StartedAt).Milliseconds(),
		DispatcherID:  owner,
	}
	if report.Err != nil {
		run.Error = report.Err.Error()
	}

	threshold := t.FailureThreshold()
	err := t.store.RecordCompletion(ctx, run, Completion{
		Owner:            owner,
		NextRunAt:        nextRunAt,
		FailureThreshold: threshold,
	})
	if err != nil {
		return nil, err
	}

	log := t.logger.With(
		logger.FieldJobID, job.ID,
		logger.FieldWorkspaceID, job.WorkspaceID,
		logger.FieldRunID, run.ID,
	)
	switch run.Outcome {
	case action.OutcomeSuccess:
		log.Infow("Run recorded",
			logger.FieldOutcome, run.Outcome,
			logger.FieldDurationMS, run.DurationMs,
			logger.FieldNextRunAt, nextRunAt.Format(time.RFC3339))
	default:
		log.Warnw("Run recorded with failures",
			logger.FieldOutcome, run.Outcome,
			"attempted", len(run.ActionResults),
			"of", len(job.Actions),
			logger.FieldError, run.Error,
			logger.FieldNextRunAt, nextRunAt.Format(time.RFC3339))
	}

	if threshold > 0 && run.Outcome == action.OutcomeFailure && job.ConsecutiveFailures+1 >= threshold && job.Status == StatusActive {
		log.Warnw("Job degraded after consecutive failures",
			"consecutive_failures", job.ConsecutiveFailures+1,
			"threshold", threshold)
	}

	return run, nil
}
