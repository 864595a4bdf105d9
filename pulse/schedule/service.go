package schedule

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inkpulse/inkpulse/errors"
	"github.com/inkpulse/inkpulse/logger"
)

// Service is the control API over scheduled jobs.
// Every call is scoped to a workspace; jobs of other workspaces are reported as not found.
type Service struct {
	store  *Store
	logger *zap.SugaredLogger
	now    func() time.Time
}

// NewService creates the control API
func NewService(store *Store, log *zap.SugaredLogger) *Service {
	if log == nil {
		log = logger.Logger
	}
	return &Service{store: store, logger: log.Named("control"), now: time.Now}
}

// Store returns the underlying schedule store
func (s *Service) Store() *Store {
	return s.store
}

// CreateJob validates spec and persists an active job with its first next_run_at
func (s *Service) CreateJob(ctx context.Context, workspaceID string, spec JobSpec) (*Job, error) {
	if err := requireWorkspace(workspaceID); err != nil {
		return nil, err
	}
	spec.Spec = spec.Spec.Normalized()
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	next, err := spec.Next(now)
	if err != nil {
		return nil, err
	}

	job := &Job{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Name:        strings.TrimSpace(spec.Name),
		Description: spec.Description,
		Spec:        spec.Spec,
		Actions:     spec.Actions,
		IsEnabled:   true,
		Status:      StatusActive,
		NextRunAt:   &next,
		CreatedAt:   now.UTC(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, errors.Wrap(err, "failed to create scheduled job")
	}

	s.logger.Infow("Scheduled job created",
		logger.FieldJobID, job.ID,
		logger.FieldWorkspaceID, workspaceID,
		"schedule", job.Spec.Describe(),
		logger.FieldNextRunAt, next.Format(time.RFC3339))
	return s.store.GetJob(ctx, job.ID)
}

// GetJob returns a job of the workspace
func (s *Service) GetJob(ctx context.Context, workspaceID, id string) (*Job, error) {
	if err := requireWorkspace(workspaceID); err != nil {
		return nil, err
	}
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.WorkspaceID != workspaceID {
		return nil, errors.NewNotFoundError("scheduled job %s", id)
	}
	return job, nil
}

// UpdateJob replaces the definition and recomputes next_run_at from now.
// A paused job keeps its stored next_run_at until resumed.
func (s *Service) UpdateJob(ctx context.Context, workspaceID, id string, spec JobSpec) (*Job, error) {
	job, err := s.GetJob(ctx, workspaceID, id)
	if err != nil {
		return nil, err
	}
	if job.Status == StatusDisabled {
		return nil, errors.NewConflictError("scheduled job %s is deleted", id)
	}

	spec.Spec = spec.Spec.Normalized()
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	next, err := spec.Next(s.now())
	if err != nil {
		return nil, err
	}

	job.Name = strings.TrimSpace(spec.Name)
	job.Description = spec.Description
	job.Spec = spec.Spec
	job.Actions = spec.Actions
	job.NextRunAt = &next
	if err := s.store.UpdateDefinition(ctx, job); err != nil {
		return nil, errors.Wrapf(err, "failed to update scheduled job %s", id)
	}

	s.logger.Infow("Scheduled job updated",
		logger.FieldJobID, id,
		logger.FieldWorkspaceID, workspaceID,
		"schedule", spec.Spec.Describe())
	return s.store.GetJob(ctx, id)
}

// PauseJob stops future claims. next_run_at is preserved and an in-flight firing continues.
func (s *Service) PauseJob(ctx context.Context, workspaceID, id string) (*Job, error) {
	job, err := s.GetJob(ctx, workspaceID, id)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case StatusDisabled:
		return nil, errors.NewConflictError("scheduled job %s is deleted and cannot be paused", id)
	case StatusPaused:
		return job, nil
	}

	if err := s.store.PauseJob(ctx, id); err != nil {
		return nil, errors.Wrapf(err, "failed to pause scheduled job %s", id)
	}
	s.logger.Infow("Scheduled job paused", logger.FieldJobID, id, logger.FieldWorkspaceID, workspaceID)
	return s.store.GetJob(ctx, id)
}

// ResumeJob re-enables a paused or degraded job. next_run_at is recomputed from
// now, so an overdue schedule resumes at its next future instant.
func (s *Service) ResumeJob(ctx context.Context, workspaceID, id string) (*Job, error) {
	job, err := s.GetJob(ctx, workspaceID, id)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case StatusDisabled:
		return nil, errors.NewConflictError("scheduled job %s is deleted and cannot be resumed", id)
	case StatusActive:
		return job, nil
	}

	next, err := job.Spec.Next(s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.ResumeJob(ctx, id, next); err != nil {
		return nil, errors.Wrapf(err, "failed to resume scheduled job %s", id)
	}

	s.logger.Infow("Scheduled job resumed",
		logger.FieldJobID, id,
		logger.FieldWorkspaceID, workspaceID,
		logger.FieldNextRunAt, next.Format(time.RFC3339))
	return s.store.GetJob(ctx, id)
}

// DeleteJob soft-deletes a job. Run history is kept; the transition is terminal.
func (s *Service) DeleteJob(ctx context.Context, workspaceID, id string) (*Job, error) {
	job, err := s.GetJob(ctx, workspaceID, id)
	if err != nil {
		return nil, err
	}
	if job.Status == StatusDisabled {
		return job, nil
	}

	if err := s.store.DisableJob(ctx, id); err != nil {
		return nil, errors.Wrapf(err, "failed to delete scheduled job %s", id)
	}
	s.logger.Infow("Scheduled job deleted", logger.FieldJobID, id, logger.FieldWorkspaceID, workspaceID)
	return s.store.GetJob(ctx, id)
}

// ListJobs returns the workspace's jobs
func (s *Service) ListJobs(ctx context.Context, workspaceID string, includeDisabled bool) ([]*Job, error) {
	if err := requireWorkspace(workspaceID); err != nil {
		return nil, err
	}
	return s.store.ListJobs(ctx, workspaceID, includeDisabled)
}

// ListRuns returns run history for one job of the workspace, or the whole workspace when jobID is empty
func (s *Service) ListRuns(ctx context.Context, workspaceID, jobID string, limit int) ([]*RunRecord, error) {
	if err := requireWorkspace(workspaceID); err != nil {
		return nil, err
	}
	if jobID != "" {
		if _, err := s.GetJob(ctx, workspaceID, jobID); err != nil {
			return nil, err
		}
	}
	return s.store.ListRuns(ctx, workspaceID, jobID, limit)
}

func requireWorkspace(workspaceID string) error {
	if strings.TrimSpace(workspaceID) == "" {
		return errors.NewInvalidRequestError("workspace_id is required")
	}
	return nil
}
