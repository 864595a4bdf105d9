package commands

import (
	"context"
	"strings"

	"github.com/inkpulse/inkpulse/errors"
	"github.com/inkpulse/inkpulse/pulse/schedule"
)

// applyManifest creates or updates every declared job and converges its paused state.
// It stops at the first failing job and returns the results so far.
func applyManifest(ctx context.Context, svc *schedule.Service, m *Manifest) ([]applyResult, error) {
	existing, err := svc.ListJobs(ctx, m.WorkspaceID, false)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*schedule.Job, len(existing))
	byName := make(map[string]*schedule.Job, len(existing))
	for _, j := range existing {
		byID[j.ID] = j
		byName[strings.ToLower(j.Name)] = j
	}

	results := make([]applyResult, 0, len(m.Jobs))
	for i, declared := range m.Jobs {
		spec, err := declared.JobSpec()
		if err != nil {
			return results, errors.Wrapf(err, "jobs[%d] %q", i, declared.Name)
		}

		current := byID[declared.ID]
		if current == nil && declared.ID == "" {
			current = byName[strings.ToLower(declared.Name)]
		}
		if current == nil && declared.ID != "" {
			return results, errors.Wrapf(errors.NewNotFoundError("job %s", declared.ID), "jobs[%d] %q", i, declared.Name)
		}

		var job *schedule.Job
		verb := "created"
		if current == nil {
			job, err = svc.CreateJob(ctx, m.WorkspaceID, spec)
		} else {
			verb = "updated"
			job, err = svc.UpdateJob(ctx, m.WorkspaceID, current.ID, spec)
		}
		if err != nil {
			return results, errors.Wrapf(err, "jobs[%d] %q", i, declared.Name)
		}

		switch {
		case declared.Paused && job.Status != schedule.StatusPaused:
			job, err = svc.PauseJob(ctx, m.WorkspaceID, job.ID)
		case !declared.Paused && job.Status == schedule.StatusPaused:
			job, err = svc.ResumeJob(ctx, m.WorkspaceID, job.ID)
		}
		if err != nil {
			return results, errors.Wrapf(err, "jobs[%d] %q", i, declared.Name)
		}

		results = append(results, applyResult{
			Name:   job.Name,
			ID:     job.ID,
			Action: verb,
			Status: string(job.Status),
		})
	}
	return results, nil
}
