package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkpulse/inkpulse/errors"
	"github.com/inkpulse/inkpulse/pulse/action"
)

func newTestService(t *testing.T, now time.Time) (*Service, *fakeClock) {
	t.Helper()
	clock := newFakeClock(now)
	svc := NewService(NewStore(createTestDB(t)), nil)
	svc.now = clock.Now
	return svc, clock
}

func TestService_CreateJob(t *testing.T) {
	svc, _ := newTestService(t, mustParse(t, "2025-01-14T12:00:00Z"))

	spec := JobSpec{
		Name: "  Mon/Thu digest ",
		Spec: Spec{Type: ScheduleWeekly, Time: TimeOfDay{Hour: 10}, Days: Weekdays{time.Thursday, time.Monday}, Timezone: "UTC"},
		Actions: []action.Action{
			{Kind: action.KindScrape},
			{Kind: action.KindSend, Config: []byte(`{"audience_id":"vip"}`)},
		},
	}
	job, err := svc.CreateJob(context.Background(), "ws-1", spec)
	require.NoError(t, err)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "Mon/Thu digest", job.Name)
	assert.Equal(t, Weekdays{time.Monday, time.Thursday}, job.Days, "days normalized")
	assert.Equal(t, StatusActive, job.Status)
	assert.True(t, job.IsEnabled)
	assert.True(t, mustParse(t, "2025-01-16T10:00:00Z").Equal(*job.NextRunAt))
	assert.Zero(t, job.TotalRuns)
}

func TestService_CreateJobRejectsInvalid(t *testing.T) {
	svc, _ := newTestService(t, time.Now())
	ctx := context.Background()

	tests := []struct {
		name  string
		ws    string
		spec  func() JobSpec
		field string
	}{
		{"missing workspace", "", func() JobSpec { return dailySpec("x", "08:00", "UTC") }, ""},
		{"bad timezone", "ws", func() JobSpec { return dailySpec("x", "08:00", "Mars/Olympus") }, "timezone"},
		{"weekly without days", "ws", func() JobSpec {
			s := dailySpec("x", "08:00", "UTC")
			s.Type = ScheduleWeekly
			return s
		}, "schedule_days"},
		{"no actions", "ws", func() JobSpec {
			s := dailySpec("x", "08:00", "UTC")
			s.Actions = nil
			return s
		}, "actions"},
		{"send without audience", "ws", func() JobSpec {
			s := dailySpec("x", "08:00", "UTC")
			s.Actions = []action.Action{{Kind: action.KindSend}}
			return s
		}, "actions"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateJob(ctx, tt.ws, tt.spec())
			require.Error(t, err)
			assert.True(t, errors.IsInvalidRequestError(err))
			if tt.field != "" {
				var ise *InvalidScheduleError
				require.True(t, errors.As(err, &ise))
				assert.Equal(t, tt.field, ise.Field)
			}
		})
	}

	jobs, err := svc.ListJobs(ctx, "ws", true)
	require.NoError(t, err)
	assert.Empty(t, jobs, "nothing persisted")
}

func TestService_PauseResume(t *testing.T) {
	start := mustParse(t, "2025-01-16T12:00:00Z")
	svc, clock := newTestService(t, start)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, "ws-1", dailySpec("Digest", "08:00", "America/New_York"))
	require.NoError(t, err)
	firstNext := *job.NextRunAt

	paused, err := svc.PauseJob(ctx, "ws-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, paused.Status)
	assert.False(t, paused.IsEnabled)
	assert.True(t, firstNext.Equal(*paused.NextRunAt), "pause keeps next_run_at")

	again, err := svc.PauseJob(ctx, "ws-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, again.Status, "pause is idempotent")

	// Resume three days later: no catch-up of missed firings
	clock.Set(start.Add(72 * time.Hour))
	resumed, err := svc.ResumeJob(ctx, "ws-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, resumed.Status)
	assert.True(t, resumed.IsEnabled)
	assert.True(t, resumed.NextRunAt.After(clock.Now()))
	assert.True(t, mustParse(t, "2025-01-19T13:00:00Z").Equal(*resumed.NextRunAt))

	same, err := svc.ResumeJob(ctx, "ws-1", job.ID)
	require.NoError(t, err)
	assert.True(t, resumed.NextRunAt.Equal(*same.NextRunAt), "resume of an active job is a no-op")
}

func TestService_ResumeDegraded(t *testing.T) {
	now := mustParse(t, "2025-01-16T12:00:00Z")
	svc, _ := newTestService(t, now)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, "ws-1", dailySpec("Digest", "08:00", "UTC"))
	require.NoError(t, err)
	run := &RunRecord{ID: "r1", JobID: job.ID, WorkspaceID: "ws-1", StartedAt: now, CompletedAt: now, Outcome: action.OutcomeFailure}
	require.NoError(t, svc.Store().RecordCompletion(ctx, run, Completion{NextRunAt: now.Add(time.Hour), FailureThreshold: 1}))

	got, err := svc.GetJob(ctx, "ws-1", job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDegraded, got.Status)

	resumed, err := svc.ResumeJob(ctx, "ws-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, resumed.Status)
}

func TestService_DeleteIsTerminal(t *testing.T) {
	svc, _ := newTestService(t, mustParse(t, "2025-01-16T12:00:00Z"))
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, "ws-1", dailySpec("Digest", "08:00", "UTC"))
	require.NoError(t, err)

	deleted, err := svc.DeleteJob(ctx, "ws-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDisabled, deleted.Status)
	assert.False(t, deleted.IsEnabled)
	assert.Nil(t, deleted.NextRunAt)

	_, err = svc.DeleteJob(ctx, "ws-1", job.ID)
	assert.NoError(t, err, "delete is idempotent")

	_, err = svc.PauseJob(ctx, "ws-1", job.ID)
	assert.True(t, errors.IsConflictError(err))
	_, err = svc.ResumeJob(ctx, "ws-1", job.ID)
	assert.True(t, errors.IsConflictError(err))
	_, err = svc.UpdateJob(ctx, "ws-1", job.ID, dailySpec("Renamed", "09:00", "UTC"))
	assert.True(t, errors.IsConflictError(err))

	// Still readable with its history
	got, err := svc.GetJob(ctx, "ws-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, "Digest", got.Name)

	active, err := svc.ListJobs(ctx, "ws-1", false)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestService_UpdateJob(t *testing.T) {
	now := mustParse(t, "2025-01-16T12:00:00Z")
	svc, _ := newTestService(t, now)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, "ws-1", dailySpec("Digest", "08:00", "UTC"))
	require.NoError(t, err)

	update := dailySpec("Evening digest", "18:30", "Europe/Berlin")
	update.Description = "after work"
	updated, err := svc.UpdateJob(ctx, "ws-1", job.ID, update)
	require.NoError(t, err)
	assert.Equal(t, "Evening digest", updated.Name)
	assert.Equal(t, "after work", updated.Description)
	assert.Equal(t, "Europe/Berlin", updated.Timezone)
	assert.True(t, mustParse(t, "2025-01-16T17:30:00Z").Equal(*updated.NextRunAt))

	// Paused jobs keep the stored next_run_at until resumed
	_, err = svc.PauseJob(ctx, "ws-1", job.ID)
	require.NoError(t, err)
	updated, err = svc.UpdateJob(ctx, "ws-1", job.ID, dailySpec("Digest", "06:00", "UTC"))
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay{Hour: 6}, updated.Time)
	assert.True(t, mustParse(t, "2025-01-16T17:30:00Z").Equal(*updated.NextRunAt))

	bad := dailySpec("Digest", "06:00", "UTC")
	bad.Time = TimeOfDay{Hour: 25}
	_, err = svc.UpdateJob(ctx, "ws-1", job.ID, bad)
	assert.True(t, IsInvalidSchedule(err))
}

func TestService_WorkspaceIsolation(t *testing.T) {
	svc, _ := newTestService(t, mustParse(t, "2025-01-16T12:00:00Z"))
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, "ws-a", dailySpec("Digest", "08:00", "UTC"))
	require.NoError(t, err)

	_, err = svc.GetJob(ctx, "ws-b", job.ID)
	assert.True(t, errors.IsNotFoundError(err))
	_, err = svc.PauseJob(ctx, "ws-b", job.ID)
	assert.True(t, errors.IsNotFoundError(err))
	_, err = svc.DeleteJob(ctx, "ws-b", job.ID)
	assert.True(t, errors.IsNotFoundError(err))
	_, err = svc.ListRuns(ctx, "ws-b", job.ID, 10)
	assert.True(t, errors.IsNotFoundError(err))

	jobs, err := svc.ListJobs(ctx, "ws-b", true)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	got, err := svc.GetJob(ctx, "ws-a", job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status, "untouched by other workspace")
}

func TestService_ListRuns(t *testing.T) {
	now := mustParse(t, "2025-01-16T12:00:00Z")
	svc, _ := newTestService(t, now)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, "ws-1", dailySpec("Digest", "08:00", "UTC"))
	require.NoError(t, err)
	for i, outcome := range []action.Outcome{action.OutcomeSuccess, action.OutcomeFailure, action.OutcomePartialFailure} {
		started := now.Add(time.Duration(i) * 24 * time.Hour)
		run := &RunRecord{ID: string(outcome), JobID: job.ID, WorkspaceID: "ws-1", StartedAt: started, CompletedAt: started, Outcome: outcome}
		require.NoError(t, svc.Store().RecordCompletion(ctx, run, Completion{NextRunAt: started.Add(24 * time.Hour)}))
	}

	runs, err := svc.ListRuns(ctx, "ws-1", job.ID, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, action.OutcomePartialFailure, runs[0].Outcome, "newest first")
	assert.Equal(t, action.OutcomeFailure, runs[1].Outcome)

	got, err := svc.GetJob(ctx, "ws-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, got.TotalRuns, got.SuccessfulRuns+got.FailedRuns+got.PartialFailureRuns)

	_, err = svc.ListRuns(ctx, "ws-1", "missing", 10)
	assert.True(t, errors.IsNotFoundError(err))
}
