package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/inkpulse/inkpulse/db"
	"github.com/inkpulse/inkpulse/errors"
	"github.com/inkpulse/inkpulse/pulse/action"
)

// timeLayout is fixed-width so stored timestamps compare lexicographically
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// DefaultBatchSize bounds how many due jobs one poll returns
const DefaultBatchSize = 100

const jobColumns = `
	id, workspace_id, name, description,
	schedule_type, schedule_time, schedule_days, timezone, actions,
	is_enabled, status, next_run_at, last_run_at,
	total_runs, successful_runs, failed_runs, partial_failure_runs, consecutive_failures,
	claim_lease_until, claim_owner, created_at, updated_at`

const runColumns = `
	id, job_id, workspace_id, started_at, completed_at, outcome,
	action_results, error, duration_ms, dispatcher_id`

// Store handles persistence of scheduled jobs and run records.
// Queries are written with '?' placeholders and rebound for the driver.
type Store struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// NewStore creates a schedule store over a SQLite database
func NewStore(conn *sql.DB) *Store {
	return NewStoreWithDriver(conn, db.DriverSQLite)
}

// NewStoreWithDriver creates a schedule store for the given database/sql driver name
func NewStoreWithDriver(conn *sql.DB, driver string) *Store {
	return &Store{db: conn, driver: driver, now: time.Now}
}

// DB returns the underlying database handle
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) q(query string) string {
	return db.Rebind(s.driver, query)
}

// CreateJob inserts a new job. Counters start at zero.
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	days, actions, err := encodeDefinition(job)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO scheduled_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		job.ID, job.WorkspaceID, job.Name, job.Description,
		string(job.Type), job.Time.String(), days, job.Timezone, actions,
		boolToInt(job.IsEnabled), string(job.Status), formatTimePtr(job.NextRunAt), formatTimePtr(job.LastRunAt),
		job.TotalRuns, job.SuccessfulRuns, job.FailedRuns, job.PartialFailureRuns, job.ConsecutiveFailures,
		formatTimePtr(job.ClaimLeaseUntil), nullString(job.ClaimOwner),
		formatTime(job.CreatedAt), formatTime(job.UpdatedAt),
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return errors.NewConflictError("scheduled job %s already exists", job.ID)
		}
		return persistenceErr("create job", err)
	}
	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = ?`), id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("scheduled job %s", id)
		}
		return nil, persistenceErr("get job", err)
	}
	return job, nil
}

// UpdateDefinition replaces the user-editable fields and next_run_at.
// Disabled jobs are not modified.
func (s *Store) UpdateDefinition(ctx context.Context, job *Job) error {
	days, actions, err := encodeDefinition(job)
	if err != nil {
		return err
	}
	job.UpdatedAt = s.now().UTC()

	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE scheduled_jobs
		SET name = ?, description = ?, schedule_type = ?, schedule_time = ?,
		    schedule_days = ?, timezone = ?, actions = ?,
		    next_run_at = CASE WHEN is_enabled = 1 THEN ? ELSE next_run_at END,
		    updated_at = ?
		WHERE id = ? AND status <> ?`),
		job.Name, job.Description, string(job.Type), job.Time.String(),
		days, job.Timezone, actions,
		formatTimePtr(job.NextRunAt),
		formatTime(job.UpdatedAt),
		job.ID, string(StatusDisabled),
	)
	if err != nil {
		return persistenceErr("update job", err)
	}
	return s.expectOneRow(res, job.ID)
}

// PauseJob disables dispatch for a job; next_run_at is kept
func (s *Store) PauseJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE scheduled_jobs
		SET is_enabled = 0, status = ?, updated_at = ?
		WHERE id = ? AND status <> ?`),
		string(StatusPaused), formatTime(s.now()), id, string(StatusDisabled),
	)
	if err != nil {
		return persistenceErr("pause job", err)
	}
	return s.expectOneRow(res, id)
}

// ResumeJob re-enables dispatch with a freshly computed next_run_at
func (s *Store) ResumeJob(ctx context.Context, id string, nextRunAt time.Time) error {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE scheduled_jobs
		SET is_enabled = 1, status = ?, next_run_at = ?, updated_at = ?
		WHERE id = ? AND status <> ?`),
		string(StatusActive), formatTime(nextRunAt), formatTime(s.now()), id, string(StatusDisabled),
	)
	if err != nil {
		return persistenceErr("resume job", err)
	}
	return s.expectOneRow(res, id)
}

// DisableJob soft-deletes a job. Run records are retained.
func (s *Store) DisableJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE scheduled_jobs
		SET is_enabled = 0, status = ?, next_run_at = NULL, updated_at = ?
		WHERE id = ?`),
		string(StatusDisabled), formatTime(s.now()), id,
	)
	if err != nil {
		return persistenceErr("disable job", err)
	}
	return s.expectOneRow(res, id)
}

func (s *Store) expectOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return persistenceErr("rows affected", err)
	}
	if n == 0 {
		return errors.NewConflictError("scheduled job %s is missing or disabled", id)
	}
	return nil
}

// ListJobs returns a workspace's jobs, newest first. Disabled jobs are omitted
// unless includeDisabled is set.
func (s *Store) ListJobs(ctx context.Context, workspaceID string, includeDisabled bool) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM scheduled_jobs WHERE workspace_id = ?`
	args := []interface{}{workspaceID}
	if !includeDisabled {
		query += ` AND status <> ?`
		args = append(args, string(StatusDisabled))
	}
	query += ` ORDER BY created_at DESC, id`

	return s.queryJobs(ctx, "list jobs", query, args...)
}

// ListDue returns enabled jobs whose next_run_at has passed and whose claim is
// absent or expired, oldest due first.
func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = DefaultBatchSize
	}
	ts := formatTime(now)
	return s.queryJobs(ctx, "list due jobs", `
		SELECT `+jobColumns+`
		FROM scheduled_jobs
		WHERE is_enabled = 1
		  AND next_run_at IS NOT NULL AND next_run_at <= ?
		  AND (claim_lease_until IS NULL OR claim_lease_until < ?)
		ORDER BY next_run_at ASC
		LIMIT ?`, ts, ts, limit)
}

// NextScheduled returns the enabled job that fires soonest, or nil
func (s *Store) NextScheduled(ctx context.Context) (*Job, error) {
	jobs, err := s.queryJobs(ctx, "next scheduled job", `
		SELECT `+jobColumns+`
		FROM scheduled_jobs
		WHERE is_enabled = 1 AND next_run_at IS NOT NULL
		ORDER BY next_run_at ASC
		LIMIT 1`)
	if err != nil || len(jobs) == 0 {
		return nil, err
	}
	return jobs[0], nil
}

// ClaimJob atomically takes the lease on a due job.
// Returns ErrClaimConflict when the job was claimed by someone else or is no longer due.
func (s *Store) ClaimJob(ctx context.Context, id, owner string, now, leaseUntil time.Time) error {
	ts := formatTime(now)
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE scheduled_jobs
		SET claim_lease_until = ?, claim_owner = ?
		WHERE id = ?
		  AND is_enabled = 1
		  AND next_run_at IS NOT NULL AND next_run_at <= ?
		  AND (claim_lease_until IS NULL OR claim_lease_until < ?)`),
		formatTime(leaseUntil), owner, id, ts, ts,
	)
	if err != nil {
		return persistenceErr("claim job", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistenceErr("claim job", err)
	}
	if n == 0 {
		return ErrClaimConflict
	}
	return nil
}

// ReleaseClaim drops a lease held by owner without recording a run
func (s *Store) ReleaseClaim(ctx context.Context, id, owner string) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		UPDATE scheduled_jobs
		SET claim_lease_until = NULL, claim_owner = NULL
		WHERE id = ? AND claim_owner = ?`), id, owner)
	return persistenceErr("release claim", err)
}

// Completion describes how a finished firing updates its job row
type Completion struct {
	Owner            string    // dispatcher that held the claim
	NextRunAt        time.Time // applied only if the job is still enabled
	FailureThreshold int       // consecutive failures before degraded; 0 disables
}

// RecordCompletion inserts the run record and applies counters, degraded policy,
// next_run_at and claim release in one transaction with a single UPDATE.
func (s *Store) RecordCompletion(ctx context.Context, run *RunRecord, c Completion) error {
	results, err := json.Marshal(run.ActionResults)
	if err != nil {
		return errors.Wrap(err, "failed to encode action results")
	}
	if run.ActionResults == nil {
		results = []byte("[]")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistenceErr("begin completion", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO run_records (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		run.ID, run.JobID, run.WorkspaceID,
		formatTime(run.StartedAt), formatTime(run.CompletedAt), string(run.Outcome),
		string(results), nullString(run.Error), run.DurationMs, run.DispatcherID,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return errors.NewConflictError("run %s for job %s already recorded", run.ID, run.JobID)
		}
		return persistenceErr("insert run record", err)
	}

	outcome := string(run.Outcome)
	res, err := tx.ExecContext(ctx, s.q(`
		UPDATE scheduled_jobs SET
		    total_runs = total_runs + 1,
		    successful_runs = successful_runs + CASE WHEN ? = 'success' THEN 1 ELSE 0 END,
		    failed_runs = failed_runs + CASE WHEN ? = 'failure' THEN 1 ELSE 0 END,
		    partial_failure_runs = partial_failure_runs + CASE WHEN ? = 'partial_failure' THEN 1 ELSE 0 END,
		    consecutive_failures = CASE WHEN ? = 'failure' THEN consecutive_failures + 1 ELSE 0 END,
		    status = CASE
		        WHEN status = 'active' AND ? > 0 AND ? = 'failure' AND consecutive_failures + 1 >= ? THEN 'degraded'
		        WHEN status = 'degraded' AND ? <> 'failure' THEN 'active'
		        ELSE status
		    END,
		    last_run_at = ?,
		    next_run_at = CASE WHEN is_enabled = 1 THEN ? ELSE next_run_at END,
		    claim_lease_until = CASE WHEN claim_owner = ? THEN NULL ELSE claim_lease_until END,
		    claim_owner = CASE WHEN claim_owner = ? THEN NULL ELSE claim_owner END,
		    updated_at = ?
		WHERE id = ?`),
		outcome, outcome, outcome, outcome,
		c.FailureThreshold, outcome, c.FailureThreshold,
		outcome,
		formatTime(run.StartedAt),
		formatTime(c.NextRunAt),
		c.Owner, c.Owner,
		formatTime(s.now()),
		run.JobID,
	)
	if err != nil {
		return persistenceErr("update job counters", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistenceErr("update job counters", err)
	}
	if n == 0 {
		return errors.NewNotFoundError("scheduled job %s", run.JobID)
	}

	if err := tx.Commit(); err != nil {
		return persistenceErr("commit completion", err)
	}
	return nil
}

// ListRuns returns a job's run records, newest first.
// An empty jobID lists runs across the workspace.
func (s *Store) ListRuns(ctx context.Context, workspaceID, jobID string, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + runColumns + ` FROM run_records WHERE workspace_id = ?`
	args := []interface{}{workspaceID}
	if jobID != "" {
		query += ` AND job_id = ?`
		args = append(args, jobID)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, persistenceErr("list runs", err)
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, persistenceErr("scan run", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr("list runs", err)
	}
	return runs, nil
}

// CountByStatus returns the number of jobs per status
func (s *Store) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM scheduled_jobs GROUP BY status`)
	if err != nil {
		return nil, persistenceErr("count jobs", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, persistenceErr("count jobs", err)
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

func (s *Store) queryJobs(ctx context.Context, op, query string, args ...interface{}) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, persistenceErr(op, err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, persistenceErr(op, err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr(op, err)
	}
	return jobs, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scanner) (*Job, error) {
	var job Job
	var scheduleType, scheduleTime, days, actions, status string
	var nextRunAt, lastRunAt, leaseUntil, claimOwner sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&job.ID, &job.WorkspaceID, &job.Name, &job.Description,
		&scheduleType, &scheduleTime, &days, &job.Timezone, &actions,
		&job.IsEnabled, &status, &nextRunAt, &lastRunAt,
		&job.TotalRuns, &job.SuccessfulRuns, &job.FailedRuns, &job.PartialFailureRuns, &job.ConsecutiveFailures,
		&leaseUntil, &claimOwner, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Type = ScheduleType(scheduleType)
	job.Status = Status(status)
	job.ClaimOwner = claimOwner.String

	// Parse errors indicate data corruption or schema mismatch
	if job.Time, err = ParseTimeOfDay(scheduleTime); err != nil {
		return nil, errors.Wrapf(err, "job %s schedule_time", job.ID)
	}
	if err := json.Unmarshal([]byte(days), &job.Days); err != nil {
		return nil, errors.Wrapf(err, "job %s schedule_days", job.ID)
	}
	if err := json.Unmarshal([]byte(actions), &job.Actions); err != nil {
		return nil, errors.Wrapf(err, "job %s actions", job.ID)
	}
	if job.NextRunAt, err = parseNullTime(nextRunAt); err != nil {
		return nil, errors.Wrapf(err, "job %s next_run_at", job.ID)
	}
	if job.LastRunAt, err = parseNullTime(lastRunAt); err != nil {
		return nil, errors.Wrapf(err, "job %s last_run_at", job.ID)
	}
	if job.ClaimLeaseUntil, err = parseNullTime(leaseUntil); err != nil {
		return nil, errors.Wrapf(err, "job %s claim_lease_until", job.ID)
	}
	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, errors.Wrapf(err, "job %s created_at", job.ID)
	}
	if job.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, errors.Wrapf(err, "job %s updated_at", job.ID)
	}
	if len(job.Days) == 0 {
		job.Days = nil
	}
	return &job, nil
}

func scanRun(row scanner) (*RunRecord, error) {
	var run RunRecord
	var startedAt, completedAt, outcome, results string
	var errMsg sql.NullString

	if err := row.Scan(
		&run.ID, &run.JobID, &run.WorkspaceID, &startedAt, &completedAt, &outcome,
		&results, &errMsg, &run.DurationMs, &run.DispatcherID,
	); err != nil {
		return nil, err
	}

	var err error
	run.Outcome = action.Outcome(outcome)
	run.Error = errMsg.String
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, errors.Wrapf(err, "run %s started_at", run.ID)
	}
	if run.CompletedAt, err = parseTime(completedAt); err != nil {
		return nil, errors.Wrapf(err, "run %s completed_at", run.ID)
	}
	if err := json.Unmarshal([]byte(results), &run.ActionResults); err != nil {
		return nil, errors.Wrapf(err, "run %s action_results", run.ID)
	}
	return &run, nil
}

func encodeDefinition(job *Job) (days, actions string, err error) {
	d := job.Days
	if job.Type == ScheduleDaily || d == nil {
		d = Weekdays{}
	}
	daysJSON, err := json.Marshal(d)
	if err != nil {
		return "", "", errors.Wrap(err, "failed to encode schedule_days")
	}
	actionsJSON, err := json.Marshal(job.Actions)
	if err != nil {
		return "", "", errors.Wrap(err, "failed to encode actions")
	}
	return string(daysJSON), string(actionsJSON), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
