package schedule

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkpulse/inkpulse/db"
	"github.com/inkpulse/inkpulse/pulse/action"
)

// startPostgres runs a throwaway postgres container and returns a migrated connection.
// Skipped with -short or when Docker is unavailable.
func startPostgres(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres integration test skipped in short mode")
	}
	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker unavailable: %v", err)
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "16-alpine",
		Env: []string{
			"POSTGRES_USER=inkpulse",
			"POSTGRES_PASSWORD=inkpulse",
			"POSTGRES_DB=inkpulse",
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Skipf("could not start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = pool.Purge(resource) })
	_ = resource.Expire(300)

	dsn := fmt.Sprintf("postgres://inkpulse:inkpulse@%s/inkpulse?sslmode=disable", resource.GetHostPort("5432/tcp"))
	pool.MaxWait = 90 * time.Second

	var conn *sql.DB
	err = pool.Retry(func() error {
		var err error
		conn, err = db.Open(db.DriverPostgres, dsn, nil)
		return err
	})
	require.NoError(t, err, "postgres did not become ready")
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, db.Migrate(conn, db.DriverPostgres, nil))
	return conn
}

func TestStore_Postgres(t *testing.T) {
	conn := startPostgres(t)
	store := NewStoreWithDriver(conn, db.DriverPostgres)
	ctx := context.Background()
	now := mustParse(t, "2025-01-16T13:00:00Z")

	job := newStoredJob(t, store, "ws-pg", now.Add(-time.Minute))
	newStoredJob(t, store, "ws-pg", now.Add(time.Hour))

	due, err := store.ListDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, job.ID, due[0].ID)

	require.NoError(t, store.ClaimJob(ctx, job.ID, "pg-a", now, now.Add(10*time.Minute)))
	assert.ErrorIs(t, store.ClaimJob(ctx, job.ID, "pg-b", now, now.Add(10*time.Minute)), ErrClaimConflict)

	run := &RunRecord{
		ID: "pg-run", JobID: job.ID, WorkspaceID: "ws-pg",
		StartedAt: now, CompletedAt: now.Add(time.Second),
		Outcome:       action.OutcomeFailure,
		ActionResults: []action.Result{{Kind: action.KindScrape, Status: action.StatusFailure, Error: "boom"}},
		Error:         "boom",
		DurationMs:    1000,
		DispatcherID:  "pg-a",
	}
	require.NoError(t, store.RecordCompletion(ctx, run, Completion{Owner: "pg-a", NextRunAt: now.Add(24 * time.Hour), FailureThreshold: 1}))

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.FailedRuns)
	assert.Equal(t, StatusDegraded, got.Status)
	assert.Nil(t, got.ClaimLeaseUntil)
	assert.True(t, now.Add(24*time.Hour).Equal(*got.NextRunAt))

	runs, err := store.ListRuns(ctx, "ws-pg", job.ID, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "boom", runs[0].Error)

	versions, err := db.AppliedVersions(conn)
	require.NoError(t, err)
	assert.Equal(t, []string{"000", "001", "002"}, versions)
}
