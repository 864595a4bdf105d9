package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/inkpulse/inkpulse/am"
	inktest "github.com/inkpulse/inkpulse/internal/testing"
	"github.com/inkpulse/inkpulse/pulse/action"
	"github.com/inkpulse/inkpulse/pulse/schedule"
)

func newTestServer(t *testing.T, dispatcher *schedule.Dispatcher, store *schedule.Store) (*Server, *httptest.Server) {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()
	if store == nil {
		store = schedule.NewStore(inktest.CreateTestDB(t))
	}
	srv := New(schedule.NewService(store, log), dispatcher, am.ServerConfig{
		AllowedOrigins: []string{"http://localhost", "https://app.inkpulse.io"},
	}, log)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	return srv, ts
}

const digestBody = `{
	"name": "Morning digest",
	"schedule_type": "daily",
	"schedule_time": "08:00",
	"timezone": "America/New_York",
	"actions": [
		{"kind": "scrape", "config": {"max_items": 20}},
		{"kind": "generate"},
		{"kind": "send", "config": {"audience_id": "all-subscribers"}}
	]
}`

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestJobLifecycle(t *testing.T) {
	_, ts := newTestServer(t, nil, nil)
	base := ts.URL + "/api/workspaces/ws-1/jobs"

	resp := do(t, http.MethodPost, base, digestBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[schedule.Job](t, resp)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "ws-1", created.WorkspaceID)
	assert.Equal(t, schedule.StatusActive, created.Status)
	require.NotNil(t, created.NextRunAt)
	assert.True(t, created.NextRunAt.After(time.Now()))
	assert.Equal(t, []action.Kind{action.KindScrape, action.KindGenerate, action.KindSend}, action.KindsOf(created.Actions))

	jobURL := base + "/" + created.ID

	resp = do(t, http.MethodGet, jobURL, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, created.ID, decode[schedule.Job](t, resp).ID)

	resp = do(t, http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[ListJobsResponse](t, resp)
	assert.Equal(t, 1, list.Count)

	resp = do(t, http.MethodPost, jobURL+"/pause", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	paused := decode[schedule.Job](t, resp)
	assert.Equal(t, schedule.StatusPaused, paused.Status)
	assert.False(t, paused.IsEnabled)

	resp = do(t, http.MethodPost, jobURL+"/resume", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resumed := decode[schedule.Job](t, resp)
	assert.Equal(t, schedule.StatusActive, resumed.Status)
	assert.True(t, resumed.NextRunAt.After(time.Now()))

	update := `{"name":"Weekly roundup","schedule_type":"weekly","schedule_time":"10:00","schedule_days":["thursday","monday"],"timezone":"UTC","actions":[{"kind":"scrape"}]}`
	resp = do(t, http.MethodPut, jobURL, update)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[schedule.Job](t, resp)
	assert.Equal(t, "Weekly roundup", updated.Name)
	assert.Equal(t, schedule.Weekdays{time.Monday, time.Thursday}, updated.Days)

	resp = do(t, http.MethodDelete, jobURL, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	deleted := decode[schedule.Job](t, resp)
	assert.Equal(t, schedule.StatusDisabled, deleted.Status)
	assert.Nil(t, deleted.NextRunAt)

	// Deleted is terminal
	resp = do(t, http.MethodPost, jobURL+"/resume", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp = do(t, http.MethodPost, jobURL+"/pause", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp = do(t, http.MethodPut, jobURL, digestBody)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = do(t, http.MethodGet, base, "")
	assert.Equal(t, 0, decode[ListJobsResponse](t, resp).Count)
	resp = do(t, http.MethodGet, base+"?include_deleted=true", "")
	assert.Equal(t, 1, decode[ListJobsResponse](t, resp).Count)
}

func TestCreateJob_Validation(t *testing.T) {
	_, ts := newTestServer(t, nil, nil)
	base := ts.URL + "/api/workspaces/ws-1/jobs"

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"unknown timezone", `{"name":"x","schedule_type":"daily","schedule_time":"08:00","timezone":"Nowhere/City","actions":[{"kind":"scrape"}]}`, "timezone"},
		{"bad time", `{"name":"x","schedule_type":"daily","schedule_time":"25:00","timezone":"UTC","actions":[{"kind":"scrape"}]}`, "schedule_time"},
		{"weekly without days", `{"name":"x","schedule_type":"weekly","schedule_time":"08:00","timezone":"UTC","actions":[{"kind":"scrape"}]}`, "schedule_days"},
		{"bad weekday", `{"name":"x","schedule_type":"weekly","schedule_time":"08:00","schedule_days":["funday"],"timezone":"UTC","actions":[{"kind":"scrape"}]}`, "schedule_days"},
		{"unknown type", `{"name":"x","schedule_type":"hourly","schedule_time":"08:00","timezone":"UTC","actions":[{"kind":"scrape"}]}`, "schedule_type"},
		{"no actions", `{"name":"x","schedule_type":"daily","schedule_time":"08:00","timezone":"UTC","actions":[]}`, "actions"},
		{"missing name", `{"schedule_type":"daily","schedule_time":"08:00","timezone":"UTC","actions":[{"kind":"scrape"}]}`, "name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodPost, base, tt.body)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			body := decode[ErrorResponse](t, resp)
			assert.Equal(t, tt.field, body.Field)
			assert.NotEmpty(t, body.Error)
		})
	}

	resp := do(t, http.MethodPost, base, `{"name":"x","cron":"* * * * *"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "unknown fields rejected")

	resp = do(t, http.MethodPost, base, `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodGet, base, "")
	assert.Equal(t, 0, decode[ListJobsResponse](t, resp).Count)
}

func TestWorkspaceScoping(t *testing.T) {
	_, ts := newTestServer(t, nil, nil)

	resp := do(t, http.MethodPost, ts.URL+"/api/workspaces/ws-a/jobs", digestBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	job := decode[schedule.Job](t, resp)

	other := ts.URL + "/api/workspaces/ws-b/jobs/" + job.ID
	for _, req := range []struct{ method, url string }{
		{http.MethodGet, other},
		{http.MethodDelete, other},
		{http.MethodPost, other + "/pause"},
		{http.MethodPost, other + "/resume"},
		{http.MethodGet, other + "/runs"},
	} {
		resp := do(t, req.method, req.url, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, "%s %s", req.method, req.url)
	}

	resp = do(t, http.MethodGet, ts.URL+"/api/workspaces/ws-a/jobs/"+job.ID, "")
	assert.Equal(t, schedule.StatusActive, decode[schedule.Job](t, resp).Status)
}

func TestListRuns(t *testing.T) {
	store := schedule.NewStore(inktest.CreateTestDB(t))
	_, ts := newTestServer(t, nil, store)

	resp := do(t, http.MethodPost, ts.URL+"/api/workspaces/ws-1/jobs", digestBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	job := decode[schedule.Job](t, resp)

	start := time.Date(2025, 1, 16, 13, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		started := start.Add(time.Duration(i) * 24 * time.Hour)
		run := &schedule.RunRecord{
			ID: job.ID + "-" + started.Format("0102"), JobID: job.ID, WorkspaceID: "ws-1",
			StartedAt: started, CompletedAt: started.Add(time.Second), Outcome: action.OutcomeSuccess,
		}
		require.NoError(t, store.RecordCompletion(context.Background(), run, schedule.Completion{NextRunAt: started.Add(24 * time.Hour)}))
	}

	resp = do(t, http.MethodGet, ts.URL+"/api/workspaces/ws-1/jobs/"+job.ID+"/runs?limit=2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	runs := decode[ListRunsResponse](t, resp)
	require.Equal(t, 2, runs.Count)
	assert.True(t, runs.Runs[0].StartedAt.After(runs.Runs[1].StartedAt))

	resp = do(t, http.MethodGet, ts.URL+"/api/workspaces/ws-1/runs", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, decode[ListRunsResponse](t, resp).Count)

	resp = do(t, http.MethodGet, ts.URL+"/api/workspaces/ws-1/runs?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodGet, ts.URL+"/api/workspaces/ws-2/runs", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, decode[ListRunsResponse](t, resp).Count)
}

func TestPulseStatus(t *testing.T) {
	_, ts := newTestServer(t, nil, nil)
	do(t, http.MethodPost, ts.URL+"/api/workspaces/ws-1/jobs", digestBody)

	resp := do(t, http.MethodGet, ts.URL+"/api/pulse/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decode[StatusResponse](t, resp)
	assert.Equal(t, "running", status.ServerState)
	assert.Equal(t, 1, status.Jobs[schedule.StatusActive])
	assert.Nil(t, status.Dispatcher)
	assert.NotEmpty(t, status.Version.GoVersion)

	resp = do(t, http.MethodGet, ts.URL+"/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCORS(t *testing.T) {
	_, ts := newTestServer(t, nil, nil)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/workspaces/ws-1/jobs", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.inkpulse.io")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.inkpulse.io", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "PUT")

	req, err = http.NewRequest(http.MethodGet, ts.URL+"/api/workspaces/ws-1/jobs", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://evil.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestSetAllowedOrigins(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "https://staging.inkpulse.io")
	assert.False(t, srv.checkOrigin(r))

	srv.SetAllowedOrigins([]string{"https://staging.inkpulse.io"})
	assert.True(t, srv.checkOrigin(r))

	r.Header.Del("Origin")
	assert.True(t, srv.checkOrigin(r), "non-browser clients send no origin")
}

func TestUnknownJob(t *testing.T) {
	_, ts := newTestServer(t, nil, nil)

	resp := do(t, http.MethodGet, ts.URL+"/api/workspaces/ws-1/jobs/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotEmpty(t, decode[ErrorResponse](t, resp).Error)

	resp = do(t, http.MethodPatch, ts.URL+"/api/workspaces/ws-1/jobs/does-not-exist", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
