package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	inktest "github.com/inkpulse/inkpulse/internal/testing"
	"github.com/inkpulse/inkpulse/internal/util"
	"github.com/inkpulse/inkpulse/pulse/action"
	"github.com/inkpulse/inkpulse/pulse/schedule"
)

func dialRuns(t *testing.T, baseURL, workspaceID string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws/runs?workspace_id=" + workspaceID
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) schedule.RunEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev schedule.RunEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestRunStream_FiltersByWorkspace(t *testing.T) {
	srv, ts := newTestServer(t, nil, nil)
	conn := dialRuns(t, ts.URL, "ws-1", nil)

	require.Eventually(t, func() bool { return srv.Hub().ClientCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	srv.Hub().BroadcastRunEvent(schedule.RunEvent{Type: schedule.EventRunStarted, RunID: "run-other", WorkspaceID: "ws-2"})
	srv.Hub().BroadcastRunEvent(schedule.RunEvent{Type: schedule.EventRunStarted, RunID: "run-mine", WorkspaceID: "ws-1"})

	ev := readEvent(t, conn)
	assert.Equal(t, "run-mine", ev.RunID)
	assert.Equal(t, schedule.EventRunStarted, ev.Type)
}

func TestRunStream_RequiresWorkspace(t *testing.T) {
	_, ts := newTestServer(t, nil, nil)

	resp, err := http.Get(ts.URL + "/ws/runs")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRunStream_RejectsForeignOrigin(t *testing.T) {
	srv, ts := newTestServer(t, nil, nil)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/runs?workspace_id=ws-1"
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, srv.Hub().ClientCount())
}

func TestRunStream_StopClosesClients(t *testing.T) {
	srv, ts := newTestServer(t, nil, nil)
	conn := dialRuns(t, ts.URL, "ws-1", nil)
	require.Eventually(t, func() bool { return srv.Hub().ClientCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.Equal(t, 0, srv.Hub().ClientCount())

	// New streams are refused once stopped
	resp, err := http.Get(ts.URL + "/ws/runs?workspace_id=ws-1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHub_DropsWhenQueueFull(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t).Sugar())
	// Not running: the queue fills and further events are dropped
	for i := 0; i < eventQueueSize+3; i++ {
		hub.BroadcastRunEvent(schedule.RunEvent{RunID: "r"})
	}
	assert.Equal(t, int64(3), hub.Drops())
}

func TestRunStream_DispatcherEvents(t *testing.T) {
	ctx := context.Background()
	store := schedule.NewStore(inktest.CreateTestDB(t))
	srv, ts := newTestServer(t, nil, store)

	reg := action.NewRegistry()
	ok := action.ExecutorFunc(func(context.Context, action.JobContext, json.RawMessage) (bool, error) {
		return true, nil
	})
	require.NoError(t, reg.Register(action.KindScrape, ok))
	require.NoError(t, reg.Register(action.KindGenerate, ok))

	log := zaptest.NewLogger(t).Sugar()
	d := schedule.NewDispatcher(store, action.NewRunner(reg, time.Second, log), srv.Hub(), schedule.DispatcherConfig{
		InstanceID:   "stream-test",
		PollInterval: time.Hour,
		Lease:        time.Minute,
		Workers:      2,
	}, log)
	t.Cleanup(d.Stop)
	srv.AttachDispatcher(d)

	due := time.Now().Add(-time.Minute).UTC().Truncate(time.Millisecond)
	job := &schedule.Job{
		ID:          "job-stream",
		WorkspaceID: "ws-1",
		Name:        "Streamed digest",
		Spec:        schedule.Spec{Type: schedule.ScheduleDaily, Time: schedule.TimeOfDay{Hour: 8}, Timezone: "UTC"},
		Actions:     []action.Action{{Kind: action.KindScrape}, {Kind: action.KindGenerate}},
		IsEnabled:   true,
		Status:      schedule.StatusActive,
		NextRunAt:   util.Ptr(due),
	}
	require.NoError(t, store.CreateJob(ctx, job))

	conn := dialRuns(t, ts.URL, "ws-1", nil)
	require.Eventually(t, func() bool { return srv.Hub().ClientCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	summary, err := d.RunOnce(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Launched)

	started := readEvent(t, conn)
	assert.Equal(t, schedule.EventRunStarted, started.Type)
	assert.Equal(t, "job-stream", started.JobID)
	assert.Equal(t, []action.Kind{action.KindScrape, action.KindGenerate}, started.Actions)

	completed := readEvent(t, conn)
	assert.Equal(t, schedule.EventRunCompleted, completed.Type)
	assert.Equal(t, started.RunID, completed.RunID)
	assert.Equal(t, action.OutcomeSuccess, completed.Outcome)
	require.NotNil(t, completed.NextRunAt)
	assert.True(t, completed.NextRunAt.After(due))

	resp := do(t, http.MethodGet, ts.URL+"/api/workspaces/ws-1/jobs/job-stream/runs", "")
	runs := decode[ListRunsResponse](t, resp)
	require.Equal(t, 1, runs.Count)
	assert.Equal(t, started.RunID, runs.Runs[0].ID)
	assert.Equal(t, "stream-test", runs.Runs[0].DispatcherID)

	resp = do(t, http.MethodGet, ts.URL+"/api/pulse/status", "")
	status := decode[StatusResponse](t, resp)
	require.NotNil(t, status.Dispatcher)
	assert.Equal(t, int64(1), status.Dispatcher.Firings)
	assert.Equal(t, "stream-test", status.Dispatcher.InstanceID)
}
