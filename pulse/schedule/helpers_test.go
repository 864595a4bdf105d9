package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/inkpulse/inkpulse/db"
	inktest "github.com/inkpulse/inkpulse/internal/testing"
	"github.com/inkpulse/inkpulse/pulse/action"
)

// createTestDB creates an in-memory test database.
func createTestDB(t *testing.T) *sql.DB {
	return inktest.CreateTestDB(t)
}

// openSharedStores opens two independent handles on one migrated database file
func openSharedStores(t *testing.T, dir string) (*Store, *Store) {
	t.Helper()
	path := dir + "/shared.db"

	first, err := db.Open(db.DriverSQLite, path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { first.Close() })
	require.NoError(t, db.Migrate(first, db.DriverSQLite, nil))

	second, err := db.Open(db.DriverSQLite, path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { second.Close() })

	return NewStore(first), NewStore(second)
}

// fakeClock is a settable clock for store, service and dispatcher tests
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// dailySpec builds a valid daily job spec running the full pipeline
func dailySpec(name, at, tz string) JobSpec {
	t, err := ParseTimeOfDay(at)
	if err != nil {
		panic(err)
	}
	return JobSpec{
		Name: name,
		Spec: Spec{Type: ScheduleDaily, Time: t, Timezone: tz},
		Actions: []action.Action{
			{Kind: action.KindScrape, Config: json.RawMessage(`{"max_items":10}`)},
			{Kind: action.KindGenerate},
			{Kind: action.KindSend, Config: json.RawMessage(`{"audience_id":"everyone"}`)},
		},
	}
}

// recordingExecutor counts calls and returns a fixed result
type recordingExecutor struct {
	mu    sync.Mutex
	calls int
	ok    bool
	err   error
	delay time.Duration
}

func (e *recordingExecutor) Execute(ctx context.Context, job action.JobContext, config json.RawMessage) (bool, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return e.ok, e.err
}

func (e *recordingExecutor) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// collectingBroadcaster keeps every run event
type collectingBroadcaster struct {
	mu     sync.Mutex
	events []RunEvent
}

func (b *collectingBroadcaster) BroadcastRunEvent(ev RunEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *collectingBroadcaster) Events() []RunEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]RunEvent(nil), b.events...)
}
