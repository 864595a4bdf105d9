package action

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/inkpulse/inkpulse/errors"
)

// JobContext describes the firing an action belongs to
type JobContext struct {
	JobID       string    `json:"job_id"`
	WorkspaceID string    `json:"workspace_id"`
	JobName     string    `json:"job_name"`
	RunID       string    `json:"run_id"`
	FiredAt     time.Time `json:"fired_at"`
	Step        int       `json:"step"` // zero-based position in the pipeline
}

// Executor runs one kind of action against an external collaborator.
//
// Execute returns succeeded=false or a non-nil error to fail the action.
// Implementations must honor ctx cancellation; the runner abandons calls that
// outlive the per-action timeout.
type Executor interface {
	Execute(ctx context.Context, job JobContext, config json.RawMessage) (succeeded bool, err error)
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(ctx context.Context, job JobContext, config json.RawMessage) (bool, error)

func (f ExecutorFunc) Execute(ctx context.Context, job JobContext, config json.RawMessage) (bool, error) {
	return f(ctx, job, config)
}

// Registry maps action kinds to executors.
// Thread-safe for concurrent registration and lookup.
type Registry struct {
	executors map[Kind]Executor
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{executors: make(map[Kind]Executor)}
}

// Register binds an executor to a kind, replacing any previous one
func (r *Registry) Register(kind Kind, exec Executor) error {
	if !kind.Valid() {
		return errors.Newf("cannot register executor for unknown kind %q", kind)
	}
	if exec == nil {
		return errors.Newf("nil executor for kind %q", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[kind] = exec
	return nil
}

// Get returns the executor for kind, or nil
func (r *Registry) Get(kind Kind) Executor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.executors[kind]
}

// Has checks if an executor is registered for kind
func (r *Registry) Has(kind Kind) bool {
	return r.Get(kind) != nil
}

// Registered returns the registered kinds, sorted
func (r *Registry) Registered() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.executors))
	for k := range r.executors {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
