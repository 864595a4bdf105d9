package action

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/inkpulse/inkpulse/errors"
	"github.com/inkpulse/inkpulse/logger"
)

// Outcome classifies a whole firing
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomePartialFailure Outcome = "partial_failure"
	OutcomeFailure        Outcome = "failure"
)

// Valid reports whether o is a known outcome
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomePartialFailure, OutcomeFailure:
		return true
	}
	return false
}

// ResultStatus is the status of one attempted action
type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusFailure ResultStatus = "failure"
)

// Result is the entry recorded for one attempted action.
// Actions after the first failure are not attempted and have no Result.
type Result struct {
	Kind       Kind         `json:"action_kind"`
	Status     ResultStatus `json:"status"`
	Error      string       `json:"error,omitempty"`
	TimedOut   bool         `json:"timed_out,omitempty"`
	DurationMs int64        `json:"duration_ms"`
}

// Report is the runner's account of one firing
type Report struct {
	Outcome     Outcome   `json:"outcome"`
	Results     []Result  `json:"action_results"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Err         error     `json:"-"` // first failure, nil on success
}

// Classify derives the outcome from the attempted results
func Classify(results []Result) Outcome {
	for i, r := range results {
		if r.Status != StatusSuccess {
			if i == 0 {
				return OutcomeFailure
			}
			return OutcomePartialFailure
		}
	}
	if len(results) == 0 {
		return OutcomeFailure
	}
	return OutcomeSuccess
}

// Runner executes a job's actions strictly in order with a per-action timeout,
// aborting at the first failure.
type Runner struct {
	registry *Registry
	timeout  atomic.Int64 // nanoseconds
	logger   *zap.SugaredLogger
	now      func() time.Time
}

// NewRunner creates a runner. A nil logger falls back to the global logger.
func NewRunner(registry *Registry, timeout time.Duration, log *zap.SugaredLogger) *Runner {
	if log == nil {
		log = logger.Logger
	}
	r := &Runner{
		registry: registry,
		logger:   logger.AddPulseSymbol(log.Named("runner")),
		now:      time.Now,
	}
	r.SetTimeout(timeout)
	return r
}

// SetTimeout changes the per-action timeout for subsequent actions
func (r *Runner) SetTimeout(d time.Duration) {
	r.timeout.Store(int64(d))
}

// Timeout returns the current per-action timeout
func (r *Runner) Timeout() time.Duration {
	return time.Duration(r.timeout.Load())
}

// Run executes actions in order. It never returns an error: failures are
// captured in the report so the caller can record them.
func (r *Runner) Run(ctx context.Context, job JobContext, actions []Action) Report {
	report := Report{StartedAt: r.now().UTC()}
	log := r.logger.With(logger.FieldJobID, job.JobID, logger.FieldRunID, job.RunID)

	for i, a := range actions {
		job.Step = i
		start := r.now()
		err := r.runOne(ctx, job, a)
		result := Result{
			Kind:       a.Kind,
			Status:     StatusSuccess,
			DurationMs: r.now().Sub(start).Milliseconds(),
		}

		if err != nil {
			result.Status = StatusFailure
			result.Error = err.Error()
			result.TimedOut = IsTimeout(err)
			report.Results = append(report.Results, result)
			report.Err = err

			log.Warnw("Action failed, aborting pipeline",
				logger.FieldAction, a.Kind,
				"step", i,
				"skipped", len(actions)-i-1,
				logger.FieldDurationMS, result.DurationMs,
				logger.FieldError, err)
			break
		}

		report.Results = append(report.Results, result)
		log.Debugw(fmt.Sprintf("%s Action succeeded", a.Kind.Symbol()),
			logger.FieldAction, a.Kind,
			"step", i,
			logger.FieldDurationMS, result.DurationMs)
	}

	report.Outcome = Classify(report.Results)
	report.CompletedAt = r.now().UTC()
	return report
}

type execResult struct {
	succeeded bool
	err       error
}

func (r *Runner) runOne(ctx context.Context, job JobContext, a Action) error {
	exec := r.registry.Get(a.Kind)
	if exec == nil {
		return &ActionExecutionError{Kind: a.Kind, Step: job.Step, Err: errors.Wrapf(ErrNoExecutor, "kind %s", a.Kind)}
	}

	timeout := r.Timeout()
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Buffered so an abandoned executor can still deliver and exit
	done := make(chan execResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- execResult{err: errors.Newf("executor panic: %v", p)}
			}
		}()
		ok, err := exec.Execute(actx, job, a.Config)
		done <- execResult{succeeded: ok, err: err}
	}()

	var res execResult
	select {
	case res = <-done:
	case <-actx.Done():
		res = execResult{err: actx.Err()}
	}

	if res.succeeded && res.err == nil {
		return nil
	}

	if errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return &ActionExecutionError{Kind: a.Kind, Step: job.Step, Timeout: timeout, Err: context.DeadlineExceeded}
	}
	return &ActionExecutionError{Kind: a.Kind, Step: job.Step, Err: res.err}
}
