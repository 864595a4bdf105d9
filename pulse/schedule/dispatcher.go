package schedule

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/inkpulse/inkpulse/am"
	"github.com/inkpulse/inkpulse/errors"
	"github.com/inkpulse/inkpulse/logger"
	"github.com/inkpulse/inkpulse/pulse/action"
	"github.com/inkpulse/inkpulse/sym"
)

// DispatcherConfig contains configuration for the job dispatcher
type DispatcherConfig struct {
	InstanceID          string        // claim owner; generated when empty
	PollInterval        time.Duration // how often to look for due jobs
	Lease               time.Duration // minimum claim length
	ActionTimeout       time.Duration // per-action deadline
	Workers             int           // concurrent firings per instance
	BatchSize           int           // due jobs fetched per poll
	MaxFiringsPerSecond float64       // 0 = unlimited
	FailureThreshold    int           // consecutive failures before degraded, 0 = off
	PersistenceRetryMax time.Duration // total backoff budget for store errors
	ShutdownGrace       time.Duration // how long Stop waits for in-flight firings
}

// DefaultDispatcherConfig returns sensible defaults
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		PollInterval:        30 * time.Second,
		Lease:               10 * time.Minute,
		ActionTimeout:       2 * time.Minute,
		Workers:             4,
		BatchSize:           DefaultBatchSize,
		PersistenceRetryMax: 2 * time.Minute,
		ShutdownGrace:       30 * time.Second,
	}
}

// DispatcherConfigFromPulse maps the [pulse] config section
func DispatcherConfigFromPulse(p am.PulseConfig) DispatcherConfig {
	cfg := DefaultDispatcherConfig()
	cfg.PollInterval = p.PollInterval()
	cfg.Lease = p.LeaseDuration()
	cfg.ActionTimeout = p.ActionTimeout()
	cfg.Workers = p.Workers
	cfg.BatchSize = p.BatchSize
	cfg.MaxFiringsPerSecond = p.MaxFiringsPerSecond
	cfg.FailureThreshold = p.FailureThreshold
	cfg.PersistenceRetryMax = p.PersistenceRetryMax()
	return cfg.withDefaults()
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	def := DefaultDispatcherConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.Lease <= 0 {
		c.Lease = def.Lease
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = def.ActionTimeout
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = def.ShutdownGrace
	}
	if c.InstanceID == "" {
		host, _ := os.Hostname()
		if host == "" {
			host = "inkpulse"
		}
		c.InstanceID = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}
	return c
}

// DispatchSummary describes one poll
type DispatchSummary struct {
	Due       int // jobs returned by the due query
	Launched  int // firings handed to the worker pool
	Saturated int // due jobs left for the next poll because all workers were busy
}

// DispatcherStats is a point-in-time view for status endpoints
type DispatcherStats struct {
	InstanceID          string        `json:"instance_id"`
	Running             bool          `json:"running"`
	LastTickAt          *time.Time    `json:"last_tick_at"`
	Ticks               int64         `json:"ticks"`
	ClaimsWon           int64         `json:"claims_won"`
	ClaimsLost          int64         `json:"claims_lost"`
	Firings             int64         `json:"firings"`
	Saturated           int64         `json:"saturated"`
	PersistenceRetries  int64         `json:"persistence_retries"`
	SkippedTicks        int64         `json:"skipped_ticks"`
	InFlight            int64         `json:"in_flight"`
	Workers             int           `json:"workers"`
	PollIntervalSeconds float64       `json:"poll_interval_seconds"`
	LeaseSeconds        float64       `json:"lease_seconds"`
	MaxFiringsPerSecond float64       `json:"max_firings_per_second"`
	FailureThreshold    int           `json:"failure_threshold"`
	Error               string        `json:"error,omitempty"`
	System              SystemMetrics `json:"system"`
}

// Dispatcher polls the store for due jobs, claims them and runs their pipelines.
//
// Several dispatchers may share one store; the claim column is the only
// coordination between them. A crash while holding a claim lets the lease expire,
// after which another instance may fire the job again.
type Dispatcher struct {
	store       *Store
	runner      *action.Runner
	tracker     *RunTracker
	broadcaster ExecutionBroadcaster

	mu         sync.Mutex
	cfg        DispatcherConfig
	lastTickAt time.Time
	lastNextID string
	started    bool

	limiter    *rate.Limiter
	pool       errgroup.Group
	intervalCh chan time.Duration

	ctx        context.Context // polling and claiming
	cancel     context.CancelFunc
	runCtx     context.Context // in-flight pipelines, outlives ctx until shutdown grace
	cancelRuns context.CancelFunc
	loopDone   chan struct{}

	errMu sync.Mutex
	err   error

	ticks      atomic.Int64
	claimsWon  atomic.Int64
	claimsLost atomic.Int64
	firings    atomic.Int64
	saturated  atomic.Int64
	retries    atomic.Int64
	inFlight   atomic.Int64

	skippedTicks atomic.Int64

	logger   *zap.SugaredLogger
	pulseLog *zap.SugaredLogger // Logger with Pulse symbol pre-attached
	now      func() time.Time
}

// NewDispatcher creates a dispatcher. broadcaster may be nil.
func NewDispatcher(store *Store, runner *action.Runner, broadcaster ExecutionBroadcaster, cfg DispatcherConfig, log *zap.SugaredLogger) *Dispatcher {
	return NewDispatcherWithContext(context.Background(), store, runner, broadcaster, cfg, log)
}

// NewDispatcherWithContext creates a dispatcher with a parent context
func NewDispatcherWithContext(ctx context.Context, store *Store, runner *action.Runner, broadcaster ExecutionBroadcaster, cfg DispatcherConfig, log *zap.SugaredLogger) *Dispatcher {
	if log == nil {
		log = logger.Logger
	}
	cfg = cfg.withDefaults()
	runner.SetTimeout(cfg.ActionTimeout)

	pollCtx, cancel := context.WithCancel(ctx)
	runCtx, cancelRuns := context.WithCancel(context.WithoutCancel(ctx))

	d := &Dispatcher{
		store:       store,
		runner:      runner,
		tracker:     NewRunTracker(store, cfg.FailureThreshold, log),
		broadcaster: broadcaster,
		cfg:         cfg,
		limiter:     rate.NewLimiter(limitFor(cfg.MaxFiringsPerSecond), burstFor(cfg.MaxFiringsPerSecond)),
		intervalCh:  make(chan time.Duration, 1),
		ctx:         pollCtx,
		cancel:      cancel,
		runCtx:      runCtx,
		cancelRuns:  cancelRuns,
		loopDone:    make(chan struct{}),
		logger:      log.With(logger.FieldInstanceID, cfg.InstanceID),
		now:         time.Now,
	}
	d.pulseLog = logger.AddPulseSymbol(d.logger)
	d.pool.SetLimit(cfg.Workers)
	return d
}

func limitFor(perSecond float64) rate.Limit {
	if perSecond <= 0 {
		return rate.Inf
	}
	return rate.Limit(perSecond)
}

func burstFor(perSecond float64) int {
	if perSecond <= 1 {
		return 1
	}
	return int(math.Ceil(perSecond))
}

// Tracker returns the run tracker used for completions
func (d *Dispatcher) Tracker() *RunTracker {
	return d.tracker
}

// InstanceID returns the claim owner id of this dispatcher
func (d *Dispatcher) InstanceID() string {
	return d.config().InstanceID
}

func (d *Dispatcher) config() DispatcherConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Start begins the polling loop. The first poll happens immediately.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	cfg := d.cfg
	d.mu.Unlock()

	go d.run(cfg.PollInterval)
	logger.AddPulseOpenSymbol(d.logger).Infow("Pulse dispatcher started",
		"interval", cfg.PollInterval,
		"workers", cfg.Workers,
		"lease", cfg.Lease)
}

// Stop stops polling, waits up to the shutdown grace for in-flight firings,
// then cancels whatever is still running.
func (d *Dispatcher) Stop() {
	d.cancel()

	d.mu.Lock()
	started := d.started
	grace := d.cfg.ShutdownGrace
	d.mu.Unlock()
	if started {
		<-d.loopDone
	}

	done := make(chan struct{})
	go func() {
		_ = d.pool.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		d.pulseLog.Warnw("Shutdown grace elapsed, cancelling in-flight firings",
			"in_flight", d.inFlight.Load())
		d.cancelRuns()
		<-done
	}
	d.cancelRuns()

	logger.AddPulseCloseSymbol(d.logger).Infow("Pulse dispatcher stopped",
		"firings", d.firings.Load())
}

// Done is closed when the polling loop exits (after Stop or a fatal error)
func (d *Dispatcher) Done() <-chan struct{} {
	return d.loopDone
}

// Err returns the unrecoverable error that stopped the dispatcher, if any
func (d *Dispatcher) Err() error {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.err
}

func (d *Dispatcher) fail(err error) {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	if d.err != nil {
		return
	}
	d.err = err
	d.pulseLog.Errorw("Dispatcher stopping on unrecoverable store error", logger.FieldError, err)
	d.cancel()
}

// ApplyConfig updates tunables of a running dispatcher.
// The worker count is fixed for the dispatcher's lifetime.
func (d *Dispatcher) ApplyConfig(cfg DispatcherConfig) {
	d.mu.Lock()
	old := d.cfg
	cfg.InstanceID = old.InstanceID
	cfg = cfg.withDefaults()
	if cfg.Workers != old.Workers {
		d.pulseLog.Warnw("pulse.workers change requires a restart, keeping current value",
			"current", old.Workers, "requested", cfg.Workers)
		cfg.Workers = old.Workers
	}
	d.cfg = cfg
	d.mu.Unlock()

	d.limiter.SetLimit(limitFor(cfg.MaxFiringsPerSecond))
	d.limiter.SetBurst(burstFor(cfg.MaxFiringsPerSecond))
	d.runner.SetTimeout(cfg.ActionTimeout)
	d.tracker.SetFailureThreshold(cfg.FailureThreshold)

	if cfg.PollInterval != old.PollInterval {
		select {
		case d.intervalCh <- cfg.PollInterval:
		default:
		}
	}

	d.pulseLog.Infow("Dispatcher config applied",
		"interval", cfg.PollInterval,
		"lease", cfg.Lease,
		"action_timeout", cfg.ActionTimeout,
		"max_firings_per_second", cfg.MaxFiringsPerSecond,
		"failure_threshold", cfg.FailureThreshold)
}

// run is the main polling loop
func (d *Dispatcher) run(interval time.Duration) {
	defer close(d.loopDone)

	d.tick()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case iv := <-d.intervalCh:
			ticker.Reset(iv)
		case <-ticker.C:
			d.tick()
		}
	}
}

func (d *Dispatcher) tick() {
	now := d.now()
	d.mu.Lock()
	d.lastTickAt = now
	d.mu.Unlock()
	ticks := d.ticks.Add(1)

	summary, err := d.dispatch(now, nil)
	if err != nil {
		if d.ctx.Err() != nil {
			return
		}
		if IsPersistenceError(err) {
			// Due jobs stay due; the next poll picks them up
			d.skippedTicks.Add(1)
			d.pulseLog.Errorw("Schedule store unavailable, skipping poll",
				"tick", ticks,
				logger.FieldError, err)
			return
		}
		d.fail(err)
		return
	}
	if summary.Saturated > 0 {
		d.pulseLog.Infow("Worker pool saturated, remaining due jobs wait for next poll",
			"due", summary.Due, "launched", summary.Launched, "tick", ticks)
	}
	d.logNextJob(now)
}

// RunOnce performs a single poll at now and waits for the firings it launched
func (d *Dispatcher) RunOnce(now time.Time) (DispatchSummary, error) {
	var wg sync.WaitGroup
	summary, err := d.dispatch(now, &wg)
	wg.Wait()
	return summary, err
}

// dispatch lists due jobs and hands them to the worker pool.
// Only a failed due query is returned as an error.
func (d *Dispatcher) dispatch(now time.Time, wg *sync.WaitGroup) (DispatchSummary, error) {
	var summary DispatchSummary
	cfg := d.config()

	var jobs []*Job
	err := d.withRetry(d.ctx, "list due jobs", cfg, func() error {
		var err error
		jobs, err = d.store.ListDue(d.ctx, now, cfg.BatchSize)
		return err
	})
	if err != nil {
		return summary, errors.Wrap(err, "failed to list due jobs")
	}
	summary.Due = len(jobs)

	for i, job := range jobs {
		if d.ctx.Err() != nil {
			break
		}
		job := job
		if wg != nil {
			wg.Add(1)
		}
		launched := d.pool.TryGo(func() error {
			if wg != nil {
				defer wg.Done()
			}
			d.fire(job)
			return nil
		})
		if !launched {
			if wg != nil {
				wg.Done()
			}
			summary.Saturated = len(jobs) - i
			d.saturated.Add(int64(summary.Saturated))
			break
		}
		summary.Launched++
	}
	return summary, nil
}

// leaseFor covers the worst case of every action hitting its timeout
func (d *Dispatcher) leaseFor(job *Job, cfg DispatcherConfig) time.Duration {
	need := time.Duration(len(job.Actions))*d.runner.Timeout() + time.Minute
	if need > cfg.Lease {
		return need
	}
	return cfg.Lease
}

// fire claims one due job and, if the claim is won, runs and records it
func (d *Dispatcher) fire(job *Job) {
	d.inFlight.Add(1)
	defer d.inFlight.Add(-1)

	if err := d.limiter.Wait(d.ctx); err != nil {
		return
	}

	cfg := d.config()
	now := d.now()
	leaseUntil := now.Add(d.leaseFor(job, cfg))
	log := d.pulseLog.With(logger.FieldJobID, job.ID, logger.FieldWorkspaceID, job.WorkspaceID)

	err := d.withRetry(d.ctx, "claim job", cfg, func() error {
		return d.store.ClaimJob(d.ctx, job.ID, cfg.InstanceID, now, leaseUntil)
	})
	if errors.Is(err, ErrClaimConflict) {
		d.claimsLost.Add(1)
		log.Debugw("Claim lost, skipping job this cycle")
		return
	}
	if err != nil {
		if d.ctx.Err() == nil {
			log.Warnw("Claim failed, job stays due", logger.FieldError, err)
		}
		return
	}
	d.claimsWon.Add(1)
	d.firings.Add(1)

	runID := uuid.NewString()
	log = log.With(logger.FieldRunID, runID)
	log.Infow(fmt.Sprintf("%s Firing %q", sym.PulseOpen, job.Name),
		logger.FieldLeaseUntil, leaseUntil.UTC().Format(time.RFC3339),
		"actions", action.KindsOf(job.Actions))

	d.broadcast(RunEvent{
		Type:        EventRunStarted,
		RunID:       runID,
		JobID:       job.ID,
		WorkspaceID: job.WorkspaceID,
		JobName:     job.Name,
		Actions:     action.KindsOf(job.Actions),
		StartedAt:   now.UTC(),
	})

	report := d.runner.Run(d.runCtx, job.JobContext(runID, now), job.Actions)

	// Completion writes must survive shutdown of the polling context
	writeCtx := context.WithoutCancel(d.runCtx)
	next := d.nextRunAfter(writeCtx, job, report.CompletedAt, log)

	var run *RunRecord
	err = d.withRetry(writeCtx, "record run", cfg, func() error {
		var err error
		run, err = d.tracker.Record(writeCtx, job, cfg.InstanceID, runID, report, next)
		return err
	})
	if err != nil {
		log.Errorw("Failed to record run", logger.FieldError, err)
		if IsPersistenceError(err) {
			d.fail(errors.Wrapf(err, "recording run %s of job %s", runID, job.ID))
		}
		return
	}

	completedAt := run.CompletedAt
	d.broadcast(RunEvent{
		Type:          EventRunCompleted,
		RunID:         runID,
		JobID:         job.ID,
		WorkspaceID:   job.WorkspaceID,
		JobName:       job.Name,
		Actions:       action.KindsOf(job.Actions),
		StartedAt:     run.StartedAt,
		CompletedAt:   &completedAt,
		Outcome:       run.Outcome,
		ActionResults: run.ActionResults,
		Error:         run.Error,
		NextRunAt:     &next,
	})
}

// nextRunAfter computes the next firing from completion time using the latest
// stored definition, so an update made during the run is honored
func (d *Dispatcher) nextRunAfter(ctx context.Context, job *Job, completedAt time.Time, log *zap.SugaredLogger) time.Time {
	spec := job.Spec
	if fresh, err := d.store.GetJob(ctx, job.ID); err == nil {
		spec = fresh.Spec
	} else {
		log.Debugw("Using fired definition for next run", logger.FieldError, err)
	}

	next, err := spec.Next(completedAt)
	if err != nil {
		// Stored schedules are validated on write; this is data corruption
		log.Errorw("Cannot compute next run, retrying in 24h", logger.FieldError, err)
		return completedAt.Add(24 * time.Hour)
	}
	return next
}

// withRetry retries PersistenceErrors with exponential backoff.
// Other errors, including ErrClaimConflict, return immediately.
func (d *Dispatcher) withRetry(ctx context.Context, op string, cfg DispatcherConfig, fn func() error) error {
	var b backoff.BackOff = &backoff.StopBackOff{}
	if cfg.PersistenceRetryMax > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = 200 * time.Millisecond
		exp.MaxInterval = 10 * time.Second
		exp.MaxElapsedTime = cfg.PersistenceRetryMax
		b = exp
	}

	return backoff.RetryNotify(func() error {
		err := fn()
		if err == nil || !IsPersistenceError(err) {
			if err != nil {
				return backoff.Permanent(err)
			}
			return nil
		}
		return err
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		d.retries.Add(1)
		d.pulseLog.Warnw("Schedule store error, retrying",
			logger.FieldOperation, op,
			"retry_in", wait,
			logger.FieldError, err)
	})
}

func (d *Dispatcher) broadcast(ev RunEvent) {
	if d.broadcaster == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			d.pulseLog.Warnw("Run event broadcaster panicked", "panic", p)
		}
	}()
	d.broadcaster.BroadcastRunEvent(ev)
}

// logNextJob logs time until the next scheduled firing when it changes
func (d *Dispatcher) logNextJob(now time.Time) {
	next, err := d.store.NextScheduled(d.ctx)
	if err != nil {
		d.pulseLog.Debugw("Failed to get next scheduled job", logger.FieldError, err)
		return
	}

	id := ""
	if next != nil {
		id = next.ID + formatTimePtrString(next.NextRunAt)
	}
	d.mu.Lock()
	changed := id != d.lastNextID
	d.lastNextID = id
	d.mu.Unlock()
	if !changed {
		return
	}

	if next == nil || next.NextRunAt == nil {
		d.pulseLog.Infow("Pulse - no scheduled firings")
		return
	}
	until := next.NextRunAt.Sub(now)
	if until < 0 {
		until = 0
	}
	d.pulseLog.Infow(fmt.Sprintf("Pulse - next firing '%s' in %s", next.Name, until.Round(time.Second)),
		logger.FieldJobID, next.ID,
		logger.FieldNextRunAt, next.NextRunAt.Format(time.RFC3339))
}

func formatTimePtrString(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// Stats returns dispatcher statistics with a fresh memory sample
func (d *Dispatcher) Stats() DispatcherStats {
	d.mu.Lock()
	cfg := d.cfg
	started := d.started
	last := d.lastTickAt
	d.mu.Unlock()

	running := started
	select {
	case <-d.loopDone:
		running = false
	default:
	}

	stats := DispatcherStats{
		InstanceID:          cfg.InstanceID,
		Running:             running,
		Ticks:               d.ticks.Load(),
		ClaimsWon:           d.claimsWon.Load(),
		ClaimsLost:          d.claimsLost.Load(),
		Firings:             d.firings.Load(),
		Saturated:           d.saturated.Load(),
		PersistenceRetries:  d.retries.Load(),
		SkippedTicks:        d.skippedTicks.Load(),
		InFlight:            d.inFlight.Load(),
		Workers:             cfg.Workers,
		PollIntervalSeconds: cfg.PollInterval.Seconds(),
		LeaseSeconds:        cfg.Lease.Seconds(),
		MaxFiringsPerSecond: cfg.MaxFiringsPerSecond,
		FailureThreshold:    d.tracker.FailureThreshold(),
	}
	if !last.IsZero() {
		stats.LastTickAt = &last
	}
	if err := d.Err(); err != nil {
		stats.Error = err.Error()
	}
	if sys, err := readSystemMetrics(); err == nil {
		stats.System = sys
	}
	return stats
}
