// Package runner drives the interval cache: it invokes the provider's fetch
// function on a timer (or on manual refresh), enforces single-flight and
// per-attempt timeouts, and owns the cached snapshot all HTTP reads observe.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/sebitommy123/SAP/internal/object"
	"github.com/sebitommy123/SAP/internal/telemetry"
)

// DefaultFetchTimeout bounds a single fetch attempt when no explicit timeout
// is configured.
const DefaultFetchTimeout = 120 * time.Second

// FetchFunc produces a fresh object set. It may block up to the configured
// timeout; the ctx is cancelled when the attempt times out, but a fetch that
// ignores it is abandoned rather than waited on.
type FetchFunc func(ctx context.Context) ([]object.Object, error)

// Config holds runner settings.
type Config struct {
	Interval       time.Duration
	FetchTimeout   time.Duration // 0 means DefaultFetchTimeout
	RunImmediately bool          // start a fetch as soon as the loop starts
}

// Status is a point-in-time copy of the runner's state, safe to read while a
// fetch is in flight. Nil pointers mean "never" / "no error".
type Status struct {
	LastStartedAt       *time.Time `json:"last_started_at"`
	LastCompletedAt     *time.Time `json:"last_completed_at"`
	LastError           *string    `json:"last_error"`
	InFlight            bool       `json:"in_flight"`
	IntervalSeconds     float64    `json:"interval_seconds"`
	FetchTimeoutSeconds float64    `json:"fetch_timeout_seconds"`
	Count               int        `json:"count"`
}

// Runner owns the fetch lifecycle. All state transitions happen under one
// mutex so the single-flight guard and the snapshot swap are mutually atomic.
type Runner struct {
	fetch          FetchFunc
	interval       time.Duration
	timeout        time.Duration
	runImmediately bool
	logger         *slog.Logger

	mu            sync.Mutex
	snapshot      []object.Object // replaced wholesale on success, never mutated
	lastStarted   time.Time
	lastCompleted time.Time
	lastErr       string
	inFlight      bool
	stopped       bool
	runID         uint64 // id of the most recently started attempt

	failures atomic.Int64 // total failed attempts (errors and timeouts)

	readyOnce sync.Once
	ready     chan struct{}

	wg         sync.WaitGroup // in-flight attempt goroutines
	started    atomic.Bool
	cancelLoop context.CancelFunc
	done       chan struct{}
}

// New creates a Runner. The fetch function and a positive interval are
// required; a zero timeout falls back to DefaultFetchTimeout.
func New(fetch FetchFunc, cfg Config, logger *slog.Logger) *Runner {
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Runner{
		fetch:          fetch,
		interval:       cfg.Interval,
		timeout:        timeout,
		runImmediately: cfg.RunImmediately,
		logger:         logger,
		ready:          make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// Start begins the timer loop and registers metrics. Idempotent; a second
// call logs a warning and returns. Call Drain to stop.
func (r *Runner) Start(ctx context.Context) {
	if !r.started.CompareAndSwap(false, true) {
		r.logger.Warn("runner: Start called twice, ignoring")
		return
	}
	r.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancelLoop = cancel
	go r.loop(loopCtx)
}

func (r *Runner) loop(ctx context.Context) {
	if r.runImmediately {
		r.tryStart()
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(r.done)
			return
		case <-ticker.C:
			r.tryStart()
		}
	}
}

// Refresh requests an immediate fetch. It returns without waiting for the
// fetch to finish and reports whether an attempt actually started; a trigger
// arriving while a fetch is in flight is skipped, not queued.
func (r *Runner) Refresh() bool {
	return r.tryStart()
}

// tryStart is the Idle -> Running transition. It either claims the in-flight
// slot and spawns an attempt, or reports that one is already running.
func (r *Runner) tryStart() bool {
	r.mu.Lock()
	if r.inFlight || r.stopped {
		r.mu.Unlock()
		return false
	}
	r.inFlight = true
	r.lastStarted = time.Now().UTC()
	r.runID++
	id := r.runID
	r.mu.Unlock()

	r.wg.Add(1)
	go r.attempt(id)
	return true
}

func (r *Runner) attempt(id uint64) {
	defer r.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	type fetchResult struct {
		objs []object.Object
		err  error
	}
	ch := make(chan fetchResult, 1)
	go func() {
		objs, err := r.fetch(ctx)
		ch <- fetchResult{objs: objs, err: err}
	}()

	select {
	case res := <-ch:
		r.finish(id, res.objs, res.err)
	case <-ctx.Done():
		// The fetch may still complete later; finish discards that late
		// result because this attempt is already settled.
		r.finish(id, nil, fmt.Errorf("runner: fetch timed out after %s", r.timeout))
	}
}

// finish is the Running -> Idle transition for attempt id. A completion for
// an attempt that has already been settled (timed out) or superseded by a
// newer run is discarded.
func (r *Runner) finish(id uint64, objs []object.Object, err error) {
	if err == nil {
		normalized, nerr := object.Normalize(objs)
		if nerr != nil {
			err = nerr
		} else {
			objs = object.Dedupe(normalized)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id != r.runID || !r.inFlight {
		r.logger.Warn("runner: discarding late completion for stale attempt", "run_id", id)
		return
	}

	r.inFlight = false
	r.lastCompleted = time.Now().UTC()
	if err != nil {
		r.lastErr = err.Error()
		r.failures.Add(1)
		r.logger.Error("runner: fetch failed", "run_id", id, "error", err)
		return
	}

	r.snapshot = objs
	r.lastErr = ""
	r.readyOnce.Do(func() { close(r.ready) })
	r.logger.Info("runner: fetch completed", "run_id", id, "count", len(objs))
}

// Snapshot returns the current cached object set. Readers observe either the
// previous or the next complete snapshot, never a partial one. The returned
// slice must not be mutated.
func (r *Runner) Snapshot() []object.Object {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot
}

// Status returns a consistent copy of the runner state. Non-blocking with
// respect to in-flight fetches.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Status{
		InFlight:            r.inFlight,
		IntervalSeconds:     r.interval.Seconds(),
		FetchTimeoutSeconds: r.timeout.Seconds(),
		Count:               len(r.snapshot),
	}
	if !r.lastStarted.IsZero() {
		t := r.lastStarted
		st.LastStartedAt = &t
	}
	if !r.lastCompleted.IsZero() {
		t := r.lastCompleted
		st.LastCompletedAt = &t
	}
	if r.lastErr != "" {
		e := r.lastErr
		st.LastError = &e
	}
	return st
}

// Ready returns a channel closed after the first successful fetch. Used by
// the facade to gate readiness when require_initial_fetch is set.
func (r *Runner) Ready() <-chan struct{} {
	return r.ready
}

// Drain stops the timer loop and waits for the in-flight attempt's completion
// transition, up to the ctx deadline. A stuck fetch cannot block termination
// past the attempt timeout because the attempt settles itself on timeout.
func (r *Runner) Drain(ctx context.Context) {
	if !r.started.Load() {
		return
	}

	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	r.cancelLoop()
	select {
	case <-r.done:
	case <-ctx.Done():
		r.logger.Warn("runner: drain timed out waiting for timer loop")
	}

	idle := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(idle)
	}()
	select {
	case <-idle:
	case <-ctx.Done():
		r.logger.Warn("runner: drain timed out waiting for in-flight fetch")
	}
}

// registerMetrics registers observable gauges for cache and fetch health.
// Called from Start after the global meter provider is initialized.
func (r *Runner) registerMetrics() {
	meter := telemetry.Meter("sap/runner")

	_, _ = meter.Int64ObservableGauge("sap.cache.objects",
		metric.WithDescription("Number of objects in the current cached snapshot"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(r.Status().Count))
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("sap.fetch.in_flight",
		metric.WithDescription("1 while a fetch attempt is running, else 0"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			var v int64
			if r.Status().InFlight {
				v = 1
			}
			o.Observe(v)
			return nil
		}),
	)

	_, _ = meter.Int64ObservableCounter("sap.fetch.failures_total",
		metric.WithDescription("Total fetch attempts that failed or timed out"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(r.failures.Load())
			return nil
		}),
	)
}
