package scan

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/caido-community/scanner/internal/ctxkeys"
	"github.com/caido-community/scanner/scan/hostsdk"
)

// tracer emits spans for a scan's top-level run and, via runOneCheck, its
// individual checks. It resolves against whatever TracerProvider the host
// registered (internal/telemetry.Init, or OTel's noop default if telemetry
// is disabled), so the engine carries no SDK dependency of its own.
var tracer = otel.Tracer("github.com/caido-community/scanner/scan")

// RunnerState is the Scan Runner's lifecycle state (§4.G state machine).
type RunnerState string

const (
	StateIdle        RunnerState = "Idle"
	StateRunning     RunnerState = "Running"
	StateFinished    RunnerState = "Finished"
	StateInterrupted RunnerState = "Interrupted"
	StateErrored     RunnerState = "Errored"
)

// ResultKind discriminates a ScanResult.
type ResultKind string

const (
	ResultFinished    ResultKind = "Finished"
	ResultInterrupted ResultKind = "Interrupted"
	ResultError       ResultKind = "Error"
)

// ScanResult is run's outcome (§4.G).
type ScanResult struct {
	Kind     ResultKind
	Findings []Finding
	Reason   InterruptReason
	Err      error
}

// EstimateResult is estimate()'s outcome (§4.G).
type EstimateResult struct {
	ChecksTotal int
}

// Runner is the top-level orchestrator: it owns the dedupe index, findings
// map, dependency map, HTML cache and history, and drives targets × batches
// with bounded concurrency, cancellation and timeout (§4.G, §5).
type Runner struct {
	host   hostsdk.Host
	plan   *Plan
	cfg    ScanConfig
	bus    *Bus
	scanID string

	mu              sync.Mutex
	state           RunnerState
	started         bool
	dedupe          *DedupeIndex
	findings        *findingsStore
	deps            *dependencyMap
	htmlCache       *htmlCache
	history         *historyRecorder
	queue           *requestQueue
	interruptReason atomic.Value // InterruptReason
	cancelOnce      sync.Once
	interruptedAt   chan struct{}
}

// NewRunner builds an idle runner over a validated plan. cfg.ConcurrentRequests
// and cfg.RequestsDelayMs configure the Request Queue shared by every check
// issued through this scan.
func NewRunner(host hostsdk.Host, plan *Plan, cfg ScanConfig) *Runner {
	r := &Runner{
		host:          host,
		plan:          plan,
		cfg:           cfg,
		bus:           NewBus(),
		scanID:        uuid.NewString(),
		state:         StateIdle,
		dedupe:        NewDedupeIndex(),
		findings:      newFindingsStore(),
		deps:          newDependencyMap(),
		history:       newHistoryRecorder(),
		interruptedAt: make(chan struct{}),
	}
	r.interruptReason.Store(InterruptReason(""))
	r.htmlCache = newHTMLCache(host)
	delay := time.Duration(cfg.RequestsDelayMs) * time.Millisecond
	r.queue = newRequestQueue(host, r.bus, cfg.ConcurrentRequests, delay, r.interrupted)
	return r
}

// On registers a handler for one event kind.
func (r *Runner) On(kind EventKind, h Handler) { r.bus.On(kind, h) }

// OnAny registers a handler for every event kind.
func (r *Runner) OnAny(h Handler) { r.bus.OnAny(h) }

// QueueDepth reports the number of sends currently buffered in the request
// queue ahead of dispatch. A host application polls this for a request-
// queue-depth gauge (scan/metrics.Collector.SetRequestQueueDepth).
func (r *Runner) QueueDepth() int { return r.queue.Depth() }

// GetExecutionHistory returns an immutable snapshot of every recorded check
// execution so far.
func (r *Runner) GetExecutionHistory() []CheckExecutionRecord {
	return r.history.Snapshot()
}

// ExternalDedupeKeys pre-seeds the dedupe index before run, e.g. to resume
// or merge with a prior scan's claimed keys. Rejects with
// SCAN_ALREADY_RUNNING once run has been called (§4.G).
func (r *Runner) ExternalDedupeKeys(seed map[string][]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return NewScanRunnableError(ErrCodeScanAlreadyRunning, "externalDedupeKeys called after run")
	}
	for checkID, keys := range seed {
		r.dedupe.Seed(checkID, keys)
	}
	return nil
}

func (r *Runner) interrupted() (InterruptReason, bool) {
	reason, _ := r.interruptReason.Load().(InterruptReason)
	return reason, reason != ""
}

// Cancel sets interruptReason if unset; idempotent, no-op before the first
// run() call. It returns once scan:interrupted has fired (or immediately if
// the scan was never started or already finished).
func (r *Runner) Cancel(reason InterruptReason) {
	r.mu.Lock()
	started := r.started
	finished := r.state != StateRunning
	r.mu.Unlock()
	if !started || finished {
		return
	}

	r.cancelOnce.Do(func() {
		r.interruptReason.Store(reason)
	})
	<-r.interruptedAt
}

// Run executes the scan over requestIDs to completion, cancellation or
// timeout (§4.G). It enforces single-shot: a second call returns an Error
// result rather than running again.
func (r *Runner) Run(ctx context.Context, requestIDs []string) ScanResult {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return ScanResult{Kind: ResultError, Err: NewScanRunnableError(ErrCodeScanAlreadyRunning, "run already invoked")}
	}
	r.started = true
	r.state = StateRunning
	r.mu.Unlock()

	ctx, span := tracer.Start(ctx, "scan.run", oteltrace.WithAttributes(
		attribute.String("scan.id", r.scanID),
		attribute.Int("scan.target_count", len(requestIDs)),
		attribute.Int("scan.batch_count", len(r.plan.Batches)),
	))
	defer span.End()

	r.bus.Emit(Event{Kind: EventStarted})

	ctx = ctxkeys.WithScanID(ctx, r.scanID)
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	if r.cfg.ScanTimeoutSeconds > 0 {
		timer := time.AfterFunc(time.Duration(r.cfg.ScanTimeoutSeconds)*time.Second, func() {
			r.cancelOnce.Do(func() {
				r.interruptReason.Store(InterruptTimeout)
			})
			cancelRun()
		})
		defer timer.Stop()
	}

	err := r.runTargets(runCtx, requestIDs)

	result := r.finish(err)

	span.SetAttributes(
		attribute.String("scan.result", string(result.Kind)),
		attribute.Int("scan.findings_count", len(result.Findings)),
	)
	if result.Kind == ResultError {
		span.SetStatus(codes.Error, result.Err.Error())
	} else if result.Kind == ResultInterrupted {
		span.SetAttributes(attribute.String("scan.interrupt_reason", string(result.Reason)))
	}

	return result
}

func (r *Runner) finish(runErr error) ScanResult {
	defer func() {
		r.mu.Lock()
		close(r.interruptedAt)
		r.mu.Unlock()
		r.bus.Emit(Event{Kind: EventFinished})
	}()

	reason, interrupted := r.interrupted()
	if interrupted {
		r.bus.Emit(Event{Kind: EventInterrupted, Interrupted: &InterruptedPayload{Reason: reason}})
		r.mu.Lock()
		r.state = StateInterrupted
		r.mu.Unlock()
		return ScanResult{Kind: ResultInterrupted, Reason: reason, Findings: r.findings.All()}
	}

	if runErr != nil {
		r.mu.Lock()
		r.state = StateErrored
		r.mu.Unlock()
		return ScanResult{Kind: ResultError, Err: runErr}
	}

	r.mu.Lock()
	r.state = StateFinished
	r.mu.Unlock()
	return ScanResult{Kind: ResultFinished, Findings: r.findings.All()}
}

// runTargets fans out over requestIDs bounded by concurrentTargets, running
// every batch of the plan against each target's RuntimeContext.
func (r *Runner) runTargets(ctx context.Context, requestIDs []string) error {
	concurrentTargets := r.cfg.ConcurrentTargets
	if concurrentTargets < 1 {
		concurrentTargets = 1
	}

	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(concurrentTargets)

	for _, requestID := range requestIDs {
		requestID := requestID
		grp.Go(func() error {
			return r.runTarget(grpCtx, requestID)
		})
	}

	return grp.Wait()
}

func (r *Runner) runTarget(ctx context.Context, requestID string) error {
	ctx, span := tracer.Start(ctx, "scan.run_target", oteltrace.WithAttributes(
		attribute.String("scan.id", r.scanID),
		attribute.String("scan.target_request_id", requestID),
	))
	defer span.End()

	send := func(sendCtx context.Context, spec hostsdk.RequestSpec, checkID string) (hostsdk.RequestResponse, error) {
		return r.queue.Enqueue(sendCtx, spec, uuid.NewString(), requestID, checkID)
	}

	rc, err := buildRuntimeContext(ctx, r.host, requestID, r.cfg, r.deps, r.htmlCache, send)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	for i, batch := range r.plan.Batches {
		if reason, yes := r.interrupted(); yes {
			span.SetAttributes(attribute.String("scan.interrupt_reason", string(reason)))
			return &ScanInterrupted{Reason: reason}
		}
		if err := executeBatch(ctx, batch, rc, r.cfg, r.dedupe, r.findings, r.deps, r.history, r.bus, r.interrupted); err != nil {
			span.SetAttributes(attribute.Int("scan.batch_index_failed", i))
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}

	return nil
}

// Estimate counts applicable checks per target without running them, using
// a cloned dedupe index so the real scan state is never mutated (§4.G,
// Open Question c).
func (r *Runner) Estimate(ctx context.Context, requestIDs []string) (EstimateResult, error) {
	clone := r.dedupe.Clone()
	total := 0

	for _, requestID := range requestIDs {
		rr, ok, err := r.host.Get(ctx, requestID)
		if err != nil || !ok {
			continue
		}
		target := ScanTarget{RequestID: requestID}
		if rr.Response != nil {
			target.ResponseID = requestID
		}
		rc := &RuntimeContext{
			Target:  target,
			SDK:     r.host,
			Config:  r.cfg,
			Runtime: &Runtime{html: r.htmlCache, deps: r.deps},
			send: func(ctx context.Context, spec hostsdk.RequestSpec, checkID string) (hostsdk.RequestResponse, error) {
				return hostsdk.RequestResponse{}, NewScanRunnableError(ErrCodeRequestNotFound, "sends are not issued during estimate")
			},
		}

		for _, batch := range r.plan.Batches {
			for _, check := range batch {
				meta := check.Metadata
				if !meta.HasSeverityOverlap(r.cfg.Severities) {
					continue
				}
				if meta.MinAggressivity != nil && !r.cfg.Aggressivity.Satisfies(*meta.MinAggressivity) {
					continue
				}
				if check.When != nil && !check.When(target, rc) {
					continue
				}
				if meta.SkipIfFoundBy != "" && len(r.findings.Get(meta.SkipIfFoundBy)) > 0 {
					continue
				}
				if check.DedupeKey != nil {
					key := check.DedupeKey(target, rc)
					if !clone.ShouldRun(meta.ID, key) {
						continue
					}
				}
				total++
			}
		}
	}

	return EstimateResult{ChecksTotal: total}, nil
}
