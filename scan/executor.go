package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/caido-community/scanner/internal/ctxkeys"
)

// findingsStore is the runner-owned findings[checkId] map (§3 Ownership).
// skipIfFoundBy reads it; the executor appends to it on check success.
type findingsStore struct {
	mu      sync.Mutex
	byCheck map[string][]Finding
}

func newFindingsStore() *findingsStore {
	return &findingsStore{byCheck: make(map[string][]Finding)}
}

func (s *findingsStore) Append(checkID string, fs []Finding) {
	if len(fs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byCheck[checkID] = append(s.byCheck[checkID], fs...)
}

func (s *findingsStore) Get(checkID string) []Finding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Finding(nil), s.byCheck[checkID]...)
}

// All concatenates every check's findings, for the Scan Runner's result
// (§4.G: "findings is the concatenation of all findings[checkId] lists").
func (s *findingsStore) All() []Finding {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Finding
	for _, fs := range s.byCheck {
		out = append(out, fs...)
	}
	return out
}

func collectStepFindings(steps []StepExecutionRecord) []Finding {
	var out []Finding
	for _, s := range steps {
		out = append(out, s.Findings...)
	}
	return out
}

// executeBatch runs one batch of checks against one target's RuntimeContext
// (§4.F). It filters to applicable checks in registration order (the tie
// break the spec requires for dedupe claims), then runs the survivors with
// bounded concurrency and per-check timeout.
func executeBatch(ctx context.Context, batch Batch, rc *RuntimeContext, cfg ScanConfig, dedupe *DedupeIndex, findings *findingsStore, deps *dependencyMap, history *historyRecorder, bus *Bus, interrupted func() (InterruptReason, bool)) error {
	applicable := make([]*CheckDefinition, 0, len(batch))

	for _, check := range batch {
		meta := check.Metadata

		if !meta.HasSeverityOverlap(cfg.Severities) {
			continue
		}
		if meta.MinAggressivity != nil && !cfg.Aggressivity.Satisfies(*meta.MinAggressivity) {
			continue
		}
		if check.When != nil && !check.When(rc.Target, rc) {
			continue
		}
		// skipIfFoundBy checks the *referenced* check's findings, not this
		// check's own id (Open Question b).
		if meta.SkipIfFoundBy != "" && len(findings.Get(meta.SkipIfFoundBy)) > 0 {
			continue
		}
		if check.DedupeKey != nil {
			key := check.DedupeKey(rc.Target, rc)
			if !dedupe.ShouldRun(meta.ID, key) {
				continue
			}
		}

		applicable = append(applicable, check)
	}

	checkTimeout := time.Duration(cfg.CheckTimeoutSeconds) * time.Second
	concurrentChecks := cfg.ConcurrentChecks
	if concurrentChecks < 1 {
		concurrentChecks = 1
	}

	// Checks run against a plain ctx, not one errgroup.WithContext derives:
	// one check's error must never cancel its siblings' contexts (§7,
	// "check-level errors ... do not abort the batch"). Every error is
	// collected instead and, once the whole batch has drained, aggregated
	// into a single ScanRuntimeError (§4.F step 7) — unless an interruption
	// occurred, which takes priority and propagates as ScanInterrupted.
	var grp errgroup.Group
	grp.SetLimit(concurrentChecks)

	var mu sync.Mutex
	var errs []error
	recordErr := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		errs = append(errs, err)
	}

	for _, check := range applicable {
		check := check
		grp.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					recordErr(fmt.Errorf("check %q panicked: %v", check.Metadata.ID, r))
				}
			}()
			if err := runOneCheck(ctx, check, rc, checkTimeout, dedupe, findings, deps, history, bus, interrupted); err != nil {
				recordErr(err)
			}
			return nil
		})
	}

	grp.Wait()

	if len(errs) == 0 {
		return nil
	}
	for _, err := range errs {
		var interruptErr *ScanInterrupted
		if errors.As(err, &interruptErr) {
			return err
		}
	}
	return &ScanRuntimeError{Errs: errs}
}

// runOneCheck dispatches, drives and records a single check's execution
// against one target (§4.F steps 3-6). It returns a non-nil error only for
// ScanInterrupted (which must stop the batch pool) or an aggregate-worthy
// runtime error; check-level failures are recorded, not returned.
func runOneCheck(ctx context.Context, check *CheckDefinition, rc *RuntimeContext, checkTimeout time.Duration, dedupe *DedupeIndex, findings *findingsStore, deps *dependencyMap, history *historyRecorder, bus *Bus, interrupted func() (InterruptReason, bool)) error {
	checkID := check.Metadata.ID
	targetRequestID := rc.Target.RequestID

	if reason, yes := interrupted(); yes {
		return &ScanInterrupted{Reason: reason}
	}

	ctx, span := tracer.Start(ctx, "scan.run_check", oteltrace.WithAttributes(
		attribute.String("scan.check_id", checkID),
		attribute.String("scan.target_request_id", targetRequestID),
	))
	defer span.End()

	taskCtx := ctx
	var cancel context.CancelFunc
	if checkTimeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, checkTimeout)
		defer cancel()
	}
	taskCtx = ctxkeys.WithCheckID(taskCtx, checkID)
	taskCtx = ctxkeys.WithTargetRequestID(taskCtx, targetRequestID)

	bus.Emit(Event{
		Kind:           EventCheckStarted,
		CheckLifecycle: &CheckLifecyclePayload{CheckID: checkID, TargetRequestID: targetRequestID},
	})

	task := check.Create(rc)

	rec, err := runCheckTask(taskCtx, task, checkID, targetRequestID, bus, interrupted)

	var interruptErr *ScanInterrupted
	if errors.As(err, &interruptErr) {
		return err
	}

	if rec.Status == CheckStatusFailed && taskCtx.Err() == context.DeadlineExceeded {
		rec.ErrorCode = ErrCodeCheckTimeout
		rec.ErrorMessage = "check exceeded checkTimeout"
	}

	history.Append(rec)

	span.SetAttributes(attribute.String("scan.check_status", string(rec.Status)))
	if rec.Status == CheckStatusFailed {
		span.SetStatus(codes.Error, rec.ErrorMessage)
		span.SetAttributes(attribute.String("scan.error_code", string(rec.ErrorCode)))
	}

	switch rec.Status {
	case CheckStatusCompleted:
		findings.Append(checkID, collectStepFindings(rec.Steps))
		deps.set(checkID, task.Output())
		bus.Emit(Event{
			Kind:           EventCheckFinished,
			CheckLifecycle: &CheckLifecyclePayload{CheckID: checkID, TargetRequestID: targetRequestID},
		})
	case CheckStatusFailed:
		bus.Emit(Event{
			Kind: EventCheckFailed,
			CheckFailed: &CheckFailedPayload{
				CheckID:         checkID,
				TargetRequestID: targetRequestID,
				ErrorCode:       rec.ErrorCode,
				ErrorMessage:    rec.ErrorMessage,
			},
		})
		bus.Emit(Event{
			Kind:           EventCheckFinished,
			CheckLifecycle: &CheckLifecyclePayload{CheckID: checkID, TargetRequestID: targetRequestID},
		})
	}

	return nil
}
