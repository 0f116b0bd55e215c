package scan

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// runCheckTask drives one CheckTask to completion, ticking it until it
// reports StepDone, recording a StepExecutionRecord per tick and emitting
// scan:finding for every finding a tick produces (§4.E).
//
// Cancellation is cooperative: interrupted is consulted before each tick,
// and a non-empty reason unwinds with ScanInterrupted rather than a failed
// record, matching the source's level-triggered interruptReason check at
// every suspension point (§5). Once ctx's deadline has passed, the next
// tick is not run and the task ends as a failed record with CHECK_TIMEOUT.
func runCheckTask(ctx context.Context, task CheckTask, checkID, targetRequestID string, bus *Bus, interrupted func() (InterruptReason, bool)) (CheckExecutionRecord, error) {
	rec := CheckExecutionRecord{
		CheckID:         checkID,
		TargetRequestID: targetRequestID,
		StartedAt:       time.Now(),
	}

	for {
		if reason, yes := interrupted(); yes {
			rec.FinishedAt = time.Now()
			return rec, &ScanInterrupted{Reason: reason}
		}

		if err := ctx.Err(); errors.Is(err, context.DeadlineExceeded) {
			rec.Status = CheckStatusFailed
			rec.ErrorCode = ErrCodeCheckTimeout
			rec.ErrorMessage = err.Error()
			rec.FinishedAt = time.Now()
			return rec, nil
		}

		stepName := task.CurrentStepName()
		stepStart := time.Now()

		result, err := tickSafely(ctx, task, checkID)

		step := StepExecutionRecord{
			StepName:   stepName,
			StartedAt:  stepStart,
			FinishedAt: time.Now(),
		}

		if err != nil {
			step.Status = StepDone
			step.Error = err.Error()
			rec.Steps = append(rec.Steps, step)
			rec.FinishedAt = time.Now()

			var interruptErr *ScanInterrupted
			if errors.As(err, &interruptErr) {
				return rec, err
			}

			rec.Status = CheckStatusFailed
			var runnable *ScanRunnableError
			if errors.As(err, &runnable) {
				rec.ErrorCode = runnable.Code
				rec.ErrorMessage = runnable.Message
			} else {
				rec.ErrorCode = ErrCodeUnknownCheckError
				rec.ErrorMessage = err.Error()
			}
			return rec, nil
		}

		step.Status = result.Status
		step.Findings = result.Findings
		rec.Steps = append(rec.Steps, step)

		for _, f := range result.Findings {
			bus.Emit(Event{
				Kind: EventFinding,
				Finding: &FindingPayload{
					TargetRequestID: targetRequestID,
					CheckID:         checkID,
					Finding:         f,
				},
			})
		}

		if result.Status == StepDone {
			rec.Status = CheckStatusCompleted
			rec.FinishedAt = time.Now()
			return rec, nil
		}
	}
}

// tickSafely calls task.Tick and recovers a panicking tick into a plain
// error, so one check's bug surfaces as a CheckStatusFailed record instead
// of aborting the whole batch (§7: check-level errors never abort the
// batch, target, or scan).
func tickSafely(ctx context.Context, task CheckTask, checkID string) (result StepResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("check %q panicked: %v", checkID, r)
		}
	}()
	return task.Tick(ctx)
}
