package scan

import (
	"sync"
	"time"
)

// CheckStatus is the terminal outcome recorded for one check execution.
type CheckStatus string

const (
	CheckStatusCompleted CheckStatus = "completed"
	CheckStatusFailed    CheckStatus = "failed"
	CheckStatusSkipped   CheckStatus = "skipped"
)

// StepExecutionRecord is an immutable snapshot of one CheckTask.Tick call
// (§3 data model, grounded on the teacher's node-level execution snapshot).
type StepExecutionRecord struct {
	StepName   string
	Status     StepStatus
	Findings   []Finding
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// CheckExecutionRecord is the full append-only trace of one (check, target)
// execution, from first tick to terminal status.
type CheckExecutionRecord struct {
	CheckID         string
	TargetRequestID string
	Status          CheckStatus
	ErrorCode       ErrorCode
	ErrorMessage    string
	Steps           []StepExecutionRecord
	StartedAt       time.Time
	FinishedAt      time.Time
}

// historyRecorder is the append-only execution history store (§4.H). It
// never mutates or removes a record once appended; Snapshot returns a
// defensive copy so callers cannot corrupt it.
type historyRecorder struct {
	mu      sync.Mutex
	records []CheckExecutionRecord
}

func newHistoryRecorder() *historyRecorder {
	return &historyRecorder{}
}

// Append records one completed check execution.
func (h *historyRecorder) Append(rec CheckExecutionRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, rec)
}

// Snapshot returns a copy of every record appended so far, in append order.
func (h *historyRecorder) Snapshot() []CheckExecutionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]CheckExecutionRecord, len(h.records))
	copy(out, h.records)
	return out
}
