// Package scan implements the check-execution engine: the scheduler,
// dependency planner, task interpreter, dedupe cache, request-queue shim,
// cancellation/timeout machinery and execution-history recorder described
// by the scanner specification. Individual checks, the host capture/replay
// SDK, and the configuration/persistence layer are external collaborators
// referenced only through the interfaces in this package and hostsdk.
package scan

import (
	"context"
	"strconv"
)

// Severity is the impact tier of a Finding.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// CheckType distinguishes checks that only read captured traffic from
// checks that issue their own requests through the Request Queue.
type CheckType string

const (
	CheckTypePassive CheckType = "passive"
	CheckTypeActive  CheckType = "active"
)

// Aggressivity is the payload-volume tier a check or scan is allowed to use.
type Aggressivity int

const (
	AggressivityLow Aggressivity = iota
	AggressivityMedium
	AggressivityHigh
)

// Satisfies reports whether this (the scan's configured aggressivity)
// meets or exceeds a check's declared minimum.
func (a Aggressivity) Satisfies(min Aggressivity) bool {
	return a >= min
}

// AggressivityRange bounds the number of requests an active check may issue.
type AggressivityRange struct {
	MinRequests int
	MaxRequests int
}

// CheckMetadata is the identity and applicability declaration of a check.
type CheckMetadata struct {
	ID          string
	Name        string
	Description string
	Type        CheckType
	Tags        []string
	Severities  []Severity

	Aggressivity    *AggressivityRange
	MinAggressivity *Aggressivity

	// DependsOn names checks that must complete for the same target
	// before this check may run (§4.A).
	DependsOn []string

	// SkipIfFoundBy, when set, names a check whose findings (from any
	// target scanned so far in this scan) cause this check to be skipped
	// (§4.F step 2).
	SkipIfFoundBy string
}

// HasSeverityOverlap reports whether any of the check's declared
// severities are present in the configured set.
func (m CheckMetadata) HasSeverityOverlap(configured []Severity) bool {
	allowed := make(map[Severity]struct{}, len(configured))
	for _, s := range configured {
		allowed[s] = struct{}{}
	}
	for _, s := range m.Severities {
		if _, ok := allowed[s]; ok {
			return true
		}
	}
	return false
}

// Location points at a byte range within a captured response, optionally
// annotated with a hint describing what matched there.
type Location struct {
	Start int
	End   int
	Hint  string
}

// Correlation ties a Finding back to the request that produced it and the
// byte ranges in its response that evidence it.
type Correlation struct {
	RequestID string
	Locations []Location
}

// Finding is a single security observation attributed to one check and
// one target. Findings are never mutated after emission (§3 Ownership).
type Finding struct {
	Name        string
	Description string
	Severity    Severity
	Correlation Correlation
}

// ScanTarget is one captured HTTP request (and optional response)
// selected for scanning. The IDs are opaque and owned by the host.
type ScanTarget struct {
	RequestID  string
	ResponseID string
}

// ScanConfig tunes a single scan run (§3).
type ScanConfig struct {
	Aggressivity Aggressivity
	Severities   []Severity
	InScopeOnly  bool

	ConcurrentTargets  int
	ConcurrentChecks   int
	ConcurrentRequests int
	RequestsDelayMs    int

	// ScanTimeout and CheckTimeout are in seconds; 0 disables.
	ScanTimeoutSeconds  int
	CheckTimeoutSeconds int
}

// StepStatus is the outcome of a single CheckTask.Tick.
type StepStatus string

const (
	StepContinue StepStatus = "continue"
	StepDone     StepStatus = "done"
)

// StepResult is what a CheckTask step function returns for one tick.
type StepResult struct {
	Status   StepStatus
	Findings []Finding
	NextStep string
	State    any
}

// CheckOutput is whatever a completed check chooses to publish for its
// dependents to read through RuntimeContext.Runtime.DependencyOutput.
type CheckOutput any

// CheckTask is one stateful interpreter instance: the result of calling
// CheckDefinition.Create for a single (target, check) pair.
type CheckTask interface {
	Tick(ctx context.Context) (StepResult, error)
	CurrentStepName() string
	CurrentState() any
	Target() ScanTarget
	Output() CheckOutput
}

// CheckDefinition is the full declaration a check plugin registers with
// the engine: metadata plus the hooks the engine calls during planning,
// filtering and instantiation.
type CheckDefinition struct {
	Metadata CheckMetadata

	// InitState returns the initial state handed to the first tick.
	InitState func() any

	// When reports whether this check applies to a target at all. Nil
	// means "always applicable".
	When func(target ScanTarget, rc *RuntimeContext) bool

	// DedupeKey returns the stable string that collapses equivalent
	// executions of this check across targets. Nil means "never
	// deduped — always run".
	DedupeKey func(target ScanTarget, rc *RuntimeContext) string

	// Create builds one CheckTask instance bound to rc.
	Create func(rc *RuntimeContext) CheckTask
}

// DefaultDedupeKey concatenates host, port and path with a separator that
// cannot appear in any single component, per the source's dedupe-key
// strategy (§9 Design Notes).
func DefaultDedupeKey(host string, port int, path string) string {
	const sep = "\x00"
	return host + sep + strconv.Itoa(port) + sep + path
}
