package scan

import (
	"context"
	"sync"

	"github.com/caido-community/scanner/scan/hostsdk"
)

// Runtime is the capability surface exposed to a check's step functions
// beyond raw target/config access: lazy HTML parsing and dependency
// output lookup (§4.C).
type Runtime struct {
	html *htmlCache
	deps *dependencyMap
}

// ParseHTML lazily parses and memoizes the target's response body.
func (r *Runtime) ParseHTML(ctx context.Context, requestID string) (*ParsedHTML, error) {
	return r.html.Parse(ctx, requestID)
}

// DependencyOutput returns the output the named check last published
// during this scan, or nil if it has not completed (invariant 4). The map
// behind it is shared by every target of the scan.
func (r *Runtime) DependencyOutput(checkID string) (CheckOutput, bool) {
	return r.deps.get(checkID)
}

// RuntimeContext is assembled once per target and handed to every check
// that runs against it (§4.C).
type RuntimeContext struct {
	Target  ScanTarget
	SDK     hostsdk.Host
	Config  ScanConfig
	Runtime *Runtime

	// send is the wrapped sender routed through the Request Queue; checks
	// never see the raw hostsdk.Host.Send directly (§9 Design Notes:
	// "forbid direct host access").
	send func(ctx context.Context, spec hostsdk.RequestSpec, checkID string) (hostsdk.RequestResponse, error)
}

// Send issues spec through the Request Queue on behalf of checkID.
func (rc *RuntimeContext) Send(ctx context.Context, spec hostsdk.RequestSpec, checkID string) (hostsdk.RequestResponse, error) {
	return rc.send(ctx, spec, checkID)
}

// dependencyMap is the runner-owned map of completed checks' published
// outputs, one map for the whole scan keyed by checkID only, so a later
// target's completion overwrites an earlier one's entry for the same
// check (§3 Ownership, §9 Design Notes: "key outputs by
// checkId in a plain map; never hold references to upstream task objects").
// set is called concurrently from executeBatch's per-check goroutines, so
// access is mutex-guarded like every other runner-owned shared structure.
type dependencyMap struct {
	mu     sync.RWMutex
	values map[string]CheckOutput
}

func newDependencyMap() *dependencyMap {
	return &dependencyMap{values: make(map[string]CheckOutput)}
}

func (d *dependencyMap) set(checkID string, output CheckOutput) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.values[checkID] = output
}

func (d *dependencyMap) get(checkID string) (CheckOutput, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.values[checkID]
	return v, ok
}

// buildRuntimeContext resolves a target via the host SDK and assembles its
// RuntimeContext. It fails with REQUEST_NOT_FOUND if the request cannot be
// obtained from the host (§4.C).
func buildRuntimeContext(ctx context.Context, host hostsdk.Host, requestID string, cfg ScanConfig, deps *dependencyMap, cache *htmlCache, send func(context.Context, hostsdk.RequestSpec, string) (hostsdk.RequestResponse, error)) (*RuntimeContext, error) {
	rr, ok, err := host.Get(ctx, requestID)
	if err != nil {
		return nil, NewScanRunnableError(ErrCodeRequestNotFound, "request %q: %v", requestID, err)
	}
	if !ok {
		return nil, NewScanRunnableError(ErrCodeRequestNotFound, "request %q not found", requestID)
	}

	target := ScanTarget{RequestID: requestID}
	if rr.Response != nil {
		target.ResponseID = requestID
	}

	return &RuntimeContext{
		Target:  target,
		SDK:     host,
		Config:  cfg,
		Runtime: &Runtime{html: cache, deps: deps},
		send:    send,
	}, nil
}
