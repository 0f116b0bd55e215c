// Package csp bundles three passive checks exercising Content-Security-Policy
// header inspection: whether a policy is enforced at all, whether it permits
// clickjacking, and whether it trusts script execution too broadly. They
// serve as the reference check plugins wired into cmd/scanner's demo CLI.
package csp

import (
	"context"
	"strings"

	"github.com/caido-community/scanner/scan"
)

const (
	CheckIDNotEnforced     = "csp-not-enforced"
	CheckIDClickjacking    = "csp-clickjacking"
	CheckIDUntrustedScript = "csp-untrusted-script"

	headerName = "Content-Security-Policy"
)

// Checks returns the CheckDefinitions for registration with scan.NewRegistry.
func Checks() []*scan.CheckDefinition {
	return []*scan.CheckDefinition{
		notEnforcedCheck(),
		clickjackingCheck(),
		untrustedScriptCheck(),
	}
}

// policyOutput is what csp-not-enforced publishes for its dependents: the
// parsed policy, if any, and whether one was present at all.
type policyOutput struct {
	present    bool
	directives map[string]string
}

func parseDirectives(header string) map[string]string {
	directives := make(map[string]string)
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.SplitN(part, " ", 2)
		name := strings.ToLower(fields[0])
		value := ""
		if len(fields) == 2 {
			value = fields[1]
		}
		directives[name] = value
	}
	return directives
}

// singleTickTask runs one analysis function to completion on the first
// tick; none of these checks need multi-step state machines.
type singleTickTask struct {
	target scan.ScanTarget
	run    func(ctx context.Context) (scan.StepResult, scan.CheckOutput)
	output scan.CheckOutput
	done   bool
}

func (t *singleTickTask) Tick(ctx context.Context) (scan.StepResult, error) {
	result, output := t.run(ctx)
	t.output = output
	t.done = true
	return result, nil
}

func (t *singleTickTask) CurrentStepName() string {
	if t.done {
		return "done"
	}
	return "analyze"
}

func (t *singleTickTask) CurrentState() any       { return nil }
func (t *singleTickTask) Target() scan.ScanTarget { return t.target }
func (t *singleTickTask) Output() scan.CheckOutput { return t.output }

func responseHeader(ctx context.Context, rc *scan.RuntimeContext, name string) (string, bool) {
	rr, ok, err := rc.SDK.Get(ctx, rc.Target.RequestID)
	if err != nil || !ok || rr.Response == nil {
		return "", false
	}
	values, ok := rr.Response.Header(name)
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

func isHTMLResponse(ctx context.Context, rc *scan.RuntimeContext) bool {
	contentType, ok := responseHeader(ctx, rc, "Content-Type")
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(contentType), "text/html")
}

func notEnforcedCheck() *scan.CheckDefinition {
	return &scan.CheckDefinition{
		Metadata: scan.CheckMetadata{
			ID:          CheckIDNotEnforced,
			Name:        "CSP not enforced",
			Description: "Flags HTML responses served without a Content-Security-Policy header.",
			Type:        scan.CheckTypePassive,
			Tags:        []string{"csp", "headers"},
			Severities:  []scan.Severity{scan.SeverityHigh},
		},
		When: func(target scan.ScanTarget, rc *scan.RuntimeContext) bool {
			return isHTMLResponse(context.Background(), rc)
		},
		Create: func(rc *scan.RuntimeContext) scan.CheckTask {
			target := rc.Target
			return &singleTickTask{
				target: target,
				run: func(ctx context.Context) (scan.StepResult, scan.CheckOutput) {
					header, present := responseHeader(ctx, rc, headerName)
					out := policyOutput{present: present}
					if present {
						out.directives = parseDirectives(header)
						return scan.StepResult{Status: scan.StepDone}, out
					}
					finding := scan.Finding{
						Name:        "csp-not-enforced",
						Description: "Response is HTML but does not set a Content-Security-Policy header.",
						Severity:    scan.SeverityHigh,
						Correlation: scan.Correlation{RequestID: target.RequestID},
					}
					return scan.StepResult{Status: scan.StepDone, Findings: []scan.Finding{finding}}, out
				},
			}
		},
	}
}

func clickjackingCheck() *scan.CheckDefinition {
	return &scan.CheckDefinition{
		Metadata: scan.CheckMetadata{
			ID:          CheckIDClickjacking,
			Name:        "CSP allows clickjacking",
			Description: "Flags a Content-Security-Policy that omits frame-ancestors, permitting framing.",
			Type:        scan.CheckTypePassive,
			Tags:        []string{"csp", "clickjacking"},
			Severities:  []scan.Severity{scan.SeverityMedium},
			DependsOn:   []string{CheckIDNotEnforced},
		},
		When: func(target scan.ScanTarget, rc *scan.RuntimeContext) bool {
			return isHTMLResponse(context.Background(), rc)
		},
		Create: func(rc *scan.RuntimeContext) scan.CheckTask {
			target := rc.Target
			return &singleTickTask{
				target: target,
				run: func(ctx context.Context) (scan.StepResult, scan.CheckOutput) {
					depOutput, _ := rc.Runtime.DependencyOutput(CheckIDNotEnforced)
					policy, ok := depOutput.(policyOutput)
					if !ok || !policy.present {
						// No policy to evaluate; nothing to flag.
						return scan.StepResult{Status: scan.StepDone}, nil
					}
					if _, hasFrameAncestors := policy.directives["frame-ancestors"]; hasFrameAncestors {
						return scan.StepResult{Status: scan.StepDone}, nil
					}
					finding := scan.Finding{
						Name:        "csp-clickjacking",
						Description: "Content-Security-Policy does not set frame-ancestors, permitting the page to be framed.",
						Severity:    scan.SeverityMedium,
						Correlation: scan.Correlation{RequestID: target.RequestID},
					}
					return scan.StepResult{Status: scan.StepDone, Findings: []scan.Finding{finding}}, nil
				},
			}
		},
	}
}

func untrustedScriptCheck() *scan.CheckDefinition {
	return &scan.CheckDefinition{
		Metadata: scan.CheckMetadata{
			ID:          CheckIDUntrustedScript,
			Name:        "CSP trusts arbitrary scripts",
			Description: "Flags a script-src directive that permits any origin via a bare wildcard.",
			Type:        scan.CheckTypePassive,
			Tags:        []string{"csp", "script-src"},
			Severities:  []scan.Severity{scan.SeverityCritical},
		},
		When: func(target scan.ScanTarget, rc *scan.RuntimeContext) bool {
			return isHTMLResponse(context.Background(), rc)
		},
		Create: func(rc *scan.RuntimeContext) scan.CheckTask {
			target := rc.Target
			return &singleTickTask{
				target: target,
				run: func(ctx context.Context) (scan.StepResult, scan.CheckOutput) {
					header, present := responseHeader(ctx, rc, headerName)
					if !present {
						return scan.StepResult{Status: scan.StepDone}, nil
					}
					directives := parseDirectives(header)
					scriptSrc, ok := directives["script-src"]
					if !ok {
						return scan.StepResult{Status: scan.StepDone}, nil
					}
					for _, source := range strings.Fields(scriptSrc) {
						if source == "*" {
							finding := scan.Finding{
								Name:        "csp-untrusted-script",
								Description: "script-src permits scripts from any origin (*).",
								Severity:    scan.SeverityCritical,
								Correlation: scan.Correlation{RequestID: target.RequestID},
							}
							return scan.StepResult{Status: scan.StepDone, Findings: []scan.Finding{finding}}, nil
						}
					}
					return scan.StepResult{Status: scan.StepDone}, nil
				},
			}
		},
	}
}
