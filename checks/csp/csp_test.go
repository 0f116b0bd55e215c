package csp_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caido-community/scanner/checks/csp"
	"github.com/caido-community/scanner/scan"
	"github.com/caido-community/scanner/scan/hostsdk"
)

func seededHost(t *testing.T, headers map[string][]string) (*hostsdk.MemoryHost, string) {
	t.Helper()
	host := hostsdk.NewMemoryHost(true)
	requestID := "target-1"
	host.Seed(requestID, hostsdk.RequestResponse{
		Request:  &hostsdk.MemoryRequest{IDValue: requestID, HostValue: "example.com", PortValue: 443, PathValue: "/", MethodValue: "GET", TLSValue: true},
		Response: &hostsdk.MemoryResponse{CodeValue: 200, HeaderValues: headers, BodyValue: []byte("<html></html>")},
	})
	return host, requestID
}

func runChecks(t *testing.T, host *hostsdk.MemoryHost, requestID string) scan.ScanResult {
	t.Helper()
	plan, err := scan.NewRegistry(csp.Checks()).Plan()
	require.NoError(t, err)

	cfg := scan.ScanConfig{
		Aggressivity:       scan.AggressivityMedium,
		Severities:         []scan.Severity{scan.SeverityInfo, scan.SeverityLow, scan.SeverityMedium, scan.SeverityHigh, scan.SeverityCritical},
		ConcurrentTargets:  1,
		ConcurrentChecks:   4,
		ConcurrentRequests: 1,
	}
	runner := scan.NewRunner(host, plan, cfg)
	return runner.Run(context.Background(), []string{requestID})
}

func TestCSPNotEnforced_MissingHeader(t *testing.T) {
	host, requestID := seededHost(t, map[string][]string{"Content-Type": {"text/html"}})

	result := runChecks(t, host, requestID)
	require.Equal(t, scan.ResultFinished, result.Kind)

	var notEnforced, clickjacking []scan.Finding
	for _, f := range result.Findings {
		switch f.Name {
		case "csp-not-enforced":
			notEnforced = append(notEnforced, f)
		case "csp-clickjacking":
			clickjacking = append(clickjacking, f)
		}
	}

	require.Len(t, notEnforced, 1)
	assert.Equal(t, scan.SeverityHigh, notEnforced[0].Severity)
	assert.Empty(t, clickjacking)

	history := runner(t, host, requestID)
	_ = history
}

// runner re-plans and records history for a fresh scan so tests can inspect
// CheckExecutionRecord outcomes independently of the findings-only assertions
// above.
func runner(t *testing.T, host *hostsdk.MemoryHost, requestID string) []scan.CheckExecutionRecord {
	t.Helper()
	plan, err := scan.NewRegistry(csp.Checks()).Plan()
	require.NoError(t, err)
	cfg := scan.ScanConfig{
		Aggressivity:       scan.AggressivityMedium,
		Severities:         []scan.Severity{scan.SeverityInfo, scan.SeverityLow, scan.SeverityMedium, scan.SeverityHigh, scan.SeverityCritical},
		ConcurrentTargets:  1,
		ConcurrentChecks:   4,
		ConcurrentRequests: 1,
	}
	r := scan.NewRunner(host, plan, cfg)
	r.Run(context.Background(), []string{requestID})
	return r.GetExecutionHistory()
}

func TestCSPClickjacking_CompletesEmptyWhenPolicyAbsent(t *testing.T) {
	host, requestID := seededHost(t, map[string][]string{"Content-Type": {"text/html"}})
	history := runner(t, host, requestID)

	var clickjackingRecord *scan.CheckExecutionRecord
	for i := range history {
		if history[i].CheckID == csp.CheckIDClickjacking {
			clickjackingRecord = &history[i]
		}
	}
	require.NotNil(t, clickjackingRecord)
	assert.Equal(t, scan.CheckStatusCompleted, clickjackingRecord.Status)

	var findings []scan.Finding
	for _, step := range clickjackingRecord.Steps {
		findings = append(findings, step.Findings...)
	}
	assert.Empty(t, findings)
}

func TestCSPUntrustedScript_WildcardScriptSrc(t *testing.T) {
	host, requestID := seededHost(t, map[string][]string{
		"Content-Type":            {"text/html"},
		"Content-Security-Policy": {"default-src 'self'; script-src *"},
	})

	result := runChecks(t, host, requestID)
	require.Equal(t, scan.ResultFinished, result.Kind)

	var untrusted []scan.Finding
	for _, f := range result.Findings {
		if f.Name == "csp-untrusted-script" {
			untrusted = append(untrusted, f)
		}
	}
	require.Len(t, untrusted, 1)
	assert.Equal(t, scan.SeverityCritical, untrusted[0].Severity)
}

func TestCSPClickjacking_FlagsMissingFrameAncestors(t *testing.T) {
	host, requestID := seededHost(t, map[string][]string{
		"Content-Type":            {"text/html"},
		"Content-Security-Policy": {"default-src 'self'"},
	})

	result := runChecks(t, host, requestID)
	require.Equal(t, scan.ResultFinished, result.Kind)

	var clickjacking []scan.Finding
	for _, f := range result.Findings {
		if f.Name == "csp-clickjacking" {
			clickjacking = append(clickjacking, f)
		}
	}
	require.Len(t, clickjacking, 1)
	assert.Equal(t, scan.SeverityMedium, clickjacking[0].Severity)
}
