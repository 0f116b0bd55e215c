// Package metrics exposes Prometheus collectors for the scan engine. It is
// wired by the host application, not by the engine itself: scan.Runner takes
// no dependency on this package and reports progress only via scan.Event.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/caido-community/scanner/scan"
)

// Collector holds every metric the engine's event stream can drive.
// Construct one per process and feed it from a scan.Runner.OnAny handler.
type Collector struct {
	checksStartedTotal   *prometheus.CounterVec
	checksFinishedTotal  *prometheus.CounterVec
	checkDuration        *prometheus.HistogramVec
	findingsTotal        *prometheus.CounterVec
	dedupeSkippedTotal   *prometheus.CounterVec
	requestsIssuedTotal  prometheus.Counter
	requestQueueDepth    prometheus.Gauge
	scansStartedTotal    prometheus.Counter
	scansFinishedTotal   *prometheus.CounterVec
	scanDuration         prometheus.Histogram
	activeChecks         prometheus.Gauge
	activeTargets        prometheus.Gauge

	logger *zap.Logger
}

// NewCollector registers every collector under namespace and returns a
// Collector ready to record events. Call it once per process; promauto
// panics on duplicate registration.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "scan_metrics")),
	}

	c.checksStartedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_started_total",
			Help:      "Total number of check executions started.",
		},
		[]string{"check_id"},
	)

	c.checksFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_finished_total",
			Help:      "Total number of check executions that reached a terminal status.",
		},
		[]string{"check_id", "status"},
	)

	c.checkDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "check_duration_seconds",
			Help:      "Wall-clock time from a check's first tick to its terminal status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"check_id"},
	)

	c.findingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "findings_total",
			Help:      "Total number of findings emitted, by severity.",
		},
		[]string{"check_id", "severity"},
	)

	c.dedupeSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedupe_skipped_total",
			Help:      "Total number of check runs skipped because their dedupe key was already seen.",
		},
		[]string{"check_id"},
	)

	c.requestsIssuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_issued_total",
			Help:      "Total number of HTTP requests issued through the request queue.",
		},
	)

	c.requestQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "request_queue_depth",
			Help:      "Number of pending requests currently queued.",
		},
	)

	c.scansStartedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_started_total",
			Help:      "Total number of scans started.",
		},
	)

	c.scansFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_finished_total",
			Help:      "Total number of scans that reached a terminal result, by kind.",
		},
		[]string{"kind"},
	)

	c.scanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Wall-clock time from scan start to terminal result.",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	c.activeChecks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_checks",
			Help:      "Number of check executions currently in flight.",
		},
	)

	c.activeTargets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_targets",
			Help:      "Number of scan targets currently being processed.",
		},
	)

	logger.Info("scan metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordCheckStarted records that a check began executing against a target.
func (c *Collector) RecordCheckStarted(checkID string) {
	c.checksStartedTotal.WithLabelValues(checkID).Inc()
	c.activeChecks.Inc()
}

// RecordCheckFinished records a check's terminal status and duration.
func (c *Collector) RecordCheckFinished(checkID, status string, duration time.Duration) {
	c.checksFinishedTotal.WithLabelValues(checkID, status).Inc()
	c.checkDuration.WithLabelValues(checkID).Observe(duration.Seconds())
	c.activeChecks.Dec()
}

// RecordFinding records one emitted finding.
func (c *Collector) RecordFinding(checkID, severity string) {
	c.findingsTotal.WithLabelValues(checkID, severity).Inc()
}

// RecordDedupeSkip records a check run skipped by the dedupe index.
func (c *Collector) RecordDedupeSkip(checkID string) {
	c.dedupeSkippedTotal.WithLabelValues(checkID).Inc()
}

// RecordRequestIssued records one HTTP request sent through the queue.
func (c *Collector) RecordRequestIssued() {
	c.requestsIssuedTotal.Inc()
}

// SetRequestQueueDepth sets the current number of pending queued requests.
func (c *Collector) SetRequestQueueDepth(depth int) {
	c.requestQueueDepth.Set(float64(depth))
}

// RecordScanStarted records a scan beginning and marks targets in flight.
func (c *Collector) RecordScanStarted(targets int) {
	c.scansStartedTotal.Inc()
	c.activeTargets.Add(float64(targets))
}

// RecordScanFinished records a scan's terminal result kind and duration.
func (c *Collector) RecordScanFinished(kind string, duration time.Duration, targets int) {
	c.scansFinishedTotal.WithLabelValues(kind).Inc()
	c.scanDuration.Observe(duration.Seconds())
	c.activeTargets.Sub(float64(targets))
}

// Bind subscribes the collector to every event a scan.Runner emits,
// translating scan.Event into the metrics above. It tracks per-(check,
// target) start times in memory to compute check durations, and the scan's
// own start time to compute scan duration. A failed check is counted once,
// under status "failed"; an interrupted scan is counted once, under its
// interrupt reason.
func (c *Collector) Bind(runner *scan.Runner, targetCount int) {
	var mu sync.Mutex
	checkStarts := make(map[string]time.Time)
	failedChecks := make(map[string]bool)
	interrupted := false
	scanStart := time.Now()

	key := func(checkID, targetRequestID string) string { return checkID + "\x00" + targetRequestID }

	runner.On(scan.EventStarted, func(scan.Event) {
		scanStart = time.Now()
		c.RecordScanStarted(targetCount)
	})

	runner.On(scan.EventCheckStarted, func(e scan.Event) {
		mu.Lock()
		checkStarts[key(e.CheckLifecycle.CheckID, e.CheckLifecycle.TargetRequestID)] = time.Now()
		mu.Unlock()
		c.RecordCheckStarted(e.CheckLifecycle.CheckID)
	})

	finishCheck := func(checkID, targetRequestID string) {
		mu.Lock()
		start, ok := checkStarts[key(checkID, targetRequestID)]
		delete(checkStarts, key(checkID, targetRequestID))
		status := "completed"
		if failedChecks[key(checkID, targetRequestID)] {
			status = "failed"
			delete(failedChecks, key(checkID, targetRequestID))
		}
		mu.Unlock()
		var duration time.Duration
		if ok {
			duration = time.Since(start)
		}
		c.RecordCheckFinished(checkID, status, duration)
	}

	runner.On(scan.EventCheckFinished, func(e scan.Event) {
		finishCheck(e.CheckLifecycle.CheckID, e.CheckLifecycle.TargetRequestID)
	})

	// A failed check emits check-failed and then check-finished; the
	// failure is remembered here and recorded by the check-finished handler.
	runner.On(scan.EventCheckFailed, func(e scan.Event) {
		mu.Lock()
		failedChecks[key(e.CheckFailed.CheckID, e.CheckFailed.TargetRequestID)] = true
		mu.Unlock()
	})

	runner.On(scan.EventFinding, func(e scan.Event) {
		c.RecordFinding(e.Finding.CheckID, string(e.Finding.Finding.Severity))
	})

	runner.On(scan.EventRequestPending, func(scan.Event) {
		c.RecordRequestIssued()
		c.SetRequestQueueDepth(runner.QueueDepth())
	})

	runner.On(scan.EventRequestCompleted, func(scan.Event) {
		c.SetRequestQueueDepth(runner.QueueDepth())
	})

	runner.On(scan.EventFinished, func(scan.Event) {
		mu.Lock()
		wasInterrupted := interrupted
		mu.Unlock()
		if !wasInterrupted {
			c.RecordScanFinished("finished", time.Since(scanStart), targetCount)
		}
	})

	// An interrupted scan emits scan:interrupted and then scan:finished.
	runner.On(scan.EventInterrupted, func(e scan.Event) {
		mu.Lock()
		interrupted = true
		mu.Unlock()
		c.RecordScanFinished(string(e.Interrupted.Reason), time.Since(scanStart), targetCount)
	})
}
