package scan

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/caido-community/scanner/internal/channel"
	"github.com/caido-community/scanner/scan/hostsdk"
)

// requestQueue is a bounded-concurrency FIFO that serializes check-issued
// HTTP sends with inter-request delay (§4.D). It does not retry and does
// not deduplicate; scanTimeout enforcement belongs to the Scan Runner.
type requestQueue struct {
	host    hostsdk.Host
	bus     *Bus
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	pending *channel.TunableChannel[queueItem]

	interrupted func() (InterruptReason, bool)
}

type queueItem struct {
	spec            hostsdk.RequestSpec
	pendingID       string
	targetRequestID string
	checkID         string
	result          chan queueResult
}

type queueResult struct {
	rr  hostsdk.RequestResponse
	err error
}

// newRequestQueue builds a request queue. concurrentRequests bounds
// in-flight sends; delay paces the gap between one send starting and the
// next slot being handed out (delay is between sends, not before the
// first, per §4.D).
func newRequestQueue(host hostsdk.Host, bus *Bus, concurrentRequests int, delay time.Duration, interrupted func() (InterruptReason, bool)) *requestQueue {
	if concurrentRequests < 1 {
		concurrentRequests = 1
	}

	var limiter *rate.Limiter
	if delay > 0 {
		// One token per delay interval: the limiter spaces acquisitions,
		// not just the first one, matching the "delay between sends" rule.
		limiter = rate.NewLimiter(rate.Every(delay), 1)
	}

	q := &requestQueue{
		host:        host,
		bus:         bus,
		sem:         semaphore.NewWeighted(int64(concurrentRequests)),
		limiter:     limiter,
		pending:     channel.NewTunableChannel[queueItem](channel.ConfigForConcurrency(concurrentRequests)),
		interrupted: interrupted,
	}
	go q.dispatchLoop()
	return q
}

// Depth reports the number of sends currently buffered ahead of dispatch,
// for a host-side request-queue-depth gauge (§9 Design Notes observability
// hooks).
func (q *requestQueue) Depth() int {
	return q.pending.Len()
}

// dispatchLoop is the single FIFO dispatcher: it pulls queued items in
// arrival order, applies the rate limiter, acquires a concurrency slot,
// then spawns the actual send so slower sends don't block later ones from
// starting once their own slot and pacing allow it. It periodically calls
// Tune so the backlog buffer grows under sustained burst pressure and
// shrinks back once a scan's check population thins out near the end.
func (q *requestQueue) dispatchLoop() {
	ctx := context.Background()
	for {
		item, err := q.pending.Receive(ctx)
		if err != nil {
			return
		}

		q.pending.Tune()

		if reason, interrupted := q.interrupted(); interrupted {
			item.result <- queueResult{err: &ScanInterrupted{Reason: reason}}
			continue
		}

		if q.limiter != nil {
			_ = q.limiter.Wait(ctx)
		}

		if err := q.sem.Acquire(ctx, 1); err != nil {
			item.result <- queueResult{err: err}
			continue
		}

		go q.execute(item)
	}
}

func (q *requestQueue) execute(item queueItem) {
	defer q.sem.Release(1)

	rr, err := q.host.Send(context.Background(), item.spec)
	if err != nil {
		item.result <- queueResult{err: err}
		return
	}

	q.bus.Emit(Event{
		Kind: EventRequestCompleted,
		RequestCompleted: &RequestCompletedPayload{
			PendingRequestID: item.pendingID,
			RequestID:        rr.Request.ID(),
			ResponseID:       rr.Request.ID(),
		},
	})
	item.result <- queueResult{rr: rr}
}

// Enqueue submits spec for sending and blocks until it has been sent (or
// cancellation/host failure). It emits request-pending immediately and
// request-completed on success (§4.D).
func (q *requestQueue) Enqueue(ctx context.Context, spec hostsdk.RequestSpec, pendingRequestID, targetRequestID, checkID string) (hostsdk.RequestResponse, error) {
	if reason, interrupted := q.interrupted(); interrupted {
		return hostsdk.RequestResponse{}, &ScanInterrupted{Reason: reason}
	}

	q.bus.Emit(Event{
		Kind: EventRequestPending,
		RequestPending: &RequestPendingPayload{
			PendingRequestID: pendingRequestID,
			TargetRequestID:  targetRequestID,
			CheckID:          checkID,
		},
	})

	item := queueItem{
		spec:            spec,
		pendingID:       pendingRequestID,
		targetRequestID: targetRequestID,
		checkID:         checkID,
		result:          make(chan queueResult, 1),
	}

	if err := q.pending.Send(ctx, item); err != nil {
		return hostsdk.RequestResponse{}, err
	}

	select {
	case res := <-item.result:
		return res.rr, res.err
	case <-ctx.Done():
		return hostsdk.RequestResponse{}, ctx.Err()
	}
}
