package scan

import (
	"context"
	"testing"
	"time"

	"github.com/caido-community/scanner/scan/hostsdk"
)

func neverInterrupted() (InterruptReason, bool) { return "", false }

// fakeHost is a hostsdk.Host stub for queue tests: it never touches the
// network, just echoes back a canned response for every Send.
type fakeHost struct {
	nextID int
}

func (h *fakeHost) Get(context.Context, string) (hostsdk.RequestResponse, bool, error) {
	return hostsdk.RequestResponse{}, false, nil
}

func (h *fakeHost) Send(ctx context.Context, spec hostsdk.RequestSpec) (hostsdk.RequestResponse, error) {
	h.nextID++
	req := &hostsdk.MemoryRequest{
		IDValue: "sent-1", HostValue: spec.Host, PortValue: spec.Port,
		PathValue: spec.Path, MethodValue: spec.Method, TLSValue: spec.TLS,
	}
	resp := &hostsdk.MemoryResponse{CodeValue: 200, BodyValue: []byte("ok")}
	return hostsdk.RequestResponse{Request: req, Response: resp}, nil
}

func (h *fakeHost) InScope(hostsdk.Request) bool { return true }

func (h *fakeHost) Matches(hostsdk.Filter, hostsdk.Request, hostsdk.Response) bool { return true }

func TestRequestQueue_Enqueue_SendsAndReturnsResponse(t *testing.T) {
	bus := NewBus()
	q := newRequestQueue(&fakeHost{}, bus, 4, 0, neverInterrupted)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	rr, err := q.Enqueue(ctx, hostsdk.RequestSpec{Host: "example.com", Port: 443, Method: "GET", Path: "/", TLS: true}, "pending-1", "seed-1", "some-check")
	if err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	if rr.Response.Code() != 200 {
		t.Fatalf("expected status 200, got %d", rr.Response.Code())
	}
}

func TestRequestQueue_Enqueue_InterruptedBeforeSend(t *testing.T) {
	bus := NewBus()
	interrupted := func() (InterruptReason, bool) { return InterruptCancelled, true }
	q := newRequestQueue(&fakeHost{}, bus, 1, 0, interrupted)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := q.Enqueue(ctx, hostsdk.RequestSpec{Host: "example.com", Port: 443, Method: "GET", Path: "/"}, "pending-1", "seed-1", "some-check")
	if err == nil {
		t.Fatal("expected an interrupted error")
	}
	si, ok := err.(*ScanInterrupted)
	if !ok {
		t.Fatalf("expected *ScanInterrupted, got %T: %v", err, err)
	}
	if si.Reason != InterruptCancelled {
		t.Fatalf("expected reason %q, got %q", InterruptCancelled, si.Reason)
	}
}

func TestRequestQueue_Enqueue_SpacesSendsByDelay(t *testing.T) {
	bus := NewBus()
	const delay = 50 * time.Millisecond
	q := newRequestQueue(&fakeHost{}, bus, 1, delay, neverInterrupted)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	spec := hostsdk.RequestSpec{Host: "example.com", Port: 443, Method: "GET", Path: "/", TLS: true}

	var completedAt []time.Time
	bus.On(EventRequestCompleted, func(Event) {
		completedAt = append(completedAt, time.Now())
	})

	for i := 0; i < 3; i++ {
		if _, err := q.Enqueue(ctx, spec, "pending", "seed-1", "some-check"); err != nil {
			t.Fatalf("Enqueue() error: %v", err)
		}
	}

	if len(completedAt) != 3 {
		t.Fatalf("expected 3 completions, got %d", len(completedAt))
	}
	for i := 1; i < len(completedAt); i++ {
		gap := completedAt[i].Sub(completedAt[i-1])
		if gap < delay {
			t.Fatalf("expected at least %v between sends, got %v between completion %d and %d", delay, gap, i-1, i)
		}
	}
}

func TestRequestQueue_Enqueue_EmitsPendingAndCompletedEvents(t *testing.T) {
	bus := NewBus()
	var kinds []EventKind
	bus.OnAny(func(e Event) { kinds = append(kinds, e.Kind) })

	q := newRequestQueue(&fakeHost{}, bus, 1, 0, neverInterrupted)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := q.Enqueue(ctx, hostsdk.RequestSpec{Host: "example.com", Port: 443, Method: "GET", Path: "/", TLS: true}, "pending-1", "seed-1", "some-check"); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}

	if len(kinds) != 2 || kinds[0] != EventRequestPending || kinds[1] != EventRequestCompleted {
		t.Fatalf("expected [RequestPending, RequestCompleted], got %v", kinds)
	}
}
