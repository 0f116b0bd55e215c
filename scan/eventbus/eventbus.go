// Package eventbus relays a scan.Runner's event stream to websocket
// subscribers, so a remote progress UI can watch a scan without polling.
// It is additive: in-process scan.Handler callbacks registered via
// Runner.On/OnAny keep working exactly as before; Relay just attaches one
// more OnAny handler that fans events out over the wire.
package eventbus

import (
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/caido-community/scanner/scan"
)

// wireEvent is the JSON shape sent to every subscriber. scan.Event's
// payload fields are already pointer-typed and omitempty-friendly, so this
// just adds a stable "kind" discriminator alongside them.
type wireEvent struct {
	Kind             scan.EventKind               `json:"kind"`
	Interrupted      *scan.InterruptedPayload     `json:"interrupted,omitempty"`
	CheckLifecycle   *scan.CheckLifecyclePayload  `json:"checkLifecycle,omitempty"`
	CheckFailed      *scan.CheckFailedPayload     `json:"checkFailed,omitempty"`
	Finding          *scan.FindingPayload         `json:"finding,omitempty"`
	RequestPending   *scan.RequestPendingPayload  `json:"requestPending,omitempty"`
	RequestCompleted *scan.RequestCompletedPayload `json:"requestCompleted,omitempty"`
}

func toWireEvent(e scan.Event) wireEvent {
	return wireEvent{
		Kind:             e.Kind,
		Interrupted:      e.Interrupted,
		CheckLifecycle:   e.CheckLifecycle,
		CheckFailed:      e.CheckFailed,
		Finding:          e.Finding,
		RequestPending:   e.RequestPending,
		RequestCompleted: e.RequestCompleted,
	}
}

// Relay fans scan.Event values out to every currently-connected websocket
// subscriber. Each subscriber has a bounded outbound queue serviced by its
// own ServeHTTP goroutine; when that queue is full the event is dropped for
// that subscriber rather than blocking the scan, and the subscriber stays
// connected.
type Relay struct {
	logger *zap.Logger

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
}

type subscriber struct {
	outbox chan wireEvent
	done   chan struct{}
}

// NewRelay creates an empty Relay. Mount it as an http.Handler (it
// implements ServeHTTP) to expose it over HTTP, and pass its Handle method
// to a scan.Runner's OnAny.
func NewRelay(logger *zap.Logger) *Relay {
	return &Relay{
		logger:      logger.With(zap.String("component", "scan_eventbus")),
		subscribers: make(map[*subscriber]struct{}),
	}
}

// Handle is a scan.Handler: register it with Runner.OnAny to broadcast
// every event this runner emits.
func (r *Relay) Handle(e scan.Event) {
	wire := toWireEvent(e)

	r.mu.Lock()
	defer r.mu.Unlock()
	for sub := range r.subscribers {
		select {
		case sub.outbox <- wire:
		default:
			r.logger.Warn("dropping event for slow subscriber", zap.String("kind", string(e.Kind)))
		}
	}
}

// ServeHTTP upgrades the connection to a websocket and streams every event
// broadcast via Handle until the client disconnects or the request context
// is cancelled.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := websocket.Accept(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	sub := &subscriber{outbox: make(chan wireEvent, 64), done: make(chan struct{})}
	r.addSubscriber(sub)
	defer r.removeSubscriber(sub)

	ctx := req.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "scan context done")
			return
		case <-sub.done:
			conn.Close(websocket.StatusNormalClosure, "relay closed")
			return
		case evt := <-sub.outbox:
			if err := wsjson.Write(ctx, conn, evt); err != nil {
				return
			}
		}
	}
}

func (r *Relay) addSubscriber(sub *subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers[sub] = struct{}{}
}

func (r *Relay) removeSubscriber(sub *subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subscribers, sub)
}

// Close signals every connected subscriber's ServeHTTP loop to exit.
func (r *Relay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for sub := range r.subscribers {
		close(sub.done)
	}
	r.subscribers = make(map[*subscriber]struct{})
}
