// Package hostsdk declares the capability the engine consumes from its
// host: request/response lookup, sending and scope matching. The real
// implementation lives in the host application (request capture, replay,
// and scope configuration); this package only defines the boundary and
// ships an in-memory reference implementation used by tests and the demo
// CLI in cmd/scanner.
package hostsdk

import "context"

// Request is a captured or to-be-sent HTTP request.
type Request interface {
	ID() string
	Host() string
	Port() int
	Path() string
	Query() string
	URL() string
	Method() string
	ToSpec() RequestSpec
}

// Response is a captured HTTP response.
type Response interface {
	Code() int
	Header(name string) ([]string, bool)
	Body() []byte
}

// RequestSpec is an opaque, host-defined description of a request to send;
// checks build it and hand it to Host.Send via the Request Queue.
type RequestSpec struct {
	Host    string
	Port    int
	Method  string
	Path    string
	Query   string
	Headers map[string][]string
	Body    []byte
	TLS     bool
}

// Filter is an opaque host-defined match expression consumed by Matches.
type Filter any

// RequestResponse pairs a resolved request with its response, if any.
type RequestResponse struct {
	Request  Request
	Response Response
}

// Host is the capability surface the engine needs from its host. It is
// intentionally narrow: no query/listing beyond what the engine itself
// requires to resolve targets and send check-issued requests.
type Host interface {
	// Get resolves a request (and its response, if captured) by ID.
	// ok is false if the request is unknown to the host.
	Get(ctx context.Context, requestID string) (RequestResponse, bool, error)

	// Send issues spec as a new HTTP request and returns the resulting
	// request/response pair once the host has completed the exchange.
	Send(ctx context.Context, spec RequestSpec) (RequestResponse, error)

	// InScope reports whether a request matches the configured scope.
	InScope(req Request) bool

	// Matches reports whether a request/response pair matches filter.
	Matches(filter Filter, req Request, resp Response) bool
}
