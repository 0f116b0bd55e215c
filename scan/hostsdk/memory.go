package hostsdk

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/net/http2"
)

// MemoryRequest is the reference Request implementation: a fixed, already
// captured request held in memory.
type MemoryRequest struct {
	IDValue     string
	HostValue   string
	PortValue   int
	PathValue   string
	QueryValue  string
	MethodValue string
	TLSValue    bool
	Headers     map[string][]string
	BodyValue   []byte
}

func (r *MemoryRequest) ID() string     { return r.IDValue }
func (r *MemoryRequest) Host() string   { return r.HostValue }
func (r *MemoryRequest) Port() int      { return r.PortValue }
func (r *MemoryRequest) Path() string   { return r.PathValue }
func (r *MemoryRequest) Query() string  { return r.QueryValue }
func (r *MemoryRequest) Method() string { return r.MethodValue }

func (r *MemoryRequest) URL() string {
	scheme := "http"
	if r.TLSValue {
		scheme = "https"
	}
	u := url.URL{Scheme: scheme, Host: r.HostValue + ":" + strconv.Itoa(r.PortValue), Path: r.PathValue, RawQuery: r.QueryValue}
	return u.String()
}

func (r *MemoryRequest) ToSpec() RequestSpec {
	return RequestSpec{
		Host:    r.HostValue,
		Port:    r.PortValue,
		Method:  r.MethodValue,
		Path:    r.PathValue,
		Query:   r.QueryValue,
		Headers: r.Headers,
		Body:    r.BodyValue,
		TLS:     r.TLSValue,
	}
}

// MemoryResponse is the reference Response implementation.
type MemoryResponse struct {
	CodeValue    int
	HeaderValues map[string][]string
	BodyValue    []byte
}

func (r *MemoryResponse) Code() int { return r.CodeValue }

func (r *MemoryResponse) Header(name string) ([]string, bool) {
	v, ok := r.HeaderValues[name]
	return v, ok
}

func (r *MemoryResponse) Body() []byte { return r.BodyValue }

// MemoryHost is a reference Host backed by an in-process map of captured
// exchanges plus a real HTTP client for Send, used by tests and the demo
// CLI. It is not part of the engine's contract — production hosts bridge
// to their own capture/replay store.
type MemoryHost struct {
	mu        sync.RWMutex
	exchanges map[string]RequestResponse
	scope     func(Request) bool
	client    *http.Client
	nextID    atomic.Int64
}

// NewMemoryHost creates an empty reference host. allowAll, when true,
// makes InScope accept every request.
func NewMemoryHost(allowAll bool) *MemoryHost {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // reference/test host only
	}
	_ = http2.ConfigureTransport(transport)

	h := &MemoryHost{
		exchanges: make(map[string]RequestResponse),
		client:    &http.Client{Transport: transport},
	}
	if allowAll {
		h.scope = func(Request) bool { return true }
	} else {
		h.scope = func(Request) bool { return false }
	}
	return h
}

// Seed registers a captured request/response pair under requestID.
func (h *MemoryHost) Seed(requestID string, rr RequestResponse) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exchanges[requestID] = rr
}

// SetScope overrides the scope predicate used by InScope.
func (h *MemoryHost) SetScope(fn func(Request) bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scope = fn
}

func (h *MemoryHost) Get(_ context.Context, requestID string) (RequestResponse, bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rr, ok := h.exchanges[requestID]
	return rr, ok, nil
}

func (h *MemoryHost) Send(ctx context.Context, spec RequestSpec) (RequestResponse, error) {
	scheme := "http"
	if spec.TLS {
		scheme = "https"
	}
	u := url.URL{Scheme: scheme, Host: spec.Host + ":" + strconv.Itoa(spec.Port), Path: spec.Path, RawQuery: spec.Query}

	httpReq, err := http.NewRequestWithContext(ctx, spec.Method, u.String(), bytes.NewReader(spec.Body))
	if err != nil {
		return RequestResponse{}, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range spec.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return RequestResponse{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return RequestResponse{}, fmt.Errorf("read response body: %w", err)
	}

	id := h.nextID.Add(1)
	requestID := "sent-" + strconv.FormatInt(id, 10)

	req := &MemoryRequest{
		IDValue:     requestID,
		HostValue:   spec.Host,
		PortValue:   spec.Port,
		PathValue:   spec.Path,
		QueryValue:  spec.Query,
		MethodValue: spec.Method,
		TLSValue:    spec.TLS,
		Headers:     spec.Headers,
		BodyValue:   spec.Body,
	}
	respHeaders := make(map[string][]string, len(resp.Header))
	for k, v := range resp.Header {
		respHeaders[k] = v
	}
	res := &MemoryResponse{CodeValue: resp.StatusCode, HeaderValues: respHeaders, BodyValue: body}

	rr := RequestResponse{Request: req, Response: res}
	h.Seed(requestID, rr)
	return rr, nil
}

func (h *MemoryHost) InScope(req Request) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.scope(req)
}

func (h *MemoryHost) Matches(filter Filter, req Request, resp Response) bool {
	pred, ok := filter.(func(Request, Response) bool)
	if !ok {
		return false
	}
	return pred(req, resp)
}
