package scan

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"golang.org/x/net/html"

	"github.com/caido-community/scanner/scan/hostsdk"
)

// ParsedHTML is the memoized parse of one target's response body.
type ParsedHTML struct {
	Root *html.Node
}

// htmlCache lazily parses a target's response body on first access per
// requestID and memoizes the result; it is write-once per requestID so
// every later reader observes the same ParsedHTML (§4.C, §5 Shared-resource
// policy).
type htmlCache struct {
	host hostsdk.Host

	mu    sync.Mutex
	inFl  map[string]chan struct{}
	cache map[string]*ParsedHTML
	errs  map[string]error
}

func newHTMLCache(host hostsdk.Host) *htmlCache {
	return &htmlCache{
		host:  host,
		inFl:  make(map[string]chan struct{}),
		cache: make(map[string]*ParsedHTML),
		errs:  make(map[string]error),
	}
}

// Parse returns the memoized parse of requestID's response body, parsing
// it on first call. Concurrent callers for the same requestID block on the
// first caller's parse rather than duplicating work.
func (c *htmlCache) Parse(ctx context.Context, requestID string) (*ParsedHTML, error) {
	c.mu.Lock()
	if parsed, ok := c.cache[requestID]; ok {
		c.mu.Unlock()
		return parsed, nil
	}
	if err, ok := c.errs[requestID]; ok {
		c.mu.Unlock()
		return nil, err
	}
	if wait, inFlight := c.inFl[requestID]; inFlight {
		c.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return c.Parse(ctx, requestID)
	}

	done := make(chan struct{})
	c.inFl[requestID] = done
	c.mu.Unlock()

	parsed, err := c.doParse(ctx, requestID)

	c.mu.Lock()
	if err != nil {
		c.errs[requestID] = err
	} else {
		c.cache[requestID] = parsed
	}
	delete(c.inFl, requestID)
	close(done)
	c.mu.Unlock()

	return parsed, err
}

func (c *htmlCache) doParse(ctx context.Context, requestID string) (*ParsedHTML, error) {
	rr, ok, err := c.host.Get(ctx, requestID)
	if err != nil {
		return nil, NewScanRunnableError(ErrCodeRequestNotFound, "request %q: %v", requestID, err)
	}
	if !ok || rr.Response == nil {
		return nil, NewScanRunnableError(ErrCodeRequestNotFound, "request %q has no response", requestID)
	}

	body := rr.Response.Body()
	if body == nil {
		return nil, NewScanRunnableError(ErrCodeRequestNotFound, "request %q response has no body", requestID)
	}

	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html for %q: %w", requestID, err)
	}
	return &ParsedHTML{Root: root}, nil
}
