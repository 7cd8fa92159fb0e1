package rtdb

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/durable-streams/rtdb-go/internal/sse"
)

// Connection is a live server-push connection owned by one stream.
type Connection interface {
	// Next blocks until the next event arrives. It returns an error when the
	// connection breaks, the server ends it, or Abort was called.
	Next() (RawEvent, error)

	// Abort unblocks a pending Next and releases the connection. It may be
	// called from any goroutine, any number of times.
	Abort() error
}

// Opener establishes server-push connections to a resource URL.
type Opener interface {
	Open(ctx context.Context, url string) (Connection, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, url string) (Connection, error)

// Open implements Opener.
func (f OpenerFunc) Open(ctx context.Context, url string) (Connection, error) {
	return f(ctx, url)
}

// httpOpener opens SSE connections with GET requests.
type httpOpener struct {
	httpClient  *http.Client
	retryPolicy RetryPolicy
	logger      *zap.Logger
}

// Open implements Opener.
func (o *httpOpener) Open(ctx context.Context, url string) (Connection, error) {
	// The connection context outlives this call; cancelling it is how Abort
	// unblocks a read in progress.
	connCtx, cancel := context.WithCancel(ctx)

	makeRequest := func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(connCtx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Cache-Control", "no-cache")
		return req, nil
	}

	resp, err := o.doWithRetry(connCtx, makeRequest)
	if err != nil {
		cancel()
		return nil, newStreamError("open", redactURL(url), 0, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		// Verify it's actually SSE
		contentType := resp.Header.Get("Content-Type")
		if !strings.HasPrefix(contentType, "text/event-stream") {
			resp.Body.Close()
			cancel()
			return nil, newStreamError("open", redactURL(url), resp.StatusCode, ErrNotEventStream)
		}
		return &httpConn{
			url:    redactURL(url),
			body:   resp.Body,
			parser: sse.NewParser(resp.Body),
			cancel: cancel,
		}, nil

	default:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, newStreamError("open", redactURL(url), resp.StatusCode, errorFromStatus(resp.StatusCode))
	}
}

// httpConn is an SSE response body being read by one stream goroutine.
type httpConn struct {
	url    string
	body   io.ReadCloser
	parser *sse.Parser
	cancel context.CancelFunc

	mu      sync.Mutex
	aborted bool
}

// Next implements Connection.
func (c *httpConn) Next() (RawEvent, error) {
	if c.isAborted() {
		return RawEvent{}, ErrStreamClosed
	}
	ev, err := c.parser.Next()
	if err != nil {
		if c.isAborted() {
			return RawEvent{}, ErrStreamClosed
		}
		if errors.Is(err, io.EOF) {
			return RawEvent{}, newStreamError("read", c.url, 0, ErrConnectionClosed)
		}
		return RawEvent{}, newStreamError("read", c.url, 0, err)
	}
	return RawEvent{Name: ev.Name, Data: []byte(ev.Data)}, nil
}

// Abort implements Connection.
func (c *httpConn) Abort() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.aborted {
		return nil
	}
	c.aborted = true
	c.cancel()
	return c.body.Close()
}

func (c *httpConn) isAborted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted
}

// Ensure httpConn implements Connection
var _ Connection = (*httpConn)(nil)
