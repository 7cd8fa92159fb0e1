package rtdbtest

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// ErrNoResponse is returned by Transport once its queue is empty.
var ErrNoResponse = errors.New("rtdbtest: no more responses queued")

// Transport is an http.RoundTripper that records requests and answers them
// from a queue, in order.
type Transport struct {
	mu       sync.Mutex
	requests []*http.Request
	queue    []queued
}

type queued struct {
	resp *http.Response
	err  error
}

// NewTransport creates an empty Transport.
func NewTransport() *Transport {
	return &Transport{}
}

// Add queues a response, or a transport error when err is non-nil.
func (t *Transport) Add(resp *http.Response, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queue = append(t.queue, queued{resp: resp, err: err})
}

// AddStatus queues an empty response with the given status and headers.
func (t *Transport) AddStatus(status int, headers map[string]string) {
	resp := &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       http.NoBody,
	}
	for k, v := range headers {
		resp.Header.Set(k, v)
	}
	t.Add(resp, nil)
}

// AddEventStream queues a 200 event stream carrying the given frames,
// each written as "event: name" and "data: payload". The stream ends after
// the last frame.
func (t *Transport) AddEventStream(frames ...[2]string) {
	var b strings.Builder
	for _, f := range frames {
		fmt.Fprintf(&b, "event: %s\ndata: %s\n\n", f[0], f[1])
	}
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(b.String())),
	}
	resp.Header.Set("Content-Type", "text/event-stream")
	t.Add(resp, nil)
}

// Requests returns all recorded requests.
func (t *Transport) Requests() []*http.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*http.Request(nil), t.requests...)
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.requests = append(t.requests, req)
	if len(t.queue) == 0 {
		return nil, ErrNoResponse
	}

	next := t.queue[0]
	t.queue = t.queue[1:]
	if next.resp != nil {
		next.resp.Request = req
	}
	return next.resp, next.err
}
