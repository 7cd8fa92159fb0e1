package rtdb

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Client is a realtime database client.
// It is safe for concurrent use.
//
// The default HTTP client is tuned for long-lived event streams:
//   - No overall request timeout (streams stay open indefinitely)
//   - Bounded dial, TLS handshake and response header waits
//   - HTTP/2 when the server supports it
type Client struct {
	httpClient *http.Client
	baseURL    string
	auth       string
	opener     Opener
	logger     *zap.Logger
	metrics    *Metrics

	mu      sync.Mutex
	streams map[*Stream]struct{}
	closed  bool
}

// NewClient creates a client for the database at databaseURL, for example
// "https://my-project.example-rtdb.com".
//
// Example:
//
//	client := rtdb.NewClient("https://my-project.example-rtdb.com")
//	ref := client.Ref("rooms", "lobby")
func NewClient(databaseURL string, opts ...ClientOption) *Client {
	cfg := &clientConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	httpClient := cfg.httpClient
	if httpClient == nil {
		transport := &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,

			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
		}

		httpClient = &http.Client{
			Timeout:   0, // Streams are unbounded; Close aborts them
			Transport: transport,
		}
	}

	retryPolicy := DefaultRetryPolicy()
	if cfg.retryPolicy != nil {
		retryPolicy = *cfg.retryPolicy
	}

	logger := cfg.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	opener := cfg.opener
	if opener == nil {
		opener = &httpOpener{
			httpClient:  httpClient,
			retryPolicy: retryPolicy,
			logger:      logger,
		}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(databaseURL, "/"),
		auth:       cfg.auth,
		opener:     opener,
		logger:     logger,
		metrics:    cfg.metrics,
		streams:    make(map[*Stream]struct{}),
	}
}

// Ref returns a reference to the location formed by joining path segments.
// Segments may themselves contain slashes. No request is made.
func (c *Client) Ref(path ...string) *Reference {
	return &Reference{client: c, segments: splitPath(path)}
}

// HTTPClient returns the underlying HTTP client.
// This can be useful for advanced configuration or testing.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Close closes every stream opened through the client. Streams cannot be
// opened after Close.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	streams := make([]*Stream, 0, len(c.streams))
	for s := range c.streams {
		streams = append(streams, s)
	}
	c.mu.Unlock()

	var errs []error
	for _, s := range streams {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Client) track(s *Stream) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrStreamClosed
	}
	c.streams[s] = struct{}{}
	return nil
}

func (c *Client) untrack(s *Stream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.streams, s)
}
