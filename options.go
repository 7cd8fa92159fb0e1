package rtdb

import (
	"net/http"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"
)

const (
	// DefaultRestartDelay is the pause between a failed connection and the
	// next connection attempt of an auto-restarting stream.
	DefaultRestartDelay = time.Second

	// DefaultInitialTimeout bounds how long Stream waits for the first event.
	DefaultInitialTimeout = 10 * time.Second
)

// =============================================================================
// Client Options
// =============================================================================

type clientConfig struct {
	httpClient  *http.Client
	auth        string
	retryPolicy *RetryPolicy
	logger      *zap.Logger
	metrics     *Metrics
	opener      Opener
}

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

// WithHTTPClient sets a custom HTTP client.
// If not set, a default client suited to long-lived streams is used.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cfg *clientConfig) {
		cfg.httpClient = c
	}
}

// WithAuth sets a credential sent as the `auth` query parameter on every
// request. Token refresh is the caller's concern.
func WithAuth(token string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.auth = token
	}
}

// WithRetryPolicy sets the retry policy for transient errors while opening
// a stream connection.
func WithRetryPolicy(p RetryPolicy) ClientOption {
	return func(cfg *clientConfig) {
		cfg.retryPolicy = &p
	}
}

// WithLogger sets the structured logger. The default discards all output.
func WithLogger(l *zap.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = l
	}
}

// WithMetrics attaches prometheus collectors updated by every stream.
func WithMetrics(m *Metrics) ClientOption {
	return func(cfg *clientConfig) {
		cfg.metrics = m
	}
}

// WithOpener replaces the HTTP event-stream opener. Mostly useful in tests.
func WithOpener(o Opener) ClientOption {
	return func(cfg *clientConfig) {
		cfg.opener = o
	}
}

// RetryPolicy configures retry behavior for transient errors.
type RetryPolicy struct {
	// MaxRetries is the maximum number of retry attempts.
	// Default is 3.
	MaxRetries int

	// InitialDelay is the delay before the first retry.
	// Default is 100ms.
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between retries.
	// Default is 30s.
	MaxDelay time.Duration

	// Multiplier is the exponential backoff multiplier.
	// Default is 2.0.
	Multiplier float64
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// =============================================================================
// Stream Options
// =============================================================================

// ExceptionHandler is consulted on the stream goroutine whenever connecting,
// reading, decoding or the callback fails. Returning true asks for the
// connection to be rebuilt; the stream only does so while its auto-restart
// budget allows. The handler must return promptly.
type ExceptionHandler func(s *Stream, err error) bool

type streamConfig struct {
	handler        ExceptionHandler
	autoRestart    int
	restartDelay   time.Duration
	streamID       string
	initialTimeout time.Duration
	keepAlive      bool
	decoder        Decoder
	clock          clock.Clock
}

// StreamOption configures a Stream.
type StreamOption func(*streamConfig)

// WithExceptionHandler installs the handler consulted on stream failures.
// Without one, the first failure ends the stream and is reported by Err.
func WithExceptionHandler(h ExceptionHandler) StreamOption {
	return func(cfg *streamConfig) {
		cfg.handler = h
	}
}

// WithAutoRestart sets how many times a failed connection is rebuilt.
// Zero disables restarts (the default), a positive n allows up to n
// restarts and a negative n allows restarts forever.
func WithAutoRestart(n int) StreamOption {
	return func(cfg *streamConfig) {
		cfg.autoRestart = n
	}
}

// WithRestartDelay sets the pause before rebuilding a failed connection.
// Default is DefaultRestartDelay.
func WithRestartDelay(d time.Duration) StreamOption {
	return func(cfg *streamConfig) {
		cfg.restartDelay = d
	}
}

// WithStreamID sets the identifier attached to events, logs and the stream
// goroutine. It is kept across restarts. By default a random UUID is used.
func WithStreamID(id string) StreamOption {
	return func(cfg *streamConfig) {
		cfg.streamID = id
	}
}

// WithInitialTimeout bounds how long Stream blocks waiting for the first
// event. Default is DefaultInitialTimeout.
func WithInitialTimeout(d time.Duration) StreamOption {
	return func(cfg *streamConfig) {
		cfg.initialTimeout = d
	}
}

// WithKeepAlive delivers keep-alive events to the callback. They are
// dropped by default.
func WithKeepAlive() StreamOption {
	return func(cfg *streamConfig) {
		cfg.keepAlive = true
	}
}

// WithDecoder replaces the JSON decoder applied to event payloads.
func WithDecoder(d Decoder) StreamOption {
	return func(cfg *streamConfig) {
		cfg.decoder = d
	}
}

// WithClock sets the clock used for restart delays.
func WithClock(c clock.Clock) StreamOption {
	return func(cfg *streamConfig) {
		cfg.clock = c
	}
}
