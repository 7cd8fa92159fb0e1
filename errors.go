package rtdb

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for common conditions.
var (
	// ErrNilCallback is returned by Stream when no callback is given.
	ErrNilCallback = errors.New("rtdb: nil stream callback")

	// ErrNotFound indicates the database or path does not exist (404).
	ErrNotFound = errors.New("rtdb: not found")

	// ErrUnauthorized indicates missing or rejected credentials (401, 403).
	ErrUnauthorized = errors.New("rtdb: unauthorized")

	// ErrRateLimited indicates rate limiting (429).
	ErrRateLimited = errors.New("rtdb: rate limited")

	// ErrNotEventStream indicates the server answered without text/event-stream.
	ErrNotEventStream = errors.New("rtdb: response is not an event stream")

	// ErrConnectionClosed indicates the server ended the event stream.
	ErrConnectionClosed = errors.New("rtdb: event stream closed by server")

	// ErrMalformedEvent indicates an event payload that could not be decoded.
	ErrMalformedEvent = errors.New("rtdb: malformed event")

	// ErrCancelled indicates the server cancelled the stream, typically
	// because security rules no longer allow reading the location.
	ErrCancelled = errors.New("rtdb: stream cancelled by server")

	// ErrAuthRevoked indicates the credential used by the stream expired or
	// was revoked.
	ErrAuthRevoked = errors.New("rtdb: stream credential revoked")

	// ErrCallbackPanic wraps a value recovered from a panicking callback.
	ErrCallbackPanic = errors.New("rtdb: callback panicked")

	// ErrStreamClosed indicates an operation on a closed stream or client.
	ErrStreamClosed = errors.New("rtdb: stream closed")
)

// StreamError wraps errors with additional context about the failed operation.
type StreamError struct {
	// Op is the operation that failed: "open", "read" or "decode".
	Op string

	// URL is the resource URL.
	URL string

	// StatusCode is the HTTP status code, if available.
	StatusCode int

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("rtdb: %s %s failed with status %d: %v", e.Op, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("rtdb: %s %s failed: %v", e.Op, e.URL, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// newStreamError creates a StreamError.
func newStreamError(op, url string, statusCode int, err error) *StreamError {
	return &StreamError{
		Op:         op,
		URL:        url,
		StatusCode: statusCode,
		Err:        err,
	}
}

// errorFromStatus maps HTTP status codes to appropriate sentinel errors.
func errorFromStatus(statusCode int) error {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return fmt.Errorf("unexpected status code: %d", statusCode)
	}
}
