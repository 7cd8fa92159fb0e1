package rtdb

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/durable-streams/rtdb-go/rtdbtest"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusOK, false},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusNotFound, false},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, shouldRetry(tt.status), "status %d", tt.status)
	}
}

func TestParseRetryAfter(t *testing.T) {
	assert.Zero(t, parseRetryAfter(""))
	assert.Zero(t, parseRetryAfter("soon"))
	assert.Zero(t, parseRetryAfter("-3"))
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))

	future := time.Now().Add(2 * time.Hour).UTC().Format(http.TimeFormat)
	assert.Equal(t, time.Hour, parseRetryAfter(future))
}

func TestRetryPolicyNextDelay(t *testing.T) {
	p := RetryPolicy{MaxDelay: time.Second, Multiplier: 2}
	assert.Equal(t, 200*time.Millisecond, p.nextDelay(100*time.Millisecond))
	assert.Equal(t, time.Second, p.nextDelay(800*time.Millisecond))
}

func newTestOpener(tr *rtdbtest.Transport, maxRetries int) *httpOpener {
	return &httpOpener{
		httpClient: &http.Client{Transport: tr},
		retryPolicy: RetryPolicy{
			MaxRetries:   maxRetries,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
			Multiplier:   2,
		},
		logger: zap.NewNop(),
	}
}

func TestOpenerReadsEvents(t *testing.T) {
	tr := rtdbtest.NewTransport()
	tr.AddEventStream(
		[2]string{"put", `{"path":"/","data":1}`},
		[2]string{"keep-alive", "null"},
	)

	conn, err := newTestOpener(tr, 0).Open(context.Background(), "https://demo.example-rtdb.com/a.json")
	require.NoError(t, err)
	defer conn.Abort()

	ev, err := conn.Next()
	require.NoError(t, err)
	assert.Equal(t, "put", ev.Name)
	assert.JSONEq(t, `{"path":"/","data":1}`, string(ev.Data))

	ev, err = conn.Next()
	require.NoError(t, err)
	assert.Equal(t, "keep-alive", ev.Name)

	_, err = conn.Next()
	assert.ErrorIs(t, err, ErrConnectionClosed)

	reqs := tr.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodGet, reqs[0].Method)
	assert.Equal(t, "text/event-stream", reqs[0].Header.Get("Accept"))
}

func TestOpenerRetriesTransientStatus(t *testing.T) {
	tr := rtdbtest.NewTransport()
	tr.AddStatus(http.StatusServiceUnavailable, nil)
	tr.AddStatus(http.StatusTooManyRequests, nil)
	tr.AddEventStream([2]string{"put", `{"path":"/","data":null}`})

	conn, err := newTestOpener(tr, 3).Open(context.Background(), "https://demo.example-rtdb.com/a.json")
	require.NoError(t, err)
	defer conn.Abort()

	assert.Len(t, tr.Requests(), 3)
}

func TestOpenerRetriesNetworkError(t *testing.T) {
	tr := rtdbtest.NewTransport()
	tr.Add(nil, errors.New("connection refused"))
	tr.AddEventStream([2]string{"put", `{"path":"/","data":null}`})

	conn, err := newTestOpener(tr, 1).Open(context.Background(), "https://demo.example-rtdb.com/a.json")
	require.NoError(t, err)
	defer conn.Abort()

	assert.Len(t, tr.Requests(), 2)
}

func TestOpenerGivesUp(t *testing.T) {
	tr := rtdbtest.NewTransport()
	tr.AddStatus(http.StatusServiceUnavailable, nil)
	tr.AddStatus(http.StatusServiceUnavailable, nil)

	_, err := newTestOpener(tr, 1).Open(context.Background(), "https://demo.example-rtdb.com/a.json")

	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, "open", streamErr.Op)
	assert.Equal(t, http.StatusServiceUnavailable, streamErr.StatusCode)
	assert.Len(t, tr.Requests(), 2)
}

func TestOpenerStatusErrors(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrUnauthorized},
		{http.StatusNotFound, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			tr := rtdbtest.NewTransport()
			tr.AddStatus(tt.status, nil)

			_, err := newTestOpener(tr, 3).Open(context.Background(), "https://demo.example-rtdb.com/a.json?auth=secret")
			assert.ErrorIs(t, err, tt.want)
			assert.NotContains(t, err.Error(), "secret")
			assert.Len(t, tr.Requests(), 1)
		})
	}
}

func TestOpenerRejectsNonEventStream(t *testing.T) {
	tr := rtdbtest.NewTransport()
	tr.AddStatus(http.StatusOK, map[string]string{"Content-Type": "application/json"})

	_, err := newTestOpener(tr, 0).Open(context.Background(), "https://demo.example-rtdb.com/a.json")
	assert.ErrorIs(t, err, ErrNotEventStream)
}

func TestOpenerContextCancelled(t *testing.T) {
	tr := rtdbtest.NewTransport()
	tr.Add(nil, errors.New("connection refused"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestOpener(tr, 3).Open(ctx, "https://demo.example-rtdb.com/a.json")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConnAbort(t *testing.T) {
	tr := rtdbtest.NewTransport()
	tr.AddEventStream([2]string{"put", `{"path":"/","data":1}`})

	conn, err := newTestOpener(tr, 0).Open(context.Background(), "https://demo.example-rtdb.com/a.json")
	require.NoError(t, err)

	require.NoError(t, conn.Abort())
	require.NoError(t, conn.Abort())

	_, err = conn.Next()
	assert.ErrorIs(t, err, ErrStreamClosed)
}
