package rtdb

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/durable-streams/rtdb-go/rtdbtest"
)

func TestMetrics(t *testing.T) {
	db := rtdbtest.NewServer()
	defer db.Close()

	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	rec := newRecorder()
	s, err := newTestClient(t, db, WithMetrics(m)).Ref("a").Stream(context.Background(), rec.callback,
		WithExceptionHandler(func(*Stream, error) bool { return true }),
		WithAutoRestart(1), WithRestartDelay(0))
	require.NoError(t, err)
	rec.next(t)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.open))

	require.NoError(t, db.Update("/a", map[string]any{"b": 1}))
	rec.next(t)

	db.DropConnections()
	rec.next(t)

	require.NoError(t, s.Close())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("put")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("patch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.restarts))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.open))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestMetricsRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)

	_, err = NewMetrics(reg)
	assert.Error(t, err)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.event(EventPut)
		m.failure()
		m.restart()
		m.opened()
		m.closed()
	})

	m, err := NewMetrics(nil)
	require.NoError(t, err)
	m.opened()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.open))
}
