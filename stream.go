package rtdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/durable-streams/rtdb-go/internal/worker"
)

// State is the lifecycle state of a Stream.
type State int32

const (
	// StateConnecting means a connection is being opened.
	StateConnecting State = iota

	// StateListening means events are being read and delivered.
	StateListening

	// StateReconnecting means a failed connection was discarded and the
	// stream is waiting out its restart delay.
	StateReconnecting

	// StateClosed is terminal.
	StateClosed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Stream delivers change events for one database location to a callback,
// from a goroutine of its own.
//
// A Stream holds at most one connection at a time. When reading fails the
// exception handler is consulted; if it asks for a retry and the
// auto-restart budget allows, the connection is discarded, the restart
// delay elapses and a fresh connection is opened before delivery resumes.
type Stream struct {
	id        string
	url       string
	client    *Client
	callback  Callback
	handler   ExceptionHandler
	decode    Decoder
	keepAlive bool
	delay     time.Duration
	clock     clock.Clock
	logger    *zap.Logger
	metrics   *Metrics

	// ctx is cancelled by Kill. Every connection is opened under it.
	ctx    context.Context
	cancel context.CancelFunc

	// mu guards the fields below; conn is read by the stream goroutine and
	// aborted by Kill.
	mu       sync.Mutex
	conn     Connection
	state    State
	budget   int
	restarts int
	lastErr  error

	closed    atomic.Bool
	killOnce  sync.Once
	killErr   error
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	worker    *worker.Worker
}

// Stream opens a stream on the location and returns once the first event
// has been delivered to callback, the stream has failed, or the initial
// timeout has passed. Connection failures are not returned; they reach the
// exception handler, or Err when there is none.
//
// ctx bounds only that initial wait. If it is cancelled first the stream is
// closed and ctx.Err() returned. Use Close to end the stream later.
//
// Example:
//
//	s, err := client.Ref("rooms", "lobby").Stream(ctx, func(ev rtdb.Event) error {
//	    fmt.Println(ev.Type, ev.Path, ev.Data)
//	    return nil
//	}, rtdb.WithExceptionHandler(func(s *rtdb.Stream, err error) bool {
//	    log.Printf("stream %s: %v", s.ID(), err)
//	    return true
//	}), rtdb.WithAutoRestart(-1))
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
func (r *Reference) Stream(ctx context.Context, callback Callback, opts ...StreamOption) (*Stream, error) {
	if callback == nil {
		return nil, ErrNilCallback
	}

	cfg := &streamConfig{
		restartDelay:   DefaultRestartDelay,
		initialTimeout: DefaultInitialTimeout,
		decoder:        DecodeJSON,
		clock:          clock.WallClock,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.streamID == "" {
		cfg.streamID = uuid.NewString()
	}

	url := r.URL()
	c := r.client
	s := &Stream{
		id:        cfg.streamID,
		url:       url,
		client:    c,
		callback:  callback,
		handler:   cfg.handler,
		decode:    cfg.decoder,
		keepAlive: cfg.keepAlive,
		delay:     cfg.restartDelay,
		clock:     cfg.clock,
		metrics:   c.metrics,
		budget:    cfg.autoRestart,
		state:     StateConnecting,
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
		logger: c.logger.With(
			zap.String("stream_id", cfg.streamID),
			zap.String("url", redactURL(url)),
		),
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	wopts := []worker.Option{worker.WithID(s.id), worker.WithLogger(s.logger)}
	if s.handler != nil {
		wopts = append(wopts, worker.WithPolicy(s.handleFailure))
	}
	s.worker = worker.New(s.run, wopts...)

	if err := c.track(s); err != nil {
		s.cancel()
		return nil, err
	}
	if err := s.worker.Start(); err != nil {
		s.cancel()
		c.untrack(s)
		return nil, err
	}
	s.metrics.opened()
	s.logger.Debug("stream started", zap.Int("auto_restart", s.budget))
	go s.finish()

	timer := time.NewTimer(cfg.initialTimeout)
	defer timer.Stop()

	select {
	case <-s.ready:
	case <-s.done:
	case <-timer.C:
		s.logger.Warn("no initial event within timeout", zap.Duration("timeout", cfg.initialTimeout))
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	}
	return s, nil
}

// ID returns the stream identifier.
func (s *Stream) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Restarts returns how many times the connection has been rebuilt.
func (s *Stream) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// Done returns a channel that is closed once the stream has stopped.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err returns the failure that ended the stream, or nil if it is still
// running or was closed. When reconnecting failed, it is the error of the
// last attempt.
func (s *Stream) Err() error {
	select {
	case <-s.done:
		return s.result(s.worker.Err())
	default:
		return nil
	}
}

// result maps the worker's terminal error to the stream's.
func (s *Stream) result(err error) error {
	var panicErr *worker.PanicError
	if err == nil || errors.As(err, &panicErr) {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastErr != nil {
		return s.lastErr
	}
	return err
}

// Kill stops the stream without waiting. It aborts the connection, so a
// blocked read returns at once. Kill is safe to call from callbacks and
// exception handlers.
func (s *Stream) Kill() {
	s.killOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
		s.worker.Kill()
		s.killErr = s.discard()
	})
}

// Close stops the stream and waits for its goroutine to exit. Calling it
// again has no further effect. Close must not be called from the stream's
// own callback or exception handler; use Kill there.
func (s *Stream) Close() error {
	s.Kill()
	<-s.done
	return s.killErr
}

// run is the supervised function: it uses the current connection, or opens
// one, and delivers events until reading fails.
func (s *Stream) run() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		var err error
		if conn, err = s.connect(); err != nil {
			return s.fail(err)
		}
	}

	for {
		raw, err := conn.Next()
		if err != nil {
			return s.fail(err)
		}
		if _, err := s.dispatch(raw); err != nil {
			return s.fail(err)
		}
	}
}

// connect opens a new connection and delivers its first event.
func (s *Stream) connect() (Connection, error) {
	s.setState(StateConnecting)

	conn, err := s.client.opener.Open(s.ctx, s.url)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		conn.Abort()
		return nil, ErrStreamClosed
	}
	s.conn = conn
	s.mu.Unlock()

	for {
		raw, err := conn.Next()
		if err != nil {
			return nil, err
		}
		delivered, err := s.dispatch(raw)
		if err != nil {
			return nil, err
		}
		if delivered {
			break
		}
	}

	s.setState(StateListening)
	s.readyOnce.Do(func() { close(s.ready) })
	return conn, nil
}

// dispatch decodes raw and hands it to the callback. It reports whether the
// callback was invoked.
func (s *Stream) dispatch(raw RawEvent) (bool, error) {
	ev, ok, err := decodeEvent(raw, s.decode)
	if err != nil {
		return false, newStreamError("decode", redactURL(s.url), 0, err)
	}
	if !ok || (ev.Type == EventKeepAlive && !s.keepAlive) {
		return false, nil
	}
	ev.StreamID = s.id
	s.metrics.event(ev.Type)
	return true, s.invoke(ev)
}

func (s *Stream) invoke(ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrCallbackPanic, r)
		}
	}()
	return s.callback(ev)
}

// fail filters failures caused by Kill, which end the stream cleanly.
func (s *Stream) fail(err error) error {
	if s.closed.Load() {
		return nil
	}
	s.metrics.failure()
	return err
}

// handleFailure is the worker policy. It runs on the stream goroutine after run
// failed and returns true only once a fresh connection has delivered its
// first event.
func (s *Stream) handleFailure(_ *worker.Worker, err error) bool {
	for {
		s.discard()
		if s.closed.Load() {
			return false
		}

		if !s.handler(s, err) {
			s.logger.Info("exception handler stopped stream", zap.Error(err))
			return false
		}
		attempt, ok := s.takeRestart()
		if !ok {
			s.logger.Warn("stream failed with no restarts left", zap.Error(err))
			return false
		}

		s.setState(StateReconnecting)
		s.logger.Warn("restarting stream",
			zap.Int("restart", attempt),
			zap.Duration("delay", s.delay),
			zap.Error(err))
		if !s.sleep() {
			return false
		}
		s.metrics.restart()

		if _, err = s.connect(); err == nil {
			s.mu.Lock()
			s.lastErr = nil
			s.mu.Unlock()
			return true
		}
		if err = s.fail(err); err == nil {
			return false
		}
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
	}
}

// takeRestart consumes one unit of the restart budget.
func (s *Stream) takeRestart() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.budget == 0 {
		return s.restarts, false
	}
	if s.budget > 0 {
		s.budget--
	}
	s.restarts++
	return s.restarts, true
}

// sleep waits out the restart delay. It returns false if the stream was
// killed meanwhile.
func (s *Stream) sleep() bool {
	if s.delay > 0 {
		select {
		case <-s.clock.After(s.delay):
		case <-s.ctx.Done():
			return false
		}
	}
	return !s.closed.Load()
}

// discard aborts and forgets the current connection.
func (s *Stream) discard() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Abort()
}

func (s *Stream) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == state || s.state == StateClosed {
		return
	}
	s.logger.Debug("stream state changed",
		zap.Stringer("from", s.state),
		zap.Stringer("to", state))
	s.state = state
}

// finish runs once the worker has exited.
func (s *Stream) finish() {
	defer close(s.done)

	err := s.result(s.worker.Wait())
	s.discard()
	s.cancel()
	s.setState(StateClosed)
	s.client.untrack(s)
	s.metrics.closed()

	switch {
	case err == nil:
		s.logger.Debug("stream closed")
	case s.handler == nil:
		s.logger.Error("stream failed without exception handler", zap.Error(err))
	default:
		s.logger.Info("stream stopped", zap.Error(err))
	}
}
