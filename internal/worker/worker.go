// Package worker runs a function on its own goroutine and routes every
// failure of that function to a supervising policy.
//
// The policy decides, per failure, whether the same function is invoked again
// or the worker exits. The worker itself never sleeps between attempts and
// never caps them; backoff and restart budgets belong to whoever supplies the
// function and the policy.
package worker

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"gopkg.in/tomb.v2"
)

// ErrAlreadyStarted is returned by Start when the worker was started before.
var ErrAlreadyStarted = errors.New("worker: already started")

// Func is the unit of work supervised by a Worker. A nil return ends the
// worker successfully.
type Func func() error

// Policy decides whether a failed Func is invoked again. It runs on the
// worker goroutine and must return promptly.
type Policy func(w *Worker, err error) bool

// Option configures a Worker.
type Option func(*Worker)

// WithPolicy installs the error policy. Without a policy the first error
// ends the worker and becomes its result.
func WithPolicy(p Policy) Option {
	return func(w *Worker) {
		w.policy = p
	}
}

// WithID sets an identifier used in logs and returned by ID.
func WithID(id string) Option {
	return func(w *Worker) {
		w.id = id
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// Worker supervises a single Func.
type Worker struct {
	id     string
	logger *zap.Logger
	tomb   tomb.Tomb

	// fn and policy are owned by the worker until Start moves them into the
	// running goroutine.
	mu      sync.Mutex
	fn      Func
	policy  Policy
	started bool

	attempts atomic.Int64
}

// New returns an idle worker for fn. Call Start to run it.
func New(fn Func, opts ...Option) *Worker {
	w := &Worker{
		fn:     fn,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ID returns the worker identifier.
func (w *Worker) ID() string {
	return w.id
}

// Attempts returns how many times the function has been invoked.
func (w *Worker) Attempts() int {
	return int(w.attempts.Load())
}

// Start runs the worker loop on a new goroutine and returns immediately.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return ErrAlreadyStarted
	}
	w.started = true

	fn, policy := w.fn, w.policy
	w.fn, w.policy = nil, nil

	w.tomb.Go(func() error {
		return w.loop(fn, policy)
	})
	return nil
}

// Kill asks the worker to stop. The current attempt is not interrupted, but
// no further attempt is made once it returns.
func (w *Worker) Kill() {
	w.tomb.Kill(nil)
}

// Wait blocks until the worker has finished and returns its terminal error.
// Wait on a worker that was never started returns immediately.
func (w *Worker) Wait() error {
	if !w.isStarted() {
		return nil
	}
	return w.tomb.Wait()
}

// Done returns a channel that is closed when the worker has finished.
func (w *Worker) Done() <-chan struct{} {
	if !w.isStarted() {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return w.tomb.Dead()
}

// Err returns the terminal error of a finished worker, or nil while it is
// still running.
func (w *Worker) Err() error {
	if !w.isStarted() {
		return nil
	}
	err := w.tomb.Err()
	if err == tomb.ErrStillAlive {
		return nil
	}
	return err
}

// Running reports whether the worker loop is active.
func (w *Worker) Running() bool {
	if !w.isStarted() {
		return false
	}
	select {
	case <-w.tomb.Dead():
		return false
	default:
		return true
	}
}

func (w *Worker) isStarted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

// loop owns fn and policy; both become unreachable when it returns.
func (w *Worker) loop(fn Func, policy Policy) error {
	if fn == nil {
		return nil
	}
	for {
		err := w.invoke(fn)
		if err == nil {
			return nil
		}

		var fatal *fatalError
		if errors.As(err, &fatal) {
			return fatal.err
		}
		if policy == nil {
			return err
		}
		select {
		case <-w.tomb.Dying():
			return err
		default:
		}

		retry, perr := w.consult(policy, err)
		if perr != nil {
			return perr
		}
		if !retry {
			select {
			case <-w.tomb.Dying():
				// Declined because of Kill.
				return nil
			default:
			}
			return err
		}
		w.logger.Debug("retrying worker function",
			zap.String("worker_id", w.id),
			zap.Int("attempts", w.Attempts()),
			zap.Error(err))
	}
}

func (w *Worker) invoke(fn Func) (err error) {
	w.attempts.Add(1)
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}

// consult runs the policy. A panicking policy ends the worker; it is never
// routed back into itself.
func (w *Worker) consult(policy Policy, err error) (retry bool, perr error) {
	defer func() {
		if r := recover(); r != nil {
			perr = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return policy(w, err), nil
}

// Fatal marks err so that the worker exits without consulting its policy.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }

func (e *fatalError) Unwrap() error { return e.err }

// PanicError carries a value recovered from a panicking function or policy.
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("worker: panic: %v", e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
