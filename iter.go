package rtdb

import (
	"context"
	"iter"
)

// Events returns an iterator over the events of a stream on the location.
// The stream is opened when iteration starts and closed when it stops.
//
//	for ev, err := range client.Ref("rooms").Events(ctx) {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(ev.Type, ev.Path, ev.Data)
//	}
//
// The loop body runs on the caller's goroutine; the stream waits for it
// before delivering the next event. Iteration ends after yielding the error
// that stopped the stream, or ctx.Err() once ctx is done. Stream options
// such as WithExceptionHandler and WithAutoRestart apply as usual.
func (r *Reference) Events(ctx context.Context, opts ...StreamOption) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		// One slot so the initial event does not wait for the loop.
		events := make(chan Event, 1)
		stop := make(chan struct{})

		s, err := r.Stream(ctx, func(ev Event) error {
			select {
			case events <- ev:
				return nil
			case <-stop:
				return ErrStreamClosed
			}
		}, opts...)
		if err != nil {
			yield(Event{}, err)
			return
		}
		defer func() {
			s.Kill()
			close(stop)
			<-s.Done()
		}()

		for {
			select {
			case ev := <-events:
				if !yield(ev, nil) {
					return
				}
			case <-s.Done():
				select {
				case ev := <-events:
					if !yield(ev, nil) {
						return
					}
					continue
				default:
				}
				if err := s.Err(); err != nil {
					yield(Event{}, err)
				}
				return
			case <-ctx.Done():
				yield(Event{}, ctx.Err())
				return
			}
		}
	}
}
