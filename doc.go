// Package rtdb provides a Go client for streaming changes from a realtime
// JSON database over Server-Sent Events.
//
// A location in the database is addressed by a Reference. Streaming a
// reference opens a long-lived connection on which the server first sends
// the current value at the location and then every change below it.
//
// # Basic Usage
//
// Create a client and stream a location:
//
//	client := rtdb.NewClient("https://my-project.example-rtdb.com", rtdb.WithAuth(token))
//	defer client.Close()
//
//	s, err := client.Ref("rooms", "lobby").Stream(ctx, func(ev rtdb.Event) error {
//	    fmt.Println(ev.Type, ev.Path, ev.Data)
//	    return nil
//	})
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
// The callback runs on the stream's own goroutine, one event at a time, in
// the order the server sent them. A "put" event replaces the value at Path;
// a "patch" event merges the children in Data into it. Use the snapshot
// package to keep a local copy of the whole value.
//
// Streams can also be consumed with range:
//
//	for ev, err := range client.Ref("rooms").Events(ctx) {
//	    if err != nil {
//	        return err
//	    }
//	    // ...
//	}
//
// # Failures and Restarts
//
// Connection failures, undecodable events and callback errors all end the
// current connection. Without an exception handler the stream then stops
// and the failure is available from Err. With one, the handler decides
// whether the connection is rebuilt; the auto-restart budget caps how many
// times that happens:
//
//	s, err := ref.Stream(ctx, callback,
//	    rtdb.WithExceptionHandler(func(s *rtdb.Stream, err error) bool {
//	        return !errors.Is(err, rtdb.ErrUnauthorized)
//	    }),
//	    rtdb.WithAutoRestart(-1),
//	    rtdb.WithRestartDelay(2*time.Second),
//	)
//
// A rebuilt connection starts again with a put of the full current value.
//
// # Error Handling
//
// The package provides sentinel errors for common conditions:
//
//	if errors.Is(err, rtdb.ErrCancelled) {
//	    // The server revoked read access to the location
//	}
//
// For detailed error information, use errors.As with StreamError:
//
//	var se *rtdb.StreamError
//	if errors.As(err, &se) {
//	    fmt.Println("Op:", se.Op, "Status:", se.StatusCode)
//	}
package rtdb
