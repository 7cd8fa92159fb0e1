// Package rtdbtest provides testing utilities for realtime database clients.
//
// # Server
//
// Server is an in-memory realtime database served over HTTP. It answers
// REST reads and writes on paths ending in ".json" and streams changes as
// Server-Sent Events, the same way a real database does. Writes made
// through the Go API notify streams immediately:
//
//	func TestWatch(t *testing.T) {
//	    db := rtdbtest.NewServer()
//	    defer db.Close()
//
//	    client := rtdb.NewClient(db.URL())
//	    s, err := client.Ref("rooms").Stream(ctx, func(ev rtdb.Event) error {
//	        // ...
//	        return nil
//	    })
//	    if err != nil {
//	        t.Fatal(err)
//	    }
//	    defer s.Close()
//
//	    db.Set("/rooms/lobby", "open")
//	}
//
// Fault injection helpers drop live streams (DropConnections), refuse new
// ones (RejectConnections) or send control events (Send).
//
// # Transport
//
// Transport is an http.RoundTripper that returns queued responses, for
// testing request retries without a server.
package rtdbtest
