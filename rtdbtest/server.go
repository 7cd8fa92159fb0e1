package rtdbtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// Server is an in-memory realtime database.
type Server struct {
	server *httptest.Server

	mu       sync.Mutex
	root     any
	subs     map[*subscriber]struct{}
	auth     string
	reject   int
	connects int
	pushSeq  int
	closed   bool
}

// subscriber is one live event stream.
type subscriber struct {
	path   []string
	frames chan frame
	drop   chan struct{}
}

type frame struct {
	event string
	data  []byte
}

// subscriberBuffer bounds the frames queued for a slow stream; a stream
// that falls further behind is disconnected.
const subscriberBuffer = 1024

// NewServer starts a new in-memory database server.
func NewServer() *Server {
	s := &Server{
		subs: make(map[*subscriber]struct{}),
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.handleRequest))
	return s
}

// URL returns the database URL.
func (s *Server) URL() string {
	return s.server.URL
}

// HTTPClient returns an HTTP client configured to use the server.
func (s *Server) HTTPClient() *http.Client {
	return s.server.Client()
}

// Close ends all streams and shuts the server down.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.DropConnections()
	s.server.Close()
}

// RequireAuth makes every request without the matching auth parameter fail
// with 401.
func (s *Server) RequireAuth(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auth = token
}

// RejectConnections answers new stream requests with status until it is
// called again with 0.
func (s *Server) RejectConnections(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = status
}

// Connects returns how many stream requests have been received, including
// rejected and unauthorized ones.
func (s *Server) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

// Streams returns the number of live event streams.
func (s *Server) Streams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// DropConnections ends every live event stream, as a network failure or
// server restart would.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sub := range s.subs {
		close(sub.drop)
		delete(s.subs, sub)
	}
}

// Send delivers a raw event to every live stream, for example "cancel",
// "auth_revoked" or "keep-alive".
func (s *Server) Send(event string, data string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sub := range s.subs {
		s.enqueue(sub, frame{event: event, data: []byte(data)})
	}
}

// Get returns a copy of the value at path, nil if there is none.
func (s *Server) Get(path string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(lookup(s.root, splitPath(path)))
}

// Set replaces the value at path; nil deletes it.
func (s *Server) Set(path string, v any) error {
	value, err := normalize(v)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(splitPath(path), value)
	return nil
}

// Update sets each child of path named in children. Keys may be nested
// paths such as "a/b".
func (s *Server) Update(path string, children map[string]any) error {
	value, err := normalize(children)
	if err != nil {
		return err
	}
	m, _ := value.(map[string]any)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.patch(splitPath(path), m)
	return nil
}

// Push stores v under a new, chronologically ordered child key of path and
// returns the key.
func (s *Server) Push(path string, v any) (string, error) {
	value, err := normalize(v)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pushSeq++
	key := fmt.Sprintf("-K%018d", s.pushSeq)
	s.put(append(splitPath(path), key), value)
	return key, nil
}

// put writes value and notifies streams. Must be called with mu held.
func (s *Server) put(path []string, value any) {
	s.root = store(s.root, path, value)
	for sub := range s.subs {
		s.notify(sub, path, "put", value)
	}
}

// patch merges children below path and notifies streams. Must be called
// with mu held.
func (s *Server) patch(path []string, children map[string]any) {
	for k, v := range children {
		s.root = store(s.root, append(append([]string{}, path...), splitPath(k)...), v)
	}
	for sub := range s.subs {
		if hasPrefix(path, sub.path) {
			s.notify(sub, path, "patch", children)
			continue
		}
		// The patch is rooted above the watched location: only children
		// that reach into it produce events.
		for k, v := range children {
			full := append(append([]string{}, path...), splitPath(k)...)
			if hasPrefix(sub.path, full) {
				s.notify(sub, full, "put", v)
				break
			}
			if hasPrefix(full, sub.path) {
				s.notify(sub, full, "put", v)
			}
		}
	}
}

// notify translates a write at path into the event seen by sub.
func (s *Server) notify(sub *subscriber, path []string, event string, data any) {
	switch {
	case hasPrefix(path, sub.path):
		rel := "/" + strings.Join(path[len(sub.path):], "/")
		s.enqueue(sub, eventFrame(event, rel, data))
	case hasPrefix(sub.path, path):
		// The write replaced an ancestor of the watched location.
		s.enqueue(sub, eventFrame("put", "/", lookup(s.root, sub.path)))
	}
}

func (s *Server) enqueue(sub *subscriber, f frame) {
	select {
	case sub.frames <- f:
	default:
		close(sub.drop)
		delete(s.subs, sub)
	}
}

func eventFrame(event, path string, data any) frame {
	payload, _ := json.Marshal(map[string]any{"path": path, "data": data})
	return frame{event: event, data: payload}
}

// handleRequest routes HTTP requests to the appropriate handler.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, ".json") {
		http.Error(w, `{"error":"404 Not Found"}`, http.StatusNotFound)
		return
	}
	path := splitPath(strings.TrimSuffix(r.URL.Path, ".json"))

	stream := r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/event-stream")

	s.mu.Lock()
	auth := s.auth
	if stream {
		s.connects++
	}
	s.mu.Unlock()
	if auth != "" && r.URL.Query().Get("auth") != auth {
		http.Error(w, `{"error":"Permission denied"}`, http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
		if stream {
			s.handleStream(w, r, path)
			return
		}
		s.mu.Lock()
		v := clone(lookup(s.root, path))
		s.mu.Unlock()
		s.writeJSON(w, v)
	case http.MethodPut:
		s.handleWrite(w, r, func(v any) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.put(path, v)
			return nil
		})
	case http.MethodPatch:
		s.handleWrite(w, r, func(v any) error {
			m, ok := v.(map[string]any)
			if !ok {
				return fmt.Errorf("patch body must be an object")
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			s.patch(path, m)
			return nil
		})
	case http.MethodPost:
		var key string
		s.handleWrite(w, r, func(v any) error {
			var err error
			key, err = s.Push("/"+strings.Join(path, "/"), v)
			return err
		})
		if key != "" {
			s.writeJSON(w, map[string]string{"name": key})
		}
	case http.MethodDelete:
		s.mu.Lock()
		s.put(path, nil)
		s.mu.Unlock()
		s.writeJSON(w, nil)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleWrite decodes a JSON body and applies it. PUT and PATCH echo the
// written value; POST writes its own response.
func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request, apply func(any) error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		http.Error(w, `{"error":"Invalid data; couldn't parse JSON object."}`, http.StatusBadRequest)
		return
	}
	if err := apply(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if r.Method != http.MethodPost {
		s.writeJSON(w, v)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// handleStream serves an event stream: the current value first, then every
// change, until the client leaves or the stream is dropped.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, path []string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	if s.reject != 0 || s.closed {
		status := s.reject
		if status == 0 {
			status = http.StatusServiceUnavailable
		}
		s.mu.Unlock()
		http.Error(w, http.StatusText(status), status)
		return
	}
	sub := &subscriber{
		path:   path,
		frames: make(chan frame, subscriberBuffer),
		drop:   make(chan struct{}),
	}
	s.subs[sub] = struct{}{}
	s.enqueue(sub, eventFrame("put", "/", lookup(s.root, path)))
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		// Frames already queued are written before a drop is observed.
		select {
		case f := <-sub.frames:
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.event, f.data)
			flusher.Flush()
			continue
		default:
		}

		select {
		case f := <-sub.frames:
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.event, f.data)
			flusher.Flush()
		case <-sub.drop:
			return
		case <-r.Context().Done():
			return
		}
	}
}
