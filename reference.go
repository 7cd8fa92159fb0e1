package rtdb

import (
	"net/url"
	"strings"
)

// Reference points at a location in the database.
// It is a lightweight, immutable value - not a connection.
type Reference struct {
	client   *Client
	segments []string
}

// Child returns a reference to a location below r.
func (r *Reference) Child(path ...string) *Reference {
	segments := make([]string, 0, len(r.segments)+len(path))
	segments = append(segments, r.segments...)
	segments = append(segments, splitPath(path)...)
	return &Reference{client: r.client, segments: segments}
}

// Path returns the slash-separated location, "/" for the root.
func (r *Reference) Path() string {
	return "/" + strings.Join(r.segments, "/")
}

// Key returns the last path segment, or "" for the root.
func (r *Reference) Key() string {
	if len(r.segments) == 0 {
		return ""
	}
	return r.segments[len(r.segments)-1]
}

// URL returns the REST URL of the location, including the auth parameter
// when the client has one.
func (r *Reference) URL() string {
	escaped := make([]string, len(r.segments))
	for i, s := range r.segments {
		escaped[i] = url.PathEscape(s)
	}

	u := r.client.baseURL + "/" + strings.Join(escaped, "/") + ".json"
	if r.client.auth != "" {
		u += "?" + url.Values{"auth": {r.client.auth}}.Encode()
	}
	return u
}

func splitPath(path []string) []string {
	var segments []string
	for _, p := range path {
		for _, s := range strings.Split(p, "/") {
			if s != "" {
				segments = append(segments, s)
			}
		}
	}
	return segments
}

// redactURL hides credentials so URLs can be logged and put in errors.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("auth") {
		q.Set("auth", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.Redacted()
}
