// Package sse provides Server-Sent Events framing for realtime database streams.
//
// The database emits frames of the form:
//
//	event: put
//	data: {"path":"/","data":{"a":1}}
//
// terminated by a blank line. Event payloads are left undecoded; callers
// interpret them according to the event name.
package sse

import (
	"bufio"
	"io"
	"strings"
)

// Event is a single framed SSE event.
type Event struct {
	// Name is the value of the `event:` field. Empty names are reported as
	// "message", as browsers do.
	Name string

	// Data is the concatenation of all `data:` lines of the frame.
	Data string
}

// Parser parses SSE events from an io.Reader.
type Parser struct {
	reader  *bufio.Reader
	current struct {
		name      string
		dataLines []string
		hasData   bool
	}
}

// NewParser creates a new SSE parser from an io.Reader.
func NewParser(r io.Reader) *Parser {
	return &Parser{
		reader: bufio.NewReader(r),
	}
}

// Next returns the next SSE event.
// Returns io.EOF when the stream is exhausted.
func (p *Parser) Next() (Event, error) {
	for {
		line, err := p.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				line = strings.TrimSuffix(line, "\r")
				if line != "" {
					p.field(line)
				}
				if event, ok := p.flushEvent(); ok {
					return event, nil
				}
			}
			return Event{}, err
		}

		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")

		if line == "" {
			if event, ok := p.flushEvent(); ok {
				return event, nil
			}
			continue
		}
		p.field(line)
	}
}

// field records one non-empty line of the current frame.
func (p *Parser) field(line string) {
	switch {
	case strings.HasPrefix(line, ":"):
		// Comment.
	case strings.HasPrefix(line, "event:"):
		p.current.name = strings.TrimSpace(line[6:])
	case strings.HasPrefix(line, "data:"):
		// A single space after the colon is not part of the value
		content := line[5:]
		if strings.HasPrefix(content, " ") {
			content = content[1:]
		}
		p.current.dataLines = append(p.current.dataLines, content)
		p.current.hasData = true
	}
	// id: and retry: are not used by the database protocol.
}

// flushEvent returns the current event if one was framed, and resets state.
func (p *Parser) flushEvent() (Event, bool) {
	defer func() {
		p.current.name = ""
		p.current.dataLines = nil
		p.current.hasData = false
	}()

	if p.current.name == "" && !p.current.hasData {
		return Event{}, false
	}

	name := p.current.name
	if name == "" {
		name = "message"
	}
	return Event{
		Name: name,
		Data: strings.Join(p.current.dataLines, "\n"),
	}, true
}
