package rtdb

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EventType names the kind of change carried by an Event.
type EventType string

const (
	// EventPut replaces the value at Path with Data. The first event of every
	// connection is a put of the full current value at "/".
	EventPut EventType = "put"

	// EventPatch merges the children in Data into the value at Path.
	EventPatch EventType = "patch"

	// EventKeepAlive is sent periodically by the server and carries no data.
	EventKeepAlive EventType = "keep-alive"
)

// Server control events that end a connection.
const (
	eventCancel      = "cancel"
	eventAuthRevoked = "auth_revoked"
)

// Event is one decoded change notification delivered to a Callback.
type Event struct {
	// Type is the kind of change.
	Type EventType

	// Path is the location of the change relative to the streamed resource.
	Path string

	// Data is the decoded payload, nil when the location was deleted or the
	// event carries no data.
	Data any

	// StreamID identifies the stream that delivered the event.
	StreamID string
}

// Callback receives events in the order the server sends them. A returned
// error is handled like a connection failure.
type Callback func(Event) error

// Decoder turns the raw JSON payload of a put or patch into the value passed
// as Event.Data.
type Decoder func(data []byte) (any, error)

// DecodeJSON is the default Decoder.
func DecodeJSON(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// DecodeAs returns a Decoder that unmarshals payloads into a T, for
// streams whose values share one shape. Patch payloads hold only the changed
// children, so T must tolerate missing fields.
//
//	type Room struct {
//	    Name string `json:"name"`
//	    Open bool   `json:"open"`
//	}
//
//	s, err := ref.Stream(ctx, func(ev rtdb.Event) error {
//	    room := ev.Data.(Room)
//	    ...
//	}, rtdb.WithDecoder(rtdb.DecodeAs[Room]()))
func DecodeAs[T any]() Decoder {
	return func(data []byte) (any, error) {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// RawEvent is an undecoded server-push event.
type RawEvent struct {
	Name string
	Data []byte
}

type eventEnvelope struct {
	Path string          `json:"path"`
	Data json.RawMessage `json:"data"`
}

var jsonNull = []byte("null")

// decodeEvent converts a raw frame. The returned bool is false for events
// that are not delivered to callbacks.
func decodeEvent(raw RawEvent, decode Decoder) (Event, bool, error) {
	switch raw.Name {
	case string(EventPut), string(EventPatch):
		var env eventEnvelope
		if err := json.Unmarshal(raw.Data, &env); err != nil {
			return Event{}, false, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, raw.Name, err)
		}
		ev := Event{Type: EventType(raw.Name), Path: env.Path}
		if len(env.Data) > 0 && !bytes.Equal(env.Data, jsonNull) {
			data, err := decode(env.Data)
			if err != nil {
				return Event{}, false, fmt.Errorf("%w: %s %s: %v", ErrMalformedEvent, raw.Name, env.Path, err)
			}
			ev.Data = data
		}
		return ev, true, nil
	case string(EventKeepAlive):
		return Event{Type: EventKeepAlive}, true, nil
	case eventCancel:
		return Event{}, false, fmt.Errorf("%w: %s", ErrCancelled, bytes.TrimSpace(raw.Data))
	case eventAuthRevoked:
		return Event{}, false, fmt.Errorf("%w: %s", ErrAuthRevoked, bytes.TrimSpace(raw.Data))
	default:
		// Unknown event type, skip
		return Event{}, false, nil
	}
}
