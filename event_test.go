package rtdb

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name    string
		raw     RawEvent
		want    Event
		ok      bool
		wantErr error
	}{
		{
			name: "put at root",
			raw:  RawEvent{Name: "put", Data: []byte(`{"path":"/","data":{"a":1}}`)},
			want: Event{Type: EventPut, Path: "/", Data: map[string]any{"a": 1.0}},
			ok:   true,
		},
		{
			name: "put null",
			raw:  RawEvent{Name: "put", Data: []byte(`{"path":"/a","data":null}`)},
			want: Event{Type: EventPut, Path: "/a"},
			ok:   true,
		},
		{
			name: "put without data",
			raw:  RawEvent{Name: "put", Data: []byte(`{"path":"/a"}`)},
			want: Event{Type: EventPut, Path: "/a"},
			ok:   true,
		},
		{
			name: "patch",
			raw:  RawEvent{Name: "patch", Data: []byte(`{"path":"/rooms","data":{"lobby/open":true}}`)},
			want: Event{Type: EventPatch, Path: "/rooms", Data: map[string]any{"lobby/open": true}},
			ok:   true,
		},
		{
			name: "keep-alive",
			raw:  RawEvent{Name: "keep-alive", Data: []byte("null")},
			want: Event{Type: EventKeepAlive},
			ok:   true,
		},
		{
			name: "unknown event skipped",
			raw:  RawEvent{Name: "message", Data: []byte("hello")},
		},
		{
			name:    "malformed envelope",
			raw:     RawEvent{Name: "put", Data: []byte(`{"path":`)},
			wantErr: ErrMalformedEvent,
		},
		{
			name:    "cancel",
			raw:     RawEvent{Name: "cancel", Data: []byte(`"Permission denied"`)},
			wantErr: ErrCancelled,
		},
		{
			name:    "auth revoked",
			raw:     RawEvent{Name: "auth_revoked", Data: []byte(`"credential is no longer valid"`)},
			wantErr: ErrAuthRevoked,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok, err := decodeEvent(tt.raw, DecodeJSON)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.False(t, ok)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, ev)
		})
	}
}

func TestDecodeEventDecoderError(t *testing.T) {
	boom := errors.New("boom")
	failing := func([]byte) (any, error) { return nil, boom }

	_, _, err := decodeEvent(RawEvent{Name: "put", Data: []byte(`{"path":"/","data":1}`)}, failing)
	assert.ErrorIs(t, err, ErrMalformedEvent)
	assert.ErrorContains(t, err, "boom")

	// Null payloads never reach the decoder.
	ev, ok, err := decodeEvent(RawEvent{Name: "put", Data: []byte(`{"path":"/","data":null}`)}, failing)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Nil(t, ev.Data)
}

func TestDecodeAs(t *testing.T) {
	type room struct {
		Name string `json:"name"`
		Open bool   `json:"open"`
	}
	decode := DecodeAs[room]()

	v, err := decode([]byte(`{"name":"Lobby","open":true}`))
	require.NoError(t, err)
	assert.Equal(t, room{Name: "Lobby", Open: true}, v)

	ev, ok, err := decodeEvent(RawEvent{Name: "patch", Data: []byte(`{"path":"/","data":{"open":false}}`)}, decode)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, room{}, ev.Data)

	_, err = decode([]byte(`"not a room"`))
	assert.Error(t, err)
}
