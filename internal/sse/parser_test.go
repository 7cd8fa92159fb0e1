package sse

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, input string) []Event {
	t.Helper()
	p := NewParser(strings.NewReader(input))
	var events []Event
	for {
		ev, err := p.Next()
		if errors.Is(err, io.EOF) {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func TestParserFrames(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Event
	}{
		{
			name:  "put event",
			input: "event: put\ndata: {\"path\":\"/\",\"data\":null}\n\n",
			want:  []Event{{Name: "put", Data: `{"path":"/","data":null}`}},
		},
		{
			name:  "crlf line endings",
			input: "event: patch\r\ndata: {}\r\n\r\n",
			want:  []Event{{Name: "patch", Data: "{}"}},
		},
		{
			name:  "multi-line data",
			input: "event: put\ndata: a\ndata: b\n\n",
			want:  []Event{{Name: "put", Data: "a\nb"}},
		},
		{
			name:  "comments and ids ignored",
			input: ": hello\nid: 7\nretry: 10\nevent: keep-alive\ndata: null\n\n",
			want:  []Event{{Name: "keep-alive", Data: "null"}},
		},
		{
			name:  "unnamed event",
			input: "data: x\n\n",
			want:  []Event{{Name: "message", Data: "x"}},
		},
		{
			name:  "trailing event without blank line",
			input: "event: put\ndata: 1\n\nevent: put\ndata: 2",
			want:  []Event{{Name: "put", Data: "1"}, {Name: "put", Data: "2"}},
		},
		{
			name:  "blank lines only",
			input: "\n\n\n",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, readAll(t, tt.input))
		})
	}
}

func TestParserPropagatesReadErrors(t *testing.T) {
	boom := errors.New("connection reset")
	r := io.MultiReader(strings.NewReader("event: put\n"), &failingReader{err: boom})
	p := NewParser(r)

	_, err := p.Next()
	assert.ErrorIs(t, err, boom)
}

type failingReader struct {
	err error
}

func (f *failingReader) Read([]byte) (int, error) {
	return 0, f.err
}
