package llm

import (
	"bytes"
	"strings"
)

// StreamState is the mutable part of a decoder: bytes not yet consumed plus
// the flags that survive between chunks.
type StreamState struct {
	buf      []byte
	terminal bool

	// SkipNext is set by a keep-alive label; the next data line is discarded.
	SkipNext bool
	// Done is set once the end-of-stream sentinel or an upstream error has been seen.
	Done bool

	err error
}

// Lines appends chunk and returns every complete line, without the trailing
// newline or carriage return. The incomplete tail stays buffered.
func (s *StreamState) Lines(chunk []byte) []string {
	s.buf = append(s.buf, chunk...)

	var lines []string
	for {
		i := bytes.IndexByte(s.buf, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, strings.TrimRight(string(s.buf[:i]), "\r"))
		s.buf = s.buf[i+1:]
	}
	if len(s.buf) == 0 {
		s.buf = nil
	}
	return lines
}

// Rest drains and returns the buffered remainder, trimmed of surrounding whitespace.
func (s *StreamState) Rest() string {
	rest := strings.TrimSpace(string(s.buf))
	s.buf = nil
	return rest
}

// Track records the terminal state of the last delta in ds and returns ds.
func (s *StreamState) Track(ds []Delta) []Delta {
	if len(ds) > 0 {
		s.terminal = ds[len(ds)-1].Terminal()
	}
	return ds
}

func (s *StreamState) Terminal() bool {
	return s.terminal
}

// Fail records an error the upstream reported inside the stream and ends
// it. Only the first error is kept.
func (s *StreamState) Fail(err error) {
	if s.err == nil {
		s.err = err
	}
	s.Done = true
}

func (s *StreamState) Err() error {
	return s.err
}

// DataPayload returns the payload of an SSE data line.
func DataPayload(line string) (string, bool) {
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, "data:")), true
}
