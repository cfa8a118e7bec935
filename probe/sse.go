package probe

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
)

// maxEventSize bounds a single SSE line; tool listings can be large.
const maxEventSize = 4 * 1024 * 1024

var errStreamEnded = errors.New("event stream ended")

// sseEvent is one dispatched Server-Sent Event.
type sseEvent struct {
	ID    string
	Event string
	Data  []byte
}

// sseReader yields events from a text/event-stream body. Multiple data lines
// of one event are joined with "\n"; comment lines are ignored.
type sseReader struct {
	scanner *bufio.Scanner
}

func newSSEReader(r io.Reader) *sseReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)
	return &sseReader{scanner: scanner}
}

// Next returns the next event carrying data. It returns errStreamEnded once
// the stream is exhausted; a final event without a trailing blank line is
// still dispatched.
func (r *sseReader) Next() (*sseEvent, error) {
	var (
		ev      sseEvent
		data    [][]byte
		hasData bool
	)
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" {
			if hasData {
				ev.Data = bytes.Join(data, []byte("\n"))
				return &ev, nil
			}
			ev = sseEvent{}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			data = append(data, []byte(value))
			hasData = true
		case "id":
			ev.ID = value
		case "event":
			ev.Event = value
		}
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	if hasData {
		ev.Data = bytes.Join(data, []byte("\n"))
		return &ev, nil
	}
	return nil, errStreamEnded
}
