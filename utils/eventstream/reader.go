package eventstream

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Event is one decoded server-sent event
type Event struct {
	Type string // value of the "event:" field, empty when the server sent none
	Data string // concatenated "data:" lines
	ID   string // value of the "id:" field, if any
}

// Callbacks receive decoded events as they arrive. All fields are optional.
type Callbacks struct {
	OnChunk   func(data string) error // "chunk" events: incremental text
	OnWarning func(data string) error // "warning" events: the turn degraded
	OnDone    func(data string) error // the terminal "done" event
	OnError   func(data string)       // the terminal "error" event
	OnEvent   func(event Event) error // every event, including unknown types
}

// StreamError is the error returned when the server terminates the stream
// with an error event. It is surfaced, never swallowed.
type StreamError struct {
	Data string
}

func (e *StreamError) Error() string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(e.Data), &payload); err == nil && payload.Message != "" {
		return fmt.Sprintf("stream error: %s", payload.Message)
	}
	return fmt.Sprintf("stream error: %s", e.Data)
}

// Reader decodes a server-sent event stream. It tolerates records split
// across reads: bufio does the buffering, and an event is only dispatched
// once its terminating blank line arrives.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader wraps an SSE body
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Reader{scanner: scanner}
}

// Read consumes the stream until the terminal event or EOF, dispatching
// through the callbacks. A "done" event ends the stream normally; an "error"
// event ends it with a *StreamError.
func (r *Reader) Read(callbacks Callbacks) error {
	var event Event
	var dataLines []string

	dispatch := func() error {
		if len(dataLines) == 0 && event.Type == "" {
			return nil
		}
		event.Data = strings.Join(dataLines, "\n")
		err := r.dispatch(event, callbacks)
		event = Event{}
		dataLines = nil
		return err
	}

	for r.scanner.Scan() {
		line := r.scanner.Text()

		// Blank line terminates the pending event
		if line == "" {
			if err := dispatch(); err != nil {
				if errors.Is(err, errStreamDone) {
					return nil
				}
				return err
			}
			continue
		}

		// Comment lines (keep-alives) are skipped
		if strings.HasPrefix(line, ":") {
			continue
		}

		switch {
		case strings.HasPrefix(line, "event: "):
			event.Type = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "event:"):
			event.Type = strings.TrimPrefix(line, "event:")
		case strings.HasPrefix(line, "data: "):
			dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(line, "data:"))
		case strings.HasPrefix(line, "id: "):
			event.ID = strings.TrimPrefix(line, "id: ")
		}
	}

	if err := r.scanner.Err(); err != nil {
		return fmt.Errorf("stream reading error: %w", err)
	}

	// Flush a final event the server did not terminate with a blank line
	if err := dispatch(); err != nil && !errors.Is(err, errStreamDone) {
		return err
	}
	return nil
}

// errStreamDone signals normal termination out of the dispatch loop
var errStreamDone = errors.New("stream done")

func (r *Reader) dispatch(event Event, callbacks Callbacks) error {
	if callbacks.OnEvent != nil {
		if err := callbacks.OnEvent(event); err != nil {
			return err
		}
	}

	switch event.Type {
	case "chunk":
		if callbacks.OnChunk != nil {
			return callbacks.OnChunk(event.Data)
		}
	case "warning":
		if callbacks.OnWarning != nil {
			return callbacks.OnWarning(event.Data)
		}
	case "done":
		if callbacks.OnDone != nil {
			if err := callbacks.OnDone(event.Data); err != nil {
				return err
			}
		}
		return errStreamDone
	case "error":
		if callbacks.OnError != nil {
			callbacks.OnError(event.Data)
		}
		return &StreamError{Data: event.Data}
	}
	return nil
}

