package sse

import (
	"bufio"
	"encoding/json"
	"fmt"
)

// Event represents an SSE event to be sent to clients
type Event struct {
	// Event is the SSE event type (e.g., "chunk", "error", "done")
	// If empty, no "event:" line will be written
	Event string

	// Data is the payload to send (will be JSON-encoded if not a string)
	Data interface{}

	// ID is an optional event ID for reconnection support
	ID string

	// Retry is an optional reconnection time in milliseconds
	Retry int
}

// Send writes an SSE event to the given writer and flushes immediately
func Send(w *bufio.Writer, event Event) error {
	// Write event ID if provided
	if event.ID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", event.ID); err != nil {
			return fmt.Errorf("failed to write event ID: %w", err)
		}
	}

	// Write retry time if provided
	if event.Retry > 0 {
		if _, err := fmt.Fprintf(w, "retry: %d\n", event.Retry); err != nil {
			return fmt.Errorf("failed to write retry: %w", err)
		}
	}

	// Write event type if provided
	if event.Event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event.Event); err != nil {
			return fmt.Errorf("failed to write event type: %w", err)
		}
	}

	// Write data
	var dataStr string
	switch v := event.Data.(type) {
	case string:
		dataStr = v
	case []byte:
		dataStr = string(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal event data: %w", err)
		}
		dataStr = string(data)
	}

	if _, err := fmt.Fprintf(w, "data: %s\n\n", dataStr); err != nil {
		return fmt.Errorf("failed to write event data: %w", err)
	}

	return w.Flush()
}

// SendStart sends the stream-opening event
func SendStart(w *bufio.Writer, data interface{}) error {
	return Send(w, Event{
		Event: "start",
		Data:  data,
	})
}

// SendChunk sends a content delta event
func SendChunk(w *bufio.Writer, data interface{}) error {
	return Send(w, Event{
		Event: "chunk",
		Data:  data,
	})
}

// SendWarning sends a warning event (e.g., a degraded tool call)
func SendWarning(w *bufio.Writer, data interface{}) error {
	return Send(w, Event{
		Event: "warning",
		Data:  data,
	})
}

// SendDone sends the terminal done event with the final result
func SendDone(w *bufio.Writer, data interface{}) error {
	return Send(w, Event{
		Event: "done",
		Data:  data,
	})
}

// SendError sends an error event
func SendError(w *bufio.Writer, err error) error {
	return Send(w, Event{
		Event: "error",
		Data: map[string]interface{}{
			"type":    "error",
			"message": err.Error(),
		},
	})
}
