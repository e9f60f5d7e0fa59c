package groq

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
)

// StreamResult summarizes a parsed SSE stream.
type StreamResult struct {
	ChunkCount   int    // Number of chunks delivered to the callback
	SawDone      bool   // True if the [DONE] sentinel arrived before EOF
	FinishReason string // Last non-empty finish_reason seen
	Usage        *Usage // Usage from the final chunk, if the provider sent it
}

// ParseStream reads an SSE body and invokes the callback for every decoded
// chunk, in arrival order. Blank lines and comment lines are skipped; records
// after the [DONE] sentinel are never delivered. Undecodable records are
// logged and skipped so one bad record cannot kill an otherwise healthy
// stream. A stream that ends without the sentinel is still a normal end;
// SawDone lets the caller tell the two apart.
func ParseStream(body io.Reader, callback func(StreamChunk) error) (*StreamResult, error) {
	result := &StreamResult{}

	scanner := bufio.NewScanner(body)
	// Large deltas can exceed the default 64KB token limit
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}

		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		// Check for stream end
		if data == "[DONE]" {
			result.SawDone = true
			break
		}

		var chunk StreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			log.Printf("[Groq Stream] Skipping undecodable record: %v", err)
			continue
		}

		if fr := chunk.GetFinishReason(); fr != "" {
			result.FinishReason = fr
		}
		if usage := chunk.GetUsage(); usage != nil {
			result.Usage = usage
		}

		if err := callback(chunk); err != nil {
			return result, fmt.Errorf("callback error: %w", err)
		}
		result.ChunkCount++
	}

	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("stream reading error: %w", err)
	}

	return result, nil
}

// ToolCallAccumulator merges incremental tool-call fragments into complete
// calls. Fragments are grouped by index; the ID and function name arrive on
// the first fragment and argument text is concatenated across fragments.
// Whether the assembled arguments form valid JSON is the caller's problem.
type ToolCallAccumulator struct {
	calls map[int]*ToolCall
}

// NewToolCallAccumulator creates an empty accumulator
func NewToolCallAccumulator() *ToolCallAccumulator {
	return &ToolCallAccumulator{
		calls: make(map[int]*ToolCall),
	}
}

// Add merges one fragment into the accumulator
func (a *ToolCallAccumulator) Add(delta ToolCallDelta) {
	call, ok := a.calls[delta.Index]
	if !ok {
		call = &ToolCall{}
		a.calls[delta.Index] = call
	}

	if delta.ID != "" {
		call.ID = delta.ID
	}
	if delta.Type != "" {
		call.Type = delta.Type
	}
	if delta.Function.Name != "" {
		call.Function.Name = delta.Function.Name
	}
	call.Function.Arguments += delta.Function.Arguments
}

// AddAll merges every fragment of a chunk
func (a *ToolCallAccumulator) AddAll(deltas []ToolCallDelta) {
	for _, d := range deltas {
		a.Add(d)
	}
}

// HasCalls reports whether any fragments arrived
func (a *ToolCallAccumulator) HasCalls() bool {
	return len(a.calls) > 0
}

// Calls returns the assembled calls ordered by index
func (a *ToolCallAccumulator) Calls() []ToolCall {
	indexes := make([]int, 0, len(a.calls))
	for i := range a.calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	out := make([]ToolCall, 0, len(indexes))
	for _, i := range indexes {
		out = append(out, *a.calls[i])
	}
	return out
}
