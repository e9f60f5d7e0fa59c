package eventstream

import (
	"strings"
	"testing"
)

func TestReadDispatchesEventsInOrder(t *testing.T) {
	body := strings.Join([]string{
		"event: start",
		`data: {"session_id":1}`,
		"",
		"event: chunk",
		`data: {"content":"Hello"}`,
		"",
		"event: chunk",
		`data: {"content":" world"}`,
		"",
		"event: done",
		`data: {"session_id":1}`,
		"",
	}, "\n")

	var chunks []string
	var types []string
	doneData := ""

	err := NewReader(strings.NewReader(body)).Read(Callbacks{
		OnChunk: func(data string) error {
			chunks = append(chunks, data)
			return nil
		},
		OnDone: func(data string) error {
			doneData = data
			return nil
		},
		OnEvent: func(event Event) error {
			types = append(types, event.Type)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}

	if len(chunks) != 2 || chunks[0] != `{"content":"Hello"}` || chunks[1] != `{"content":" world"}` {
		t.Errorf("chunks = %v", chunks)
	}
	if doneData != `{"session_id":1}` {
		t.Errorf("done data = %q", doneData)
	}
	want := []string{"start", "chunk", "chunk", "done"}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Errorf("event order = %v, want %v", types, want)
	}
}

func TestReadStopsAfterDone(t *testing.T) {
	body := strings.Join([]string{
		"event: done",
		"data: {}",
		"",
		"event: chunk",
		`data: {"content":"late"}`,
		"",
	}, "\n")

	var chunks []string
	err := NewReader(strings.NewReader(body)).Read(Callbacks{
		OnChunk: func(data string) error {
			chunks = append(chunks, data)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("chunks after done = %v, want none", chunks)
	}
}

func TestReadSurfacesErrorEvent(t *testing.T) {
	body := strings.Join([]string{
		"event: error",
		`data: {"message":"provider unavailable"}`,
		"",
	}, "\n")

	errorData := ""
	err := NewReader(strings.NewReader(body)).Read(Callbacks{
		OnError: func(data string) {
			errorData = data
		},
	})
	if err == nil {
		t.Fatal("Read returned nil for an error event")
	}

	streamErr, ok := err.(*StreamError)
	if !ok {
		t.Fatalf("err is %T, want *StreamError", err)
	}
	if !strings.Contains(streamErr.Error(), "provider unavailable") {
		t.Errorf("Error() = %q", streamErr.Error())
	}
	if errorData == "" {
		t.Error("OnError callback was not invoked")
	}
}

func TestReadSkipsComments(t *testing.T) {
	body := strings.Join([]string{
		": keep-alive",
		"",
		"event: chunk",
		`data: {"content":"x"}`,
		"",
		": keep-alive",
		"",
		"event: done",
		"data: {}",
		"",
	}, "\n")

	count := 0
	err := NewReader(strings.NewReader(body)).Read(Callbacks{
		OnChunk: func(data string) error {
			count++
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if count != 1 {
		t.Errorf("chunk callback ran %d times, want 1", count)
	}
}

func TestReadMultilineData(t *testing.T) {
	body := strings.Join([]string{
		"event: chunk",
		"data: line one",
		"data: line two",
		"",
	}, "\n")

	got := ""
	err := NewReader(strings.NewReader(body)).Read(Callbacks{
		OnChunk: func(data string) error {
			got = data
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if got != "line one\nline two" {
		t.Errorf("data = %q, want joined lines", got)
	}
}

func TestReadFlushesUnterminatedFinalEvent(t *testing.T) {
	// No trailing blank line before EOF
	body := "event: chunk\ndata: {\"content\":\"tail\"}"

	got := ""
	err := NewReader(strings.NewReader(body)).Read(Callbacks{
		OnChunk: func(data string) error {
			got = data
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if got != `{"content":"tail"}` {
		t.Errorf("data = %q", got)
	}
}

func TestReadWarningEvent(t *testing.T) {
	body := strings.Join([]string{
		"event: warning",
		`data: {"message":"search failed, continuing without results"}`,
		"",
		"event: done",
		"data: {}",
		"",
	}, "\n")

	warning := ""
	err := NewReader(strings.NewReader(body)).Read(Callbacks{
		OnWarning: func(data string) error {
			warning = data
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if !strings.Contains(warning, "search failed") {
		t.Errorf("warning = %q", warning)
	}
}
