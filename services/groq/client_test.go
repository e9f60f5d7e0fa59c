package groq

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(serverURL string, retry RetryConfig) *Client {
	return NewClient(Config{
		APIKey:      "test-key",
		BaseURL:     serverURL,
		RetryConfig: &retry,
	})
}

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxRetries:     2,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
	}
}

func writeSSE(w http.ResponseWriter, lines ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, line := range lines {
		fmt.Fprintf(w, "%s\n", line)
	}
}

func TestCalculateBackoff(t *testing.T) {
	config := RetryConfig{
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
	}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{10, 30 * time.Second}, // capped
	}
	for _, tc := range cases {
		if got := CalculateBackoff(tc.attempt, config); got != tc.want {
			t.Errorf("CalculateBackoff(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestIsRetryableStatusCode(t *testing.T) {
	retryable := []int{408, 429, 500, 502, 503}
	for _, code := range retryable {
		if !IsRetryableStatusCode(code) {
			t.Errorf("IsRetryableStatusCode(%d) = false, want true", code)
		}
	}
	notRetryable := []int{200, 400, 401, 403, 404, 422}
	for _, code := range notRetryable {
		if IsRetryableStatusCode(code) {
			t.Errorf("IsRetryableStatusCode(%d) = true, want false", code)
		}
	}
}

func TestParseRetryAfterSeconds(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("Retry-After", "2")
	if got := ParseRetryAfter(resp); got != 2*time.Second {
		t.Errorf("ParseRetryAfter = %v, want 2s", got)
	}

	resp.Header.Set("Retry-After", "not-a-number-or-date")
	if got := ParseRetryAfter(resp); got != 0 {
		t.Errorf("ParseRetryAfter = %v for garbage header, want 0", got)
	}
}

func TestStreamRetriesTransientFailureBeforeFirstChunk(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"error":{"message":"try later","type":"server_error"}}`)
			return
		}
		writeSSE(w,
			`data: {"id":"c1","choices":[{"index":0,"delta":{"content":"ok"}}]}`,
			"data: [DONE]",
		)
	}))
	defer server.Close()

	client := testClient(server.URL, fastRetry())

	var content string
	result, err := client.StreamChatCompletion(context.Background(), ChatCompletionRequest{Model: "m"}, func(chunk StreamChunk) error {
		content += chunk.GetContent()
		return nil
	})
	if err != nil {
		t.Fatalf("StreamChatCompletion returned error: %v", err)
	}
	if content != "ok" {
		t.Errorf("content = %q, want \"ok\"", content)
	}
	if !result.SawDone {
		t.Error("SawDone = false, want true")
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("server saw %d calls, want 2", got)
	}
}

func TestStreamDoesNotRetryNonRetryableStatus(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer server.Close()

	client := testClient(server.URL, fastRetry())

	_, err := client.StreamChatCompletion(context.Background(), ChatCompletionRequest{Model: "m"}, func(chunk StreamChunk) error {
		return nil
	})
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("server saw %d calls, want 1 (no retry on 401)", got)
	}
}

func TestStreamRetriesAreCapped(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := testClient(server.URL, fastRetry())

	_, err := client.StreamChatCompletion(context.Background(), ChatCompletionRequest{Model: "m"}, func(chunk StreamChunk) error {
		return nil
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	// MaxRetries 2 means 3 attempts total
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("server saw %d calls, want 3", got)
	}
}

func TestRateLimitWaitHonorsRetryAfter(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"message":"rate limited","type":"rate_limit_error"}}`)
			return
		}
		writeSSE(w,
			`data: {"id":"c1","choices":[{"index":0,"delta":{"content":"ok"}}]}`,
			"data: [DONE]",
		)
	}))
	defer server.Close()

	client := testClient(server.URL, fastRetry())

	start := time.Now()
	_, err := client.StreamChatCompletion(context.Background(), ChatCompletionRequest{Model: "m"}, func(chunk StreamChunk) error {
		return nil
	})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("StreamChatCompletion returned error: %v", err)
	}
	// Retry-After of 2s must win over the 5ms backoff
	if elapsed < 2*time.Second {
		t.Errorf("retried after %v, want at least the Retry-After of 2s", elapsed)
	}
}

func TestStreamNeverRetriesAfterChunksDelivered(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeSSE(w,
			`data: {"id":"c1","choices":[{"index":0,"delta":{"content":"one"}}]}`,
			`data: {"id":"c1","choices":[{"index":0,"delta":{"content":"two"}}]}`,
		)
	}))
	defer server.Close()

	client := testClient(server.URL, fastRetry())

	delivered := 0
	_, err := client.StreamChatCompletion(context.Background(), ChatCompletionRequest{Model: "m"}, func(chunk StreamChunk) error {
		delivered++
		if delivered == 2 {
			// Looks retryable, but content already reached the caller
			return fmt.Errorf("connection reset by peer")
		}
		return nil
	})
	if err == nil {
		t.Fatal("expected callback error to surface")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("server saw %d calls, want 1 (no replay after delivery)", got)
	}
	if delivered != 2 {
		t.Errorf("callback ran %d times, want 2", delivered)
	}
}

func TestCreateChatCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		fmt.Fprint(w, `{"id":"r1","choices":[{"index":0,"message":{"role":"assistant","content":"4"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":1,"total_tokens":6}}`)
	}))
	defer server.Close()

	client := testClient(server.URL, fastRetry())

	resp, err := client.CreateChatCompletion(context.Background(), ChatCompletionRequest{
		Model:    "m",
		Messages: []ChatMessage{{Role: "user", Content: "2+2?"}},
	})
	if err != nil {
		t.Fatalf("CreateChatCompletion returned error: %v", err)
	}
	if got := resp.ExtractContent(); got != "4" {
		t.Errorf("ExtractContent = %q, want \"4\"", got)
	}
	if resp.Usage.TotalTokens != 6 {
		t.Errorf("TotalTokens = %d, want 6", resp.Usage.TotalTokens)
	}
}
