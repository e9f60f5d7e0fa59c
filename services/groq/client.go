package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// BaseURL is the Groq OpenAI-compatible API base URL
	BaseURL = "https://api.groq.com/openai/v1"
	// DefaultTimeout is the default HTTP client timeout for regular API calls
	DefaultTimeout = 30 * time.Second
	// DefaultDialTimeout is the timeout for establishing TCP connections
	DefaultDialTimeout = 10 * time.Second
	// DefaultTLSTimeout is the timeout for TLS handshake
	DefaultTLSTimeout = 10 * time.Second
	// DefaultHeaderTimeout is the timeout for waiting for response headers
	DefaultHeaderTimeout = 30 * time.Second
	// DefaultIdleTimeout is the keep-alive probe interval for streaming connections
	DefaultIdleTimeout = 90 * time.Second
)

// RetryConfig holds retry configuration for failed requests
type RetryConfig struct {
	MaxRetries     int           // Maximum number of retry attempts (default: 2)
	InitialBackoff time.Duration // Initial backoff duration (default: 500ms)
	MaxBackoff     time.Duration // Maximum backoff duration (default: 30s)
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     2,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
	}
}

// IsRetryableStatusCode checks if an HTTP status code should trigger a retry
// Retryable codes: 408 (Timeout), 429 (Rate Limit), 5xx (Server errors)
func IsRetryableStatusCode(statusCode int) bool {
	return statusCode == 408 || statusCode == 429 || statusCode >= 500
}

// CalculateBackoff returns the backoff duration for a given retry attempt
// Uses exponential backoff: initialBackoff * 2^attempt, capped at maxBackoff
func CalculateBackoff(attempt int, config RetryConfig) time.Duration {
	backoff := config.InitialBackoff * time.Duration(1<<uint(attempt))
	if backoff > config.MaxBackoff {
		return config.MaxBackoff
	}
	return backoff
}

// ParseRetryAfter extracts the retry-after header value from a response
// Returns 0 if the header is not present or cannot be parsed
func ParseRetryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}

	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}

	// Try parsing as seconds (most common)
	if seconds, err := strconv.Atoi(retryAfter); err == nil {
		return time.Duration(seconds) * time.Second
	}

	// Try parsing as HTTP date
	if t, err := http.ParseTime(retryAfter); err == nil {
		duration := time.Until(t)
		if duration > 0 {
			return duration
		}
	}

	return 0
}

// APIError represents a provider error response
type APIError struct {
	StatusCode int    `json:"-"`
	Type       string `json:"type"`
	Message    string `json:"message"`
	Code       string `json:"code,omitempty"`
	RetryAfter time.Duration
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("groq API error (status %d): %s", e.StatusCode, e.Message)
}

// Client handles all Groq API interactions
type Client struct {
	apiKey          string
	baseURL         string
	httpClient      *http.Client // For regular API calls
	streamingClient *http.Client // For streaming requests (no client-level timeout)
	retryConfig     RetryConfig
}

// Config holds configuration for the Groq client
type Config struct {
	APIKey      string
	BaseURL     string
	Timeout     time.Duration
	RetryConfig *RetryConfig // Optional custom retry config
}

// NewClient creates a new Groq API client
func NewClient(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}

	retryConfig := DefaultRetryConfig()
	if config.RetryConfig != nil {
		retryConfig = *config.RetryConfig
	}

	// IMPORTANT: Do NOT set http.Client.Timeout for streaming - it kills
	// long-running streams. Connection establishment is bounded at the
	// Transport level instead.
	streamingTransport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   DefaultDialTimeout,
			KeepAlive: DefaultIdleTimeout,
		}).DialContext,
		TLSHandshakeTimeout:   DefaultTLSTimeout,
		ResponseHeaderTimeout: DefaultHeaderTimeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
	}

	return &Client{
		apiKey:  config.APIKey,
		baseURL: config.BaseURL,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		streamingClient: &http.Client{
			Transport: streamingTransport,
		},
		retryConfig: retryConfig,
	}
}

// GetRetryConfig returns the retry configuration
func (c *Client) GetRetryConfig() RetryConfig {
	return c.retryConfig
}

// CreateChatCompletion creates a chat completion (non-streaming) with retries
func (c *Client) CreateChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	req.Stream = false

	var lastErr error
	for attempt := 0; attempt <= c.retryConfig.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := c.waitBeforeRetry(ctx, attempt, lastErr); err != nil {
				return nil, err
			}
		}

		result, err := c.doChatCompletion(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !IsRetryableStatusCode(apiErr.StatusCode) {
			return nil, err
		}
		log.Printf("[Groq] Chat completion failed (attempt %d/%d): %v", attempt+1, c.retryConfig.MaxRetries+1, err)
	}

	return nil, fmt.Errorf("chat completion failed after %d attempts: %w", c.retryConfig.MaxRetries+1, lastErr)
}

func (c *Client) doChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	jsonBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newAPIError(resp, body)
	}

	var result ChatCompletionResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &result, nil
}

// StreamChatCompletion creates a streaming chat completion. The callback is
// invoked for every decoded chunk in arrival order. Transient failures before
// the first chunk are retried with exponential backoff; once content has been
// delivered the stream is never replayed.
func (c *Client) StreamChatCompletion(ctx context.Context, req ChatCompletionRequest, callback func(StreamChunk) error) (*StreamResult, error) {
	req.Stream = true

	var lastErr error
	for attempt := 0; attempt <= c.retryConfig.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := c.waitBeforeRetry(ctx, attempt, lastErr); err != nil {
				return nil, err
			}
			log.Printf("[Groq Stream] Retry attempt %d/%d", attempt, c.retryConfig.MaxRetries)
		}

		result, err := c.doStreamRequest(ctx, req, callback)
		if err == nil {
			return result, nil
		}
		lastErr = err
		log.Printf("[Groq Stream] Request failed (attempt %d/%d): %v", attempt+1, c.retryConfig.MaxRetries+1, err)

		// Never retry once chunks reached the caller: a replayed stream
		// would duplicate already-forwarded content.
		if result != nil && result.ChunkCount > 0 {
			return result, err
		}

		if !isStreamErrorRetryable(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("streaming failed after %d attempts: %w", c.retryConfig.MaxRetries+1, lastErr)
}

// waitBeforeRetry sleeps for the computed backoff, honoring both context
// cancellation and any Retry-After hint carried by the previous error.
// A rate-limit hint always wins when it is longer than the backoff.
func (c *Client) waitBeforeRetry(ctx context.Context, attempt int, lastErr error) error {
	backoff := CalculateBackoff(attempt-1, c.retryConfig)

	var apiErr *APIError
	if errors.As(lastErr, &apiErr) && apiErr.RetryAfter > backoff {
		backoff = apiErr.RetryAfter
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(backoff):
		return nil
	}
}

func (c *Client) doStreamRequest(ctx context.Context, req ChatCompletionRequest, callback func(StreamChunk) error) (*StreamResult, error) {
	jsonBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamingClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, newAPIError(resp, body)
	}

	return ParseStream(resp.Body, callback)
}

func newAPIError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var envelope struct {
		Error APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Type = envelope.Error.Type
		apiErr.Message = envelope.Error.Message
		apiErr.Code = envelope.Error.Code
	} else {
		apiErr.Message = string(body)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		apiErr.RetryAfter = ParseRetryAfter(resp)
	}

	return apiErr
}

// isStreamErrorRetryable determines if a streaming error should trigger a retry
func isStreamErrorRetryable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return IsRetryableStatusCode(apiErr.StatusCode)
	}

	errStr := err.Error()

	// Connection errors are retryable
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "network is unreachable") ||
		strings.Contains(errStr, "no such host")
}
