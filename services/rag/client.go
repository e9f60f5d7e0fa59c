package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultTimeout bounds a knowledge lookup; augmentation must not hold
	// up a turn when the collaborator is slow
	DefaultTimeout = 10 * time.Second
	// HealthTimeout bounds the reachability probe
	HealthTimeout = 3 * time.Second
)

// ChatRequest is the payload sent to the knowledge service
type ChatRequest struct {
	Text   string `json:"text"`
	UserID string `json:"user_id"`
}

// Citation is a single knowledge-base source reference
type Citation struct {
	Title   string  `json:"title,omitempty"`
	Source  string  `json:"source,omitempty"`
	Snippet string  `json:"snippet,omitempty"`
	Score   float64 `json:"score,omitempty"`
}

// ChatResponse is the knowledge service's answer
type ChatResponse struct {
	Response  string     `json:"response"`
	Citations []Citation `json:"citations,omitempty"`
	Source    string     `json:"source,omitempty"`
	Status    string     `json:"status"`
}

// Client talks to the external retrieval-augmented knowledge service
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a new knowledge service client
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// Chat sends a question to the knowledge service and returns its answer
func (c *Client) Chat(ctx context.Context, text, userID string) (*ChatResponse, error) {
	payload := ChatRequest{Text: text, UserID: userID}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/chat", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("knowledge service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("knowledge service returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &chatResp, nil
}

// HealthCheck checks if the knowledge service is reachable
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("knowledge service unhealthy: status %d", resp.StatusCode)
	}

	return nil
}
