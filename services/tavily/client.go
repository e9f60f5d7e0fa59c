package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// BaseURL is the Tavily search API base URL
	BaseURL = "https://api.tavily.com"
	// DefaultTimeout bounds a single search call; tool execution must never
	// stall a streaming turn for long
	DefaultTimeout = 8 * time.Second
	// DefaultMaxResults is the number of results requested per search
	DefaultMaxResults = 5
	// MaxResults is the hard cap on results per search
	MaxResults = 10
)

// Search depths accepted by the API
const (
	SearchDepthBasic    = "basic"
	SearchDepthAdvanced = "advanced"
)

// IsValidSearchDepth reports whether depth is one of the accepted values
func IsValidSearchDepth(depth string) bool {
	return depth == SearchDepthBasic || depth == SearchDepthAdvanced
}

// SearchRequest represents a Tavily search request
type SearchRequest struct {
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth,omitempty"` // "basic" or "advanced"
	MaxResults    int    `json:"max_results,omitempty"`
	IncludeAnswer bool   `json:"include_answer,omitempty"`
}

// SearchResult is a single ranked result
type SearchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// SearchResponse represents a Tavily search response
type SearchResponse struct {
	Query        string         `json:"query"`
	Answer       string         `json:"answer,omitempty"`
	Results      []SearchResult `json:"results"`
	ResponseTime float64        `json:"response_time,omitempty"`
}

// Client handles Tavily search API interactions
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Config holds configuration for the Tavily client
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// NewClient creates a new Tavily client
func NewClient(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}

	return &Client{
		apiKey:  config.APIKey,
		baseURL: config.BaseURL,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Search performs a web search. The depth defaults to "basic" and invalid
// depths are rejected before any network call.
func (c *Client) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("search query must not be empty")
	}

	if req.SearchDepth == "" {
		req.SearchDepth = SearchDepthBasic
	}
	if !IsValidSearchDepth(req.SearchDepth) {
		return nil, fmt.Errorf("invalid search_depth %q: must be %q or %q", req.SearchDepth, SearchDepthBasic, SearchDepthAdvanced)
	}

	if req.MaxResults <= 0 {
		req.MaxResults = DefaultMaxResults
	}
	if req.MaxResults > MaxResults {
		req.MaxResults = MaxResults
	}

	body := map[string]interface{}{
		"api_key":        c.apiKey,
		"query":          req.Query,
		"search_depth":   req.SearchDepth,
		"max_results":    req.MaxResults,
		"include_answer": req.IncludeAnswer,
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/search", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result SearchResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}
	result.Query = req.Query

	return &result, nil
}

// FormatAsBlock renders a response as a text block suitable for feeding back
// to the model as a tool result
func (r *SearchResponse) FormatAsBlock() string {
	var sb strings.Builder

	if r.Answer != "" {
		sb.WriteString("Answer: ")
		sb.WriteString(r.Answer)
		sb.WriteString("\n\n")
	}

	if len(r.Results) == 0 {
		sb.WriteString("No results found.")
		return sb.String()
	}

	sb.WriteString("Search results:\n")
	for i, res := range r.Results {
		snippet := res.Content
		if len(snippet) > 500 {
			snippet = snippet[:500] + "..."
		}
		fmt.Fprintf(&sb, "%d. %s\n   %s\n   %s\n", i+1, res.Title, res.URL, snippet)
	}

	return sb.String()
}
