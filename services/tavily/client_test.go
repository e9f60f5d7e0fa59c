package tavily

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSearchValidatesBeforeNetwork(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: server.URL})

	if _, err := client.Search(context.Background(), SearchRequest{Query: ""}); err == nil {
		t.Error("empty query accepted")
	}
	if _, err := client.Search(context.Background(), SearchRequest{Query: "x", SearchDepth: "exhaustive"}); err == nil {
		t.Error("invalid search depth accepted")
	}
	if called {
		t.Error("invalid requests reached the network")
	}
}

func TestSearchSendsAPIKeyInBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["api_key"] != "secret" {
			t.Errorf("api_key = %v", body["api_key"])
		}
		if body["query"] != "solar" {
			t.Errorf("query = %v", body["query"])
		}
		fmt.Fprint(w, `{"query":"solar","results":[]}`)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "secret", BaseURL: server.URL})
	if _, err := client.Search(context.Background(), SearchRequest{Query: "solar"}); err != nil {
		t.Fatalf("Search: %v", err)
	}
}

func TestSearchErrorOnNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"detail":"invalid api key"}`)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "bad", BaseURL: server.URL})
	if _, err := client.Search(context.Background(), SearchRequest{Query: "solar"}); err == nil {
		t.Error("expected error for 401 response")
	}
}

func TestFormatAsBlock(t *testing.T) {
	resp := &SearchResponse{
		Query:  "solar tariffs",
		Answer: "Tariffs rose.",
		Results: []SearchResult{
			{Title: "News", URL: "https://example.com/a", Content: "Details about tariffs.", Score: 0.9},
			{Title: "Report", URL: "https://example.com/b", Content: strings.Repeat("x", 600), Score: 0.8},
		},
	}

	block := resp.FormatAsBlock()
	if !strings.Contains(block, "Tariffs rose.") {
		t.Errorf("block missing answer: %q", block)
	}
	if !strings.Contains(block, "https://example.com/a") {
		t.Errorf("block missing result URL: %q", block)
	}
	// Long snippets are truncated
	if strings.Contains(block, strings.Repeat("x", 501)) {
		t.Error("snippet was not truncated")
	}
}

func TestIsValidSearchDepth(t *testing.T) {
	if !IsValidSearchDepth(SearchDepthBasic) || !IsValidSearchDepth(SearchDepthAdvanced) {
		t.Error("valid depths rejected")
	}
	if IsValidSearchDepth("deep") || IsValidSearchDepth("") {
		t.Error("invalid depth accepted")
	}
}
