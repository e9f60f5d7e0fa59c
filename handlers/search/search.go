package search

import (
	"github.com/gofiber/fiber/v2"
	"github.com/hierenlab/hieren-api/services/tavily"
	"github.com/hierenlab/hieren-api/utils/response"
)

// SearchHandler exposes web search directly, outside of a chat turn
type SearchHandler struct {
	client *tavily.Client
}

// NewSearchHandler creates a new search handler
func NewSearchHandler(client *tavily.Client) *SearchHandler {
	return &SearchHandler{client: client}
}

// SearchRequest is the body of POST /search
type SearchRequest struct {
	Query       string `json:"query" validate:"required"`
	SearchDepth string `json:"search_depth,omitempty"`
	MaxResults  int    `json:"max_results,omitempty"`
}

// Search handles POST /search
func (h *SearchHandler) Search(c *fiber.Ctx) error {
	if h.client == nil {
		return response.ServiceUnavailable(c, "Web search is not configured")
	}

	var req SearchRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if req.Query == "" {
		return response.BadRequest(c, "Query is required")
	}
	if req.SearchDepth != "" && !tavily.IsValidSearchDepth(req.SearchDepth) {
		return response.BadRequest(c, "search_depth must be \"basic\" or \"advanced\"")
	}

	result, err := h.client.Search(c.Context(), tavily.SearchRequest{
		Query:         req.Query,
		SearchDepth:   req.SearchDepth,
		MaxResults:    req.MaxResults,
		IncludeAnswer: true,
	})
	if err != nil {
		return response.ServiceUnavailable(c, "Search provider is unavailable")
	}

	return response.Success(c, result)
}
