package rag

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/hierenlab/hieren-api/services/rag"
	"github.com/hierenlab/hieren-api/utils/response"
)

// RAGHandler proxies the external knowledge service for direct queries
type RAGHandler struct {
	client *rag.Client
}

// NewRAGHandler creates a new knowledge handler
func NewRAGHandler(client *rag.Client) *RAGHandler {
	return &RAGHandler{client: client}
}

// ChatRequest is the body of POST /rag/chat
type ChatRequest struct {
	Text   string `json:"text" validate:"required"`
	UserID string `json:"user_id,omitempty"`
}

// Chat handles POST /rag/chat. Knowledge service failures never surface as
// errors: the client always gets 200, with status "fallback" when the
// service could not answer.
func (h *RAGHandler) Chat(c *fiber.Ctx) error {
	var req ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if req.Text == "" {
		return response.BadRequest(c, "Text is required")
	}

	if h.client == nil {
		return response.Success(c, rag.ChatResponse{Status: "fallback"})
	}

	res, err := h.client.Chat(c.Context(), req.Text, req.UserID)
	if err != nil {
		log.Printf("[Knowledge] Chat request failed: %v", err)
		return response.Success(c, rag.ChatResponse{Status: "fallback"})
	}

	return response.Success(c, res)
}
