package chat

import (
	"bufio"
	"context"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/hierenlab/hieren-api/model"
	"github.com/hierenlab/hieren-api/services"
	"github.com/hierenlab/hieren-api/utils/response"
	"github.com/hierenlab/hieren-api/utils/sse"
)

// StreamTurn handles POST /chat/turn. It validates the request, then streams
// the assistant's reply over SSE: start, chunk*, optional warning and tool
// events, then exactly one terminal done or error event.
func (h *ChatHandler) StreamTurn(c *fiber.Ctx) error {
	var req services.TurnRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	// Everything that can fail with a 4xx happens before the stream opens
	if err := services.ValidateTurnRequest(req); err != nil {
		return response.BadRequest(c, err.Error())
	}
	if req.SessionID == 0 {
		return response.BadRequest(c, "session_id is required")
	}
	if _, err := h.sessions.GetSession(c.Context(), req.SessionID, requester(c)); err != nil {
		return serviceError(c, err)
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("Transfer-Encoding", "chunked")

	ctx := c.Context()

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		if err := sse.SendStart(w, fiber.Map{
			"session_id": req.SessionID,
		}); err != nil {
			log.Printf("[Chat Stream] Failed to send start event: %v", err)
			return
		}

		streamCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		callbacks := services.TurnCallbacks{
			OnContent: func(chunk string) error {
				return sse.SendChunk(w, fiber.Map{"content": chunk})
			},
			OnWarning: func(message string) error {
				return sse.SendWarning(w, fiber.Map{"message": message})
			},
			OnToolEvent: func(event services.ToolEvent) error {
				return sse.Send(w, sse.Event{Event: "tool", Data: event})
			},
			OnCitations: func(citations model.Citations) error {
				return sse.Send(w, sse.Event{Event: "citations", Data: citations})
			},
		}

		result, err := h.chat.StreamTurn(streamCtx, req, callbacks)
		if err != nil {
			log.Printf("[Chat Stream] Turn failed for session %d: %v", req.SessionID, err)
			_ = sse.SendError(w, err)
			return
		}

		done := fiber.Map{
			"session_id":  req.SessionID,
			"tokens_used": result.TokensUsed,
		}
		if result.AssistantMessage != nil {
			done["message_id"] = result.AssistantMessage.ID
		}
		if len(result.Citations) > 0 {
			done["citations"] = result.Citations
		}
		if err := sse.SendDone(w, done); err != nil {
			log.Printf("[Chat Stream] Failed to send done event: %v", err)
		}
	})

	return nil
}
