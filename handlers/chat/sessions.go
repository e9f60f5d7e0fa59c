package chat

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/hierenlab/hieren-api/model"
	"github.com/hierenlab/hieren-api/services"
	"github.com/hierenlab/hieren-api/utils/middleware"
	"github.com/hierenlab/hieren-api/utils/response"
	"github.com/hierenlab/hieren-api/utils/validation"
)

// ChatHandler handles session management and streamed conversation turns
type ChatHandler struct {
	sessions  *services.SessionService
	chat      *services.ChatService
	validator *validation.Validator
}

// NewChatHandler creates a new chat handler
func NewChatHandler(sessions *services.SessionService, chat *services.ChatService) *ChatHandler {
	return &ChatHandler{
		sessions:  sessions,
		chat:      chat,
		validator: validation.NewValidator(),
	}
}

// requester returns the authenticated user, or nil for anonymous requests
func requester(c *fiber.Ctx) *model.User {
	user, ok := middleware.GetUser(c)
	if !ok {
		return nil
	}
	return user
}

// serviceError maps session service errors onto HTTP responses
func serviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return response.NotFound(c, "Session not found")
	case errors.Is(err, services.ErrForbidden):
		return response.Forbidden(c, "You do not have access to this session")
	case errors.Is(err, services.ErrConflict):
		return response.Conflict(c, "Session already has an owner")
	default:
		return response.InternalServerError(c, "Something went wrong")
	}
}

// CreateSession handles POST /chat/sessions. Unauthenticated requests create
// anonymous sessions.
func (h *ChatHandler) CreateSession(c *fiber.Ctx) error {
	var req services.CreateSessionRequest
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return response.BadRequest(c, "Invalid request body")
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}

	session, err := h.sessions.CreateSession(c.Context(), req, requester(c))
	if err != nil {
		return serviceError(c, err)
	}
	return response.Created(c, session)
}

// ListSessions handles GET /chat/sessions. Only owned sessions are listed;
// an anonymous caller owns none and gets an empty page.
func (h *ChatHandler) ListSessions(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 20)
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	sessions, total, err := h.sessions.ListSessions(c.Context(), requester(c), limit, offset)
	if err != nil {
		return serviceError(c, err)
	}

	return response.Paginated(c, sessions, response.CalculatePagination(page, limit, total))
}

// GetSession handles GET /chat/sessions/:id
func (h *ChatHandler) GetSession(c *fiber.Ctx) error {
	sessionID, err := c.ParamsInt("id")
	if err != nil || sessionID < 1 {
		return response.BadRequest(c, "Invalid session ID")
	}

	session, err := h.sessions.GetSession(c.Context(), uint(sessionID), requester(c))
	if err != nil {
		return serviceError(c, err)
	}
	return response.Success(c, session)
}

// RenameSessionRequest is the body of PUT /chat/sessions/:id
type RenameSessionRequest struct {
	Title string `json:"title" validate:"required,max=255"`
}

// RenameSession handles PUT /chat/sessions/:id
func (h *ChatHandler) RenameSession(c *fiber.Ctx) error {
	sessionID, err := c.ParamsInt("id")
	if err != nil || sessionID < 1 {
		return response.BadRequest(c, "Invalid session ID")
	}

	var req RenameSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}

	session, err := h.sessions.RenameSession(c.Context(), uint(sessionID), req.Title, requester(c))
	if err != nil {
		return serviceError(c, err)
	}
	return response.Success(c, session)
}

// TransferSession handles POST /chat/sessions/:id/transfer. It claims an
// anonymous session for the authenticated user; already-owned sessions
// answer 409.
func (h *ChatHandler) TransferSession(c *fiber.Ctx) error {
	sessionID, err := c.ParamsInt("id")
	if err != nil || sessionID < 1 {
		return response.BadRequest(c, "Invalid session ID")
	}

	user := requester(c)
	if user == nil {
		return response.Unauthorized(c, "Authentication required to claim a session")
	}

	session, err := h.sessions.TransferSession(c.Context(), uint(sessionID), user)
	if err != nil {
		return serviceError(c, err)
	}
	return response.Success(c, session)
}

// DeleteSession handles DELETE /chat/sessions/:id
func (h *ChatHandler) DeleteSession(c *fiber.Ctx) error {
	sessionID, err := c.ParamsInt("id")
	if err != nil || sessionID < 1 {
		return response.BadRequest(c, "Invalid session ID")
	}

	if err := h.sessions.DeleteSession(c.Context(), uint(sessionID), requester(c)); err != nil {
		return serviceError(c, err)
	}
	return response.Success(c, fiber.Map{
		"message": "Session deleted",
	})
}

// ListMessages handles GET /chat/sessions/:id/messages
func (h *ChatHandler) ListMessages(c *fiber.Ctx) error {
	sessionID, err := c.ParamsInt("id")
	if err != nil || sessionID < 1 {
		return response.BadRequest(c, "Invalid session ID")
	}

	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 50)
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	messages, total, err := h.sessions.ListMessages(c.Context(), uint(sessionID), requester(c), limit, offset)
	if err != nil {
		return serviceError(c, err)
	}

	return response.Paginated(c, messages, response.CalculatePagination(page, limit, total))
}

// AppendMessageRequest is the body of POST /chat/sessions/:id/messages.
// It stores a message without running a model turn (imports, drafts).
type AppendMessageRequest struct {
	Role    string `json:"role" validate:"required,oneof=user assistant system"`
	Content string `json:"content" validate:"required"`
}

// AppendMessage handles POST /chat/sessions/:id/messages
func (h *ChatHandler) AppendMessage(c *fiber.Ctx) error {
	sessionID, err := c.ParamsInt("id")
	if err != nil || sessionID < 1 {
		return response.BadRequest(c, "Invalid session ID")
	}

	var req AppendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}
	msg := &model.ChatMessage{
		Role:    model.MessageRole(req.Role),
		Content: model.TextBlocks(req.Content),
	}
	saved, err := h.sessions.AppendMessage(c.Context(), uint(sessionID), requester(c), msg)
	if err != nil {
		return serviceError(c, err)
	}
	return response.Created(c, saved)
}
