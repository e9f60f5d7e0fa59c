package attachment

import (
	"encoding/base64"
	"errors"
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/hierenlab/hieren-api/model"
	"github.com/hierenlab/hieren-api/services"
	"github.com/hierenlab/hieren-api/utils/middleware"
	"github.com/hierenlab/hieren-api/utils/response"
)

// AttachmentHandler handles file uploads bound to chat messages
type AttachmentHandler struct {
	attachments *services.AttachmentService
}

// NewAttachmentHandler creates a new attachment handler
func NewAttachmentHandler(attachments *services.AttachmentService) *AttachmentHandler {
	return &AttachmentHandler{attachments: attachments}
}

func requester(c *fiber.Ctx) *model.User {
	user, ok := middleware.GetUser(c)
	if !ok {
		return nil
	}
	return user
}

func serviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return response.NotFound(c, "Not found")
	case errors.Is(err, services.ErrForbidden):
		return response.Forbidden(c, "You do not have access to this attachment")
	default:
		return response.BadRequest(c, err.Error())
	}
}

// Upload handles POST /chat/messages/:id/attachments. It accepts a multipart
// form with a single "file" field and routes the payload by content type:
// images stay inline, everything else goes to object storage.
func (h *AttachmentHandler) Upload(c *fiber.Ctx) error {
	messageID, err := c.ParamsInt("id")
	if err != nil || messageID < 1 {
		return response.BadRequest(c, "Invalid message ID")
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return response.BadRequest(c, "A \"file\" form field is required")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return response.BadRequest(c, "Failed to read uploaded file")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return response.BadRequest(c, "Failed to read uploaded file")
	}

	contentType := fileHeader.Header.Get("Content-Type")
	user := requester(c)

	var attachment *model.Attachment
	if strings.HasPrefix(contentType, "image/") {
		attachment, err = h.attachments.AttachImage(c.Context(), uint(messageID), user, fileHeader.Filename, contentType, data)
	} else {
		attachment, err = h.attachments.AttachDocument(c.Context(), uint(messageID), user, fileHeader.Filename, contentType, data)
	}
	if err != nil {
		return serviceError(c, err)
	}

	return response.Created(c, attachment)
}

// Get handles GET /attachments/:id
func (h *AttachmentHandler) Get(c *fiber.Ctx) error {
	attachmentID, err := c.ParamsInt("id")
	if err != nil || attachmentID < 1 {
		return response.BadRequest(c, "Invalid attachment ID")
	}

	attachment, err := h.attachments.GetAttachment(c.Context(), uint(attachmentID), requester(c))
	if err != nil {
		return serviceError(c, err)
	}
	return response.Success(c, attachment)
}

// Download handles GET /attachments/:id/content. Images answer with the
// inline payload; documents are fetched from object storage.
func (h *AttachmentHandler) Download(c *fiber.Ctx) error {
	attachmentID, err := c.ParamsInt("id")
	if err != nil || attachmentID < 1 {
		return response.BadRequest(c, "Invalid attachment ID")
	}

	attachment, err := h.attachments.GetAttachment(c.Context(), uint(attachmentID), requester(c))
	if err != nil {
		return serviceError(c, err)
	}

	if attachment.Type == model.AttachmentTypeImage {
		data, err := base64.StdEncoding.DecodeString(attachment.InlineData)
		if err != nil {
			return response.InternalServerError(c, "Stored image is corrupt")
		}
		c.Set("Content-Type", attachment.ContentType)
		return c.Send(data)
	}

	data, err := h.attachments.DownloadDocument(c.Context(), attachment)
	if err != nil {
		return response.ServiceUnavailable(c, "Attachment content is unavailable")
	}
	c.Set("Content-Type", attachment.ContentType)
	return c.Send(data)
}
