package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/hierenlab/hieren-api/model"
	"github.com/hierenlab/hieren-api/services/storage"
)

const (
	// MaxImageBytes caps inline image payloads
	MaxImageBytes = 5 * 1024 * 1024
	// MaxDocumentBytes caps uploaded documents
	MaxDocumentBytes = 20 * 1024 * 1024
)

var imageContentTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// AttachmentService binds files to messages. Images keep an inline payload;
// documents go to object storage and carry extracted text.
type AttachmentService struct {
	sessions  *SessionService
	spaces    *storage.SpacesClient
	extractor *PDFExtractor
}

// NewAttachmentService creates an attachment service. A nil spaces client
// disables document uploads but leaves inline images working.
func NewAttachmentService(sessions *SessionService, spaces *storage.SpacesClient) *AttachmentService {
	return &AttachmentService{
		sessions:  sessions,
		spaces:    spaces,
		extractor: NewPDFExtractor(),
	}
}

// AttachImage stores an image inline on the message
func (s *AttachmentService) AttachImage(ctx context.Context, messageID uint, requester *model.User, filename, contentType string, data []byte) (*model.Attachment, error) {
	msg, err := s.sessions.GetMessage(ctx, messageID, requester)
	if err != nil {
		return nil, err
	}

	if !imageContentTypes[contentType] {
		return nil, fmt.Errorf("unsupported image content type %q", contentType)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image payload")
	}
	if len(data) > MaxImageBytes {
		return nil, fmt.Errorf("image exceeds %d byte limit", MaxImageBytes)
	}

	attachment := &model.Attachment{
		MessageID:   msg.ID,
		Type:        model.AttachmentTypeImage,
		Filename:    filename,
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
		InlineData:  base64.StdEncoding.EncodeToString(data),
	}

	if err := s.sessions.db.WithContext(ctx).Create(attachment).Error; err != nil {
		return nil, fmt.Errorf("failed to save attachment: %w", err)
	}
	return attachment, nil
}

// AttachDocument uploads a document to object storage and extracts its text
// so the relay can include it in prompts. Extraction failure is degraded to
// an attachment without text, not an error.
func (s *AttachmentService) AttachDocument(ctx context.Context, messageID uint, requester *model.User, filename, contentType string, data []byte) (*model.Attachment, error) {
	msg, err := s.sessions.GetMessage(ctx, messageID, requester)
	if err != nil {
		return nil, err
	}

	if s.spaces == nil {
		return nil, fmt.Errorf("document storage is not configured")
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty document payload")
	}
	if len(data) > MaxDocumentBytes {
		return nil, fmt.Errorf("document exceeds %d byte limit", MaxDocumentBytes)
	}

	key := fmt.Sprintf("attachments/%d/%s%s", msg.SessionID, uuid.New().String(), strings.ToLower(filepath.Ext(filename)))
	if err := s.spaces.Upload(ctx, key, data, contentType); err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}

	attachment := &model.Attachment{
		MessageID:   msg.ID,
		Type:        model.AttachmentTypeDocument,
		Filename:    filename,
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
		StorageKey:  key,
	}

	if contentType == "application/pdf" {
		text, pages, err := s.extractor.ExtractText(data)
		if err != nil {
			log.Printf("[Attachments] Text extraction failed for %s: %v", filename, err)
		} else {
			attachment.ExtractedText = text
			attachment.PageCount = pages
		}
	}

	if err := s.sessions.db.WithContext(ctx).Create(attachment).Error; err != nil {
		return nil, fmt.Errorf("failed to save attachment: %w", err)
	}
	return attachment, nil
}

// GetAttachment loads an attachment, checking session access through the
// owning message
func (s *AttachmentService) GetAttachment(ctx context.Context, attachmentID uint, requester *model.User) (*model.Attachment, error) {
	var attachment model.Attachment
	if err := s.sessions.db.WithContext(ctx).First(&attachment, attachmentID).Error; err != nil {
		return nil, ErrNotFound
	}

	if _, err := s.sessions.GetMessage(ctx, attachment.MessageID, requester); err != nil {
		return nil, err
	}
	return &attachment, nil
}

// DownloadDocument fetches a stored document's raw content
func (s *AttachmentService) DownloadDocument(ctx context.Context, attachment *model.Attachment) ([]byte, error) {
	if attachment.Type != model.AttachmentTypeDocument || attachment.StorageKey == "" {
		return nil, fmt.Errorf("attachment has no stored document")
	}
	if s.spaces == nil {
		return nil, fmt.Errorf("document storage is not configured")
	}
	return s.spaces.Download(ctx, attachment.StorageKey)
}
