package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AttachmentType discriminates the kinds of files a message can carry
type AttachmentType string

const (
	AttachmentTypeImage    AttachmentType = "image"
	AttachmentTypeDocument AttachmentType = "document"
)

// Attachment is a file bound to exactly one message. Images keep an inline
// base64 payload for prompt assembly; documents are stored in object storage
// and carry the extracted text instead.
type Attachment struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
	MessageID   uint           `gorm:"not null;index" json:"message_id"`
	Type        AttachmentType `gorm:"type:varchar(20);not null" json:"type"`
	Filename    string         `gorm:"type:varchar(255);not null" json:"filename"`
	ContentType string         `gorm:"type:varchar(100);not null" json:"content_type"`
	SizeBytes   int64          `gorm:"default:0" json:"size_bytes"`

	// image: inline payload
	InlineData string `gorm:"type:text" json:"inline_data,omitempty"`

	// document: object-storage key plus extracted text
	StorageKey    string `gorm:"type:varchar(512)" json:"storage_key,omitempty"`
	ExtractedText string `gorm:"type:text" json:"extracted_text,omitempty"`
	PageCount     int    `gorm:"default:0" json:"page_count,omitempty"`

	Metadata datatypes.JSON `gorm:"type:jsonb;default:'{}'" json:"metadata,omitempty"`

	// Relationships
	Message *ChatMessage `gorm:"foreignKey:MessageID" json:"-"`
}

// TableName specifies the table name for Attachment
func (Attachment) TableName() string {
	return "attachments"
}
