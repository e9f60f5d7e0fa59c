package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MessageRole represents the role of the message sender
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
	MessageRoleTool      MessageRole = "tool"
)

// MessageStatus represents the delivery status of a message
type MessageStatus string

const (
	MessageStatusSending MessageStatus = "sending" // Message is still being generated
	MessageStatusSent    MessageStatus = "sent"    // Message was fully delivered
	MessageStatusFailed  MessageStatus = "failed"  // Generation or delivery failed
)

// ContentBlockType discriminates the variants of a content block
type ContentBlockType string

const (
	ContentBlockText  ContentBlockType = "text"
	ContentBlockImage ContentBlockType = "image"
)

// ContentBlock is one ordered element of a message body. Exactly one of the
// variant fields is populated, selected by Type.
type ContentBlock struct {
	Type ContentBlockType `json:"type"`

	// text variant
	Text string `json:"text,omitempty"`

	// image variant
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"` // base64 payload or storage URL
}

// PlainText renders the block for contexts that only carry text
func (b ContentBlock) PlainText() (string, error) {
	switch b.Type {
	case ContentBlockText:
		return b.Text, nil
	case ContentBlockImage:
		return "", nil
	default:
		return "", fmt.Errorf("unknown content block type %q", b.Type)
	}
}

// ContentBlocks is a custom type for storing ordered message content as JSONB
type ContentBlocks []ContentBlock

// Scan implements the sql.Scanner interface for reading from database
func (c *ContentBlocks) Scan(value interface{}) error {
	if value == nil {
		*c = ContentBlocks{}
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("failed to unmarshal content blocks value")
	}

	if len(bytes) == 0 {
		*c = ContentBlocks{}
		return nil
	}

	return json.Unmarshal(bytes, c)
}

// Value implements the driver.Valuer interface for writing to database
func (c ContentBlocks) Value() (driver.Value, error) {
	if len(c) == 0 {
		return []byte("[]"), nil // Return empty JSON array instead of nil
	}
	return json.Marshal(c)
}

// PlainText concatenates the text blocks in order
func (c ContentBlocks) PlainText() string {
	var out string
	for _, b := range c {
		if b.Type == ContentBlockText {
			if out != "" {
				out += "\n"
			}
			out += b.Text
		}
	}
	return out
}

// TextBlocks wraps a plain string in a single text block
func TextBlocks(text string) ContentBlocks {
	return ContentBlocks{{Type: ContentBlockText, Text: text}}
}

// Citation represents a single source reference attached to a message
type Citation struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet,omitempty"`
	Score   float64 `json:"score,omitempty"`
	Source  string  `json:"source,omitempty"` // web_search, knowledge_base
}

// Citations is a custom type for storing citation data as JSONB
type Citations []Citation

// Scan implements the sql.Scanner interface for reading from database
func (c *Citations) Scan(value interface{}) error {
	if value == nil {
		*c = Citations{}
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("failed to unmarshal citations value")
	}

	return json.Unmarshal(bytes, c)
}

// Value implements the driver.Valuer interface for writing to database
func (c Citations) Value() (driver.Value, error) {
	if len(c) == 0 {
		return []byte("[]"), nil // Return empty JSON array instead of nil
	}
	return json.Marshal(c)
}

// ChatMessage represents a single message in a chat conversation.
// Tool invocations themselves are transient; only the resulting text of a
// tool round-trip is persisted, with ToolCallID linking back to the call.
type ChatMessage struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
	SessionID  uint           `gorm:"not null;index" json:"session_id"`
	Role       MessageRole    `gorm:"type:varchar(20);not null" json:"role"`
	Content    ContentBlocks  `gorm:"type:jsonb;not null" json:"content"`
	Status     MessageStatus  `gorm:"type:varchar(20);default:'sent'" json:"status"`
	ToolCallID string         `gorm:"type:varchar(64)" json:"tool_call_id,omitempty"`
	Citations  Citations      `gorm:"type:jsonb" json:"citations,omitempty"`
	TokensUsed int            `gorm:"default:0" json:"tokens_used"`
	ModelUsed  string         `gorm:"type:varchar(100)" json:"model_used,omitempty"`
	Metadata   datatypes.JSON `gorm:"type:jsonb;default:'{}'" json:"metadata,omitempty"`

	// Relationships
	Session     *ChatSession `gorm:"foreignKey:SessionID" json:"-"`
	Attachments []Attachment `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"attachments,omitempty"`
}

// TableName specifies the table name for ChatMessage
func (ChatMessage) TableName() string {
	return "chat_messages"
}
