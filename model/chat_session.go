package model

import (
	"time"

	"gorm.io/gorm"
)

// ChatSession represents a conversation session between a user and the assistant.
// OwnerID is nullable: sessions started before login are anonymous and may be
// transferred to an owner exactly once.
type ChatSession struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	OwnerID       *uint          `gorm:"index" json:"owner_id,omitempty"`
	Title         string         `gorm:"type:varchar(255)" json:"title"`
	ModelUsed     string         `gorm:"type:varchar(100)" json:"model_used"`
	MessageCount  int            `gorm:"default:0" json:"message_count"`
	TotalTokens   int            `gorm:"default:0" json:"total_tokens"`
	LastMessageAt *time.Time     `json:"last_message_at"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	Owner    *User         `gorm:"foreignKey:OwnerID" json:"owner,omitempty"`
	Messages []ChatMessage `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"messages,omitempty"`
}

// TableName specifies the table name for ChatSession
func (ChatSession) TableName() string {
	return "chat_sessions"
}

// IsAnonymous returns true if the session has no owner yet
func (s *ChatSession) IsAnonymous() bool {
	return s.OwnerID == nil
}
