package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hierenlab/hieren-api/model"
	"gorm.io/gorm"
)

var (
	// ErrNotFound means the session or message does not exist
	ErrNotFound = errors.New("not found")
	// ErrForbidden means the requester may not touch this session
	ErrForbidden = errors.New("forbidden")
	// ErrConflict means the operation clashes with the session's state
	ErrConflict = errors.New("conflict")
)

// SessionService owns chat sessions and their messages
type SessionService struct {
	db *gorm.DB
}

// NewSessionService creates a new session service
func NewSessionService(db *gorm.DB) *SessionService {
	return &SessionService{db: db}
}

// Authorize is the single guard applied by every operation that reads or
// mutates a session. Anonymous sessions are open to any requester; owned
// sessions only to their owner or an admin.
func Authorize(session *model.ChatSession, requester *model.User) error {
	if session == nil {
		return ErrNotFound
	}
	if session.IsAnonymous() {
		return nil
	}
	if requester == nil {
		return ErrForbidden
	}
	if *session.OwnerID == requester.ID || requester.Role == "admin" {
		return nil
	}
	return ErrForbidden
}

// CreateSessionRequest holds the fields a client may set on creation
type CreateSessionRequest struct {
	Title     string `json:"title" validate:"max=255"`
	ModelUsed string `json:"model_used" validate:"max=100"`
}

// CreateSession creates a session. A nil requester creates an anonymous one.
func (s *SessionService) CreateSession(ctx context.Context, req CreateSessionRequest, requester *model.User) (*model.ChatSession, error) {
	session := &model.ChatSession{
		Title:     req.Title,
		ModelUsed: req.ModelUsed,
	}
	if session.Title == "" {
		session.Title = "New conversation"
	}
	if requester != nil {
		session.OwnerID = &requester.ID
	}

	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// GetSession loads a session the requester is allowed to see
func (s *SessionService) GetSession(ctx context.Context, sessionID uint, requester *model.User) (*model.ChatSession, error) {
	var session model.ChatSession
	if err := s.db.WithContext(ctx).First(&session, sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch session: %w", err)
	}

	if err := Authorize(&session, requester); err != nil {
		return nil, err
	}
	return &session, nil
}

// ListSessions returns the requester's sessions, most recently active first.
// Anonymous requesters own nothing, so they get an empty page rather than
// an error.
func (s *SessionService) ListSessions(ctx context.Context, requester *model.User, limit, offset int) ([]model.ChatSession, int64, error) {
	if requester == nil {
		return []model.ChatSession{}, 0, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var total int64
	query := s.db.WithContext(ctx).Model(&model.ChatSession{}).Where("owner_id = ?", requester.ID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count sessions: %w", err)
	}

	var sessions []model.ChatSession
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", requester.ID).
		Order("COALESCE(last_message_at, created_at) DESC").
		Limit(limit).
		Offset(offset).
		Find(&sessions).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, total, nil
}

// RenameSession updates the session title
func (s *SessionService) RenameSession(ctx context.Context, sessionID uint, title string, requester *model.User) (*model.ChatSession, error) {
	session, err := s.GetSession(ctx, sessionID, requester)
	if err != nil {
		return nil, err
	}

	session.Title = title
	if err := s.db.WithContext(ctx).Model(session).Update("title", title).Error; err != nil {
		return nil, fmt.Errorf("failed to rename session: %w", err)
	}
	return session, nil
}

// TransferSession assigns an anonymous session to the requester. The
// transfer is one-way: a session that already has an owner is never
// reassigned, not even to the same owner.
func (s *SessionService) TransferSession(ctx context.Context, sessionID uint, requester *model.User) (*model.ChatSession, error) {
	if requester == nil {
		return nil, ErrForbidden
	}

	var session model.ChatSession
	if err := s.db.WithContext(ctx).First(&session, sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch session: %w", err)
	}

	if !session.IsAnonymous() {
		return nil, ErrConflict
	}

	// Guard against a concurrent transfer claiming the session first
	res := s.db.WithContext(ctx).
		Model(&model.ChatSession{}).
		Where("id = ? AND owner_id IS NULL", sessionID).
		Update("owner_id", requester.ID)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to transfer session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrConflict
	}

	session.OwnerID = &requester.ID
	return &session, nil
}

// DeleteSession removes a session and everything hanging off it
func (s *SessionService) DeleteSession(ctx context.Context, sessionID uint, requester *model.User) error {
	session, err := s.GetSession(ctx, sessionID, requester)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var messageIDs []uint
		if err := tx.Model(&model.ChatMessage{}).
			Where("session_id = ?", session.ID).
			Pluck("id", &messageIDs).Error; err != nil {
			return fmt.Errorf("failed to collect messages: %w", err)
		}

		if len(messageIDs) > 0 {
			if err := tx.Where("message_id IN ?", messageIDs).Delete(&model.Attachment{}).Error; err != nil {
				return fmt.Errorf("failed to delete attachments: %w", err)
			}
			if err := tx.Where("session_id = ?", session.ID).Delete(&model.ChatMessage{}).Error; err != nil {
				return fmt.Errorf("failed to delete messages: %w", err)
			}
		}

		if err := tx.Delete(session).Error; err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		return nil
	})
}

// ListMessages returns a session's messages ordered by creation time
func (s *SessionService) ListMessages(ctx context.Context, sessionID uint, requester *model.User, limit, offset int) ([]model.ChatMessage, int64, error) {
	if _, err := s.GetSession(ctx, sessionID, requester); err != nil {
		return nil, 0, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&model.ChatMessage{}).
		Where("session_id = ?", sessionID).
		Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	var messages []model.ChatMessage
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Offset(offset).
		Preload("Attachments").
		Find(&messages).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, total, nil
}

// AppendMessage stores a single message in a session
func (s *SessionService) AppendMessage(ctx context.Context, sessionID uint, requester *model.User, msg *model.ChatMessage) (*model.ChatMessage, error) {
	if _, err := s.GetSession(ctx, sessionID, requester); err != nil {
		return nil, err
	}

	msg.SessionID = sessionID
	if msg.Status == "" {
		msg.Status = model.MessageStatusSent
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		now := time.Now()
		return tx.Model(&model.ChatSession{}).
			Where("id = ?", sessionID).
			Updates(map[string]interface{}{
				"message_count":   gorm.Expr("message_count + ?", 1),
				"last_message_at": now,
			}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	return msg, nil
}

// GetMessage loads one message, checking session access
func (s *SessionService) GetMessage(ctx context.Context, messageID uint, requester *model.User) (*model.ChatMessage, error) {
	var msg model.ChatMessage
	if err := s.db.WithContext(ctx).Preload("Attachments").First(&msg, messageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch message: %w", err)
	}

	if _, err := s.GetSession(ctx, msg.SessionID, requester); err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetSessionForTurn implements TurnStore: the relay only needs existence
func (s *SessionService) GetSessionForTurn(ctx context.Context, sessionID uint) (*model.ChatSession, error) {
	var session model.ChatSession
	if err := s.db.WithContext(ctx).First(&session, sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch session: %w", err)
	}
	return &session, nil
}

// SaveTurn implements TurnStore: both messages of a turn land in one
// transaction together with the session counters
func (s *SessionService) SaveTurn(ctx context.Context, sessionID uint, userMsg, assistantMsg *model.ChatMessage) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		userMsg.SessionID = sessionID
		assistantMsg.SessionID = sessionID

		if err := tx.Create(userMsg).Error; err != nil {
			return fmt.Errorf("failed to save user message: %w", err)
		}
		if err := tx.Create(assistantMsg).Error; err != nil {
			return fmt.Errorf("failed to save assistant message: %w", err)
		}

		now := time.Now()
		return tx.Model(&model.ChatSession{}).
			Where("id = ?", sessionID).
			Updates(map[string]interface{}{
				"message_count":   gorm.Expr("message_count + ?", 2),
				"total_tokens":    gorm.Expr("total_tokens + ?", assistantMsg.TokensUsed),
				"last_message_at": now,
			}).Error
	})
}
