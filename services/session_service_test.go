package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/hierenlab/hieren-api/model"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func ownedSession(ownerID uint) *model.ChatSession {
	return &model.ChatSession{ID: 1, OwnerID: &ownerID}
}

func TestAuthorize(t *testing.T) {
	user := &model.User{ID: 10, Role: "user"}
	otherUser := &model.User{ID: 11, Role: "user"}
	admin := &model.User{ID: 12, Role: "admin"}
	anonymous := &model.ChatSession{ID: 2}

	cases := []struct {
		name      string
		session   *model.ChatSession
		requester *model.User
		want      error
	}{
		{"nil session", nil, user, ErrNotFound},
		{"anonymous open to anyone", anonymous, nil, nil},
		{"anonymous open to authenticated", anonymous, user, nil},
		{"owned rejects anonymous requester", ownedSession(10), nil, ErrForbidden},
		{"owned allows owner", ownedSession(10), user, nil},
		{"owned rejects other user", ownedSession(10), otherUser, ErrForbidden},
		{"owned allows admin", ownedSession(10), admin, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Authorize(tc.session, tc.requester)
			if !errors.Is(err, tc.want) && err != tc.want {
				t.Errorf("Authorize = %v, want %v", err, tc.want)
			}
		})
	}
}

// An anonymous caller owns no sessions, so the listing answers with an
// empty page instead of an error. The branch never reaches the database.
func TestListSessionsAnonymousGetsEmptyPage(t *testing.T) {
	svc := NewSessionService(nil)

	sessions, total, err := svc.ListSessions(context.Background(), nil, 20, 0)
	if err != nil {
		t.Fatalf("ListSessions for anonymous requester = %v, want nil", err)
	}
	if total != 0 {
		t.Errorf("total = %d, want 0", total)
	}
	if len(sessions) != 0 {
		t.Errorf("got %d sessions, want 0", len(sessions))
	}
}

// setupSessionTestDB connects to the test database and migrates the chat
// schema. Integration tests use the database configured through the usual
// DB_* environment variables.
func setupSessionTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	if os.Getenv("RUN_INTEGRATION_TESTS") != "true" {
		t.Skip("Skipping integration test. Set RUN_INTEGRATION_TESTS=true to run")
	}

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		envOr("DB_HOST", "localhost"),
		envOr("DB_USER_NAME", "postgres"),
		envOr("DB_PASSWORD", "postgres"),
		envOr("DB_NAME", "hieren_test"),
		envOr("DB_PORT", "5432"),
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}

	if err := db.AutoMigrate(&model.User{}, &model.ChatSession{}, &model.ChatMessage{}, &model.Attachment{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func createTestUser(t *testing.T, db *gorm.DB, email string) *model.User {
	t.Helper()
	user := &model.User{
		Email:        fmt.Sprintf("%d-%s", time.Now().UnixNano(), email),
		PasswordHash: "x",
		Name:         "Test User",
		Role:         "user",
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	t.Cleanup(func() { db.Unscoped().Delete(user) })
	return user
}

func TestTransferSessionIntegration(t *testing.T) {
	db := setupSessionTestDB(t)
	svc := NewSessionService(db)
	ctx := context.Background()

	user := createTestUser(t, db, "transfer@test.local")

	session, err := svc.CreateSession(ctx, CreateSessionRequest{Title: "anon"}, nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	t.Cleanup(func() { db.Unscoped().Delete(session) })

	if !session.IsAnonymous() {
		t.Fatal("session created with a requester of nil is not anonymous")
	}

	claimed, err := svc.TransferSession(ctx, session.ID, user)
	if err != nil {
		t.Fatalf("TransferSession: %v", err)
	}
	if claimed.OwnerID == nil || *claimed.OwnerID != user.ID {
		t.Errorf("OwnerID = %v, want %d", claimed.OwnerID, user.ID)
	}

	// Transfer is one-way: a second claim conflicts, even by the same user
	if _, err := svc.TransferSession(ctx, session.ID, user); !errors.Is(err, ErrConflict) {
		t.Errorf("second transfer = %v, want ErrConflict", err)
	}

	other := createTestUser(t, db, "other@test.local")
	if _, err := svc.TransferSession(ctx, session.ID, other); !errors.Is(err, ErrConflict) {
		t.Errorf("transfer of owned session = %v, want ErrConflict", err)
	}

	// The new owner's access holds, a stranger's does not
	if _, err := svc.GetSession(ctx, session.ID, user); err != nil {
		t.Errorf("owner GetSession: %v", err)
	}
	if _, err := svc.GetSession(ctx, session.ID, other); !errors.Is(err, ErrForbidden) {
		t.Errorf("stranger GetSession = %v, want ErrForbidden", err)
	}
}

func TestDeleteSessionCascadesIntegration(t *testing.T) {
	db := setupSessionTestDB(t)
	svc := NewSessionService(db)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, CreateSessionRequest{Title: "doomed"}, nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	msg, err := svc.AppendMessage(ctx, session.ID, nil, &model.ChatMessage{
		Role:    model.MessageRoleUser,
		Content: model.TextBlocks("hello"),
	})
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	attachment := &model.Attachment{
		MessageID:   msg.ID,
		Type:        model.AttachmentTypeImage,
		Filename:    "x.png",
		ContentType: "image/png",
		SizeBytes:   3,
		InlineData:  "aGk=",
	}
	if err := db.Create(attachment).Error; err != nil {
		t.Fatalf("create attachment: %v", err)
	}

	if err := svc.DeleteSession(ctx, session.ID, nil); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	if _, err := svc.GetSession(ctx, session.ID, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSession after delete = %v, want ErrNotFound", err)
	}

	var msgCount, attCount int64
	db.Model(&model.ChatMessage{}).Where("session_id = ?", session.ID).Count(&msgCount)
	db.Model(&model.Attachment{}).Where("message_id = ?", msg.ID).Count(&attCount)
	if msgCount != 0 || attCount != 0 {
		t.Errorf("cascade left %d messages and %d attachments behind", msgCount, attCount)
	}
}

func TestSaveTurnCountersIntegration(t *testing.T) {
	db := setupSessionTestDB(t)
	svc := NewSessionService(db)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, CreateSessionRequest{Title: "counters"}, nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	t.Cleanup(func() { svc.DeleteSession(ctx, session.ID, nil) })

	userMsg := &model.ChatMessage{Role: model.MessageRoleUser, Content: model.TextBlocks("q")}
	assistantMsg := &model.ChatMessage{
		Role:       model.MessageRoleAssistant,
		Content:    model.TextBlocks("a"),
		TokensUsed: 25,
	}
	if err := svc.SaveTurn(ctx, session.ID, userMsg, assistantMsg); err != nil {
		t.Fatalf("SaveTurn: %v", err)
	}

	reloaded, err := svc.GetSession(ctx, session.ID, nil)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if reloaded.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", reloaded.MessageCount)
	}
	if reloaded.TotalTokens != 25 {
		t.Errorf("TotalTokens = %d, want 25", reloaded.TotalTokens)
	}
	if reloaded.LastMessageAt == nil {
		t.Error("LastMessageAt not set after SaveTurn")
	}

	messages, total, err := svc.ListMessages(ctx, session.ID, nil, 10, 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if total != 2 || len(messages) != 2 {
		t.Fatalf("ListMessages returned %d/%d, want 2", len(messages), total)
	}
	if messages[0].Role != model.MessageRoleUser || messages[1].Role != model.MessageRoleAssistant {
		t.Errorf("messages out of order: %s, %s", messages[0].Role, messages[1].Role)
	}
}
