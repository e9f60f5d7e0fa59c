package cron

import (
	"fmt"
	"time"

	"github.com/hierenlab/hieren-api/model"
)

// AnonymousSessionRetention is how long an ownerless session survives
// without activity before the purge claims it
const AnonymousSessionRetention = 30 * 24 * time.Hour

// PurgeExpiredTokens removes blacklist rows whose tokens have expired anyway
func (m *CronManager) PurgeExpiredTokens() {
	result := m.db.Unscoped().
		Where("expires_at < ?", time.Now()).
		Delete(&model.JWTTokenBlacklist{})

	if result.Error != nil {
		m.logJobError("purge_expired_tokens", result.Error)
		return
	}

	m.logJobComplete("purge_expired_tokens", fmt.Sprintf("removed %d expired rows", result.RowsAffected))
}

// PurgeStaleAnonymousSessions deletes anonymous sessions idle beyond the
// retention window, together with their messages and attachments
func (m *CronManager) PurgeStaleAnonymousSessions() {
	cutoff := time.Now().Add(-AnonymousSessionRetention)

	var sessionIDs []uint
	err := m.db.Model(&model.ChatSession{}).
		Where("owner_id IS NULL").
		Where("COALESCE(last_message_at, created_at) < ?", cutoff).
		Pluck("id", &sessionIDs).Error
	if err != nil {
		m.logJobError("purge_stale_anonymous_sessions", err)
		return
	}

	if len(sessionIDs) == 0 {
		m.logJobComplete("purge_stale_anonymous_sessions", "nothing to purge")
		return
	}

	var messageIDs []uint
	if err := m.db.Model(&model.ChatMessage{}).
		Where("session_id IN ?", sessionIDs).
		Pluck("id", &messageIDs).Error; err != nil {
		m.logJobError("purge_stale_anonymous_sessions", err)
		return
	}

	if len(messageIDs) > 0 {
		if err := m.db.Unscoped().Where("message_id IN ?", messageIDs).Delete(&model.Attachment{}).Error; err != nil {
			m.logJobError("purge_stale_anonymous_sessions", err)
			return
		}
		if err := m.db.Unscoped().Where("session_id IN ?", sessionIDs).Delete(&model.ChatMessage{}).Error; err != nil {
			m.logJobError("purge_stale_anonymous_sessions", err)
			return
		}
	}

	result := m.db.Unscoped().Where("id IN ?", sessionIDs).Delete(&model.ChatSession{})
	if result.Error != nil {
		m.logJobError("purge_stale_anonymous_sessions", result.Error)
		return
	}

	m.logJobComplete("purge_stale_anonymous_sessions", fmt.Sprintf("removed %d sessions", result.RowsAffected))
}
