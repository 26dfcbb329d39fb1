// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// per-session conversation transcript.
package repo

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-relay/internal/domain"
)

// AppendMessage inserts a new transcript row.
func AppendMessage(db *gorm.DB, sessionID, role, content string) (*domain.ConversationMessage, error) {
	m := &domain.ConversationMessage{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	return m, db.Create(m).Error
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(db *gorm.DB, sessionID string) (int64, error) {
	var total int64
	err := db.Raw("SELECT COUNT(*) FROM conversation_messages WHERE session_id = ?", sessionID).Scan(&total).Error
	return total, err
}

// ListMessagesPage returns a paginated slice ordered (CreatedAt ASC, ID ASC).
func ListMessagesPage(db *gorm.DB, sessionID string, offset, limit int) ([]domain.ConversationMessage, error) {
	var out []domain.ConversationMessage
	err := db.
		Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// DeleteMessages removes the whole transcript of a session.
func DeleteMessages(db *gorm.DB, sessionID string) (int64, error) {
	res := db.Where("session_id = ?", sessionID).Delete(&domain.ConversationMessage{})
	return res.RowsAffected, res.Error
}
