// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for login sessions.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-relay/internal/domain"
)

// CreateSession inserts a session for userID valid for ttl from now.
func CreateSession(ctx context.Context, db *gorm.DB, userID int64, ttl time.Duration) (*domain.Session, error) {
	now := time.Now().UTC()
	s := &domain.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

// GetSession loads a session by ID regardless of state, or ErrNotFound.
func GetSession(ctx context.Context, db *gorm.DB, id string) (*domain.Session, error) {
	var s domain.Session
	if err := db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// RevokeSession stamps revoked_at on a still-active session. Revoking an
// already revoked session is a no-op; an unknown ID yields ErrNotFound.
func RevokeSession(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Update("revoked_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := db.WithContext(ctx).Model(&domain.Session{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
	}
	return nil
}

// DeleteExpiredSessions removes sessions that expired before cutoff, along
// with their transcripts. It returns the number of sessions removed.
func DeleteExpiredSessions(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		expired := tx.Model(&domain.Session{}).Select("id").Where("expires_at < ?", cutoff)
		if err := tx.Where("session_id IN (?)", expired).Delete(&domain.ConversationMessage{}).Error; err != nil {
			return err
		}
		res := tx.Where("expires_at < ?", cutoff).Delete(&domain.Session{})
		n = res.RowsAffected
		return res.Error
	})
	return n, err
}
