// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the upload
// audit trail.
package repo

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-relay/internal/domain"
)

// CreateUpload inserts an upload record. An empty ID is filled with a UUID.
func CreateUpload(ctx context.Context, db *gorm.DB, up *domain.Upload) error {
	if up.ID == "" {
		up.ID = uuid.NewString()
	}
	return db.WithContext(ctx).Create(up).Error
}

// GetUpload fetches an upload owned by userID, or ErrNotFound.
func GetUpload(ctx context.Context, db *gorm.DB, id string, userID int64) (*domain.Upload, error) {
	var up domain.Upload
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&up).Error
	if err != nil {
		return nil, err
	}
	return &up, nil
}

// CountUploads returns the number of uploads recorded for userID.
func CountUploads(ctx context.Context, db *gorm.DB, userID int64) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Upload{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// ListUploadsPage returns a page of uploads for userID, newest first.
func ListUploadsPage(ctx context.Context, db *gorm.DB, userID int64, offset, limit int) ([]domain.Upload, error) {
	var out []domain.Upload
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc, id desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
