// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for credential
// records (the users table).
//
// Error semantics follow the rest of the package: a missing row yields
// ErrNotFound, any other driver error is propagated unchanged.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/go-chat-relay/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateUser inserts a credential record with an already-hashed password.
func CreateUser(ctx context.Context, db *gorm.DB, name, passwordHash string) (*domain.User, error) {
	u := &domain.User{Name: name, PasswordHash: passwordHash}
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		return nil, err
	}
	return u, nil
}

// FindUsersByName returns every record whose name matches exactly, oldest
// first. Names are not unique, so callers check each candidate's password.
func FindUsersByName(ctx context.Context, db *gorm.DB, name string) ([]domain.User, error) {
	var out []domain.User
	err := db.WithContext(ctx).
		Where("name = ?", name).
		Order("id asc").
		Find(&out).Error
	return out, err
}

// GetUser fetches a record by primary key, or ErrNotFound.
func GetUser(ctx context.Context, db *gorm.DB, id int64) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// MarkUploaded sets has_uploaded=true on the record keyed by (id, name).
// It returns ErrNotFound when no row matched.
func MarkUploaded(ctx context.Context, db *gorm.DB, id int64, name string) error {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ? AND name = ?", id, name).
		Update("has_uploaded", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPasswordHash replaces the stored hash of the first record named name,
// creating the record when none exists. Used by the seeding tool.
func SetPasswordHash(ctx context.Context, db *gorm.DB, name, passwordHash string) (*domain.User, bool, error) {
	var u domain.User
	err := db.WithContext(ctx).Where("name = ?", name).Order("id asc").First(&u).Error
	switch {
	case err == nil:
		if err := db.WithContext(ctx).Model(&u).Update("password_hash", passwordHash).Error; err != nil {
			return nil, false, err
		}
		u.PasswordHash = passwordHash
		return &u, false, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		created, err := CreateUser(ctx, db, name, passwordHash)
		return created, true, err
	default:
		return nil, false, err
	}
}
