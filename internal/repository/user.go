// Package repository implements the data access layer for the application.
package repository

import (
	"context"
	"errors"

	"spacechat/internal/cache"
	"spacechat/internal/models"

	"gorm.io/gorm"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetProfile(ctx context.Context, email string) (*models.User, error)
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository returns a new UserRepository implementation.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	user.Warnings = 0
	user.Blocked = false
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return models.NewValidationError("An account already exists for this email")
		}
		return models.NewInternalError(err)
	}
	cache.InvalidateUser(ctx, user.Email)
	return nil
}

// GetByEmail always reads the store; use it where warnings and blocked must be current.
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := loadUser(r.db.WithContext(ctx), email)
	if err != nil {
		return nil, wrapStoreError(err)
	}
	return user, nil
}

// GetProfile is the cached read used for display.
func (r *userRepository) GetProfile(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := cache.Aside(ctx, cache.UserKey(email), &user, cache.UserTTL, func() error {
		loaded, err := loadUser(r.db.WithContext(ctx), email)
		if err != nil {
			return err
		}
		user = *loaded
		return nil
	})
	if err != nil {
		return nil, wrapStoreError(err)
	}
	return &user, nil
}

func loadUser(db *gorm.DB, email string) (*models.User, error) {
	var user models.User
	if err := db.Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("User", email)
		}
		return nil, err
	}
	return &user, nil
}
