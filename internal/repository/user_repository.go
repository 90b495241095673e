package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"planner-sync/internal/model"
)

// UserRepository handles users linked to Telegram chats.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// LinkTelegram binds telegramID to userID, creating the user row when needed.
// A chat previously linked to another user is released first.
func (r *UserRepository) LinkTelegram(ctx context.Context, userID string, telegramID int64, firstName, lastName, username string) (*model.User, error) {
	db := r.db.WithContext(ctx)
	if err := db.Model(&model.User{}).
		Where("telegram_id = ? AND id <> ?", telegramID, userID).
		Update("telegram_id", nil).Error; err != nil {
		return nil, fmt.Errorf("release telegram id: %w", err)
	}

	user := model.User{
		ID:         userID,
		TelegramID: &telegramID,
		FirstName:  firstName,
		LastName:   lastName,
		Username:   username,
	}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"telegram_id", "first_name", "last_name", "username", "updated_at"}),
	}).Create(&user).Error
	if err != nil {
		return nil, fmt.Errorf("link user: %w", err)
	}
	return &user, nil
}

func (r *UserRepository) FindByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// ListLinked returns users that have a Telegram chat attached.
func (r *UserRepository) ListLinked(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := r.db.WithContext(ctx).Where("telegram_id IS NOT NULL").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}
