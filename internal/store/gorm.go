package store

import (
	"context"
	"errors"
	"time"

	"github.com/newsplatform/backend/internal/models"
	"gorm.io/gorm"
)

// GormTokenStore implements TokenStore on a gorm-managed database.
type GormTokenStore struct {
	db *gorm.DB
}

func NewGormTokenStore(db *gorm.DB) *GormTokenStore {
	return &GormTokenStore{db: db}
}

func (s *GormTokenStore) Save(ctx context.Context, token *models.AuthToken) error {
	return s.db.WithContext(ctx).Create(token).Error
}

func (s *GormTokenStore) FindByValue(ctx context.Context, value string) (*models.AuthToken, error) {
	var tokens []models.AuthToken
	// Limit 2 is enough to distinguish "one" from "more than one".
	err := s.db.WithContext(ctx).
		Preload("User").
		Where("token_value = ?", value).
		Limit(2).
		Find(&tokens).Error
	if err != nil {
		return nil, err
	}

	switch len(tokens) {
	case 0:
		return nil, ErrTokenNotFound
	case 1:
		token := tokens[0]
		if token.User == nil {
			return nil, ErrOwnerUnavailable
		}
		return &token, nil
	default:
		return nil, ErrDuplicateValue
	}
}

func (s *GormTokenStore) FindAllByValue(ctx context.Context, value string) ([]models.AuthToken, error) {
	var tokens []models.AuthToken
	err := s.db.WithContext(ctx).
		Preload("User").
		Where("token_value = ?", value).
		Order("issued_at ASC").
		Find(&tokens).Error
	if err != nil {
		return nil, err
	}
	for i := range tokens {
		if tokens[i].User == nil {
			return nil, ErrOwnerUnavailable
		}
	}
	return tokens, nil
}

func (s *GormTokenStore) MarkRevoked(ctx context.Context, id string) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&models.AuthToken{}).
		Where("id = ? AND status = ?", id, models.TokenStatusActive).
		Update("status", models.TokenStatusRevoked)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *GormTokenStore) MarkAllRevokedForOwner(ctx context.Context, userID string) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&models.AuthToken{}).
		Where("user_id = ? AND status = ?", userID, models.TokenStatusActive).
		Update("status", models.TokenStatusRevoked)
	return result.RowsAffected, result.Error
}

func (s *GormTokenStore) IncrementUsage(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).
		Model(&models.AuthToken{}).
		Where("id = ?", id).
		Update("usage_count", gorm.Expr("usage_count + 1")).Error
}

func (s *GormTokenStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at < ? AND status <> ?", cutoff, models.TokenStatusActive).
		Delete(&models.AuthToken{})
	return result.RowsAffected, result.Error
}

func (s *GormTokenStore) CountActiveForOwner(ctx context.Context, userID, kind string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.AuthToken{}).
		Where("user_id = ? AND kind = ? AND status = ?", userID, kind, models.TokenStatusActive).
		Count(&count).Error
	return count, err
}

func (s *GormTokenStore) DuplicateValues(ctx context.Context) ([]string, error) {
	var values []string
	err := s.db.WithContext(ctx).
		Model(&models.AuthToken{}).
		Select("token_value").
		Group("token_value").
		Having("COUNT(*) > 1").
		Pluck("token_value", &values).Error
	return values, err
}

// GormUserStore implements UserStore on a gorm-managed database.
type GormUserStore struct {
	db *gorm.DB
}

func NewGormUserStore(db *gorm.DB) *GormUserStore {
	return &GormUserStore{db: db}
}

func (s *GormUserStore) FindByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *GormUserStore) FindByHandle(ctx context.Context, handle string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).
		Where("username = ? OR email = ?", handle, handle).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *GormUserStore) Create(ctx context.Context, user *models.User) error {
	return s.db.WithContext(ctx).Create(user).Error
}

func (s *GormUserStore) Save(ctx context.Context, user *models.User) error {
	return s.db.WithContext(ctx).Save(user).Error
}

func (s *GormUserStore) CountByRole(ctx context.Context, role string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("role = ?", role).
		Count(&count).Error
	return count, err
}
