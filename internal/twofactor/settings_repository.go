package twofactor

import (
	"context"
	"errors"

	"github.com/kinshiphq/kinship/model"
	"gorm.io/gorm"
)

type SettingsRepository interface {
	Get(ctx context.Context, userID uint) (*model.TwoFactorSettings, error)
	GetOrCreate(ctx context.Context, userID uint) (*model.TwoFactorSettings, error)
	Updates(ctx context.Context, userID uint, columns map[string]interface{}) error
}

type settingsRepository struct {
	db *gorm.DB
}

func (r *settingsRepository) Get(ctx context.Context, userID uint) (*model.TwoFactorSettings, error) {
	var settings model.TwoFactorSettings
	err := r.db.WithContext(ctx).First(&settings, "user_id = ?", userID).Error
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// GetOrCreate reads first and only inserts on absence. A concurrent insert
// loses to the unique index on user_id and falls back to the read.
func (r *settingsRepository) GetOrCreate(ctx context.Context, userID uint) (*model.TwoFactorSettings, error) {
	settings, err := r.Get(ctx, userID)
	if err == nil {
		return settings, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	created := &model.TwoFactorSettings{UserID: userID}
	if err := r.db.WithContext(ctx).Create(created).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return r.Get(ctx, userID)
		}
		return nil, err
	}
	return created, nil
}

func (r *settingsRepository) Updates(ctx context.Context, userID uint, columns map[string]interface{}) error {
	return r.db.WithContext(ctx).
		Model(&model.TwoFactorSettings{}).
		Where("user_id = ?", userID).
		Updates(columns).Error
}

func NewSettingsRepository(db *gorm.DB) SettingsRepository {
	return &settingsRepository{db}
}
