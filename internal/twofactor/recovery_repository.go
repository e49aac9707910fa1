package twofactor

import (
	"context"
	"time"

	"github.com/kinshiphq/kinship/model"
	"gorm.io/gorm"
)

type RecoveryRepository interface {
	CreateBatch(ctx context.Context, codes []*model.RecoveryCode) error
	// DeleteUnused drops every unconsumed code; used codes stay for history.
	DeleteUnused(ctx context.Context, userID uint) error
	FindUnused(ctx context.Context, userID uint) ([]*model.RecoveryCode, error)
	// Consume marks the code used exactly once; a concurrent second caller
	// gets false.
	Consume(ctx context.Context, id uint) (bool, error)
	CountUnused(ctx context.Context, userID uint) (int64, error)
}

type recoveryRepository struct {
	db *gorm.DB
}

func (r *recoveryRepository) CreateBatch(ctx context.Context, codes []*model.RecoveryCode) error {
	return r.db.WithContext(ctx).Create(codes).Error
}

func (r *recoveryRepository) DeleteUnused(ctx context.Context, userID uint) error {
	return r.db.WithContext(ctx).
		Where("user_id = ? AND is_used = ?", userID, false).
		Delete(&model.RecoveryCode{}).Error
}

func (r *recoveryRepository) FindUnused(ctx context.Context, userID uint) ([]*model.RecoveryCode, error) {
	var codes []*model.RecoveryCode
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_used = ?", userID, false).
		Find(&codes).Error
	return codes, err
}

func (r *recoveryRepository) Consume(ctx context.Context, id uint) (bool, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&model.RecoveryCode{}).
		Where("id = ? AND is_used = ?", id, false).
		Updates(map[string]interface{}{"is_used": true, "used_at": &now})
	return result.RowsAffected == 1, result.Error
}

func (r *recoveryRepository) CountUnused(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.RecoveryCode{}).
		Where("user_id = ? AND is_used = ?", userID, false).
		Count(&count).Error
	return count, err
}

func NewRecoveryRepository(db *gorm.DB) RecoveryRepository {
	return &recoveryRepository{db}
}
