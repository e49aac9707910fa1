package twofactor

import (
	"context"
	"time"

	"github.com/kinshiphq/kinship/model"
	"gorm.io/gorm"
)

type CodeRepository interface {
	Create(ctx context.Context, code *model.TwoFactorCode) error
	// InvalidateActive marks every unused code for the tuple as used and
	// expires it immediately, so a newly issued code is the only valid one.
	InvalidateActive(ctx context.Context, userID uint, method Method, purpose Purpose) error
	// FindValid returns the newest unused code matching the hash.
	FindValid(ctx context.Context, userID uint, codeHash string, purpose Purpose) (*model.TwoFactorCode, error)
	// IncrementAttempts bumps the attempt counter and returns the new value.
	IncrementAttempts(ctx context.Context, id uint) (int, error)
	// MarkUsed flips is_used exactly once; the second caller gets false.
	MarkUsed(ctx context.Context, id uint) (bool, error)
	CountCreatedSince(ctx context.Context, userID uint, since time.Time) (int64, error)
	FindNewestActive(ctx context.Context, userID uint, purpose Purpose) (*model.TwoFactorCode, error)
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type codeRepository struct {
	db *gorm.DB
}

func (r *codeRepository) Create(ctx context.Context, code *model.TwoFactorCode) error {
	return r.db.WithContext(ctx).Create(code).Error
}

func (r *codeRepository) InvalidateActive(ctx context.Context, userID uint, method Method, purpose Purpose) error {
	return r.db.WithContext(ctx).
		Model(&model.TwoFactorCode{}).
		Where("user_id = ? AND method = ? AND purpose = ? AND is_used = ?", userID, method.String(), string(purpose), false).
		Updates(map[string]interface{}{"is_used": true, "expires_at": time.Now()}).Error
}

func (r *codeRepository) FindValid(ctx context.Context, userID uint, codeHash string, purpose Purpose) (*model.TwoFactorCode, error) {
	var code model.TwoFactorCode
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND code_hash = ? AND purpose = ? AND is_used = ?", userID, codeHash, string(purpose), false).
		Order("created_at DESC").
		First(&code).Error
	if err != nil {
		return nil, err
	}
	return &code, nil
}

func (r *codeRepository) IncrementAttempts(ctx context.Context, id uint) (int, error) {
	err := r.db.WithContext(ctx).
		Model(&model.TwoFactorCode{}).
		Where("id = ?", id).
		UpdateColumn("attempts", gorm.Expr("attempts + 1")).Error
	if err != nil {
		return 0, err
	}
	var attempts int
	err = r.db.WithContext(ctx).
		Model(&model.TwoFactorCode{}).
		Where("id = ?", id).
		Pluck("attempts", &attempts).Error
	return attempts, err
}

func (r *codeRepository) MarkUsed(ctx context.Context, id uint) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.TwoFactorCode{}).
		Where("id = ? AND is_used = ?", id, false).
		Update("is_used", true)
	return result.RowsAffected == 1, result.Error
}

func (r *codeRepository) CountCreatedSince(ctx context.Context, userID uint, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.TwoFactorCode{}).
		Where("user_id = ? AND created_at > ?", userID, since).
		Count(&count).Error
	return count, err
}

func (r *codeRepository) FindNewestActive(ctx context.Context, userID uint, purpose Purpose) (*model.TwoFactorCode, error) {
	var code model.TwoFactorCode
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND purpose = ? AND is_used = ? AND expires_at > ?", userID, string(purpose), false, time.Now()).
		Order("created_at DESC").
		First(&code).Error
	if err != nil {
		return nil, err
	}
	return &code, nil
}

func (r *codeRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at < ?", cutoff).
		Delete(&model.TwoFactorCode{})
	return result.RowsAffected, result.Error
}

func NewCodeRepository(db *gorm.DB) CodeRepository {
	return &codeRepository{db}
}
