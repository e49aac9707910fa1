package keeps

import (
	"context"

	"github.com/kinshiphq/kinship/model"
	"gorm.io/gorm"
)

type KeepRepository interface {
	Create(ctx context.Context, keep *model.Keep) error
	GetByID(ctx context.Context, keepID uint) (*model.Keep, error)
	// ListByCircle returns up to limit keeps newest-first, starting strictly
	// after the cursor ID when one is given.
	ListByCircle(ctx context.Context, circleID uint, cursorID uint, limit int) ([]*model.Keep, error)
	Updates(ctx context.Context, keepID uint, columns map[string]interface{}) error
	Delete(ctx context.Context, keepID uint) error
}

type keepRepository struct {
	db *gorm.DB
}

func (r *keepRepository) Create(ctx context.Context, keep *model.Keep) error {
	return r.db.WithContext(ctx).Create(keep).Error
}

func (r *keepRepository) GetByID(ctx context.Context, keepID uint) (*model.Keep, error) {
	var keep model.Keep
	err := r.db.WithContext(ctx).
		Preload("Assets").
		First(&keep, "id = ?", keepID).Error
	if err != nil {
		return nil, err
	}
	return &keep, nil
}

func (r *keepRepository) ListByCircle(ctx context.Context, circleID uint, cursorID uint, limit int) ([]*model.Keep, error) {
	query := r.db.WithContext(ctx).
		Preload("Assets").
		Where("circle_id = ?", circleID)
	if cursorID > 0 {
		// snowflake IDs are time-ordered, so the ID doubles as the cursor
		query = query.Where("id < ?", cursorID)
	}
	var keeps []*model.Keep
	err := query.Order("id DESC").Limit(limit).Find(&keeps).Error
	return keeps, err
}

func (r *keepRepository) Updates(ctx context.Context, keepID uint, columns map[string]interface{}) error {
	return r.db.WithContext(ctx).
		Model(&model.Keep{}).
		Where("id = ?", keepID).
		Updates(columns).Error
}

func (r *keepRepository) Delete(ctx context.Context, keepID uint) error {
	return r.db.WithContext(ctx).Delete(&model.Keep{}, "id = ?", keepID).Error
}

func NewKeepRepository(db *gorm.DB) KeepRepository {
	return &keepRepository{db}
}
