package media

import (
	"context"

	"github.com/kinshiphq/kinship/model"
	"gorm.io/gorm"
)

type AssetRepository interface {
	Create(ctx context.Context, asset *model.MediaAsset) error
	GetByID(ctx context.Context, assetID uint) (*model.MediaAsset, error)
	Updates(ctx context.Context, assetID uint, columns map[string]interface{}) error
	// MarkUploaded flips pending → uploaded exactly once.
	MarkUploaded(ctx context.Context, assetID uint, sizeBytes int64) (bool, error)
	Delete(ctx context.Context, assetID uint) error
}

type assetRepository struct {
	db *gorm.DB
}

func (r *assetRepository) Create(ctx context.Context, asset *model.MediaAsset) error {
	return r.db.WithContext(ctx).Create(asset).Error
}

func (r *assetRepository) GetByID(ctx context.Context, assetID uint) (*model.MediaAsset, error) {
	var asset model.MediaAsset
	err := r.db.WithContext(ctx).First(&asset, "id = ?", assetID).Error
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

func (r *assetRepository) Updates(ctx context.Context, assetID uint, columns map[string]interface{}) error {
	return r.db.WithContext(ctx).
		Model(&model.MediaAsset{}).
		Where("id = ?", assetID).
		Updates(columns).Error
}

func (r *assetRepository) MarkUploaded(ctx context.Context, assetID uint, sizeBytes int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.MediaAsset{}).
		Where("id = ? AND status = ?", assetID, model.MediaStatusPending).
		Updates(map[string]interface{}{
			"status":     model.MediaStatusUploaded,
			"size_bytes": sizeBytes,
		})
	return result.RowsAffected == 1, result.Error
}

func (r *assetRepository) Delete(ctx context.Context, assetID uint) error {
	return r.db.WithContext(ctx).Delete(&model.MediaAsset{}, "id = ?", assetID).Error
}

func NewAssetRepository(db *gorm.DB) AssetRepository {
	return &assetRepository{db}
}
