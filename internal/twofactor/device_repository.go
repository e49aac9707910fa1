package twofactor

import (
	"context"
	"errors"
	"time"

	"github.com/kinshiphq/kinship/model"
	"gorm.io/gorm"
)

type DeviceRepository interface {
	// Transaction runs fn against a repository bound to one transaction;
	// cap checks, eviction and inserts must share it to stay deterministic
	// under concurrent additions.
	Transaction(ctx context.Context, fn func(repo DeviceRepository) error) error
	Create(ctx context.Context, device *model.TrustedDevice) error
	GetByDeviceID(ctx context.Context, userID uint, deviceID string) (*model.TrustedDevice, error)
	// FindByFingerprint returns the unexpired device matching the request
	// fingerprint hashes, if any.
	FindByFingerprint(ctx context.Context, userID uint, ipHash, uaHash string) (*model.TrustedDevice, error)
	ListActive(ctx context.Context, userID uint) ([]*model.TrustedDevice, error)
	CountActive(ctx context.Context, userID uint) (int64, error)
	// DeleteOldest evicts the single oldest active device by created_at.
	DeleteOldest(ctx context.Context, userID uint) error
	Updates(ctx context.Context, id uint, columns map[string]interface{}) error
	Delete(ctx context.Context, userID uint, deviceID string) (bool, error)
	DeleteAll(ctx context.Context, userID uint) error
	DeleteExpired(ctx context.Context) (int64, error)
}

type deviceRepository struct {
	db *gorm.DB
}

func (r *deviceRepository) Transaction(ctx context.Context, fn func(repo DeviceRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&deviceRepository{db: tx})
	})
}

func (r *deviceRepository) Create(ctx context.Context, device *model.TrustedDevice) error {
	return r.db.WithContext(ctx).Create(device).Error
}

func (r *deviceRepository) GetByDeviceID(ctx context.Context, userID uint, deviceID string) (*model.TrustedDevice, error) {
	var device model.TrustedDevice
	err := r.db.WithContext(ctx).
		First(&device, "user_id = ? AND device_id = ?", userID, deviceID).Error
	if err != nil {
		return nil, err
	}
	return &device, nil
}

func (r *deviceRepository) FindByFingerprint(ctx context.Context, userID uint, ipHash, uaHash string) (*model.TrustedDevice, error) {
	var device model.TrustedDevice
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND ip_hash = ? AND ua_hash = ? AND expires_at > ?", userID, ipHash, uaHash, time.Now()).
		First(&device).Error
	if err != nil {
		return nil, err
	}
	return &device, nil
}

func (r *deviceRepository) ListActive(ctx context.Context, userID uint) ([]*model.TrustedDevice, error) {
	var devices []*model.TrustedDevice
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND expires_at > ?", userID, time.Now()).
		Order("created_at ASC").
		Find(&devices).Error
	return devices, err
}

func (r *deviceRepository) CountActive(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.TrustedDevice{}).
		Where("user_id = ? AND expires_at > ?", userID, time.Now()).
		Count(&count).Error
	return count, err
}

func (r *deviceRepository) DeleteOldest(ctx context.Context, userID uint) error {
	var oldest model.TrustedDevice
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND expires_at > ?", userID, time.Now()).
		Order("created_at ASC").
		First(&oldest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Delete(&oldest).Error
}

func (r *deviceRepository) Updates(ctx context.Context, id uint, columns map[string]interface{}) error {
	return r.db.WithContext(ctx).
		Model(&model.TrustedDevice{}).
		Where("id = ?", id).
		Updates(columns).Error
}

func (r *deviceRepository) Delete(ctx context.Context, userID uint, deviceID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND device_id = ?", userID, deviceID).
		Delete(&model.TrustedDevice{})
	return result.RowsAffected == 1, result.Error
}

func (r *deviceRepository) DeleteAll(ctx context.Context, userID uint) error {
	return r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&model.TrustedDevice{}).Error
}

func (r *deviceRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at < ?", time.Now()).
		Delete(&model.TrustedDevice{})
	return result.RowsAffected, result.Error
}

func NewDeviceRepository(db *gorm.DB) DeviceRepository {
	return &deviceRepository{db}
}
