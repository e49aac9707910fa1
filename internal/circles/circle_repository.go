package circles

import (
	"context"
	"time"

	"github.com/kinshiphq/kinship/model"
	"gorm.io/gorm"
)

type CircleRepository interface {
	Transaction(ctx context.Context, fn func(repo CircleRepository) error) error
	Create(ctx context.Context, circle *model.Circle) error
	GetByID(ctx context.Context, circleID uint) (*model.Circle, error)
	ListByUser(ctx context.Context, userID uint) ([]*model.Circle, error)
	Delete(ctx context.Context, circleID uint) error

	AddMember(ctx context.Context, member *model.CircleMember) error
	GetMember(ctx context.Context, circleID, userID uint) (*model.CircleMember, error)
	ListMembers(ctx context.Context, circleID uint) ([]*model.CircleMember, error)
	UpdateMemberRole(ctx context.Context, circleID, userID uint, role string) error
	RemoveMember(ctx context.Context, circleID, userID uint) (bool, error)

	CreateInvite(ctx context.Context, invite *model.CircleInvite) error
	GetInviteByToken(ctx context.Context, token string) (*model.CircleInvite, error)
	// AcceptInvite flips the accepted flag exactly once.
	AcceptInvite(ctx context.Context, id uint) (bool, error)
	DeleteExpiredInvites(ctx context.Context) (int64, error)
}

type circleRepository struct {
	db *gorm.DB
}

func (r *circleRepository) Transaction(ctx context.Context, fn func(repo CircleRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&circleRepository{db: tx})
	})
}

func (r *circleRepository) Create(ctx context.Context, circle *model.Circle) error {
	return r.db.WithContext(ctx).Create(circle).Error
}

func (r *circleRepository) GetByID(ctx context.Context, circleID uint) (*model.Circle, error) {
	var circle model.Circle
	err := r.db.WithContext(ctx).First(&circle, "id = ?", circleID).Error
	if err != nil {
		return nil, err
	}
	return &circle, nil
}

func (r *circleRepository) ListByUser(ctx context.Context, userID uint) ([]*model.Circle, error) {
	var circles []*model.Circle
	err := r.db.WithContext(ctx).
		Joins("JOIN circle_members ON circle_members.circle_id = circles.id").
		Where("circle_members.user_id = ?", userID).
		Order("circles.created_at ASC").
		Find(&circles).Error
	return circles, err
}

func (r *circleRepository) Delete(ctx context.Context, circleID uint) error {
	return r.db.WithContext(ctx).Delete(&model.Circle{}, "id = ?", circleID).Error
}

func (r *circleRepository) AddMember(ctx context.Context, member *model.CircleMember) error {
	return r.db.WithContext(ctx).Create(member).Error
}

func (r *circleRepository) GetMember(ctx context.Context, circleID, userID uint) (*model.CircleMember, error) {
	var member model.CircleMember
	err := r.db.WithContext(ctx).
		First(&member, "circle_id = ? AND user_id = ?", circleID, userID).Error
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *circleRepository) ListMembers(ctx context.Context, circleID uint) ([]*model.CircleMember, error) {
	var members []*model.CircleMember
	err := r.db.WithContext(ctx).
		Where("circle_id = ?", circleID).
		Order("created_at ASC").
		Find(&members).Error
	return members, err
}

func (r *circleRepository) UpdateMemberRole(ctx context.Context, circleID, userID uint, role string) error {
	return r.db.WithContext(ctx).
		Model(&model.CircleMember{}).
		Where("circle_id = ? AND user_id = ?", circleID, userID).
		Update("role", role).Error
}

func (r *circleRepository) RemoveMember(ctx context.Context, circleID, userID uint) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("circle_id = ? AND user_id = ?", circleID, userID).
		Delete(&model.CircleMember{})
	return result.RowsAffected == 1, result.Error
}

func (r *circleRepository) CreateInvite(ctx context.Context, invite *model.CircleInvite) error {
	return r.db.WithContext(ctx).Create(invite).Error
}

func (r *circleRepository) GetInviteByToken(ctx context.Context, token string) (*model.CircleInvite, error) {
	var invite model.CircleInvite
	err := r.db.WithContext(ctx).First(&invite, "token = ?", token).Error
	if err != nil {
		return nil, err
	}
	return &invite, nil
}

func (r *circleRepository) AcceptInvite(ctx context.Context, id uint) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.CircleInvite{}).
		Where("id = ? AND accepted = ?", id, false).
		Update("accepted", true)
	return result.RowsAffected == 1, result.Error
}

func (r *circleRepository) DeleteExpiredInvites(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at < ? AND accepted = ?", time.Now(), false).
		Delete(&model.CircleInvite{})
	return result.RowsAffected, result.Error
}

func NewCircleRepository(db *gorm.DB) CircleRepository {
	return &circleRepository{db}
}
