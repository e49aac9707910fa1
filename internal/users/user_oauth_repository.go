package users

import (
	"context"

	"github.com/kinshiphq/kinship/model"
	"gorm.io/gorm"
)

type UserOAuthRepository interface {
	Create(ctx context.Context, link *model.UserOAuth) error
	GetBySubject(ctx context.Context, provider, subject string) (*model.UserOAuth, error)
}

type userOAuthRepository struct {
	db *gorm.DB
}

func (r *userOAuthRepository) Create(ctx context.Context, link *model.UserOAuth) error {
	return r.db.WithContext(ctx).Create(link).Error
}

func (r *userOAuthRepository) GetBySubject(ctx context.Context, provider, subject string) (*model.UserOAuth, error) {
	var link model.UserOAuth
	err := r.db.WithContext(ctx).First(&link, "provider = ? AND subject = ?", provider, subject).Error
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func NewUserOAuthRepository(db *gorm.DB) UserOAuthRepository {
	return &userOAuthRepository{db}
}
