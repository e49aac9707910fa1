package model

import (
	"time"

	"gorm.io/gorm"
)

// User stores account information
type User struct {
	ID        uint        `gorm:"primarykey"`
	Username  string      `gorm:"uniqueIndex;size:32;not null"`
	FullName  string      `gorm:"size:64;not null"`
	Email     string      `gorm:"uniqueIndex;size:256;not null"`
	Password  string      `gorm:"size:64;not null"`
	Picture   string      `gorm:"size:256;not null"`
	Disabled  bool        `gorm:"default:false;not null"`
	OAuths    []UserOAuth `gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == 0 {
		u.ID = GenerateID()
	}
	return nil
}

// UserOAuth links a user account to an external identity provider.
type UserOAuth struct {
	ID         uint   `gorm:"primarykey"`
	UserID     uint   `gorm:"not null;index:idx_user_oauth,unique"`
	Provider   string `gorm:"size:32;not null;index:idx_user_oauth,unique"`
	Subject    string `gorm:"size:128;not null;index"`
	Email      string `gorm:"size:256;not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (o *UserOAuth) BeforeCreate(tx *gorm.DB) error {
	if o.ID == 0 {
		o.ID = GenerateID()
	}
	return nil
}
