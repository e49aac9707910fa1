package model

import (
	"time"

	"gorm.io/gorm"
)

const (
	CircleRoleOwner = "owner"
	CircleRoleAdult = "adult"
	CircleRoleChild = "child"
)

// Circle is a private group of users sharing keeps.
type Circle struct {
	ID        uint   `gorm:"primarykey"`
	Name      string `gorm:"size:64;not null"`
	OwnerID   uint   `gorm:"index;not null"`
	Picture   string `gorm:"size:256;not null;default:''"`
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (c *Circle) BeforeCreate(tx *gorm.DB) error {
	if c.ID == 0 {
		c.ID = GenerateID()
	}
	return nil
}

type CircleMember struct {
	ID        uint   `gorm:"primarykey"`
	CircleID  uint   `gorm:"not null;index:idx_circle_member,unique"`
	UserID    uint   `gorm:"not null;index:idx_circle_member,unique"`
	Role      string `gorm:"size:16;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (m *CircleMember) BeforeCreate(tx *gorm.DB) error {
	if m.ID == 0 {
		m.ID = GenerateID()
	}
	return nil
}

// CircleInvite is a mailed invitation to join a circle. Accepting consumes
// the token; expired invites are reclaimed by the cleanup job.
type CircleInvite struct {
	ID        uint   `gorm:"primarykey"`
	CircleID  uint   `gorm:"index;not null"`
	Email     string `gorm:"size:256;not null;index"`
	Role      string `gorm:"size:16;not null"`
	Token     string `gorm:"size:64;uniqueIndex;not null"`
	InvitedBy uint   `gorm:"not null"`
	Accepted  bool   `gorm:"default:false;not null"`
	ExpiresAt time.Time
	CreatedAt time.Time
}

func (i *CircleInvite) BeforeCreate(tx *gorm.DB) error {
	if i.ID == 0 {
		i.ID = GenerateID()
	}
	return nil
}

func (i *CircleInvite) IsExpired() bool {
	return i.ExpiresAt.Before(time.Now())
}
