package model

import (
	"time"

	"gorm.io/gorm"
)

const (
	KeepTypeNote      = "note"
	KeepTypePhoto     = "photo"
	KeepTypeVideo     = "video"
	KeepTypeMilestone = "milestone"
)

// Keep is a shared memory inside a circle: a note, photo, video or milestone.
type Keep struct {
	ID         uint   `gorm:"primarykey"`
	CircleID   uint   `gorm:"index:idx_keep_circle;not null"`
	AuthorID   uint   `gorm:"index;not null"`
	Type       string `gorm:"size:16;not null"`
	Title      string `gorm:"size:256;not null;default:''"`
	Body       string `gorm:"type:text"`
	HappenedAt *time.Time
	Assets     []MediaAsset `gorm:"foreignKey:KeepID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	CreatedAt  time.Time    `gorm:"index:idx_keep_circle"`
	UpdatedAt  time.Time
	DeletedAt  gorm.DeletedAt `gorm:"index"`
}

func (k *Keep) BeforeCreate(tx *gorm.DB) error {
	if k.ID == 0 {
		k.ID = GenerateID()
	}
	return nil
}

const (
	MediaStatusPending  = "pending"  // presigned upload issued, not yet confirmed
	MediaStatusUploaded = "uploaded" // upload confirmed, thumbnail job queued
	MediaStatusReady    = "ready"    // thumbnail generated
)

// MediaAsset is a blob-store object attached to a keep. The row tracks the
// storage key and processing status; bytes live in the blob store only.
type MediaAsset struct {
	ID          uint   `gorm:"primarykey"`
	KeepID      uint   `gorm:"index;not null"`
	UploaderID  uint   `gorm:"not null"`
	StorageKey  string `gorm:"size:256;uniqueIndex;not null"`
	ThumbKey    string `gorm:"size:256;not null;default:''"`
	ContentType string `gorm:"size:64;not null"`
	SizeBytes   int64  `gorm:"not null;default:0"`
	Status      string `gorm:"size:16;not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (a *MediaAsset) BeforeCreate(tx *gorm.DB) error {
	if a.ID == 0 {
		a.ID = GenerateID()
	}
	return nil
}
