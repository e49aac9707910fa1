package model

import (
	"time"

	"gorm.io/gorm"
)

// TwoFactorSettings holds a user's 2FA configuration. One row per user,
// created lazily on first setup and soft-disabled rather than deleted.
type TwoFactorSettings struct {
	ID              uint   `gorm:"primarykey"`
	UserID          uint   `gorm:"uniqueIndex;not null"`
	IsEnabled       bool   `gorm:"default:false;not null"`
	PreferredMethod string `gorm:"size:16;not null;default:''"`
	TOTPSecret      string `gorm:"size:128;not null;default:''"` // encrypted at rest
	TOTPVerified    bool   `gorm:"default:false;not null"`
	PhoneNumber     string `gorm:"size:32;not null;default:''"`
	SMSVerified     bool   `gorm:"default:false;not null"`
	EmailVerified   bool   `gorm:"default:false;not null"`
	FailedAttempts  int    `gorm:"default:0;not null"`
	LockoutCount    int    `gorm:"default:0;not null"` // lockouts within the current failure run
	LastTOTPWindow  int64  `gorm:"default:0;not null"` // last accepted TOTP time step, blocks replay
	LockedUntil     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (s *TwoFactorSettings) BeforeCreate(tx *gorm.DB) error {
	if s.ID == 0 {
		s.ID = GenerateID()
	}
	return nil
}

// TwoFactorCode is a delivered one-time code. Only the HMAC of the code is
// stored; at most one valid (unused, unexpired) row exists per
// (user, method, purpose).
type TwoFactorCode struct {
	ID          uint   `gorm:"primarykey"`
	UserID      uint   `gorm:"index:idx_code_lookup;not null"`
	CodeHash    string `gorm:"size:64;not null"`
	Method      string `gorm:"size:16;index:idx_code_lookup;not null"`
	Purpose     string `gorm:"size:16;index:idx_code_lookup;not null"`
	IsUsed      bool   `gorm:"default:false;not null"`
	Attempts    int    `gorm:"default:0;not null"`
	MaxAttempts int    `gorm:"default:5;not null"`
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

func (c *TwoFactorCode) BeforeCreate(tx *gorm.DB) error {
	if c.ID == 0 {
		c.ID = GenerateID()
	}
	return nil
}

func (c *TwoFactorCode) IsExpired() bool {
	return c.ExpiresAt.Before(time.Now())
}

// RecoveryCode is a single-use backup credential. The plaintext exists only
// at generation time; the row keeps a per-code salted hash.
type RecoveryCode struct {
	ID        uint   `gorm:"primarykey"`
	UserID    uint   `gorm:"index;not null"`
	CodeHash  string `gorm:"size:128;not null"` // salt$hash, hex
	IsUsed    bool   `gorm:"default:false;not null"`
	UsedAt    *time.Time
	CreatedAt time.Time
}

func (c *RecoveryCode) BeforeCreate(tx *gorm.DB) error {
	if c.ID == 0 {
		c.ID = GenerateID()
	}
	return nil
}

// TrustedDevice remembers a client for a bounded period so it can skip 2FA.
// The client proves possession with a signed token; the server stores only
// hashes of the request fingerprint.
type TrustedDevice struct {
	ID         uint   `gorm:"primarykey"`
	UserID     uint   `gorm:"not null;index:idx_user_device,unique"`
	DeviceID   string `gorm:"size:64;not null;index:idx_user_device,unique"`
	SecretHash string `gorm:"size:64;not null"` // hash of the rotating token secret
	IPHash     string `gorm:"size:64;not null"`
	UAHash     string `gorm:"size:64;not null"`
	DeviceName string `gorm:"size:128;not null;default:''"`
	ExpiresAt  time.Time
	LastUsedAt time.Time
	CreatedAt  time.Time
}

func (d *TrustedDevice) BeforeCreate(tx *gorm.DB) error {
	if d.ID == 0 {
		d.ID = GenerateID()
	}
	return nil
}

func (d *TrustedDevice) IsExpired() bool {
	return d.ExpiresAt.Before(time.Now())
}
